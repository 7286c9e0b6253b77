package transport

import "errors"

// Control-plane errors (spec.md §7 kind 2): the originating request fails
// with a textual reason and any partial state created during the request
// is rolled back before returning.
var (
	ErrProducerExists     = errors.New("transport: producer with this id already exists")
	ErrProducerNotFound   = errors.New("transport: producer not found")
	ErrConsumerExists     = errors.New("transport: consumer with this id already exists")
	ErrConsumerNotFound   = errors.New("transport: consumer not found")
	ErrSSRCInUse          = errors.New("transport: ssrc already routed to another producer")
	ErrMIDInUse           = errors.New("transport: mid already routed to another producer")
	ErrRIDInUse           = errors.New("transport: rid already routed to another producer")
	ErrNoStreams          = errors.New("transport: producer must have at least one stream")
	ErrBitrateTooLow      = errors.New("transport: bitrate below minimum of 10000")
	ErrTransportClosed    = errors.New("transport: transport is closed")
)
