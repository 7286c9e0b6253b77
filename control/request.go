// Package control implements the JSON control channel (spec.md §6.1): a
// Router dispatches one Request at a time to the Transport/Producer/Consumer
// it names and returns an Accept or Reject Response, mirroring the
// request/internal/data shape used by the teacher's worker-facing control
// surface (compare jiyeyuran-mediasoup-go's Channel.Request) but without any
// of that package's process/pipe transport — the Router is called directly,
// in-process, by whatever framing layer owns the wire connection.
package control

import "encoding/json"

// Internal names which transport/producer/consumer a Request targets, per
// spec.md §6.1's `internal: { transportId, producerId?, consumerId? }`.
type Internal struct {
	TransportID string `json:"transportId"`
	ProducerID  string `json:"producerId,omitempty"`
	ConsumerID  string `json:"consumerId,omitempty"`
}

// Method is one of the control-channel method names spec.md §6.1 lists.
type Method string

const (
	MethodTransportSetMaxIncomingBitrate Method = "TRANSPORT_SET_MAX_INCOMING_BITRATE"
	MethodTransportProduce               Method = "TRANSPORT_PRODUCE"
	MethodTransportConsume                Method = "TRANSPORT_CONSUME"
	MethodProducerClose                  Method = "PRODUCER_CLOSE"
	MethodConsumerClose                  Method = "CONSUMER_CLOSE"
	MethodDump                           Method = "DUMP"
	MethodGetStats                       Method = "GET_STATS"
	MethodPause                          Method = "PAUSE"
	MethodResume                         Method = "RESUME"
	MethodSetPreferredLayers             Method = "SET_PREFERRED_LAYERS"
	MethodRequestKeyFrame                Method = "REQUEST_KEY_FRAME"
)

// Request is one decoded control-channel message.
type Request struct {
	Method   Method          `json:"method"`
	Internal Internal        `json:"internal"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Response is the reply to a Request: exactly one of Data (on accept) or
// Reason (on reject) is meaningful, selected by Accepted.
type Response struct {
	Accepted bool            `json:"accepted"`
	Data     json.RawMessage `json:"data,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

// Accept builds an accepted Response, marshaling data if non-nil.
func Accept(data interface{}) Response {
	if data == nil {
		return Response{Accepted: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Reject(err.Error())
	}
	return Response{Accepted: true, Data: raw}
}

// Reject builds a rejected Response carrying reason, per spec.md §7 kind 2
// (control-plane errors fail the originating request with a textual reason).
func Reject(reason string) Response {
	return Response{Accepted: false, Reason: reason}
}
