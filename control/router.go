package control

import (
	"encoding/json"
	"fmt"

	"github.com/relaysfu/corertc/logger"
	"github.com/relaysfu/corertc/rtppacket"
	"github.com/relaysfu/corertc/transport"
)

var log = logger.New("control")

// Router dispatches decoded Requests to the Transport they name, the same
// single point of entry the teacher's Connection exposes to its own
// control surface, generalized here from one transport to a registry of
// them (spec.md §6.1).
type Router struct {
	transports map[string]*transport.Transport
}

// NewRouter returns an empty Router; transports register themselves via
// Add as they're created.
func NewRouter() *Router {
	return &Router{transports: map[string]*transport.Transport{}}
}

// Add registers t under its own id so future requests can target it.
func (r *Router) Add(t *transport.Transport) { r.transports[t.ID()] = t }

// Remove drops a transport from the registry (it does not close it).
func (r *Router) Remove(id string) { delete(r.transports, id) }

// Handle dispatches one Request and returns its Response. Handle never
// panics on malformed input: a decode failure rejects the request with a
// textual reason, per spec.md §7 kind 2.
func (r *Router) Handle(req Request) Response {
	t, ok := r.transports[req.Internal.TransportID]
	if !ok {
		return Reject("transport not found")
	}

	switch req.Method {
	case MethodTransportSetMaxIncomingBitrate:
		return r.setMaxIncomingBitrate(t, req)
	case MethodTransportProduce:
		return r.produce(t, req)
	case MethodTransportConsume:
		return r.consume(t, req)
	case MethodProducerClose:
		return r.producerClose(t, req)
	case MethodConsumerClose:
		return r.consumerClose(t, req)
	case MethodDump:
		return r.dump(t, req)
	case MethodGetStats:
		return r.dump(t, req)
	case MethodPause:
		return r.setPaused(t, req, true)
	case MethodResume:
		return r.setPaused(t, req, false)
	case MethodSetPreferredLayers:
		return r.setPreferredLayers(t, req)
	case MethodRequestKeyFrame:
		return r.requestKeyFrame(t, req)
	default:
		log.Warn("control: unknown method", req.Method)
		return Reject(fmt.Sprintf("unknown method %q", req.Method))
	}
}

type bitrateData struct {
	Bitrate uint64 `json:"bitrate"`
}

func (r *Router) setMaxIncomingBitrate(t *transport.Transport, req Request) Response {
	var data bitrateData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return Reject(err.Error())
	}
	if err := t.SetMaxIncomingBitrate(data.Bitrate); err != nil {
		return Reject(err.Error())
	}
	return Accept(nil)
}

type streamData struct {
	SSRC           uint32                `json:"ssrc"`
	RID            string                `json:"rid,omitempty"`
	PayloadType    rtppacket.PayloadType `json:"payloadType"`
	RTXSSRC        uint32                `json:"rtxSsrc,omitempty"`
	RTXPayloadType rtppacket.PayloadType `json:"rtxPayloadType,omitempty"`
	ClockRate      uint32                `json:"clockRate"`
}

type produceData struct {
	ID      string       `json:"id"`
	MID     string       `json:"mid,omitempty"`
	Paused  bool         `json:"paused,omitempty"`
	Streams []streamData `json:"streams"`
}

func (r *Router) produce(t *transport.Transport, req Request) Response {
	var data produceData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return Reject(err.Error())
	}
	params := transport.ProducerParams{ID: data.ID, MID: data.MID, Paused: data.Paused}
	for _, s := range data.Streams {
		params.Streams = append(params.Streams, transport.StreamParams{
			SSRC:           s.SSRC,
			RID:            s.RID,
			PayloadType:    s.PayloadType,
			RTXSSRC:        s.RTXSSRC,
			RTXPayloadType: s.RTXPayloadType,
			ClockRate:      s.ClockRate,
		})
	}
	p, err := t.Produce(params)
	if err != nil {
		return Reject(err.Error())
	}
	return Accept(struct {
		Type string `json:"type"`
	}{Type: p.Type()})
}

func (r *Router) producerClose(t *transport.Transport, req Request) Response {
	if err := t.CloseProducer(req.Internal.ProducerID); err != nil {
		return Reject(err.Error())
	}
	return Accept(nil)
}

type consumeData struct {
	ID     string     `json:"id"`
	Paused bool       `json:"paused,omitempty"`
	Stream streamData `json:"stream"`
	CNAME  string     `json:"cname,omitempty"`
}

func (r *Router) consume(t *transport.Transport, req Request) Response {
	var data consumeData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return Reject(err.Error())
	}
	params := transport.ConsumerParams{
		ID:         data.ID,
		ProducerID: req.Internal.ProducerID,
		Paused:     data.Paused,
		CNAME:      data.CNAME,
		Stream: transport.StreamParams{
			SSRC:           data.Stream.SSRC,
			RID:            data.Stream.RID,
			PayloadType:    data.Stream.PayloadType,
			RTXSSRC:        data.Stream.RTXSSRC,
			RTXPayloadType: data.Stream.RTXPayloadType,
			ClockRate:      data.Stream.ClockRate,
		},
	}
	c, err := t.Consume(params)
	if err != nil {
		return Reject(err.Error())
	}
	producerPaused := false
	if p, ok := t.Producer(req.Internal.ProducerID); ok {
		producerPaused = p.Paused()
	}
	return Accept(struct {
		Paused         bool `json:"paused"`
		ProducerPaused bool `json:"producerPaused"`
		Score          int  `json:"score"`
	}{Paused: c.Paused(), ProducerPaused: producerPaused, Score: c.Score()})
}

func (r *Router) consumerClose(t *transport.Transport, req Request) Response {
	if err := t.CloseConsumer(req.Internal.ConsumerID); err != nil {
		return Reject(err.Error())
	}
	return Accept(nil)
}

func (r *Router) dump(t *transport.Transport, req Request) Response {
	if req.Internal.ProducerID != "" {
		p, ok := t.Producer(req.Internal.ProducerID)
		if !ok {
			return Reject("producer not found")
		}
		return Accept(p.Dump())
	}
	if req.Internal.ConsumerID != "" {
		c, ok := t.Consumer(req.Internal.ConsumerID)
		if !ok {
			return Reject("consumer not found")
		}
		return Accept(c.Dump())
	}
	return Reject("dump requires a producerId or consumerId")
}

func (r *Router) setPaused(t *transport.Transport, req Request, paused bool) Response {
	if req.Internal.ProducerID != "" {
		p, ok := t.Producer(req.Internal.ProducerID)
		if !ok {
			return Reject("producer not found")
		}
		if paused {
			p.Pause()
		} else {
			p.Resume()
		}
		return Accept(nil)
	}
	if req.Internal.ConsumerID != "" {
		c, ok := t.Consumer(req.Internal.ConsumerID)
		if !ok {
			return Reject("consumer not found")
		}
		if paused {
			c.Pause()
		} else {
			c.Resume()
		}
		return Accept(nil)
	}
	return Reject("pause/resume requires a producerId or consumerId")
}

type preferredLayersData struct {
	RID string `json:"rid"`
}

func (r *Router) setPreferredLayers(t *transport.Transport, req Request) Response {
	c, ok := t.Consumer(req.Internal.ConsumerID)
	if !ok {
		return Reject("consumer not found")
	}
	var data preferredLayersData
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return Reject(err.Error())
	}
	c.SetPreferredRID(data.RID)
	return Accept(nil)
}

func (r *Router) requestKeyFrame(t *transport.Transport, req Request) Response {
	if req.Internal.ConsumerID != "" {
		c, ok := t.Consumer(req.Internal.ConsumerID)
		if !ok {
			return Reject("consumer not found")
		}
		c.RequestKeyFrame()
		return Accept(nil)
	}
	return Reject("request_key_frame requires a consumerId")
}
