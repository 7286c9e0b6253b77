package control

import (
	"encoding/json"
	"testing"

	"github.com/relaysfu/corertc/clock"
	"github.com/relaysfu/corertc/rtppacket"
	"github.com/relaysfu/corertc/transport"
)

type nopListener struct{}

func (nopListener) OnTransportNewProducer(t *transport.Transport, p *transport.Producer)    {}
func (nopListener) OnTransportProducerClosed(t *transport.Transport, p *transport.Producer)  {}
func (nopListener) OnTransportNewConsumer(t *transport.Transport, c *transport.Consumer)     {}
func (nopListener) OnTransportConsumerClosed(t *transport.Transport, c *transport.Consumer)  {}
func (nopListener) OnTransportProducerRtpPacketReceived(t *transport.Transport, p *transport.Producer, packet *rtppacket.View) {
}
func (nopListener) OnTransportProducerStreamScoreChanged(t *transport.Transport, p *transport.Producer, ssrc uint32, score int) {
}
func (nopListener) OnTransportSenderReport(t *transport.Transport, c *transport.Consumer) {}
func (nopListener) OnTransportNeedWorstRemoteFractionLost(t *transport.Transport, p *transport.Producer, ssrc uint32) uint8 {
	return 0
}

type nopLink struct{}

func (nopLink) SendRTP(payload []byte)  {}
func (nopLink) SendRTCP(payload []byte) {}

func newTestRouter() (*Router, *transport.Transport) {
	sched := clock.NewManual(0)
	tr := transport.New("t1", nopListener{}, sched, nopLink{}, transport.Options{})
	r := NewRouter()
	r.Add(tr)
	return r, tr
}

func TestHandleUnknownTransportRejects(t *testing.T) {
	r := NewRouter()
	resp := r.Handle(Request{Method: MethodDump, Internal: Internal{TransportID: "nope"}})
	if resp.Accepted {
		t.Fatalf("expected rejection for unknown transport")
	}
}

func TestHandleUnknownMethodRejects(t *testing.T) {
	r, tr := newTestRouter()
	resp := r.Handle(Request{Method: "BOGUS", Internal: Internal{TransportID: tr.ID()}})
	if resp.Accepted {
		t.Fatalf("expected rejection for unknown method")
	}
}

func TestSetMaxIncomingBitrateRejectsBelowMinimum(t *testing.T) {
	r, tr := newTestRouter()
	resp := r.Handle(Request{
		Method:   MethodTransportSetMaxIncomingBitrate,
		Internal: Internal{TransportID: tr.ID()},
		Data:     json.RawMessage(`{"bitrate":100}`),
	})
	if resp.Accepted {
		t.Fatalf("expected rejection for bitrate below minimum")
	}
}

func TestSetMaxIncomingBitrateAccepts(t *testing.T) {
	r, tr := newTestRouter()
	resp := r.Handle(Request{
		Method:   MethodTransportSetMaxIncomingBitrate,
		Internal: Internal{TransportID: tr.ID()},
		Data:     json.RawMessage(`{"bitrate":50000}`),
	})
	if !resp.Accepted {
		t.Fatalf("expected accept, got reject: %s", resp.Reason)
	}
}

func TestProduceReturnsTypeAndRegistersProducer(t *testing.T) {
	r, tr := newTestRouter()
	resp := r.Handle(Request{
		Method:   MethodTransportProduce,
		Internal: Internal{TransportID: tr.ID(), ProducerID: "p1"},
		Data:     json.RawMessage(`{"id":"p1","streams":[{"ssrc":111,"payloadType":96}]}`),
	})
	if !resp.Accepted {
		t.Fatalf("expected accept, got reject: %s", resp.Reason)
	}
	var body struct{ Type string }
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		t.Fatalf("unmarshal response data: %v", err)
	}
	if body.Type != "simple" {
		t.Fatalf("type = %q, want simple", body.Type)
	}
	if _, ok := tr.Producer("p1"); !ok {
		t.Fatalf("producer p1 was not registered on the transport")
	}
}

func TestProduceDuplicateIDRejects(t *testing.T) {
	r, tr := newTestRouter()
	req := Request{
		Method:   MethodTransportProduce,
		Internal: Internal{TransportID: tr.ID(), ProducerID: "p1"},
		Data:     json.RawMessage(`{"id":"p1","streams":[{"ssrc":111,"payloadType":96}]}`),
	}
	if resp := r.Handle(req); !resp.Accepted {
		t.Fatalf("first produce unexpectedly rejected: %s", resp.Reason)
	}
	if resp := r.Handle(req); resp.Accepted {
		t.Fatalf("expected second produce with the same producer id to be rejected")
	}
}

func TestProduceMalformedDataRejects(t *testing.T) {
	r, tr := newTestRouter()
	resp := r.Handle(Request{
		Method:   MethodTransportProduce,
		Internal: Internal{TransportID: tr.ID()},
		Data:     json.RawMessage(`not json`),
	})
	if resp.Accepted {
		t.Fatalf("expected rejection for malformed data")
	}
}

func produceFixture(t *testing.T, r *Router, tr *transport.Transport) {
	t.Helper()
	resp := r.Handle(Request{
		Method:   MethodTransportProduce,
		Internal: Internal{TransportID: tr.ID(), ProducerID: "p1"},
		Data:     json.RawMessage(`{"id":"p1","streams":[{"ssrc":111,"payloadType":96}]}`),
	})
	if !resp.Accepted {
		t.Fatalf("produce fixture failed: %s", resp.Reason)
	}
}

func TestConsumeReturnsScoreAndProducerPaused(t *testing.T) {
	r, tr := newTestRouter()
	produceFixture(t, r, tr)

	resp := r.Handle(Request{
		Method:   MethodTransportConsume,
		Internal: Internal{TransportID: tr.ID(), ProducerID: "p1", ConsumerID: "c1"},
		Data:     json.RawMessage(`{"id":"c1","stream":{"ssrc":222,"payloadType":96}}`),
	})
	if !resp.Accepted {
		t.Fatalf("expected accept, got reject: %s", resp.Reason)
	}
	var body struct {
		Paused         bool
		ProducerPaused bool
		Score          int
	}
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		t.Fatalf("unmarshal response data: %v", err)
	}
	if body.ProducerPaused {
		t.Fatalf("expected producerPaused=false")
	}
}

func TestConsumeUnknownProducerRejects(t *testing.T) {
	r, tr := newTestRouter()
	resp := r.Handle(Request{
		Method:   MethodTransportConsume,
		Internal: Internal{TransportID: tr.ID(), ProducerID: "missing", ConsumerID: "c1"},
		Data:     json.RawMessage(`{"id":"c1","stream":{"ssrc":222,"payloadType":96}}`),
	})
	if resp.Accepted {
		t.Fatalf("expected rejection for an unknown producer")
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	r, tr := newTestRouter()
	produceFixture(t, r, tr)

	pauseResp := r.Handle(Request{
		Method:   MethodPause,
		Internal: Internal{TransportID: tr.ID(), ProducerID: "p1"},
	})
	if !pauseResp.Accepted {
		t.Fatalf("pause rejected: %s", pauseResp.Reason)
	}
	p, _ := tr.Producer("p1")
	if !p.Paused() {
		t.Fatalf("producer was not paused")
	}

	resumeResp := r.Handle(Request{
		Method:   MethodResume,
		Internal: Internal{TransportID: tr.ID(), ProducerID: "p1"},
	})
	if !resumeResp.Accepted {
		t.Fatalf("resume rejected: %s", resumeResp.Reason)
	}
	if p.Paused() {
		t.Fatalf("producer was still paused after resume")
	}
}

func TestPauseMissingTargetRejects(t *testing.T) {
	r, tr := newTestRouter()
	resp := r.Handle(Request{Method: MethodPause, Internal: Internal{TransportID: tr.ID()}})
	if resp.Accepted {
		t.Fatalf("expected rejection when neither producerId nor consumerId is set")
	}
}

func TestDumpReturnsProducerSnapshot(t *testing.T) {
	r, tr := newTestRouter()
	produceFixture(t, r, tr)

	resp := r.Handle(Request{
		Method:   MethodDump,
		Internal: Internal{TransportID: tr.ID(), ProducerID: "p1"},
	})
	if !resp.Accepted {
		t.Fatalf("expected accept, got reject: %s", resp.Reason)
	}
	var dump transport.ProducerDump
	if err := json.Unmarshal(resp.Data, &dump); err != nil {
		t.Fatalf("unmarshal dump: %v", err)
	}
	if dump.ID != "p1" {
		t.Fatalf("dump.ID = %q, want p1", dump.ID)
	}
}

func TestDumpWithoutIDsRejects(t *testing.T) {
	r, tr := newTestRouter()
	resp := r.Handle(Request{Method: MethodDump, Internal: Internal{TransportID: tr.ID()}})
	if resp.Accepted {
		t.Fatalf("expected rejection when no producerId/consumerId is set")
	}
}

func TestSetPreferredLayersUpdatesConsumer(t *testing.T) {
	r, tr := newTestRouter()
	produceFixture(t, r, tr)
	consumeResp := r.Handle(Request{
		Method:   MethodTransportConsume,
		Internal: Internal{TransportID: tr.ID(), ProducerID: "p1", ConsumerID: "c1"},
		Data:     json.RawMessage(`{"id":"c1","stream":{"ssrc":222,"payloadType":96}}`),
	})
	if !consumeResp.Accepted {
		t.Fatalf("consume fixture failed: %s", consumeResp.Reason)
	}

	resp := r.Handle(Request{
		Method:   MethodSetPreferredLayers,
		Internal: Internal{TransportID: tr.ID(), ConsumerID: "c1"},
		Data:     json.RawMessage(`{"rid":"hi"}`),
	})
	if !resp.Accepted {
		t.Fatalf("expected accept, got reject: %s", resp.Reason)
	}
}

func TestRequestKeyFrameRequiresConsumerID(t *testing.T) {
	r, tr := newTestRouter()
	resp := r.Handle(Request{Method: MethodRequestKeyFrame, Internal: Internal{TransportID: tr.ID()}})
	if resp.Accepted {
		t.Fatalf("expected rejection without a consumerId")
	}
}

func TestProducerCloseAndConsumerClose(t *testing.T) {
	r, tr := newTestRouter()
	produceFixture(t, r, tr)
	consumeResp := r.Handle(Request{
		Method:   MethodTransportConsume,
		Internal: Internal{TransportID: tr.ID(), ProducerID: "p1", ConsumerID: "c1"},
		Data:     json.RawMessage(`{"id":"c1","stream":{"ssrc":222,"payloadType":96}}`),
	})
	if !consumeResp.Accepted {
		t.Fatalf("consume fixture failed: %s", consumeResp.Reason)
	}

	closeConsumerResp := r.Handle(Request{
		Method:   MethodConsumerClose,
		Internal: Internal{TransportID: tr.ID(), ConsumerID: "c1"},
	})
	if !closeConsumerResp.Accepted {
		t.Fatalf("consumer close rejected: %s", closeConsumerResp.Reason)
	}
	if _, ok := tr.Consumer("c1"); ok {
		t.Fatalf("consumer c1 still present after close")
	}

	closeProducerResp := r.Handle(Request{
		Method:   MethodProducerClose,
		Internal: Internal{TransportID: tr.ID(), ProducerID: "p1"},
	})
	if !closeProducerResp.Accepted {
		t.Fatalf("producer close rejected: %s", closeProducerResp.Reason)
	}
	if _, ok := tr.Producer("p1"); ok {
		t.Fatalf("producer p1 still present after close")
	}
}
