package tcc

import (
	"testing"

	"github.com/relaysfu/corertc/clock"
	"github.com/relaysfu/corertc/rtcpcodec"
)

type fakeServerListener struct {
	feedbacks []*rtcpcodec.TransportFeedbackBuilder
}

func (f *fakeServerListener) OnTransportCongestionControlServerSendFeedback(fb *rtcpcodec.TransportFeedbackBuilder) {
	f.feedbacks = append(f.feedbacks, fb)
}

func TestServerSendFeedbackOnTimerTick(t *testing.T) {
	sched := clock.NewManual(0)
	listener := &fakeServerListener{}
	s := NewServer(sched, listener, 1, 2, 0)
	s.TransportConnected()

	s.IncomingPacket(10, 1)
	s.IncomingPacket(20, 2)

	sched.Advance(feedbackSendIntervalMs)
	if len(listener.feedbacks) != 1 {
		t.Fatalf("expected one feedback packet on the timer tick, got %d", len(listener.feedbacks))
	}
}

func TestServerSendFeedbackCarriesLastPacketForward(t *testing.T) {
	sched := clock.NewManual(0)
	listener := &fakeServerListener{}
	s := NewServer(sched, listener, 1, 2, 0)

	s.IncomingPacket(0, 1)
	s.IncomingPacket(10, 2)
	s.SendFeedback()

	// The fresh builder carries seq 2 forward as its pre-base, so the very
	// next consecutive sequence number commits a base immediately instead
	// of needing two fresh packets.
	s.IncomingPacket(20, 3)
	if s.feedback.Empty() {
		t.Fatalf("expected carrying the last packet forward to let seq 3 alone commit a base")
	}
}

func TestServerEmptyFeedbackIsNotSent(t *testing.T) {
	sched := clock.NewManual(0)
	listener := &fakeServerListener{}
	s := NewServer(sched, listener, 1, 2, 0)
	s.SendFeedback()
	if len(listener.feedbacks) != 0 {
		t.Fatalf("expected no feedback to be sent when nothing was reported, got %d", len(listener.feedbacks))
	}
}

func TestServerDisconnectStopsTimer(t *testing.T) {
	sched := clock.NewManual(0)
	listener := &fakeServerListener{}
	s := NewServer(sched, listener, 1, 2, 0)
	s.TransportConnected()
	s.TransportDisconnected()

	s.IncomingPacket(0, 1)
	s.IncomingPacket(10, 2)
	sched.Advance(feedbackSendIntervalMs * 2)
	if len(listener.feedbacks) != 0 {
		t.Fatalf("expected no feedback after TransportDisconnected stopped the timer, got %d", len(listener.feedbacks))
	}
}
