package tcc

import (
	"testing"

	"github.com/relaysfu/corertc/clock"
	"github.com/relaysfu/corertc/congestion"
	"github.com/relaysfu/corertc/rtppacket"
)

type fakeClientListener struct {
	sent          []*rtppacket.View
	notifications []uint64
}

func (f *fakeClientListener) OnTransportCongestionControlClientSendRtpPacket(packet *rtppacket.View, pi congestion.PacingInfo) {
	f.sent = append(f.sent, packet)
}

func (f *fakeClientListener) OnTransportCongestionControlClientAvailableBitrate(availableBps, previousBps uint64) {
	f.notifications = append(f.notifications, availableBps)
}

type fakeController struct {
	pacer    congestion.Pacer
	observer func(congestion.TargetTransferRate)
}

func (f *fakeController) OnNetworkAvailability(available bool)                {}
func (f *fakeController) OnAddPacket(info congestion.PacketSendInfo)          {}
func (f *fakeController) OnSentPacket(wideSeq uint16, sendTimeMs int64, l int) {}
func (f *fakeController) OnTransportFeedback(fb *congestion.TransportFeedback) {}
func (f *fakeController) OnReceivedRtcpReceiverReport(reports []congestion.ReportBlock, rttMs, nowMs int64) {
}
func (f *fakeController) OnReceivedEstimatedBitrate(bps uint64) {}
func (f *fakeController) SetAllocatedSendBitrateLimits(minBps, maxPaddingBps, maxTotalBps uint64) {
}
func (f *fakeController) RegisterTargetTransferRateObserver(cb func(congestion.TargetTransferRate)) {
	f.observer = cb
}
func (f *fakeController) Pacer() congestion.Pacer { return f.pacer }

type fakePacer struct{}

func (fakePacer) InsertPacket(bytes int)                        {}
func (fakePacer) Process()                                      {}
func (fakePacer) TimeUntilNextProcess() int64                   { return 5 }
func (fakePacer) GetPacingInfo() congestion.PacingInfo           { return congestion.PacingInfo{} }

func newTestClient() (*Client, *fakeClientListener, *fakeController) {
	listener := &fakeClientListener{}
	controller := &fakeController{pacer: fakePacer{}}
	sched := clock.NewManual(0)
	c := NewClient(sched, listener, controller, nil)
	return c, listener, controller
}

func TestFirstTargetTransferRateEventIsSuppressed(t *testing.T) {
	c, listener, controller := newTestClient()
	controller.observer(congestion.TargetTransferRate{AtTimeMs: 0, TargetBps: 500_000})
	if len(listener.notifications) != 0 {
		t.Fatalf("expected the bootstrap event to be suppressed, got %d notifications", len(listener.notifications))
	}
	if c.AvailableBitrate() != 500_000 {
		t.Fatalf("AvailableBitrate() = %d, want 500000", c.AvailableBitrate())
	}
}

func TestTargetTransferRateNotifiesAfterInterval(t *testing.T) {
	c, listener, controller := newTestClient()
	controller.observer(congestion.TargetTransferRate{AtTimeMs: 0, TargetBps: 500_000})
	controller.observer(congestion.TargetTransferRate{AtTimeMs: availableBitrateEventIntervalMs, TargetBps: 500_000})
	if len(listener.notifications) != 1 {
		t.Fatalf("expected a notification once the interval elapsed, got %d", len(listener.notifications))
	}
	_ = c
}

func TestTargetTransferRateNotifiesOnSteepDrop(t *testing.T) {
	c, listener, controller := newTestClient()
	controller.observer(congestion.TargetTransferRate{AtTimeMs: 0, TargetBps: 1_000_000})
	controller.observer(congestion.TargetTransferRate{AtTimeMs: 10, TargetBps: 600_000})
	if len(listener.notifications) != 1 {
		t.Fatalf("expected an immediate notification on a >25%% drop, got %d", len(listener.notifications))
	}
	_ = c
}

func TestTargetTransferRateSuppressesSmallChangeWithinInterval(t *testing.T) {
	c, listener, controller := newTestClient()
	controller.observer(congestion.TargetTransferRate{AtTimeMs: 0, TargetBps: 1_000_000})
	controller.observer(congestion.TargetTransferRate{AtTimeMs: 10, TargetBps: 950_000})
	if len(listener.notifications) != 0 {
		t.Fatalf("expected no notification for a small change before the interval elapses, got %d", len(listener.notifications))
	}
	_ = c
}
