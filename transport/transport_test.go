package transport

import (
	"testing"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/relaysfu/corertc/clock"
	"github.com/relaysfu/corertc/rtppacket"
)

type fakeLink struct {
	rtp  [][]byte
	rtcp [][]byte
}

func (f *fakeLink) SendRTP(payload []byte)  { f.rtp = append(f.rtp, payload) }
func (f *fakeLink) SendRTCP(payload []byte) { f.rtcp = append(f.rtcp, payload) }

type fakeListener struct {
	newProducers    []string
	closedProducers []string
	newConsumers    []string
	closedConsumers []string
	received        int
}

func (f *fakeListener) OnTransportNewProducer(t *Transport, p *Producer)      { f.newProducers = append(f.newProducers, p.ID()) }
func (f *fakeListener) OnTransportProducerClosed(t *Transport, p *Producer)   { f.closedProducers = append(f.closedProducers, p.ID()) }
func (f *fakeListener) OnTransportNewConsumer(t *Transport, c *Consumer)      { f.newConsumers = append(f.newConsumers, c.ID()) }
func (f *fakeListener) OnTransportConsumerClosed(t *Transport, c *Consumer)   { f.closedConsumers = append(f.closedConsumers, c.ID()) }
func (f *fakeListener) OnTransportProducerRtpPacketReceived(t *Transport, p *Producer, packet *rtppacket.View) {
	f.received++
}
func (f *fakeListener) OnTransportProducerStreamScoreChanged(t *Transport, p *Producer, ssrc uint32, score int) {
}
func (f *fakeListener) OnTransportSenderReport(t *Transport, c *Consumer) {}
func (f *fakeListener) OnTransportNeedWorstRemoteFractionLost(t *Transport, p *Producer, ssrc uint32) uint8 {
	return 0
}

func marshalRTP(t *testing.T, seq uint16, ssrc uint32, payload []byte) []byte {
	t.Helper()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      1000,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal sample: %v", err)
	}
	return raw
}

func marshalRTPWithRid(t *testing.T, seq uint16, ssrc uint32, ridID uint8, rid string) []byte {
	t.Helper()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      1000,
			SSRC:           ssrc,
		},
	}
	if err := pkt.SetExtension(ridID, []byte(rid)); err != nil {
		t.Fatalf("SetExtension: %v", err)
	}
	raw, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal rid sample: %v", err)
	}
	return raw
}

func newTestTransport() (*Transport, *fakeLink, *fakeListener) {
	link := &fakeLink{}
	listener := &fakeListener{}
	sched := clock.NewManual(0)
	tr := New("t1", listener, sched, link, Options{})
	return tr, link, listener
}

func TestProduceRegistersStreamsAndNotifiesListener(t *testing.T) {
	tr, _, listener := newTestTransport()

	p, err := tr.Produce(ProducerParams{
		ID:      "p1",
		Streams: []StreamParams{{SSRC: 111, PayloadType: 96}},
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if p.Type() != "simple" {
		t.Fatalf("Type() = %q, want simple", p.Type())
	}
	if len(listener.newProducers) != 1 || listener.newProducers[0] != "p1" {
		t.Fatalf("listener did not observe new producer: %v", listener.newProducers)
	}
}

func TestProduceDuplicateIDFails(t *testing.T) {
	tr, _, _ := newTestTransport()
	params := ProducerParams{ID: "p1", Streams: []StreamParams{{SSRC: 111}}}
	if _, err := tr.Produce(params); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if _, err := tr.Produce(ProducerParams{ID: "p1", Streams: []StreamParams{{SSRC: 222}}}); err != ErrProducerExists {
		t.Fatalf("err = %v, want ErrProducerExists", err)
	}
}

func TestProduceSSRCConflictRollsBack(t *testing.T) {
	tr, _, _ := newTestTransport()
	if _, err := tr.Produce(ProducerParams{ID: "p1", Streams: []StreamParams{{SSRC: 111}}}); err != nil {
		t.Fatalf("Produce p1: %v", err)
	}
	if _, err := tr.Produce(ProducerParams{ID: "p2", Streams: []StreamParams{{SSRC: 111}}}); err != ErrSSRCInUse {
		t.Fatalf("err = %v, want ErrSSRCInUse", err)
	}
	if _, ok := tr.Producer("p2"); ok {
		t.Fatalf("p2 should not have been registered after rollback")
	}
	// p1's ssrc must still resolve; the rollback must not have touched it.
	if tr.rtpTable.getProducerBySSRC(111) == nil {
		t.Fatalf("p1's ssrc 111 was dropped by p2's rollback")
	}
}

func TestProduceRequiresAtLeastOneStream(t *testing.T) {
	tr, _, _ := newTestTransport()
	if _, err := tr.Produce(ProducerParams{ID: "p1"}); err != ErrNoStreams {
		t.Fatalf("err = %v, want ErrNoStreams", err)
	}
}

func TestConsumeRequiresExistingProducer(t *testing.T) {
	tr, _, _ := newTestTransport()
	_, err := tr.Consume(ConsumerParams{ID: "c1", ProducerID: "missing", Stream: StreamParams{SSRC: 1}})
	if err != ErrProducerNotFound {
		t.Fatalf("err = %v, want ErrProducerNotFound", err)
	}
}

func TestConsumeSSRCInUseFails(t *testing.T) {
	tr, _, _ := newTestTransport()
	if _, err := tr.Produce(ProducerParams{ID: "p1", Streams: []StreamParams{{SSRC: 111}}}); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if _, err := tr.Consume(ConsumerParams{ID: "c1", ProducerID: "p1", Stream: StreamParams{SSRC: 222}}); err != nil {
		t.Fatalf("Consume c1: %v", err)
	}
	if _, err := tr.Consume(ConsumerParams{ID: "c2", ProducerID: "p1", Stream: StreamParams{SSRC: 222}}); err != ErrSSRCInUse {
		t.Fatalf("err = %v, want ErrSSRCInUse", err)
	}
}

func TestCloseProducerCascadesToConsumers(t *testing.T) {
	tr, _, listener := newTestTransport()
	if _, err := tr.Produce(ProducerParams{ID: "p1", Streams: []StreamParams{{SSRC: 111}}}); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if _, err := tr.Consume(ConsumerParams{ID: "c1", ProducerID: "p1", Stream: StreamParams{SSRC: 222}}); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := tr.CloseProducer("p1"); err != nil {
		t.Fatalf("CloseProducer: %v", err)
	}
	if _, ok := tr.Consumer("c1"); ok {
		t.Fatalf("c1 should have been closed along with its producer")
	}
	if len(listener.closedConsumers) != 1 || listener.closedConsumers[0] != "c1" {
		t.Fatalf("listener did not observe cascaded consumer close: %v", listener.closedConsumers)
	}
}

func TestReceiveRtpPacketRoutesToProducerAndFansOutToConsumer(t *testing.T) {
	tr, _, listener := newTestTransport()
	if _, err := tr.Produce(ProducerParams{ID: "p1", Streams: []StreamParams{{SSRC: 111, PayloadType: 96}}}); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	c, err := tr.Consume(ConsumerParams{ID: "c1", ProducerID: "p1", Stream: StreamParams{SSRC: 222, PayloadType: 96}})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	tr.ReceiveRtpPacket(marshalRTP(t, 1, 111, []byte{1, 2, 3}))
	tr.ReceiveRtpPacket(marshalRTP(t, 2, 111, []byte{4, 5, 6}))

	if listener.received != 2 {
		t.Fatalf("listener observed %d packets, want 2", listener.received)
	}
	if c.packetsSent != 2 {
		t.Fatalf("consumer sent %d packets, want 2", c.packetsSent)
	}
}

func TestReceiveRtpPacketUnknownSSRCIsDropped(t *testing.T) {
	tr, _, listener := newTestTransport()
	if _, err := tr.Produce(ProducerParams{ID: "p1", Streams: []StreamParams{{SSRC: 111}}}); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	tr.ReceiveRtpPacket(marshalRTP(t, 1, 999, nil))
	if listener.received != 0 {
		t.Fatalf("listener observed %d packets for an unknown ssrc, want 0", listener.received)
	}
}

func TestPausedProducerDoesNotFanOut(t *testing.T) {
	tr, _, listener := newTestTransport()
	p, err := tr.Produce(ProducerParams{ID: "p1", Paused: true, Streams: []StreamParams{{SSRC: 111}}})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if !p.Paused() {
		t.Fatalf("producer should start paused")
	}
	tr.ReceiveRtpPacket(marshalRTP(t, 1, 111, nil))
	if listener.received != 0 {
		t.Fatalf("listener observed %d packets from a paused producer, want 0", listener.received)
	}
}

func TestPausedConsumerDoesNotForward(t *testing.T) {
	tr, link, _ := newTestTransport()
	if _, err := tr.Produce(ProducerParams{ID: "p1", Streams: []StreamParams{{SSRC: 111}}}); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	c, err := tr.Consume(ConsumerParams{ID: "c1", ProducerID: "p1", Stream: StreamParams{SSRC: 222}})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	c.Pause()
	tr.ReceiveRtpPacket(marshalRTP(t, 1, 111, nil))
	if c.packetsSent != 0 {
		t.Fatalf("paused consumer sent %d packets, want 0", c.packetsSent)
	}
	if len(link.rtp) != 0 {
		t.Fatalf("paused consumer wrote %d rtp datagrams to the link, want 0", len(link.rtp))
	}
}

func TestPreferredRIDFiltersSimulcastLayers(t *testing.T) {
	tr, _, _ := newTestTransport()
	tr.extIDs = rtppacket.NewExtensionIDs([]rtppacket.Extension{{URI: rtppacket.ExtRid, ID: 5}})
	if _, err := tr.Produce(ProducerParams{ID: "p1", Streams: []StreamParams{
		{SSRC: 111, RID: "lo"},
		{SSRC: 112, RID: "hi"},
	}}); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	c, err := tr.Consume(ConsumerParams{ID: "c1", ProducerID: "p1", Stream: StreamParams{SSRC: 222}})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	c.SetPreferredRID("hi")

	blocked := &rtppacket.View{}
	if err := blocked.Parse(marshalRTPWithRid(t, 1, 111, 5, "lo")); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	blocked.SetExtensionIDs(tr.extIDs)
	c.receiveProducerRTP(blocked, tr.sched.Now())
	if c.packetsSent != 0 {
		t.Fatalf("expected non-preferred rid to be dropped, got %d packets sent", c.packetsSent)
	}

	allowed := &rtppacket.View{}
	if err := allowed.Parse(marshalRTPWithRid(t, 2, 112, 5, "hi")); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	allowed.SetExtensionIDs(tr.extIDs)
	c.receiveProducerRTP(allowed, tr.sched.Now())
	if c.packetsSent != 1 {
		t.Fatalf("expected preferred rid to pass through, got %d packets sent", c.packetsSent)
	}
}

func TestSetMaxIncomingBitrateValidatesMinimum(t *testing.T) {
	tr, _, _ := newTestTransport()
	if err := tr.SetMaxIncomingBitrate(9999); err != ErrBitrateTooLow {
		t.Fatalf("err = %v, want ErrBitrateTooLow", err)
	}
	if err := tr.SetMaxIncomingBitrate(50000); err != nil {
		t.Fatalf("SetMaxIncomingBitrate: %v", err)
	}
	if tr.maxIncomingBitrate != 50000 {
		t.Fatalf("maxIncomingBitrate = %d, want 50000", tr.maxIncomingBitrate)
	}
}

func TestOnRembServerSendClampsToMaxIncomingBitrate(t *testing.T) {
	tr, link, _ := newTestTransport()
	if err := tr.SetMaxIncomingBitrate(100000); err != nil {
		t.Fatalf("SetMaxIncomingBitrate: %v", err)
	}
	tr.OnRembServerSendReceiverEstimatedMaxBitrate(500000)
	if len(link.rtcp) != 1 {
		t.Fatalf("expected one rtcp datagram, got %d", len(link.rtcp))
	}
	pkts, err := rtcp.Unmarshal(link.rtcp[0])
	if err != nil {
		t.Fatalf("unmarshal rtcp: %v", err)
	}
	remb, ok := pkts[0].(*rtcp.ReceiverEstimatedMaximumBitrate)
	if !ok || remb.Bitrate != 100000 {
		t.Fatalf("rtcp = %+v, want a REMB clamped to 100000", pkts[0])
	}
}

func TestNackRoutesToConsumerAndTriggersRetransmit(t *testing.T) {
	tr, link, _ := newTestTransport()
	if _, err := tr.Produce(ProducerParams{ID: "p1", Streams: []StreamParams{{SSRC: 111}}}); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	c, err := tr.Consume(ConsumerParams{ID: "c1", ProducerID: "p1", Stream: StreamParams{SSRC: 222}})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	tr.ReceiveRtpPacket(marshalRTP(t, 1, 111, []byte{9}))

	before := len(link.rtp)
	// seqMgr rewrites the first forwarded packet's sequence number to 0.
	c.receiveNack([]uint16{0})
	if len(link.rtp) <= before {
		t.Fatalf("expected a retransmitted rtp datagram after nack, link.rtp len stayed at %d", len(link.rtp))
	}
	if c.stats.NackCount != 1 {
		t.Fatalf("NackCount = %d, want 1", c.stats.NackCount)
	}
}

func TestNextRTCPIntervalMsIsBounded(t *testing.T) {
	tr, _, _ := newTestTransport()
	interval := tr.nextRTCPIntervalMs()
	if interval < 100 {
		t.Fatalf("interval = %d, want >= 100", interval)
	}
	if interval > tr.opts.RtcpIntervalMs+tr.opts.RtcpIntervalMs/2+1 {
		t.Fatalf("interval = %d, want <= ~1.5x RtcpIntervalMs (%d)", interval, tr.opts.RtcpIntervalMs)
	}
}

func TestConnectedStartsRTCPTimerOnce(t *testing.T) {
	tr, _, _ := newTestTransport()
	tr.Connected()
	if !tr.connected {
		t.Fatalf("Connected did not flip connected flag")
	}
	tr.Connected()
	handle := tr.rtcpTimer
	tr.Connected()
	if tr.rtcpTimer != handle {
		t.Fatalf("calling Connected twice should be a no-op, got a new rtcp timer handle")
	}
}

func TestCloseDrainsProducersAndConsumers(t *testing.T) {
	tr, _, listener := newTestTransport()
	if _, err := tr.Produce(ProducerParams{ID: "p1", Streams: []StreamParams{{SSRC: 111}}}); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if _, err := tr.Consume(ConsumerParams{ID: "c1", ProducerID: "p1", Stream: StreamParams{SSRC: 222}}); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	tr.Close()
	if _, ok := tr.Producer("p1"); ok {
		t.Fatalf("p1 should be gone after Close")
	}
	if _, ok := tr.Consumer("c1"); ok {
		t.Fatalf("c1 should be gone after Close")
	}
	if len(listener.closedProducers) != 1 || len(listener.closedConsumers) != 1 {
		t.Fatalf("listener did not observe both closures: %+v", listener)
	}
}
