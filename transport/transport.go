package transport

import (
	"math/rand"
	"time"

	"github.com/pion/rtcp"

	"github.com/relaysfu/corertc/clock"
	"github.com/relaysfu/corertc/congestion"
	"github.com/relaysfu/corertc/congestion/gcc"
	"github.com/relaysfu/corertc/congestion/remb"
	"github.com/relaysfu/corertc/congestion/tcc"
	"github.com/relaysfu/corertc/keyframe"
	"github.com/relaysfu/corertc/probation"
	"github.com/relaysfu/corertc/rtcpcodec"
	"github.com/relaysfu/corertc/rtppacket"
)

// Transport owns a set of Producers and Consumers belonging to one
// endpoint, demultiplexes inbound RTP/RTCP to them, and routes outbound
// RTP/RTCP through an external Link, per spec.md §3-4.7. Grounded on the
// teacher's Connection (rtc/peer/connection.go), generalized from a
// one-SSRC-per-call model into the named Producer/Consumer collections.
type Transport struct {
	id       string
	listener Listener
	sched    clock.Scheduler
	link     Link
	sctp     SctpAssociation
	opts     Options

	producers map[string]*Producer
	consumers map[string]*Consumer

	rtpTable       *rtpTable
	ssrcToConsumer map[uint32]*Consumer

	extIDs rtppacket.ExtensionIDs
	stats  *Stats

	keyFrameManager *keyframe.Manager

	controller   congestion.Controller
	tccServer    *tcc.Server
	tccClient    *tcc.Client
	rembClient   *remb.Client
	rembServer   *remb.Server
	probationGen *probation.Generator

	transportWideCcSeq uint16
	fbPktCount         uint8

	maxIncomingBitrate uint64

	connected bool
	rtcpTimer clock.Handle
}

// New constructs a Transport. The transport starts disconnected; call
// Connected once the underlying DTLS/ICE/SRTP link is up.
func New(id string, listener Listener, sched clock.Scheduler, link Link, opts Options) *Transport {
	opts = opts.withDefaults()
	t := &Transport{
		id:             id,
		listener:       listener,
		sched:          sched,
		link:           link,
		opts:           opts,
		producers:      map[string]*Producer{},
		consumers:      map[string]*Consumer{},
		rtpTable:       newRTPTable(),
		ssrcToConsumer: map[uint32]*Consumer{},
		extIDs:         opts.ExtensionIDs,
		stats:          newStats(),
	}
	t.keyFrameManager = keyframe.New(sched, opts.KeyFrameRequestDelayMs, t.onKeyFrameManagerRequest)

	switch opts.CongestionControl {
	case CongestionControlTCC:
		t.controller = gcc.New(opts.InitialAvailableOutgoingBitrate)
		t.probationGen = probation.New(t.extIDs, 0)
		t.tccServer = tcc.NewServer(sched, t, 0, 0, opts.MaxRtcpPacketLen)
		t.tccClient = tcc.NewClient(sched, t, t.controller, t.probationGen)
	case CongestionControlREMB:
		t.controller = gcc.New(opts.InitialAvailableOutgoingBitrate)
		t.rembClient = remb.NewClient(clock.Real{}, t, opts.InitialAvailableOutgoingBitrate)
		t.rembServer = remb.NewServer(sched, t, t.controller)
	}
	return t
}

func (t *Transport) ID() string { return t.id }

// SetMaxIncomingBitrate caps the value this transport's REMB server path
// reports as the available incoming bitrate (TCC feedback is not
// affected), per spec.md §6.1
// TRANSPORT_SET_MAX_INCOMING_BITRATE (`data.bitrate >= 10000`).
func (t *Transport) SetMaxIncomingBitrate(bps uint64) error {
	if bps < 10000 {
		return ErrBitrateTooLow
	}
	t.maxIncomingBitrate = bps
	return nil
}

// Connected starts the RTCP compound timer, the congestion-control
// connection timers, and asks every consumer to request a key frame
// (spec.md §4.7 "State").
func (t *Transport) Connected() {
	if t.connected {
		return
	}
	t.connected = true
	t.scheduleNextRTCP()
	if t.tccServer != nil {
		t.tccServer.TransportConnected()
		t.tccClient.TransportConnected()
	}
	if t.rembServer != nil {
		t.rembServer.TransportConnected()
	}
	for _, c := range t.consumers {
		c.requestKeyFrame()
	}
}

// Disconnected stops the RTCP compound timer and the congestion-control
// connection timers.
func (t *Transport) Disconnected() {
	if !t.connected {
		return
	}
	t.connected = false
	t.sched.Stop(t.rtcpTimer)
	if t.tccServer != nil {
		t.tccServer.TransportDisconnected()
		t.tccClient.TransportDisconnected()
	}
	if t.rembServer != nil {
		t.rembServer.TransportDisconnected()
	}
}

// Close drains producers and consumers, firing listener notifications
// for each, per spec.md §3 "Lifecycles" ("the public Close() drains them
// while firing listener notifications").
func (t *Transport) Close() {
	t.Disconnected()
	for id := range t.consumers {
		_ = t.CloseConsumer(id)
	}
	for id := range t.producers {
		_ = t.CloseProducer(id)
	}
	t.keyFrameManager.Close()
}

// Produce creates a Producer and registers its streams in the routing
// table, rolling back on any id/ssrc/rid conflict (spec.md §7 kind 2).
func (t *Transport) Produce(params ProducerParams) (*Producer, error) {
	if _, exists := t.producers[params.ID]; exists {
		return nil, ErrProducerExists
	}
	p, err := newProducer(t, params)
	if err != nil {
		return nil, err
	}
	if err := t.rtpTable.addProducer(p); err != nil {
		p.Close()
		return nil, err
	}
	t.producers[p.id] = p
	t.listener.OnTransportNewProducer(t, p)
	return p, nil
}

// CloseProducer removes a producer and cascades closure to every
// consumer bound to it (spec.md §3 "destroyed [...] when the backing
// producer closes").
func (t *Transport) CloseProducer(id string) error {
	p, ok := t.producers[id]
	if !ok {
		return ErrProducerNotFound
	}
	for cid, c := range t.consumers {
		if c.ProducerID() == id {
			_ = t.closeConsumerLocked(cid, c)
		}
	}
	t.rtpTable.removeProducer(p)
	delete(t.producers, id)
	p.Close()
	t.listener.OnTransportProducerClosed(t, p)
	return nil
}

// Consume creates a Consumer bound to an existing producer.
func (t *Transport) Consume(params ConsumerParams) (*Consumer, error) {
	if _, exists := t.consumers[params.ID]; exists {
		return nil, ErrConsumerExists
	}
	if _, ok := t.producers[params.ProducerID]; !ok {
		return nil, ErrProducerNotFound
	}
	if _, ssrcTaken := t.ssrcToConsumer[params.Stream.SSRC]; ssrcTaken {
		return nil, ErrSSRCInUse
	}
	c := newConsumer(t, params)
	t.consumers[c.id] = c
	t.ssrcToConsumer[c.ssrc] = c
	if c.rtxSSRC != 0 {
		t.ssrcToConsumer[c.rtxSSRC] = c
	}
	if t.connected {
		t.keyFrameManager.KeyFrameNeeded(c.ssrc)
	}
	t.listener.OnTransportNewConsumer(t, c)
	return c, nil
}

// Producer looks up a producer by id, for the control router.
func (t *Transport) Producer(id string) (*Producer, bool) {
	p, ok := t.producers[id]
	return p, ok
}

// Consumer looks up a consumer by id, for the control router.
func (t *Transport) Consumer(id string) (*Consumer, bool) {
	c, ok := t.consumers[id]
	return c, ok
}

func (t *Transport) CloseConsumer(id string) error {
	c, ok := t.consumers[id]
	if !ok {
		return ErrConsumerNotFound
	}
	return t.closeConsumerLocked(id, c)
}

func (t *Transport) closeConsumerLocked(id string, c *Consumer) error {
	delete(t.consumers, id)
	delete(t.ssrcToConsumer, c.ssrc)
	if c.rtxSSRC != 0 {
		delete(t.ssrcToConsumer, c.rtxSSRC)
	}
	c.Close()
	t.listener.OnTransportConsumerClosed(t, c)
	return nil
}

// ReceiveRtpPacket parses one inbound RTP datagram and routes it to the
// owning producer, per spec.md §4.7 "Inbound RTP".
func (t *Transport) ReceiveRtpPacket(raw []byte) {
	packet := &rtppacket.View{}
	if err := packet.Parse(raw); err != nil {
		log.Warn("transport: malformed rtp packet:", err)
		return
	}
	packet.SetExtensionIDs(t.extIDs)
	nowMs := t.sched.Now()
	t.stats.incomingRTP(packet.Size(), nowMs)

	if wideSeq, ok := packet.ReadTransportWideCC(); ok && t.tccServer != nil {
		t.tccServer.IncomingPacket(nowMs, wideSeq)
	}
	if t.rembServer != nil {
		t.rembServer.IncomingPacket(packet.SSRC(), 0, packet.Size(), nowMs)
	}

	producer := t.rtpTable.getProducer(packet.SSRC(), packet.Mid(), packet.Rid())
	if producer == nil {
		log.Warn("transport: no producer for ssrc", packet.SSRC())
		return
	}
	producer.receiveRTPPacket(packet, nowMs)
}

// onProducerRtpPacketReceived fans a producer's freshly received media
// packet out to every bound consumer, per spec.md §4.7's
// OnProducerRtpPacketReceived -> OnTransportProducerRtpPacketReceived
// relay.
func (t *Transport) onProducerRtpPacketReceived(p *Producer, packet *rtppacket.View) {
	t.listener.OnTransportProducerRtpPacketReceived(t, p, packet)
	for _, c := range t.consumers {
		if c.ProducerID() == p.id {
			c.receiveProducerRTP(packet, t.sched.Now())
		}
	}
}

// ReceiveRtcpPacket dispatches each inbound RTCP packet by its concrete
// type, per spec.md §4.7 "Inbound RTCP".
func (t *Transport) ReceiveRtcpPacket(packets []rtcp.Packet) {
	nowMs := t.sched.Now()
	for _, pkt := range packets {
		switch report := pkt.(type) {
		case *rtcp.SenderReport:
			if p := t.rtpTable.getProducerBySSRC(report.SSRC); p != nil {
				p.receiveRtcpSenderReport(report.SSRC, report.NTPTime, int64(report.RTPTime), nowMs)
			}
		case *rtcp.ReceiverReport:
			for _, block := range report.Reports {
				c, ok := t.ssrcToConsumer[block.SSRC]
				if !ok {
					log.Warn("transport: rr for unknown ssrc", block.SSRC)
					continue
				}
				c.receiveReceiverReport(block.FractionLost)
				if t.tccClient != nil {
					t.tccClient.ReceiveRtcpReceiverReport(congestion.ReportBlock{
						SSRC:         block.SSRC,
						FractionLost: block.FractionLost,
						PacketsLost:  block.TotalLost,
						LastSeq:      block.LastSequenceNumber,
						Jitter:       block.Jitter,
					}, 0, nowMs)
				}
			}
		case *rtcp.SourceDescription:
			// No state mutation beyond the optional CNAME record, which
			// this core does not currently retain (spec.md §4.7).
		case *rtcp.Goodbye:
			log.Info("transport: received BYE for", report.Sources)
		case *rtcp.PictureLossIndication:
			if c, ok := t.ssrcToConsumer[report.MediaSSRC]; ok {
				c.requestKeyFrame()
			}
		case *rtcp.FullIntraRequest:
			if c, ok := t.ssrcToConsumer[report.MediaSSRC]; ok {
				c.requestKeyFrame()
			}
		case *rtcp.ReceiverEstimatedMaximumBitrate:
			if t.tccClient != nil {
				t.tccClient.ReceiveEstimatedBitrate(uint64(report.Bitrate))
			} else if t.rembClient != nil {
				t.rembClient.ReceiveRembFeedback(uint64(report.Bitrate))
			}
		case *rtcp.TransportLayerNack:
			if c, ok := t.ssrcToConsumer[report.MediaSSRC]; ok {
				var seqs []uint16
				for _, p := range report.Nacks {
					seqs = append(seqs, p.PacketList()...)
				}
				c.receiveNack(seqs)
			} else {
				log.Warn("transport: nack for unknown ssrc", report.MediaSSRC)
			}
		default:
			if fb, err := rtcpRawTransportCC(pkt); err == nil && fb != nil && t.tccClient != nil {
				t.tccClient.ReceiveRtcpTransportFeedback(fb)
			} else {
				log.Warn("transport: unsupported rtcp packet type")
			}
		}
	}
}

// rtcpRawTransportCC attempts to reinterpret an RTCP packet pion/rtcp
// could not classify into one of its named types as a transport-wide
// feedback packet, by re-marshaling and parsing it with rtcpcodec's
// dedicated codec (pion/rtcp has no built-in type for this format).
func rtcpRawTransportCC(pkt rtcp.Packet) (*rtcpcodec.TransportFeedback, error) {
	raw, err := pkt.Marshal()
	if err != nil {
		return nil, err
	}
	return rtcpcodec.ParseTransportFeedback(raw)
}

// sendConsumerRTP tags a consumer-originated packet with the next
// transport-wide sequence number and hands it to the congestion-control
// pacer if one is configured, else transmits it directly, per spec.md
// §4.7 "Outbound RTP". Probation packets reach the link through the TCC
// client's pacer instead.
func (t *Transport) sendConsumerRTP(c *Consumer, packet *rtppacket.View) {
	t.transportWideCcSeq++
	seq := t.transportWideCcSeq
	packet.UpdateTransportWideCC(seq)

	if t.tccClient != nil {
		t.tccClient.EnqueuePacket(packet, c.ssrc, seq)
		return
	}
	t.transmit(packet)
	if t.rembClient != nil {
		t.rembClient.ReceiveRtpPacket(packet.Size(), t.sched.Now())
	}
}

// transmit stamps abs-send-time and writes the packet to the link,
// updating outbound stats.
func (t *Transport) transmit(packet *rtppacket.View) {
	packet.UpdateAbsSendTime(time.UnixMilli(t.sched.Now()))
	raw, err := packet.Marshal()
	if err != nil {
		log.Error("transport: marshal rtp packet:", err)
		return
	}
	t.stats.outgoingRTP(len(raw), t.sched.Now())
	if t.link != nil {
		t.link.SendRTP(raw)
	}
}

// -- congestion.Controller / tcc.ClientListener / remb adapter methods --

func (t *Transport) OnTransportCongestionControlServerSendFeedback(fb *rtcpcodec.TransportFeedbackBuilder) {
	raw, err := fb.Serialize()
	if err != nil {
		log.Warn("transport: serialize tcc feedback:", err)
		return
	}
	if t.link != nil {
		t.link.SendRTCP(raw)
	}
}

func (t *Transport) OnTransportCongestionControlClientSendRtpPacket(packet *rtppacket.View, _ congestion.PacingInfo) {
	t.transmit(packet)
	if wideSeq, ok := packet.ReadTransportWideCC(); ok {
		t.tccClient.OnSentPacket(wideSeq, t.sched.Now(), packet.Size())
	}
}

func (t *Transport) OnTransportCongestionControlClientAvailableBitrate(availableBps, previousBps uint64) {
	log.Info("transport: available bitrate changed from", previousBps, "to", availableBps)
}

func (t *Transport) OnRembClientRemainingBitrate(availableBps uint64) {
	log.Debug("transport: remb remaining bitrate", availableBps)
}

func (t *Transport) OnRembClientExceedingBitrate(exceedingBps uint64) {
	log.Debug("transport: remb exceeding bitrate", exceedingBps)
}

func (t *Transport) OnRembServerSendReceiverEstimatedMaxBitrate(bps uint64) {
	if t.maxIncomingBitrate != 0 && bps > t.maxIncomingBitrate {
		bps = t.maxIncomingBitrate
	}
	pkt := &rtcp.ReceiverEstimatedMaximumBitrate{
		SenderSSRC: 0,
		Bitrate:    float32(bps),
		SSRCs:      nil,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return
	}
	if t.link != nil {
		t.link.SendRTCP(raw)
	}
}

// -- key-frame plumbing --

func (t *Transport) onKeyFrameManagerRequest(ssrc uint32) {
	p := t.rtpTable.getProducerBySSRC(ssrc)
	if p == nil {
		return
	}
	if t.opts.PreferPictureLossIndication {
		t.sendProducerPLI(ssrc)
	} else {
		t.sendProducerFIR(ssrc)
	}
}

func (t *Transport) forwardKeyFrameRequest(producerID string) {
	p, ok := t.producers[producerID]
	if !ok {
		return
	}
	for ssrc := range p.streams {
		t.keyFrameManager.KeyFrameNeeded(ssrc)
	}
}

func (t *Transport) sendProducerPLI(ssrc uint32) {
	t.sendRtcpNow(&rtcp.PictureLossIndication{SenderSSRC: 0, MediaSSRC: ssrc})
}

func (t *Transport) sendProducerFIR(ssrc uint32) {
	t.sendRtcpNow(&rtcp.FullIntraRequest{
		SenderSSRC: 0,
		FIR:        []rtcp.FIREntry{{SSRC: ssrc, SequenceNumber: 0}},
	})
}

func (t *Transport) sendProducerNack(ssrc uint32, seqs []uint16) {
	t.sendRtcpNow(&rtcp.TransportLayerNack{
		SenderSSRC: 0,
		MediaSSRC:  ssrc,
		Nacks:      rtcp.NackPairsFromSequenceNumbers(seqs),
	})
}

func (t *Transport) sendRtcpNow(pkt rtcp.Packet) {
	raw, err := pkt.Marshal()
	if err != nil {
		log.Error("transport: marshal rtcp packet:", err)
		return
	}
	if t.link != nil {
		t.link.SendRTCP(raw)
	}
}

// -- RTCP compound scheduler (spec.md §4.7) --

func (t *Transport) scheduleNextRTCP() {
	t.rtcpTimer = t.sched.AfterFunc(t.nextRTCPIntervalMs(), t.onRTCPTimer)
}

func (t *Transport) onRTCPTimer() {
	t.runRTCPCycle()
	t.scheduleNextRTCP()
}

// nextRTCPIntervalMs computes min(MaxVideoIntervalMs, 360000/totalKbps)
// jittered uniformly in [0.5, 1.5], per spec.md §4.7.
func (t *Transport) nextRTCPIntervalMs() int64 {
	kbps := t.stats.SendBPS(t.sched.Now()) / 1000
	if kbps <= 0 {
		kbps = 1
	}
	interval := int64(360000 / kbps)
	if interval > t.opts.RtcpIntervalMs {
		interval = t.opts.RtcpIntervalMs
	}
	if interval < 100 {
		interval = 100
	}
	jitter := 0.5 + rand.Float64()
	return int64(float64(interval) * jitter)
}

// runRTCPCycle builds one or more compound packets: sender reports (plus
// an SDES CNAME chunk when the consumer has a CNAME) for every consumer
// with traffic, then receiver reports
// for every producer stream with traffic, flushing and starting a fresh
// compound whenever the current one would overflow, per spec.md §4.7.
func (t *Transport) runRTCPCycle() {
	nowMs := t.sched.Now()
	compound := rtcpcodec.NewCompound(t.opts.MaxRtcpPacketLen)

	for _, c := range t.consumers {
		sr, ok := c.getSenderReport(nowMs)
		if !ok {
			continue
		}
		pkt := &rtcp.SenderReport{
			SSRC:       sr.ssrc,
			NTPTime:    sr.ntpMs,
			RTPTime:    sr.rtpTime,
			PacketCount: sr.packetCount,
			OctetCount: sr.octetCount,
		}
		if !compound.Add(pkt) {
			t.flushRTCP(compound)
			compound = rtcpcodec.NewCompound(t.opts.MaxRtcpPacketLen)
			compound.Add(pkt)
		}
		if sr.cname != "" {
			sdes := &rtcp.SourceDescription{Chunks: []rtcp.SourceDescriptionChunk{{
				Source: sr.ssrc,
				Items: []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: sr.cname}},
			}}}
			if !compound.Add(sdes) {
				t.flushRTCP(compound)
				compound = rtcpcodec.NewCompound(t.opts.MaxRtcpPacketLen)
				compound.Add(sdes)
			}
		}
	}

	for _, p := range t.producers {
		for _, rr := range p.getReceiverReports(nowMs) {
			pkt := &rtcp.ReceiverReport{
				SSRC: 0,
				Reports: []rtcp.ReceptionReport{{
					SSRC:               rr.ssrc,
					FractionLost:       rr.fractionLost,
					TotalLost:          rr.totalLost,
					LastSequenceNumber: rr.lastSeq,
					Jitter:             rr.jitter,
					LastSenderReport:   uint32(rr.lastSRNtpMs >> 16),
					Delay:              rr.delaySinceLastSR,
				}},
			}
			if !compound.Add(pkt) {
				t.flushRTCP(compound)
				compound = rtcpcodec.NewCompound(t.opts.MaxRtcpPacketLen)
				compound.Add(pkt)
			}
		}
	}

	if !compound.Empty() {
		t.flushRTCP(compound)
	}
}

func (t *Transport) flushRTCP(compound *rtcpcodec.Compound) {
	raw, err := compound.Serialize()
	if err != nil {
		log.Error("transport: serialize rtcp compound:", err)
		return
	}
	if t.link != nil {
		t.link.SendRTCP(raw)
	}
}
