package transport

import (
	"github.com/relaysfu/corertc/nack"
	"github.com/relaysfu/corertc/rtppacket"
)

// ConsumerParams is the set of fields supplied by TRANSPORT_CONSUME
// (spec.md §6.1).
type ConsumerParams struct {
	ID         string
	ProducerID string
	Paused     bool
	Stream     StreamParams
	CNAME      string
}

// RTPSeqManager rewrites an inbound producer sequence number into the
// consumer's own outbound sequence space, preserving gaps so downstream
// loss detection still sees genuine losses, not rewriting artifacts;
// grounded on the teacher's defaultRTPManager (rtc/peer/seq_manager.go).
type RTPSeqManager interface {
	Sync(seq uint16)
	Input(seq uint16) uint16
}

func newSeqManager() RTPSeqManager { return &defaultSeqManager{} }

type defaultSeqManager struct {
	base      uint16
	maxOutput uint16
	maxInput  uint16
	synced    bool
}

func (d *defaultSeqManager) Sync(seq uint16) {
	d.base = d.maxOutput - seq
	d.maxInput = seq
	d.synced = true
}

func (d *defaultSeqManager) Input(seq uint16) uint16 {
	if !d.synced {
		d.Sync(seq)
		return d.maxOutput
	}
	output := seq + d.base
	if seq-d.maxInput < rtppacket.SeqNumberMaxValue/2 {
		d.maxInput = seq
	}
	if output-d.maxOutput < rtppacket.SeqNumberMaxValue/2 {
		d.maxOutput = output
	}
	return output
}

// Consumer subscribes to one Producer and republishes its RTP with a
// rewritten SSRC, payload type and sequence number (the RTP timestamp is
// passed through unchanged), emitting sender reports and retransmitting
// NACKed packets from its own buffer, grounded on the teacher's Sender
// (rtc/peer/sender.go, rtc/peer/sender_stream.go).
type Consumer struct {
	id         string
	producerID string
	paused     bool

	ssrc           uint32
	rtxSSRC        uint32
	payloadType    rtppacket.PayloadType
	rtxPayloadType rtppacket.PayloadType
	clockRate      uint32
	cname          string

	seqMgr  RTPSeqManager
	rtxSeq  uint16
	nackBuf *nack.Buffer
	nack    *nack.Sender

	stats *StreamStats

	packetsSent    int64
	maxPacketMs    int64
	maxTimestamp   uint32
	fractionLost   uint8

	preferredRID string

	transport *Transport
}

func newConsumer(transport *Transport, p ConsumerParams) *Consumer {
	c := &Consumer{
		id:             p.ID,
		producerID:     p.ProducerID,
		paused:         p.Paused,
		ssrc:           p.Stream.SSRC,
		rtxSSRC:        p.Stream.RTXSSRC,
		payloadType:    p.Stream.PayloadType,
		rtxPayloadType: p.Stream.RTXPayloadType,
		clockRate:      p.Stream.ClockRate,
		cname:          p.CNAME,
		seqMgr:         newSeqManager(),
		stats:          newStreamStats(p.Stream.SSRC),
		transport:      transport,
	}
	c.nackBuf = nack.NewBuffer(100)
	c.nack = nack.NewSender(c.nackBuf, c.onRetransmit)
	return c
}

func (c *Consumer) ID() string         { return c.id }
func (c *Consumer) ProducerID() string { return c.producerID }
func (c *Consumer) Paused() bool       { return c.paused }
func (c *Consumer) SSRC() uint32       { return c.ssrc }

func (c *Consumer) Pause()  { c.paused = true }
func (c *Consumer) Resume() { c.paused = false }

func (c *Consumer) Close() {}

// receiveProducerRTP rewrites packet for this consumer's stream and hands
// it to the transport for paced/direct send. packet is borrowed: the
// caller (Transport.onProducerRtpPacketReceived, fanning out to every
// bound consumer) owns it for this call only, so the rewrite is applied
// to a clone.
func (c *Consumer) receiveProducerRTP(packet *rtppacket.View, nowMs int64) {
	if c.paused {
		return
	}
	if c.preferredRID != "" && packet.Rid() != "" && packet.Rid() != c.preferredRID {
		return
	}
	out := packet.Clone()
	out.SetSSRC(c.ssrc)
	out.SetPayloadType(c.payloadType)
	out.SetSequenceNumber(c.seqMgr.Input(packet.SequenceNumber()))

	c.packetsSent++
	c.maxPacketMs = nowMs
	c.maxTimestamp = out.Timestamp()
	c.stats.outgoingRTP(out.Size(), nowMs)
	c.nack.ReceivePacket(out)

	c.transport.sendConsumerRTP(c, out)
}

// onRetransmit is invoked by nack.Sender for each packet it still has
// retained for a NACKed sequence number; it wraps the packet as RTX on
// the consumer's secondary SSRC/payload-type pair before handing it back
// to the transport, mirroring the teacher's senderStream.onRTP.
func (c *Consumer) onRetransmit(packet *rtppacket.View) {
	if c.rtxSSRC == 0 {
		c.transport.sendConsumerRTP(c, packet)
		return
	}
	c.rtxSeq++
	rtx := packet.Clone()
	rtx.RtxEncode(c.rtxPayloadType, c.rtxSSRC, c.rtxSeq)
	c.stats.PacketsRetransmitted++
	c.transport.sendConsumerRTP(c, rtx)
}

// receiveNack retransmits every still-retained sequence number named in
// an inbound NACK report.
func (c *Consumer) receiveNack(seqs []uint16) {
	c.stats.NackCount++
	c.stats.NackPacketCount += int64(len(seqs))
	c.nack.OnNack(seqs)
}

// receiveReceiverReport folds one RR block's fraction-lost back into the
// consumer's reported stats (used for scoring and congestion feedback).
func (c *Consumer) receiveReceiverReport(fractionLost uint8) {
	c.fractionLost = fractionLost
}

// requestKeyFrame fans a PLI/FIR received for this consumer's stream out
// to the bound producer.
func (c *Consumer) requestKeyFrame() {
	c.transport.forwardKeyFrameRequest(c.producerID)
}

// RequestKeyFrame is requestKeyFrame's exported counterpart, driven by the
// REQUEST_KEY_FRAME control method instead of inbound PLI/FIR.
func (c *Consumer) RequestKeyFrame() { c.requestKeyFrame() }

// Score reports the bound producer's worst stream score, answering
// TRANSPORT_CONSUME's `{ score }` (spec.md §6.1).
func (c *Consumer) Score() int {
	if p, ok := c.transport.producers[c.producerID]; ok {
		return p.Score()
	}
	return 0
}

// SetPreferredRID records the simulcast layer SET_PREFERRED_LAYERS asked
// for; receiveProducerRTP then drops packets that carry a different RID
// (spec.md §6.1 names the method; the source spec does not define
// the layer-selection algorithm itself).
func (c *Consumer) SetPreferredRID(rid string) { c.preferredRID = rid }

// Dump returns a snapshot suitable for the DUMP control method.
func (c *Consumer) Dump() ConsumerDump {
	return ConsumerDump{
		ID:              c.id,
		ProducerID:      c.producerID,
		Paused:          c.paused,
		SSRC:            c.ssrc,
		Score:           c.Score(),
		PacketsSent:     c.packetsSent,
		PacketsLost:     c.stats.PacketsLost,
		NackCount:       c.stats.NackCount,
		PreferredRID:    c.preferredRID,
	}
}

// ConsumerDump is the DUMP/GET_STATS payload for one consumer.
type ConsumerDump struct {
	ID           string `json:"id"`
	ProducerID   string `json:"producerId"`
	Paused       bool   `json:"paused"`
	SSRC         uint32 `json:"ssrc"`
	Score        int    `json:"score"`
	PacketsSent  int64  `json:"packetsSent"`
	PacketsLost  int64  `json:"packetsLost"`
	NackCount    int64  `json:"nackCount"`
	PreferredRID string `json:"preferredRid,omitempty"`
}

// getSenderReport builds an RTCP-ready sender report payload, or reports
// ok=false if nothing has been sent yet, matching the teacher's
// senderStream.GetRtcpSenderReport nil-guard.
func (c *Consumer) getSenderReport(nowMs int64) (senderReport, bool) {
	if c.packetsSent == 0 {
		return senderReport{}, false
	}
	diffMs := nowMs - c.maxPacketMs
	diffTimestamp := diffMs * int64(c.clockRate) / 1000
	return senderReport{
		ssrc:        c.ssrc,
		ntpMs:       uint64(nowMs),
		rtpTime:     c.maxTimestamp + uint32(diffTimestamp),
		packetCount: uint32(c.packetsSent),
		octetCount:  uint32(c.stats.BytesSent()),
		cname:       c.cname,
	}, true
}

type senderReport struct {
	ssrc        uint32
	ntpMs       uint64
	rtpTime     uint32
	packetCount uint32
	octetCount  uint32
	cname       string
}
