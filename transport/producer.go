package transport

import (
	"math"

	"github.com/relaysfu/corertc/logger"
	"github.com/relaysfu/corertc/nack"
	"github.com/relaysfu/corertc/rtppacket"
)

var log = logger.New("transport")

// StreamParams describes one RTP stream of a Producer/Consumer: its media
// SSRC, optional RTX SSRC/payload-type pair, and optional simulcast RID.
type StreamParams struct {
	SSRC           uint32
	RID            string
	PayloadType    rtppacket.PayloadType
	RTXSSRC        uint32
	RTXPayloadType rtppacket.PayloadType
	// ClockRate is the codec's RTP clock rate in Hz. Producer streams use it
	// to convert the wall-clock inter-arrival gap into RTP-timestamp units
	// for jitter (RFC 3550 appendix A.8), and 0 disables jitter calculation;
	// consumers use it to extrapolate the sender-report RTP timestamp.
	ClockRate uint32
}

// ProducerParams is the set of fields supplied by TRANSPORT_PRODUCE
// (spec.md §6.1).
type ProducerParams struct {
	ID      string
	MID     string
	Paused  bool
	Streams []StreamParams
}

// Producer owns one or more RTP streams published by an endpoint, holds
// per-stream jitter/loss/score, and emits outbound RTCP (receiver
// reports, NACK, PLI/FIR), grounded on the teacher's Receiver
// (rtc/peer/receiver.go, rtc/peer/receiver_stream.go) generalized from
// one-SSRC-per-call into the named multi-stream Producer of spec.md §3.
type Producer struct {
	id       string
	mid      string
	paused   bool
	streams  map[uint32]*producerStream
	streamByRID map[string]*producerStream

	transport *Transport
}

type producerStream struct {
	ssrc           uint32
	rid            string
	payloadType    rtppacket.PayloadType
	rtxSSRC        uint32
	rtxPayloadType rtppacket.PayloadType
	clockRate      uint32

	stats *StreamStats

	// RFC 3550 appendix A.1 sequence-cycle bookkeeping.
	haveSeq   bool
	baseSeq   uint16
	maxSeq    uint16
	cycles    uint32
	badSeq    uint32
	probation int

	packetsLost      int64
	expectedPrior    int64
	receivedPrior    int64
	reportPacketLost int64
	fractionLost     uint8

	jitter               int32
	lastReceiveTimeMs    int64
	lastReceiveTimestamp uint32

	lastSRReceivedMs    int64
	lastSRNtpMs         uint64
	lastSRTimestamp     int64

	nackReceiver *nack.Receiver

	score int
}

func newProducer(transport *Transport, p ProducerParams) (*Producer, error) {
	if len(p.Streams) == 0 {
		return nil, ErrNoStreams
	}
	producer := &Producer{
		id:          p.ID,
		mid:         p.MID,
		paused:      p.Paused,
		streams:     map[uint32]*producerStream{},
		streamByRID: map[string]*producerStream{},
		transport:   transport,
	}
	for _, sp := range p.Streams {
		ps := &producerStream{
			ssrc:           sp.SSRC,
			rid:            sp.RID,
			payloadType:    sp.PayloadType,
			rtxSSRC:        sp.RTXSSRC,
			rtxPayloadType: sp.RTXPayloadType,
			clockRate:      sp.ClockRate,
			stats:          newStreamStats(sp.SSRC),
		}
		ps.nackReceiver = nack.NewReceiver(transport.sched, &producerNackListener{producer: producer, stream: ps})
		producer.streams[sp.SSRC] = ps
		if sp.RID != "" {
			producer.streamByRID[sp.RID] = ps
		}
	}
	return producer, nil
}

func (p *Producer) ID() string   { return p.id }
func (p *Producer) MID() string  { return p.mid }
func (p *Producer) Paused() bool { return p.paused }

// Type reports "simple" for a single-stream producer or "simulcast" for a
// multi-stream one keyed by RID, answering TRANSPORT_PRODUCE's
// `{ type }` (spec.md §6.1).
func (p *Producer) Type() string {
	if len(p.streams) > 1 {
		return "simulcast"
	}
	return "simple"
}

func (p *Producer) Pause()  { p.paused = true }
func (p *Producer) Resume() { p.paused = false }

// Close releases every stream's NACK receiver timer (spec.md §5
// "Cancellation").
func (p *Producer) Close() {
	for _, s := range p.streams {
		s.nackReceiver.Close()
	}
}

// Score is the worst of this producer's per-stream scores, answering
// TRANSPORT_CONSUME's `{ score }` (spec.md §6.1).
func (p *Producer) Score() int {
	best := -1
	for _, s := range p.streams {
		if best == -1 || s.score < best {
			best = s.score
		}
	}
	if best == -1 {
		return 0
	}
	return best
}

// Dump returns a snapshot suitable for the DUMP control method.
func (p *Producer) Dump() ProducerDump {
	d := ProducerDump{ID: p.id, MID: p.mid, Paused: p.paused, Type: p.Type(), Score: p.Score()}
	for ssrc, s := range p.streams {
		d.Streams = append(d.Streams, StreamDump{
			SSRC:            ssrc,
			RID:             s.rid,
			PacketsReceived: s.stats.PacketsReceived(),
			PacketsLost:     s.packetsLost,
			Jitter:          uint32(s.jitter),
			Score:           s.score,
		})
	}
	return d
}

// ProducerDump is the DUMP/GET_STATS payload for one producer.
type ProducerDump struct {
	ID      string       `json:"id"`
	MID     string       `json:"mid"`
	Paused  bool         `json:"paused"`
	Type    string       `json:"type"`
	Score   int          `json:"score"`
	Streams []StreamDump `json:"streams"`
}

// StreamDump is the per-SSRC portion of a ProducerDump.
type StreamDump struct {
	SSRC            uint32 `json:"ssrc"`
	RID             string `json:"rid,omitempty"`
	PacketsReceived int64  `json:"packetsReceived"`
	PacketsLost     int64  `json:"packetsLost"`
	Jitter          uint32 `json:"jitter"`
	Score           int    `json:"score"`
}

// receiveRTPPacket processes one inbound media or RTX packet for ssrc,
// updating loss/jitter bookkeeping and republishing it to bound consumers
// unless the producer is paused.
func (p *Producer) receiveRTPPacket(packet *rtppacket.View, nowMs int64) {
	stream, ok := p.streams[packet.SSRC()]
	isRTX := false
	if !ok {
		for _, s := range p.streams {
			if s.rtxSSRC != 0 && s.rtxSSRC == packet.SSRC() {
				stream = s
				isRTX = true
				break
			}
		}
	}
	if stream == nil {
		log.Warn("producer: no stream for ssrc", packet.SSRC())
		return
	}

	if isRTX {
		if err := packet.RtxDecode(stream.payloadType, stream.ssrc); err != nil {
			log.Warn("producer: invalid rtx packet:", err)
			return
		}
		if !stream.updateSeq(packet.SequenceNumber()) {
			log.Warn("producer: bad rtx sequence number on ssrc", stream.ssrc)
			return
		}
		stream.nackReceiver.IncomingPacket(packet.SequenceNumber(), packet.IsKeyFrame(), true)
		stream.stats.incomingRTP(packet.Size(), nowMs)
		return
	}

	if !stream.updateSeq(packet.SequenceNumber()) {
		log.Warn("producer: bad sequence number on ssrc", stream.ssrc)
		return
	}
	stream.calculateJitter(packet.Timestamp(), nowMs)
	stream.nackReceiver.IncomingPacket(packet.SequenceNumber(), packet.IsKeyFrame(), false)
	stream.stats.incomingRTP(packet.Size(), nowMs)

	if p.paused {
		return
	}
	p.transport.onProducerRtpPacketReceived(p, packet)
}

func (p *Producer) receiveRtcpSenderReport(ssrc uint32, ntpMs uint64, rtpTimestamp int64, nowMs int64) {
	stream, ok := p.streams[ssrc]
	if !ok {
		return
	}
	stream.lastSRReceivedMs = nowMs
	stream.lastSRNtpMs = ntpMs
	stream.lastSRTimestamp = rtpTimestamp
}

// requestKeyFrame asks the remote endpoint for a full frame on every
// stream of this producer (PLI if negotiated, else FIR), invoked by the
// transport's keyframe.Manager once coalescing/retry has decided to send.
func (p *Producer) requestKeyFrame(usePLI bool) {
	for ssrc := range p.streams {
		if usePLI {
			p.transport.sendProducerPLI(ssrc)
		} else {
			p.transport.sendProducerFIR(ssrc)
		}
	}
}

// getReceiverReports returns one RTCP reception report per stream with a
// non-zero packet count, per spec.md §4.7's RTCP compound scheduler.
func (p *Producer) getReceiverReports(nowMs int64) []receptionReport {
	var out []receptionReport
	for _, s := range p.streams {
		if s.stats.PacketsReceived() == 0 {
			continue
		}
		out = append(out, s.buildReceiverReport(nowMs))
	}
	return out
}

type receptionReport struct {
	ssrc             uint32
	fractionLost     uint8
	totalLost        uint32
	lastSeq          uint32
	jitter           uint32
	lastSRNtpMs      uint64
	delaySinceLastSR uint32
}

func (s *producerStream) updateSeq(seq uint16) bool {
	const maxDropout = 3000
	const maxMisorder = 100
	const minSequential = 2

	if !s.haveSeq {
		s.haveSeq = true
		s.baseSeq = seq
		s.maxSeq = seq
		s.badSeq = uint32(seq-1) + 1
		s.probation = minSequential
		return true
	}

	delta := seq - s.maxSeq
	if s.probation > 0 {
		if seq == s.maxSeq+1 {
			s.probation--
			s.maxSeq = seq
			return true
		}
		s.probation = minSequential - 1
		s.maxSeq = seq
		return false
	}

	switch {
	case delta < maxDropout:
		if seq < s.maxSeq {
			s.cycles += 1 << 16
		}
		s.maxSeq = seq
	case delta <= uint16(math.MaxUint16-maxMisorder):
		if uint32(seq) == s.badSeq {
			s.haveSeq = false
			s.probation = 0
			return s.updateSeq(seq)
		}
		s.badSeq = uint32(seq+1) & 0xFFFF
		return false
	default:
		// Duplicate or misordered within tolerance: accept without
		// advancing maxSeq.
	}
	return true
}

func (s *producerStream) calculateJitter(timestamp uint32, nowMs int64) {
	if s.clockRate == 0 {
		return
	}
	if s.lastReceiveTimeMs == 0 {
		s.lastReceiveTimestamp = timestamp
		s.lastReceiveTimeMs = nowMs
		return
	}
	diffMs := nowMs - s.lastReceiveTimeMs
	receiveDiffRTP := int32(diffMs) * int32(s.clockRate) / 1000
	senderDiffRTP := int32(timestamp) - int32(s.lastReceiveTimestamp)
	diff := receiveDiffRTP - senderDiffRTP
	if diff < 0 {
		diff = -diff
	}
	if diff < 450000 {
		s.jitter += (diff - s.jitter) / 16
	}
	s.lastReceiveTimeMs = nowMs
	s.lastReceiveTimestamp = timestamp
}

func (s *producerStream) buildReceiverReport(nowMs int64) receptionReport {
	prevLost := s.packetsLost
	expected := int64(s.cycles) + int64(s.maxSeq) - int64(s.baseSeq) + 1
	received := s.stats.PacketsReceived()
	if expected > received {
		s.packetsLost = expected - received
	} else {
		s.packetsLost = 0
	}
	expectedInterval := expected - s.expectedPrior
	s.expectedPrior = expected
	receivedInterval := received - s.receivedPrior
	s.receivedPrior = received
	lostInterval := expectedInterval - receivedInterval

	if expectedInterval == 0 || lostInterval <= 0 {
		s.fractionLost = 0
	} else if lostInterval<<8/expectedInterval > 255 {
		s.fractionLost = math.MaxUint8
	} else {
		s.fractionLost = uint8((lostInterval << 8) / expectedInterval)
	}
	s.reportPacketLost += s.packetsLost - prevLost

	var delay uint32
	if s.lastSRReceivedMs != 0 {
		delayMs := nowMs - s.lastSRReceivedMs
		delay = uint32(delayMs * 65536 / 1000)
	}
	return receptionReport{
		ssrc:             s.ssrc,
		fractionLost:     s.fractionLost,
		totalLost:        uint32(s.reportPacketLost),
		lastSeq:          uint32(s.cycles) + uint32(s.maxSeq),
		jitter:           uint32(s.jitter),
		lastSRNtpMs:      s.lastSRNtpMs,
		delaySinceLastSR: delay,
	}
}

// producerNackListener adapts one producerStream's nack.Receiver callbacks
// into RTCP emission via the owning Transport.
type producerNackListener struct {
	producer *Producer
	stream   *producerStream
}

func (l *producerNackListener) SendNack(seqs []uint16) {
	l.stream.score = clampScore(l.stream.score - len(seqs))
	l.producer.transport.sendProducerNack(l.stream.ssrc, seqs)
}

func (l *producerNackListener) SendPictureLossIndication() {
	l.producer.transport.keyFrameManager.KeyFrameNeeded(l.stream.ssrc)
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
