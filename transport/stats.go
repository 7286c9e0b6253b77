package transport

import "github.com/relaysfu/corertc/ratecalc"

const (
	statsWindowMs    = 1000
	statsWindowItems = 8
)

// Stats accumulates transport-level byte/packet counters and bitrates,
// grounded on the teacher's Stats (rtc/peer/stats.go), dropped by the
// distilled spec but required by GET_STATS (spec.md §6.1).
type Stats struct {
	packetsSent     int64
	bytesSent       int64
	packetsReceived int64
	bytesReceived   int64
	sendBps         *ratecalc.RateCalculator
	receiveBps      *ratecalc.RateCalculator
}

func newStats() *Stats {
	return &Stats{
		sendBps:    ratecalc.New(statsWindowMs, statsWindowItems, 8000),
		receiveBps: ratecalc.New(statsWindowMs, statsWindowItems, 8000),
	}
}

func (s *Stats) incomingRTP(size int, nowMs int64) {
	s.bytesReceived += int64(size)
	s.packetsReceived++
	s.receiveBps.Update(int64(size), nowMs)
}

func (s *Stats) outgoingRTP(size int, nowMs int64) {
	s.bytesSent += int64(size)
	s.packetsSent++
	s.sendBps.Update(int64(size), nowMs)
}

func (s *Stats) ReceiveBPS(nowMs int64) int64 { return s.receiveBps.GetRate(nowMs) }
func (s *Stats) SendBPS(nowMs int64) int64    { return s.sendBps.GetRate(nowMs) }

// StreamStats is the per-SSRC counterpart, held by Producer/Consumer
// streams, mirroring the teacher's StreamStats.
type StreamStats struct {
	SSRC uint32

	packetsSent     int64
	bytesSent       int64
	packetsReceived int64
	bytesReceived   int64
	sendBps         *ratecalc.RateCalculator
	receiveBps      *ratecalc.RateCalculator

	PacketsRepaired      int64
	PacketsRetransmitted int64
	FirCount             int64
	PliCount             int64
	NackCount            int64
	NackPacketCount      int64
	RTT                  int64
	PacketsLost          int64
	FractionLost         uint8
	Jitter               uint32
	Score                int
}

func newStreamStats(ssrc uint32) *StreamStats {
	return &StreamStats{
		SSRC:       ssrc,
		sendBps:    ratecalc.New(statsWindowMs, statsWindowItems, 8000),
		receiveBps: ratecalc.New(statsWindowMs, statsWindowItems, 8000),
	}
}

func (s *StreamStats) incomingRTP(size int, nowMs int64) {
	s.bytesReceived += int64(size)
	s.packetsReceived++
	s.receiveBps.Update(int64(size), nowMs)
}

func (s *StreamStats) outgoingRTP(size int, nowMs int64) {
	s.bytesSent += int64(size)
	s.packetsSent++
	s.sendBps.Update(int64(size), nowMs)
}

func (s *StreamStats) PacketsReceived() int64  { return s.packetsReceived }
func (s *StreamStats) BytesReceived() int64    { return s.bytesReceived }
func (s *StreamStats) PacketsSent() int64      { return s.packetsSent }
func (s *StreamStats) BytesSent() int64        { return s.bytesSent }
func (s *StreamStats) ReceiveBPS(now int64) int64 { return s.receiveBps.GetRate(now) }
func (s *StreamStats) SendBPS(now int64) int64    { return s.sendBps.GetRate(now) }
