// Package probation generates padding RTP packets used for bandwidth
// probing, adapted from the teacher's RtpProbationGenerator
// (_examples/original_source/worker/src/RTC/RtpProbationGenerator.cpp):
// one reusable packet buffer with a fixed header template, mutated in
// place on every call rather than allocated fresh.
package probation

import (
	"math/rand"

	"github.com/relaysfu/corertc/rtppacket"
)

const (
	payloadType        = 127
	timestampStepPerCall = 20
	minPacketLen         = 20 // 12-byte RTP header + 8-byte one-byte-extension block
)

// Generator manufactures padding RTP packets carrying abs-send-time and
// transport-wide-cc header extensions for the BWE prober, reusing a single
// packet buffer across calls (spec.md §4.2).
type Generator struct {
	packet *rtppacket.View
	extIDs rtppacket.ExtensionIDs
}

// New builds a Generator whose packets use the given transport's
// negotiated abs-send-time / transport-wide-cc extension ids. targetLen is
// raised to minPacketLen if smaller; the shared packet is given a zeroed
// payload that pads it out to targetLen bytes.
func New(extIDs rtppacket.ExtensionIDs, targetLen int) *Generator {
	if targetLen < minPacketLen {
		targetLen = minPacketLen
	}
	g := &Generator{extIDs: extIDs}
	g.packet = &rtppacket.View{}
	raw := g.packet.Raw()
	raw.Version = 2
	raw.Marker = false
	raw.PayloadType = payloadType
	raw.SSRC = rtppacket.RTPProbationSSRC
	raw.SequenceNumber = uint16(rand.Intn(1 << 16))
	raw.Timestamp = rand.Uint32()
	g.packet.SetExtensionIDs(extIDs)

	if id := extIDs.AbsSendTime(); id != 0 {
		_ = raw.SetExtension(uint8(id), make([]byte, 3))
	}
	if id := extIDs.TransportWideCC(); id != 0 {
		_ = raw.SetExtension(uint8(id), make([]byte, 2))
	}
	if pad := targetLen - g.packet.Size(); pad > 0 {
		raw.Payload = make([]byte, pad)
	}
	return g
}

// GetNextPacket advances the shared packet's sequence number by 1 and its
// RTP timestamp by 20 (a nominal 20ms frame step at a 1kHz-normalized
// clock; callers needing codec-accurate timestamps rewrite Timestamp()
// themselves before sending), returning the same backing buffer every
// call. The caller must serialize or Clone before the next call.
func (g *Generator) GetNextPacket() *rtppacket.View {
	raw := g.packet.Raw()
	raw.SequenceNumber++
	raw.Timestamp += timestampStepPerCall
	return g.packet
}
