// Package rtcpcodec implements the RTCP wire codecs the routing core needs:
// a compound-packet assembler used by the RTCP scheduler, and the
// Transport-Wide Congestion Control feedback codec (the one format the
// ecosystem's RTCP library surface doesn't give us pre-built, and the one
// the spec calls out as "the non-trivial codec").
//
// Standard packet types (SR, RR, SDES, BYE, PLI, FIR, REMB, NACK) are the
// concrete github.com/pion/rtcp types directly, the same way the teacher's
// rtc/peer package consumes them (see handleRtcpPacket's type switch in
// _examples/gotolive-sfu/rtc/peer/connection.go) — there is no reason to
// re-wrap a wire-stable, already bit-exact library codec.
package rtcpcodec

import "errors"

// MaxCompoundPacketLen is the default ceiling for one compound RTCP
// datagram, chosen to stay under common network MTUs (spec §6.3).
const MaxCompoundPacketLen = 1500

var ErrCompoundTooLarge = errors.New("rtcpcodec: compound packet exceeds max length")

// Marshaler is satisfied by any packet type placed into a Compound:
// concrete pion/rtcp packets (SenderReport, ReceiverReport, ...) as well
// as our own TransportFeedbackBuilder.
type Marshaler interface {
	Marshal() ([]byte, error)
}

// Compound accumulates RTCP packets for serialisation back-to-back into a
// single UDP datagram, per RFC 3550 §6.4. Every individual packet type
// here already serialises to a multiple of 4 bytes, so concatenation keeps
// the whole compound 4-byte aligned without extra padding logic.
type Compound struct {
	maxLen  int
	packets []Marshaler
	size    int
}

// NewCompound returns an empty Compound that refuses to grow past maxLen
// bytes once serialised. maxLen <= 0 means MaxCompoundPacketLen.
func NewCompound(maxLen int) *Compound {
	if maxLen <= 0 {
		maxLen = MaxCompoundPacketLen
	}
	return &Compound{maxLen: maxLen}
}

func (c *Compound) Empty() bool { return len(c.packets) == 0 }

func (c *Compound) Len() int { return len(c.packets) }

// Add appends p, returning false (and leaving the compound unchanged) if
// doing so would exceed maxLen — the caller is expected to serialise and
// send what it has, then start a fresh Compound.
func (c *Compound) Add(p Marshaler) bool {
	raw, err := p.Marshal()
	if err != nil {
		return false
	}
	if c.size+len(raw) > c.maxLen {
		return false
	}
	c.packets = append(c.packets, p)
	c.size += len(raw)
	return true
}

// Serialize concatenates every packet's wire form in insertion order.
func (c *Compound) Serialize() ([]byte, error) {
	out := make([]byte, 0, c.size)
	for _, p := range c.packets {
		raw, err := p.Marshal()
		if err != nil {
			return nil, err
		}
		if len(out)+len(raw) > c.maxLen {
			return nil, ErrCompoundTooLarge
		}
		out = append(out, raw...)
	}
	return out, nil
}
