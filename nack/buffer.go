// Package nack implements packet-loss recovery: a retransmit ring keyed
// by sequence number (held by each transport.Consumer for the packets it
// forwards), and a NACK generator with retry/backoff and a PLI fallback
// (run for each inbound transport.Producer stream), adapted from the
// teacher's rtc/nack package. Both run synchronously on the worker
// thread via clock.Scheduler rather than the teacher's per-stream
// goroutine+channel loop (spec.md §5: no shared-memory concurrency
// inside the core).
package nack

import "github.com/relaysfu/corertc/rtppacket"

// Buffer keeps a fixed-size ring of recently sent packets for
// retransmit-on-NACK, grounded on the teacher's nack.Buffer
// (rtc/nack/buffer.go). Packets are Cloned on Put, since the view handed
// in is borrowed for one send call only (spec.md §5).
type Buffer struct {
	ring []int32
	buf  map[int32]*rtppacket.View
	pos  int
}

// NewBuffer returns a Buffer retaining up to size recently sent packets.
func NewBuffer(size int) *Buffer {
	ring := make([]int32, size)
	for i := range ring {
		ring[i] = -1
	}
	return &Buffer{ring: ring, buf: map[int32]*rtppacket.View{}}
}

// Put retains a clone of pkt, evicting the oldest retained packet once the
// ring is full.
func (b *Buffer) Put(pkt *rtppacket.View) {
	seq := int32(pkt.SequenceNumber())
	if b.ring[b.pos] >= 0 {
		delete(b.buf, b.ring[b.pos])
	}
	b.buf[seq] = pkt.Clone()
	b.ring[b.pos] = seq
	b.pos++
	if b.pos == len(b.ring) {
		b.pos = 0
	}
}

// Get returns the retained packet for seq, or nil if it has been evicted
// or was never sent.
func (b *Buffer) Get(seq uint16) *rtppacket.View {
	return b.buf[int32(seq)]
}
