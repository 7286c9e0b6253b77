package nack

import "github.com/relaysfu/corertc/rtppacket"

// Sender keeps a consumer's retransmit buffer and replays packets
// named in an inbound NACK report, grounded on the teacher's
// nack.sender (rtc/nack/sender.go).
type Sender struct {
	buffer  *Buffer
	sendRTP func(*rtppacket.View)
}

// NewSender returns a Sender backed by buf; sendRTP is invoked once per
// retransmitted packet.
func NewSender(buf *Buffer, sendRTP func(*rtppacket.View)) *Sender {
	return &Sender{buffer: buf, sendRTP: sendRTP}
}

// ReceivePacket retains a copy of packet for future retransmission.
func (s *Sender) ReceivePacket(packet *rtppacket.View) {
	s.buffer.Put(packet)
}

// OnNack retransmits every sequence number in seqs that is still
// retained; numbers that already aged out of the ring are silently
// skipped (spec.md §7: routing-plane misses are logged and dropped, never
// fatal — here there is nothing to log, the packet is simply gone).
func (s *Sender) OnNack(seqs []uint16) {
	for _, seq := range seqs {
		if packet := s.buffer.Get(seq); packet != nil {
			s.sendRTP(packet)
		}
	}
}
