package transport

import "github.com/relaysfu/corertc/rtppacket"

// Listener receives the events a Transport's owner needs to react to,
// per spec.md §6.5, replacing the teacher's per-callback mixins
// (connectionListener, ReceiverListener, ConsumerListener) with one
// capability contract (spec.md §9 "Listener cycles").
type Listener interface {
	OnTransportNewProducer(t *Transport, p *Producer)
	OnTransportProducerClosed(t *Transport, p *Producer)
	OnTransportNewConsumer(t *Transport, c *Consumer)
	OnTransportConsumerClosed(t *Transport, c *Consumer)
	OnTransportProducerRtpPacketReceived(t *Transport, p *Producer, packet *rtppacket.View)
	OnTransportProducerStreamScoreChanged(t *Transport, p *Producer, ssrc uint32, score int)
	OnTransportSenderReport(t *Transport, c *Consumer)
	OnTransportNeedWorstRemoteFractionLost(t *Transport, p *Producer, ssrc uint32) uint8
}

// Link is the external collaborator a Transport sends serialized RTP/RTCP
// datagrams through; DTLS/SRTP/ICE framing lives behind it, out of scope
// per spec.md §1.
type Link interface {
	SendRTP(payload []byte)
	SendRTCP(payload []byte)
}

// SctpAssociation is the external collaborator for data-channel framing,
// named out of scope per spec.md §1 and kept here only as the interface
// a Transport forwards SCTP messages through.
type SctpAssociation interface {
	SendSctpMessage(streamID uint16, payload []byte)
}
