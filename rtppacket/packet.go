package rtppacket

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/pion/rtp"

	"github.com/relaysfu/corertc/logger"
)

var log = logger.New("rtppacket")

var ErrInvalidRTX = errors.New("rtppacket: rtx payload too short")

// View is a parsed, non-owning view over a single RTP datagram. The
// underlying buffer is borrowed for the duration of one receive callback;
// callers that need to retain a packet past that must Clone it first (see
// nack.Buffer, which keeps packets for retransmission).
type View struct {
	raw        rtp.Packet
	receiveMs  int64
	rtx        bool
	extIDs     ExtensionIDs
	isKeyframe bool
}

// Parse unmarshals a raw RTP datagram into the view, stamping ReceiveMs
// with the current wall clock. The caller retains ownership of d.
func (p *View) Parse(d []byte) error {
	p.receiveMs = time.Now().UnixMilli()
	return p.raw.Unmarshal(d)
}

// Clone deep-copies the view, including its payload, so it can outlive the
// receive callback it was parsed in (used by the NACK retransmit buffer).
func (p *View) Clone() *View {
	c := &View{receiveMs: p.receiveMs, rtx: p.rtx, extIDs: p.extIDs, isKeyframe: p.isKeyframe}
	c.raw = p.raw
	c.raw.Payload = append([]byte(nil), p.raw.Payload...)
	c.raw.Extensions = append([]rtp.Extension(nil), p.raw.Extensions...)
	return c
}

func (p *View) SetExtensionIDs(ids ExtensionIDs) { p.extIDs = ids }

func (p *View) SSRC() uint32 { return p.raw.SSRC }
func (p *View) SetSSRC(ssrc uint32) { p.raw.SSRC = ssrc }

func (p *View) SequenceNumber() uint16        { return p.raw.SequenceNumber }
func (p *View) SetSequenceNumber(seq uint16) { p.raw.SequenceNumber = seq }

func (p *View) Timestamp() uint32         { return p.raw.Timestamp }
func (p *View) SetTimestamp(ts uint32)    { p.raw.Timestamp = ts }

func (p *View) PayloadType() PayloadType          { return PayloadType(p.raw.PayloadType) }
func (p *View) SetPayloadType(pt PayloadType)      { p.raw.PayloadType = uint8(pt) }

func (p *View) Payload() []byte    { return p.raw.Payload }
func (p *View) PayloadLength() int { return len(p.raw.Payload) }
func (p *View) HasMarker() bool    { return p.raw.Marker }
func (p *View) Size() int          { return p.raw.MarshalSize() }

func (p *View) IsRTX() bool      { return p.rtx }
func (p *View) SetRTX(b bool)    { p.rtx = b }

func (p *View) IsKeyFrame() bool        { return p.isKeyframe }
func (p *View) SetKeyFrame(kf bool)     { p.isKeyframe = kf }

func (p *View) ReceiveMs() int64 { return p.receiveMs }

// Mid reads the MID header extension using the id negotiated for this
// transport.
func (p *View) Mid() string {
	if p.extIDs.Mid() == 0 {
		return ""
	}
	return string(p.raw.GetExtension(uint8(p.extIDs.Mid())))
}

func (p *View) Rid() string {
	if p.extIDs.Rid() == 0 {
		return ""
	}
	return string(p.raw.GetExtension(uint8(p.extIDs.Rid())))
}

func (p *View) RepairedRid() string {
	if p.extIDs.RepairedRid() == 0 {
		return ""
	}
	return string(p.raw.GetExtension(uint8(p.extIDs.RepairedRid())))
}

// ReadTransportWideCC reads the 2-byte transport-wide-cc-01 sequence
// number, if the extension is present with the negotiated id.
func (p *View) ReadTransportWideCC() (uint16, bool) {
	if p.extIDs.TransportWideCC() == 0 {
		return 0, false
	}
	b := p.raw.GetExtension(uint8(p.extIDs.TransportWideCC()))
	if len(b) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}

// ReadAbsSendTime reads the 3-byte abs-send-time extension.
func (p *View) ReadAbsSendTime() (uint32, bool) {
	if p.extIDs.AbsSendTime() == 0 {
		return 0, false
	}
	b := p.raw.GetExtension(uint8(p.extIDs.AbsSendTime()))
	if len(b) == 0 {
		return 0, false
	}
	for len(b) < 4 {
		b = append([]byte{0}, b...)
	}
	return binary.BigEndian.Uint32(b), true
}

// UpdateAbsSendTime stamps the abs-send-time extension with now, at the id
// negotiated for this transport. Called right before the packet is handed
// to the send primitive.
func (p *View) UpdateAbsSendTime(now time.Time) {
	if p.extIDs.AbsSendTime() == 0 {
		return
	}
	ext := rtp.NewAbsSendTimeExtension(now)
	payload, err := ext.Marshal()
	if err != nil {
		log.Error("marshal abs-send-time:", err)
		return
	}
	if err := p.raw.SetExtension(uint8(p.extIDs.AbsSendTime()), payload); err != nil {
		log.Error("set abs-send-time extension:", err)
	}
}

// UpdateTransportWideCC stamps the transport-wide-cc-01 extension with seq,
// reporting whether it could (i.e. whether the id was negotiated).
func (p *View) UpdateTransportWideCC(seq uint16) bool {
	if p.extIDs.TransportWideCC() == 0 {
		return false
	}
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, seq)
	if err := p.raw.SetExtension(uint8(p.extIDs.TransportWideCC()), payload); err != nil {
		log.Error("set transport-wide-cc extension:", err)
		return false
	}
	return true
}

func (p *View) UpdateMid(mid string) {
	if p.extIDs.Mid() == 0 {
		return
	}
	if err := p.raw.SetExtension(uint8(p.extIDs.Mid()), []byte(mid)); err != nil {
		log.Error("set mid extension:", err)
	}
}

// RtxDecode rewrites an RTX packet in place into the media packet it
// carries: the original sequence number lives in the first two payload
// bytes (RFC 4588 §4), and payloadType/ssrc are swapped to the media
// stream's.
func (p *View) RtxDecode(payloadType PayloadType, ssrc uint32) error {
	if len(p.raw.Payload) < 2 {
		return ErrInvalidRTX
	}
	p.raw.PayloadType = uint8(payloadType)
	p.raw.SequenceNumber = binary.BigEndian.Uint16(p.raw.Payload)
	p.raw.SSRC = ssrc
	p.raw.Payload = p.raw.Payload[2:]
	p.rtx = true
	return nil
}

// RtxEncode wraps the media packet as an RTX packet carrying ssrc and
// rtxSeq, prefixing the payload with the original sequence number.
func (p *View) RtxEncode(payloadType PayloadType, ssrc uint32, rtxSeq uint16) {
	origSeq := p.raw.SequenceNumber
	payload := make([]byte, 2+len(p.raw.Payload))
	binary.BigEndian.PutUint16(payload, origSeq)
	copy(payload[2:], p.raw.Payload)
	p.raw.Payload = payload
	p.raw.PayloadType = uint8(payloadType)
	p.raw.SSRC = ssrc
	p.raw.SequenceNumber = rtxSeq
	p.rtx = true
}

func (p *View) Marshal() ([]byte, error)            { return p.raw.Marshal() }
func (p *View) MarshalTo(dst []byte) (int, error)   { return p.raw.MarshalTo(dst) }
func (p *View) Raw() *rtp.Packet                    { return &p.raw }
