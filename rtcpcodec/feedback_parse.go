package rtcpcodec

import "encoding/binary"

// TransportFeedback is the parsed form of one Transport-Wide Congestion
// Control feedback packet, as consumed by a TCC client to reconstruct
// per-packet arrival times.
type TransportFeedback struct {
	SenderSSRC      uint32
	MediaSSRC       uint32
	BaseSeq         uint16
	ReferenceTimeMs int64
	FbPktCount      uint8

	// Statuses and Ticks are parallel slices of length PacketStatusCount.
	// Ticks holds the 250us-unit delta for SmallDelta/LargeDelta entries
	// and 0 for NotReceived entries.
	Statuses []Status
	Ticks    []int32
}

// ParseTransportFeedback decodes a Transport-Wide Congestion Control
// feedback packet produced by TransportFeedbackBuilder.Serialize.
func ParseTransportFeedback(d []byte) (*TransportFeedback, error) {
	if len(d) < fbFixedLen {
		return nil, ErrTruncated
	}
	fmtByte := d[0] & 0x1F
	if fmtByte != fmtTransportCC || d[1] != ptRTPFB {
		return nil, ErrTruncated
	}
	lengthWords := binary.BigEndian.Uint16(d[2:4])
	totalLen := (int(lengthWords) + 1) * 4
	if totalLen > len(d) {
		return nil, ErrTruncated
	}
	d = d[:totalLen]

	fb := &TransportFeedback{
		SenderSSRC: binary.BigEndian.Uint32(d[4:8]),
		MediaSSRC:  binary.BigEndian.Uint32(d[8:12]),
		BaseSeq:    binary.BigEndian.Uint16(d[12:14]),
	}
	statusCount := int(binary.BigEndian.Uint16(d[14:16]))
	refWord := binary.BigEndian.Uint32(d[16:20])
	fb.ReferenceTimeMs = int64(refWord>>8) * 64
	fb.FbPktCount = uint8(refWord & 0xFF)

	offset := 20
	statuses := make([]Status, 0, statusCount)
	for len(statuses) < statusCount {
		if offset+2 > len(d) {
			return nil, ErrTruncated
		}
		word := binary.BigEndian.Uint16(d[offset : offset+2])
		offset += 2
		if word&0x8000 == 0 {
			status := Status((word >> 13) & 0x3)
			runLength := int(word & 0x1FFF)
			for i := 0; i < runLength && len(statuses) < statusCount; i++ {
				statuses = append(statuses, status)
			}
		} else {
			for i := 0; i < 7 && len(statuses) < statusCount; i++ {
				s := Status((word >> uint(12-2*i)) & 0x3)
				statuses = append(statuses, s)
			}
		}
	}

	ticks := make([]int32, statusCount)
	for i, s := range statuses {
		switch s {
		case StatusSmallDelta:
			if offset+1 > len(d) {
				return nil, ErrTruncated
			}
			ticks[i] = int32(d[offset])
			offset++
		case StatusLargeDelta:
			if offset+2 > len(d) {
				return nil, ErrTruncated
			}
			ticks[i] = int32(int16(binary.BigEndian.Uint16(d[offset : offset+2])))
			offset += 2
		}
	}

	fb.Statuses = statuses
	fb.Ticks = ticks
	return fb, nil
}
