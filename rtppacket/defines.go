// Package rtppacket provides a parsed, non-owning view over an RTP
// datagram, wrapping github.com/pion/rtp the way the teacher's rtc.Packet
// wraps it, plus the RFC 3550/8285 header-extension id table used to read
// the recognised extension URIs listed in the spec's wire interfaces.
package rtppacket

import (
	"errors"
	"math"
)

const SeqNumberMaxValue = math.MaxUint16

// Max RTCP report interval, per media type.
const (
	MaxRTCPAudioInterval = 5000
	MaxRTCPVideoInterval = 1000
)

const (
	MediaTypeAudio = "audio"
	MediaTypeVideo = "video"
)

var ErrUnknownMediaType = errors.New("rtppacket: unknown media type, only audio/video supported")

// PayloadType is the RTP payload type field (7 bits on the wire).
type PayloadType uint8

// RTPProbationSSRC is the fixed sentinel SSRC the probation generator uses,
// so routing code can recognise and special-case probation/padding traffic.
const RTPProbationSSRC uint32 = 1234
