package transport

import "github.com/relaysfu/corertc/rtppacket"

// CongestionControlMode selects which bandwidth-estimation path a
// Transport wires up.
type CongestionControlMode string

const (
	CongestionControlNone  CongestionControlMode = ""
	CongestionControlTCC   CongestionControlMode = "tcc"
	CongestionControlREMB  CongestionControlMode = "remb"
)

// Options configures one Transport, per spec.md §6's ambient
// "Configuration" expansion: a plain struct with documented defaults,
// no config-file/env parsing (out of scope per spec.md §1).
type Options struct {
	// ExtensionIDs is the transport's header-extension table, fixed at
	// construction. Producers' own extension ids are not copied into it;
	// if nil, no header extensions are read or written.
	ExtensionIDs rtppacket.ExtensionIDs

	// MaxRtcpPacketLen bounds one compound RTCP datagram; 0 means
	// rtcpcodec.MaxCompoundPacketLen.
	MaxRtcpPacketLen int

	// InitialAvailableOutgoingBitrate seeds the congestion controller
	// and the REMB client's fallback estimate.
	InitialAvailableOutgoingBitrate uint64

	// CongestionControl picks the active bandwidth-estimation path.
	CongestionControl CongestionControlMode

	// PreferPictureLossIndication picks PLI over FIR for key-frame
	// requests issued by this transport's keyframe.Manager.
	PreferPictureLossIndication bool

	// KeyFrameRequestDelayMs coalesces bursts of simultaneous
	// key-frame-needed events into one upstream request (0 disables
	// coalescing).
	KeyFrameRequestDelayMs int64

	// RtcpIntervalMs caps the RTCP compound scheduler's period; 0 means
	// rtppacket.MaxRTCPVideoInterval.
	RtcpIntervalMs int64
}

func (o Options) withDefaults() Options {
	if o.MaxRtcpPacketLen <= 0 {
		o.MaxRtcpPacketLen = 1500
	}
	if o.InitialAvailableOutgoingBitrate == 0 {
		o.InitialAvailableOutgoingBitrate = 600_000
	}
	if o.RtcpIntervalMs <= 0 {
		o.RtcpIntervalMs = rtppacket.MaxRTCPVideoInterval
	}
	return o
}
