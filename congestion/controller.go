// Package congestion defines the pluggable bandwidth-estimator seam the
// TCC client drives (spec.md §6.4). The Google Congestion Control
// estimator itself is out of scope (spec.md §1); this package only names
// the contract a concrete estimator (congestion/gcc) or a vendored bridge
// implements, mirroring the teacher's listener-interface style of
// replacing C++ multiple inheritance with a single capability contract
// per direction (spec.md §9 "Listener cycles").
package congestion

// ReportBlock is the subset of an RTCP receiver report the controller
// needs, carried in from Transport without pulling pion/rtcp into this
// package's API.
type ReportBlock struct {
	SSRC             uint32
	FractionLost     uint8
	PacketsLost      uint32
	LastSeq          uint32
	Jitter           uint32
}

// PacketSendInfo describes one packet as it is handed to the pacer,
// mirroring webrtc::RtpPacketSendInfo in the teacher's vendored stack.
type PacketSendInfo struct {
	SSRC               uint32
	WideSeq            uint16
	RTPSeq             uint16
	Length             int
	PacingInfo         PacingInfo
}

// PacingInfo is the pacer's per-send bookkeeping handed back to the
// listener alongside each released packet.
type PacingInfo struct {
	ProbeClusterID int
}

// TargetTransferRate is the controller's one output: a recommended
// send-side bitrate, plus enough context for the client to log/debug it.
type TargetTransferRate struct {
	AtTimeMs  int64
	TargetBps uint64
}

// Controller is the interface a pluggable bandwidth estimator exposes to
// the TCC client, per spec.md §6.4.
type Controller interface {
	OnNetworkAvailability(available bool)
	OnAddPacket(info PacketSendInfo)
	OnSentPacket(wideSeq uint16, sendTimeMs int64, length int)
	OnTransportFeedback(fb *TransportFeedback)
	OnReceivedRtcpReceiverReport(reports []ReportBlock, rttMs int64, nowMs int64)
	OnReceivedEstimatedBitrate(bps uint64)
	SetAllocatedSendBitrateLimits(minBps, maxPaddingBps, maxTotalBps uint64)
	RegisterTargetTransferRateObserver(cb func(TargetTransferRate))
	Pacer() Pacer
}

// TransportFeedback is the parsed transport-wide feedback the controller
// consumes; rtcpcodec.TransportFeedback satisfies the fields this package
// needs without importing rtcpcodec (kept as a plain struct to avoid an
// import cycle between congestion and congestion/tcc).
type TransportFeedback struct {
	BaseSeq         uint16
	ReferenceTimeMs int64
	PacketResults   []PacketResult
}

// PacketResult is one reported packet's outcome within a TransportFeedback.
type PacketResult struct {
	WideSeq    uint16
	Received   bool
	ArrivalMs  int64
}

// Pacer releases queued outbound packets on a schedule that respects a
// bitrate budget, per spec.md §6.4.
type Pacer interface {
	InsertPacket(bytes int)
	Process()
	TimeUntilNextProcess() int64
	GetPacingInfo() PacingInfo
}

// BudgetPacer is an optional capability a concrete Pacer may implement:
// how many bytes the current bitrate estimate allows to be released over
// the next tick. congestion/tcc's own packet queue consults this (falling
// back to a conservative default when absent) to decide how many queued
// packets to release per Process call — the raw Pacer contract above has
// no such accessor, since spec.md §6.4 only documents it as an opaque
// scheduling object from the controller's point of view.
type BudgetPacer interface {
	Pacer
	BudgetBytes() int
}
