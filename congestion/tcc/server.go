// Package tcc implements the transport-wide congestion control server and
// client halves of spec.md §4.4-§4.5, grounded on the teacher's
// TransportCongestionControlServer/Client
// (_examples/original_source/worker/src/RTC/TransportCongestionControl{Server,Client}.cpp),
// generalized from a vendored webrtc RtpTransportControllerSend into the
// congestion.Controller seam this module defines.
package tcc

import (
	"github.com/relaysfu/corertc/clock"
	"github.com/relaysfu/corertc/logger"
	"github.com/relaysfu/corertc/rtcpcodec"
)

var log = logger.New("tcc")

const feedbackSendIntervalMs = 100

// ServerListener receives finished transport-wide feedback packets for
// the transport to wrap in a compound packet and send.
type ServerListener interface {
	OnTransportCongestionControlServerSendFeedback(fb *rtcpcodec.TransportFeedbackBuilder)
}

// Server accumulates inbound RTP packet arrival times tagged with the
// transport-wide-cc extension and emits periodic RFC 8888-style feedback
// (spec.md §4.4).
type Server struct {
	listener        ServerListener
	maxRtcpPacketLen int
	senderSSRC      uint32
	mediaSSRC       uint32

	feedbackPacketCount uint8
	feedback            *rtcpcodec.TransportFeedbackBuilder

	timer clock.Handle
	sched clock.Scheduler
}

// NewServer returns a Server that builds feedback packets no longer than
// maxRtcpPacketLen bytes. senderSSRC/mediaSSRC are stamped into every
// feedback packet's fixed header.
func NewServer(sched clock.Scheduler, listener ServerListener, senderSSRC, mediaSSRC uint32, maxRtcpPacketLen int) *Server {
	if maxRtcpPacketLen <= 0 {
		maxRtcpPacketLen = rtcpcodec.MaxCompoundPacketLen
	}
	s := &Server{
		sched:            sched,
		listener:         listener,
		senderSSRC:       senderSSRC,
		mediaSSRC:        mediaSSRC,
		maxRtcpPacketLen: maxRtcpPacketLen,
	}
	s.feedback = rtcpcodec.NewTransportFeedbackBuilder(senderSSRC, mediaSSRC, s.feedbackPacketCount)
	return s
}

// TransportConnected starts the 100ms feedback-send timer (spec.md §4.4).
func (s *Server) TransportConnected() {
	if s.timer != 0 {
		return
	}
	s.timer = s.sched.EveryFunc(feedbackSendIntervalMs, s.SendFeedback)
}

// TransportDisconnected stops the feedback-send timer.
func (s *Server) TransportDisconnected() {
	if s.timer == 0 {
		return
	}
	s.sched.Stop(s.timer)
	s.timer = 0
}

// IncomingPacket reports that wideSeq arrived at arrivalMs. On an
// AddPacket failure (size or range overflow) the current feedback is sent
// immediately and the packet is retried against a fresh one, per
// spec.md §4.4's "Packet addition algorithm" wrapper.
func (s *Server) IncomingPacket(arrivalMs int64, wideSeq uint16) {
	if !s.feedback.AddPacket(wideSeq, arrivalMs, s.maxRtcpPacketLen) {
		s.SendFeedback()
		s.feedback.AddPacket(wideSeq, arrivalMs, s.maxRtcpPacketLen)
	}
	if s.feedback.IsFull(s.maxRtcpPacketLen) {
		s.SendFeedback()
	}
}

// SendFeedback hands the current feedback builder to the listener (if it
// has a committed base) for serialization, then allocates a fresh one carrying the last
// reported packet forward as its pre-base, preserving continuity across
// packet boundaries (spec.md §4.4).
func (s *Server) SendFeedback() {
	if s.feedback.Empty() {
		return
	}
	s.listener.OnTransportCongestionControlServerSendFeedback(s.feedback)

	lastSeq, lastTs, ok := s.feedback.Last()
	s.feedbackPacketCount++
	s.feedback = rtcpcodec.NewTransportFeedbackBuilder(s.senderSSRC, s.mediaSSRC, s.feedbackPacketCount)
	if ok {
		s.feedback.AddPacket(lastSeq, lastTs, s.maxRtcpPacketLen)
	}
}
