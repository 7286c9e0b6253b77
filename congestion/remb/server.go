package remb

import (
	"github.com/relaysfu/corertc/clock"
	"github.com/relaysfu/corertc/congestion"
)

// ServerListener receives the periodic REMB value the server estimates
// for inbound traffic.
type ServerListener interface {
	OnRembServerSendReceiverEstimatedMaxBitrate(bps uint64)
}

const rembSendIntervalMs = 1000

// Server estimates available incoming bandwidth from arriving RTP and
// emits a REMB value each time the controller reports a new target rate,
// per spec.md §4.6's expansion: a thin adapter over the same pluggable
// congestion.Controller the TCC path drives, so the actual estimation math
// stays behind one seam. It does not emit REMB on a timer of its own.
type Server struct {
	listener   ServerListener
	controller congestion.Controller
	sched      clock.Scheduler
	timer      clock.Handle
}

// NewServer wires listener/controller and registers for the controller's
// target-transfer-rate callback, which this adapter inverts into
// "received estimated bitrate" REMB semantics (we are estimating, not
// reacting to, the incoming rate).
func NewServer(sched clock.Scheduler, listener ServerListener, controller congestion.Controller) *Server {
	s := &Server{listener: listener, controller: controller, sched: sched}
	controller.RegisterTargetTransferRateObserver(func(rate congestion.TargetTransferRate) {
		s.listener.OnRembServerSendReceiverEstimatedMaxBitrate(rate.TargetBps)
	})
	return s
}

// IncomingPacket reports a received RTP packet's arrival to the underlying
// controller as a one-packet transport feedback, the same feed the TCC
// server's accounting gets for outbound-facing feedback. ssrc and
// sizeBytes are not forwarded.
func (s *Server) IncomingPacket(ssrc uint32, wideSeq uint16, sizeBytes int, arrivalMs int64) {
	s.controller.OnTransportFeedback(&congestion.TransportFeedback{
		BaseSeq:         wideSeq,
		ReferenceTimeMs: arrivalMs,
		PacketResults:   []congestion.PacketResult{{WideSeq: wideSeq, Received: true, ArrivalMs: arrivalMs}},
	})
}

// TransportConnected/TransportDisconnected start/stop a periodic timer that
// re-signals network availability to the controller every
// rembSendIntervalMs. The timer itself sends no REMB.
func (s *Server) TransportConnected() {
	if s.timer != 0 {
		return
	}
	s.timer = s.sched.EveryFunc(rembSendIntervalMs, func() {
		s.controller.OnNetworkAvailability(true)
	})
}

func (s *Server) TransportDisconnected() {
	if s.timer == 0 {
		return
	}
	s.sched.Stop(s.timer)
	s.timer = 0
}
