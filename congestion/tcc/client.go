package tcc

import (
	"github.com/relaysfu/corertc/clock"
	"github.com/relaysfu/corertc/congestion"
	"github.com/relaysfu/corertc/probation"
	"github.com/relaysfu/corertc/rtcpcodec"
	"github.com/relaysfu/corertc/rtppacket"
)

const availableBitrateEventIntervalMs = 2000

// ClientListener receives the client's two outputs: a paced RTP packet to
// transmit, and a "the available bitrate changed enough to act on"
// notification (spec.md §4.5).
type ClientListener interface {
	OnTransportCongestionControlClientSendRtpPacket(packet *rtppacket.View, pacingInfo congestion.PacingInfo)
	OnTransportCongestionControlClientAvailableBitrate(availableBps, previousBps uint64)
}

// Client drives a pluggable congestion.Controller with packet-send/feedback
// inputs and paces outbound packets through its own queue, per
// spec.md §4.5.
type Client struct {
	listener   ClientListener
	controller congestion.Controller
	sched      clock.Scheduler
	pacer      *Pacer

	availableBitrate     uint64
	lastNotifyMs         int64
	hasNotified          bool
	firstEventSuppressed bool

	timer clock.Handle
}

// NewClient wires listener/controller together and primes the pacer's
// one-shot timer. The caller supplies each outbound packet's
// transport-wide sequence number to EnqueuePacket.
func NewClient(sched clock.Scheduler, listener ClientListener, controller congestion.Controller, probationGen *probation.Generator) *Client {
	c := &Client{
		listener:   listener,
		controller: controller,
		sched:      sched,
	}
	c.pacer = newPacer(controller.Pacer(), probationGen, func(p *rtppacket.View, pi congestion.PacingInfo) {
		listener.OnTransportCongestionControlClientSendRtpPacket(p, pi)
	})
	controller.RegisterTargetTransferRateObserver(c.onTargetTransferRate)
	c.rearm()
	return c
}

// EnqueuePacket hands a consumer/producer RTP packet to the pacer for
// rate-limited release, and informs the controller it was admitted
// (spec.md §4.5 "OnAddPacket on pacer send").
func (c *Client) EnqueuePacket(packet *rtppacket.View, ssrc uint32, wideSeq uint16) {
	c.controller.OnAddPacket(congestion.PacketSendInfo{
		SSRC:    ssrc,
		WideSeq: wideSeq,
		RTPSeq:  packet.SequenceNumber(),
		Length:  packet.Size(),
	})
	c.pacer.Enqueue(packet)
}

// OnSentPacket reports the wall-clock send time of a packet already
// handed to the network, so the controller can reconcile it against a
// later transport feedback report.
func (c *Client) OnSentPacket(wideSeq uint16, sendTimeMs int64, length int) {
	c.controller.OnSentPacket(wideSeq, sendTimeMs, length)
}

// ReceiveRtcpTransportFeedback feeds a parsed transport-wide feedback
// packet into the controller.
func (c *Client) ReceiveRtcpTransportFeedback(fb *rtcpcodec.TransportFeedback) {
	c.controller.OnTransportFeedback(toControllerFeedback(fb))
}

// ReceiveRtcpReceiverReport feeds one consumer's RR block into the
// controller.
func (c *Client) ReceiveRtcpReceiverReport(block congestion.ReportBlock, rttMs, nowMs int64) {
	c.controller.OnReceivedRtcpReceiverReport([]congestion.ReportBlock{block}, rttMs, nowMs)
}

// ReceiveEstimatedBitrate feeds a legacy REMB value into the controller.
func (c *Client) ReceiveEstimatedBitrate(bps uint64) {
	c.controller.OnReceivedEstimatedBitrate(bps)
}

// SetDesiredBitrates forwards into the controller's allocated-send-bitrate
// limits setter (spec.md §4.5).
func (c *Client) SetDesiredBitrates(minBps, maxPaddingBps, maxTotalBps uint64) {
	c.controller.SetAllocatedSendBitrateLimits(minBps, maxPaddingBps, maxTotalBps)
}

// TransportConnected/TransportDisconnected toggle the controller's network
// availability signal.
func (c *Client) TransportConnected()    { c.controller.OnNetworkAvailability(true) }
func (c *Client) TransportDisconnected() { c.controller.OnNetworkAvailability(false) }

func (c *Client) AvailableBitrate() uint64 { return c.availableBitrate }

func (c *Client) rearm() {
	delay := c.controller.Pacer().TimeUntilNextProcess()
	if delay < 1 {
		delay = 1
	}
	c.timer = c.sched.AfterFunc(delay, c.process)
}

func (c *Client) process() {
	c.pacer.Process()
	c.rearm()
}

// onTargetTransferRate implements spec.md §4.5's notification gate:
// suppress the very first event (controller bootstrap), otherwise notify
// if AvailableBitrateEventInterval elapsed or the new value fell below
// 75% of the previous one.
func (c *Client) onTargetTransferRate(rate congestion.TargetTransferRate) {
	previous := c.availableBitrate
	c.availableBitrate = rate.TargetBps

	if !c.hasNotified {
		c.hasNotified = true
		c.lastNotifyMs = rate.AtTimeMs
		return
	}

	notify := rate.AtTimeMs-c.lastNotifyMs >= availableBitrateEventIntervalMs
	if !notify && previous > 0 && float64(c.availableBitrate) < float64(previous)*0.75 {
		notify = true
	}
	if notify {
		c.lastNotifyMs = rate.AtTimeMs
		c.listener.OnTransportCongestionControlClientAvailableBitrate(c.availableBitrate, previous)
	}
}

func toControllerFeedback(fb *rtcpcodec.TransportFeedback) *congestion.TransportFeedback {
	if fb == nil {
		return nil
	}
	out := &congestion.TransportFeedback{
		BaseSeq:         fb.BaseSeq,
		ReferenceTimeMs: fb.ReferenceTimeMs,
		PacketResults:   make([]congestion.PacketResult, len(fb.Statuses)),
	}
	seq := fb.BaseSeq
	arrival := fb.ReferenceTimeMs
	for i, st := range fb.Statuses {
		if st == rtcpcodec.StatusNotReceived {
			out.PacketResults[i] = congestion.PacketResult{WideSeq: seq, Received: false}
		} else {
			arrival += int64(fb.Ticks[i]) / 4
			out.PacketResults[i] = congestion.PacketResult{WideSeq: seq, Received: true, ArrivalMs: arrival}
		}
		seq++
	}
	return out
}
