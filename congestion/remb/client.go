// Package remb implements the legacy REMB congestion-control path
// (spec.md §4.6), grounded on the teacher's RembClient
// (_examples/original_source/worker/src/RTC/RembClient.cpp) for the
// client half and the teacher's rtc/bwe/remb receiver for the server
// half's arrival-accounting shape.
package remb

import (
	"github.com/relaysfu/corertc/clock"
	"github.com/relaysfu/corertc/ratecalc"
)

const (
	eventIntervalMs    = 2000
	maxEventIntervalMs = 5000
)

// ClientListener receives the two REMB client outputs, per spec.md §4.6.
type ClientListener interface {
	OnRembClientRemainingBitrate(availableBps uint64)
	OnRembClientExceedingBitrate(exceedingBps uint64)
}

// Client tracks available outgoing bitrate from periodic REMB feedback,
// falling back to initialAvailableBitrate when feedback goes stale.
type Client struct {
	listener ClientListener
	clock    clock.Clock

	initialAvailableBitrate uint64
	availableBitrate        uint64
	rembBitrate             uint64
	lastEventAtMs           int64

	usedBps *ratecalc.RateCalculator
}

// NewClient seeds availableBitrate from initialAvailableBitrateBps.
func NewClient(c clock.Clock, listener ClientListener, initialAvailableBitrateBps uint64) *Client {
	return &Client{
		listener:                listener,
		clock:                   c,
		initialAvailableBitrate: initialAvailableBitrateBps,
		availableBitrate:        initialAvailableBitrateBps,
		lastEventAtMs:           c.NowMs(),
		usedBps:                 ratecalc.New(1000, 10, 8000),
	}
}

// ReceiveRtpPacket feeds the transmission counter REMB's used-bitrate
// calculation needs, mirroring RembClient::ReceiveRtpPacket's
// transmissionCounter.Update.
func (c *Client) ReceiveRtpPacket(sizeBytes int, nowMs int64) {
	c.usedBps.Update(int64(sizeBytes), nowMs)
}

// ReceiveRembFeedback applies one REMB value, per spec.md §4.6's
// fast-down/trend dispatch.
func (c *Client) ReceiveRembFeedback(rembBps uint64) {
	now := c.clock.NowMs()

	if !c.checkStatus(now) {
		c.lastEventAtMs = now - eventIntervalMs/2
		return
	}
	if now-c.lastEventAtMs < eventIntervalMs {
		return
	}
	c.lastEventAtMs = now

	previous := c.rembBitrate
	c.rembBitrate = rembBps
	trend := int64(c.rembBitrate) - int64(previous)
	used := uint64(c.usedBps.GetRate(now))

	c.availableBitrate = c.rembBitrate
	if c.rembBitrate < c.initialAvailableBitrate && trend > 0 {
		c.availableBitrate = c.initialAvailableBitrate
	}

	switch {
	case c.availableBitrate >= used:
		c.listener.OnRembClientRemainingBitrate(c.availableBitrate - used)
	case trend > 0:
		if c.rembBitrate > c.initialAvailableBitrate {
			remaining := uint64(trend)
			c.availableBitrate += remaining
			c.listener.OnRembClientRemainingBitrate(remaining)
		}
	default:
		c.listener.OnRembClientExceedingBitrate(used - c.availableBitrate)
	}
}

// GetAvailableBitrate returns the current estimate, snapping back to
// initialAvailableBitrate if no REMB has arrived within maxEventIntervalMs.
func (c *Client) GetAvailableBitrate() uint64 {
	c.checkStatus(c.clock.NowMs())
	return c.availableBitrate
}

func (c *Client) checkStatus(now int64) bool {
	if now-c.lastEventAtMs < maxEventIntervalMs {
		return true
	}
	c.availableBitrate = c.initialAvailableBitrate
	c.rembBitrate = 0
	return false
}
