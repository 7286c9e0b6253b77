// Package keyframe de-duplicates and retries key-frame requests, adapted
// from the teacher's keyframeManager (rtc/peer/keyframe_manager.go):
// a pending PLI/FIR request is retried once per second until the key
// frame arrives or a bounded retry count is exhausted, and an optional
// short delay coalesces simultaneous keyframe-needed events (e.g. many
// new consumers joining at once) into one upstream request. Runs
// synchronously off clock.Scheduler rather than the teacher's
// goroutine-per-ssrc loop (spec.md §5).
package keyframe

import "github.com/relaysfu/corertc/clock"

const (
	waitTimeoutMs = 1000
	maxRetries    = 1
)

// Manager tracks one pending/delayed key-frame request per SSRC and
// invokes request when one is needed.
type Manager struct {
	sched     clock.Scheduler
	delayMs   int64
	request   func(ssrc uint32)
	pending   map[uint32]*pendingRequest
	delaying  map[uint32]clock.Handle
}

type pendingRequest struct {
	retries int
	timer   clock.Handle
}

// New returns a Manager that calls request(ssrc) whenever a key frame is
// needed. delayMs > 0 coalesces bursts of KeyFrameNeeded calls for the
// same SSRC within that window into one request.
func New(sched clock.Scheduler, delayMs int64, request func(ssrc uint32)) *Manager {
	return &Manager{
		sched:    sched,
		delayMs:  delayMs,
		request:  request,
		pending:  map[uint32]*pendingRequest{},
		delaying: map[uint32]clock.Handle{},
	}
}

// KeyFrameNeeded records that ssrc needs a key frame. With no coalescing
// delay, a call while a request is already pending bumps the retry budget
// instead of sending a duplicate request immediately; with a delay, a call
// while a request is delaying or pending is dropped.
func (m *Manager) KeyFrameNeeded(ssrc uint32) {
	if m.delayMs > 0 {
		if _, delaying := m.delaying[ssrc]; delaying {
			return
		}
		if _, pending := m.pending[ssrc]; pending {
			return
		}
		m.delaying[ssrc] = m.sched.AfterFunc(m.delayMs, func() {
			delete(m.delaying, ssrc)
			m.need(ssrc)
		})
		return
	}
	m.need(ssrc)
}

func (m *Manager) need(ssrc uint32) {
	if h, ok := m.delaying[ssrc]; ok {
		m.sched.Stop(h)
		delete(m.delaying, ssrc)
	}
	if p, ok := m.pending[ssrc]; ok {
		p.retries++
		return
	}
	m.pending[ssrc] = &pendingRequest{retries: maxRetries}
	m.arm(ssrc)
	m.request(ssrc)
}

func (m *Manager) arm(ssrc uint32) {
	p := m.pending[ssrc]
	p.timer = m.sched.AfterFunc(waitTimeoutMs, func() { m.onTimeout(ssrc) })
}

func (m *Manager) onTimeout(ssrc uint32) {
	p, ok := m.pending[ssrc]
	if !ok {
		return
	}
	p.retries--
	if p.retries < 0 {
		delete(m.pending, ssrc)
		return
	}
	m.request(ssrc)
	m.arm(ssrc)
}

// KeyFrameReceived cancels any pending/delayed request for ssrc.
func (m *Manager) KeyFrameReceived(ssrc uint32) {
	if h, ok := m.delaying[ssrc]; ok {
		m.sched.Stop(h)
		delete(m.delaying, ssrc)
	}
	if p, ok := m.pending[ssrc]; ok {
		m.sched.Stop(p.timer)
		delete(m.pending, ssrc)
	}
}

// Close cancels every outstanding timer, for use when the owning
// producer/transport is destroyed (spec.md §5 "Cancellation").
func (m *Manager) Close() {
	for ssrc := range m.delaying {
		m.KeyFrameReceived(ssrc)
	}
	for ssrc := range m.pending {
		m.KeyFrameReceived(ssrc)
	}
}
