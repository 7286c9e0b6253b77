// Package clock provides the monotonic millisecond clock and the
// handle-based timer scheduler the worker thread drives everything from.
//
// Timers are modeled as values owned by a Scheduler and keyed by a handle,
// per the "timer fan-out" design note: no thread-local loop singleton, the
// scheduler is passed in so tests can drive a virtual clock instead of wall
// time.
package clock

import "time"

// Clock returns the current time in milliseconds. Real and virtual
// implementations share this interface so control-loop code never calls
// time.Now directly.
type Clock interface {
	NowMs() int64
}

// Real is the wall-clock Clock used in production.
type Real struct{}

func (Real) NowMs() int64 { return time.Now().UnixMilli() }

// Virtual is a manually-advanced Clock for deterministic tests.
type Virtual struct {
	nowMs int64
}

func NewVirtual(startMs int64) *Virtual {
	return &Virtual{nowMs: startMs}
}

func (v *Virtual) NowMs() int64 { return v.nowMs }

func (v *Virtual) Advance(ms int64) { v.nowMs += ms }

func (v *Virtual) Set(ms int64) { v.nowMs = ms }
