package clock

import (
	"sort"
	"sync"
	"time"
)

// Handle identifies a scheduled timer. Handles are never reused.
type Handle uint64

// Scheduler owns one-shot and periodic timers keyed by Handle and fires
// their callbacks without the caller ever touching a loop singleton. A
// RealScheduler fires on wall-clock goroutines; a ManualScheduler only fires
// when explicitly advanced, for deterministic tests.
type Scheduler interface {
	Now() int64
	AfterFunc(ms int64, fn func()) Handle
	EveryFunc(ms int64, fn func()) Handle
	Stop(h Handle)
}

// NewReal returns a wall-clock Scheduler.
func NewReal() *RealScheduler {
	return &RealScheduler{timers: map[Handle]*time.Timer{}, tickers: map[Handle]*time.Ticker{}}
}

// RealScheduler dispatches callbacks from their own goroutine per timer,
// same as time.AfterFunc/time.Ticker. Callers that touch shared state from
// a callback are responsible for their own synchronization.
type RealScheduler struct {
	m       sync.Mutex
	next    Handle
	timers  map[Handle]*time.Timer
	tickers map[Handle]*time.Ticker
}

func (s *RealScheduler) Now() int64 { return time.Now().UnixMilli() }

func (s *RealScheduler) AfterFunc(ms int64, fn func()) Handle {
	s.m.Lock()
	s.next++
	h := s.next
	s.m.Unlock()
	t := time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		s.m.Lock()
		_, live := s.timers[h]
		s.m.Unlock()
		if live {
			fn()
		}
	})
	s.m.Lock()
	s.timers[h] = t
	s.m.Unlock()
	return h
}

func (s *RealScheduler) EveryFunc(ms int64, fn func()) Handle {
	s.m.Lock()
	s.next++
	h := s.next
	t := time.NewTicker(time.Duration(ms) * time.Millisecond)
	s.tickers[h] = t
	s.m.Unlock()
	go func() {
		for range t.C {
			fn()
		}
	}()
	return h
}

func (s *RealScheduler) Stop(h Handle) {
	s.m.Lock()
	defer s.m.Unlock()
	if t, ok := s.timers[h]; ok {
		t.Stop()
		delete(s.timers, h)
	}
	if t, ok := s.tickers[h]; ok {
		t.Stop()
		delete(s.tickers, h)
	}
}

// NewManual returns a Scheduler that only fires when Advance is called,
// for deterministic unit tests of timer-driven components.
func NewManual(startMs int64) *ManualScheduler {
	return &ManualScheduler{clock: NewVirtual(startMs)}
}

type manualEntry struct {
	handle   Handle
	fireAtMs int64
	periodMs int64 // 0 for one-shot
	fn       func()
	stopped  bool
}

// ManualScheduler is a Scheduler driven entirely by Advance; nothing fires
// on a background goroutine.
type ManualScheduler struct {
	m       sync.Mutex
	clock   *Virtual
	next    Handle
	entries []*manualEntry
}

func (s *ManualScheduler) Now() int64 { return s.clock.NowMs() }

func (s *ManualScheduler) AfterFunc(ms int64, fn func()) Handle {
	return s.schedule(ms, 0, fn)
}

func (s *ManualScheduler) EveryFunc(ms int64, fn func()) Handle {
	return s.schedule(ms, ms, fn)
}

func (s *ManualScheduler) schedule(ms, periodMs int64, fn func()) Handle {
	s.m.Lock()
	defer s.m.Unlock()
	s.next++
	h := s.next
	s.entries = append(s.entries, &manualEntry{
		handle:   h,
		fireAtMs: s.clock.NowMs() + ms,
		periodMs: periodMs,
		fn:       fn,
	})
	return h
}

func (s *ManualScheduler) Stop(h Handle) {
	s.m.Lock()
	defer s.m.Unlock()
	for _, e := range s.entries {
		if e.handle == h {
			e.stopped = true
		}
	}
}

// Advance moves the virtual clock forward by ms and fires every timer whose
// deadline falls within the new window, in deadline order. Periodic timers
// are rescheduled from their previous deadline, not from "now", so a slow
// test that advances in one big jump still fires the right number of ticks.
func (s *ManualScheduler) Advance(ms int64) {
	target := s.clock.NowMs() + ms
	for {
		s.m.Lock()
		due := s.nextDue(target)
		if due == nil {
			s.clock.Set(target)
			s.m.Unlock()
			return
		}
		s.clock.Set(due.fireAtMs)
		fn := due.fn
		if due.periodMs > 0 && !due.stopped {
			due.fireAtMs += due.periodMs
		} else {
			due.stopped = true
		}
		s.compact()
		s.m.Unlock()
		fn()
	}
}

func (s *ManualScheduler) nextDue(target int64) *manualEntry {
	var best *manualEntry
	for _, e := range s.entries {
		if e.stopped {
			continue
		}
		if e.fireAtMs > target {
			continue
		}
		if best == nil || e.fireAtMs < best.fireAtMs {
			best = e
		}
	}
	return best
}

func (s *ManualScheduler) compact() {
	live := s.entries[:0]
	for _, e := range s.entries {
		if !e.stopped {
			live = append(live, e)
		}
	}
	s.entries = live
	sort.Slice(s.entries, func(i, j int) bool { return s.entries[i].fireAtMs < s.entries[j].fireAtMs })
}
