// Package ratecalc implements the sliding-window byte/packet rate
// estimator used for inbound/outbound transport byte rates and per-stream
// bitrates.
//
// It is grounded on the teacher's bucket-per-timestamp RateStatistics
// (github.com/gotolive/sfu rtc/bwe/remb/rate_statistics.go) but uses a
// fixed-slot ring buffer instead: N equal-duration slots of
// windowSizeMs/windowItems each, rather than one bucket per millisecond
// seen.
package ratecalc

import "github.com/relaysfu/corertc/logger"

var log = logger.New("ratecalc")

type item struct {
	count        int64
	startTimeMs  int64
	hasStartTime bool
}

// RateCalculator is a fixed-window, fixed-resolution rate estimator over
// the last windowSizeMs milliseconds. GetRate returns bits/s when scale is
// 8000 (bytes-per-ms -> bits-per-second); pass 1000 for bytes/s.
type RateCalculator struct {
	windowSizeMs int64
	itemSizeMs   int64
	scale        float64

	items      []item
	oldestIdx  int
	newestIdx  int
	itemCount  int // number of valid slots in the ring, <= len(items)
	totalCount int64

	hasMemo  bool
	memoNow  int64
	memoRate int64
}

// New returns a RateCalculator with windowSizeMs split into windowItems
// equal slots. scale converts bytes/ms into the desired rate unit
// (8000 for bits/s).
func New(windowSizeMs int64, windowItems int, scale float64) *RateCalculator {
	if windowItems < 1 {
		windowItems = 1
	}
	return &RateCalculator{
		windowSizeMs: windowSizeMs,
		itemSizeMs:   windowSizeMs / int64(windowItems),
		scale:        scale,
		items:        make([]item, windowItems),
	}
}

// Update records size bytes (or packets, callers decide the unit) arriving
// at nowMs. Samples older than the oldest retained slot are dropped
// silently; Update never returns an error.
func (r *RateCalculator) Update(size int64, nowMs int64) {
	if r.itemCount > 0 && nowMs < r.items[r.oldestIdx].startTimeMs {
		return
	}
	r.removeOldItems(nowMs)

	if r.itemCount > 0 {
		newest := &r.items[r.newestIdx]
		if nowMs-newest.startTimeMs < r.itemSizeMs {
			newest.count += size
			r.totalCount += size
			r.hasMemo = false
			return
		}
	}
	r.addNewItem(size, nowMs)
	r.hasMemo = false
}

// GetRate returns round(totalCount*scale/windowSizeMs) after retiring
// slots that fell out of the window as of nowMs. Repeated calls with the
// same nowMs are O(1) via memoization.
func (r *RateCalculator) GetRate(nowMs int64) int64 {
	if r.hasMemo && r.memoNow == nowMs {
		return r.memoRate
	}
	r.removeOldItems(nowMs)
	rate := int64(float64(r.totalCount)*r.scale/float64(r.windowSizeMs) + 0.5)
	r.hasMemo = true
	r.memoNow = nowMs
	r.memoRate = rate
	return rate
}

func (r *RateCalculator) removeOldItems(nowMs int64) {
	if r.itemCount == 0 {
		return
	}
	cutoff := nowMs - r.windowSizeMs
	for r.itemCount > 0 {
		oldest := &r.items[r.oldestIdx]
		if oldest.startTimeMs >= cutoff {
			break
		}
		r.totalCount -= oldest.count
		*oldest = item{}
		r.itemCount--
		if r.itemCount == 0 {
			r.oldestIdx = 0
			r.newestIdx = 0
			r.totalCount = 0
			return
		}
		r.oldestIdx = (r.oldestIdx + 1) % len(r.items)
	}
}

func (r *RateCalculator) addNewItem(size, nowMs int64) {
	if r.itemCount == 0 {
		r.items[0] = item{count: size, startTimeMs: nowMs, hasStartTime: true}
		r.oldestIdx = 0
		r.newestIdx = 0
		r.itemCount = 1
		r.totalCount += size
		return
	}

	next := (r.newestIdx + 1) % len(r.items)
	if r.itemCount == len(r.items) {
		// Ring full: overwrite the oldest slot and advance both ends.
		log.Warn("rate calculator ring full, overwriting oldest slot")
		evicted := r.items[r.oldestIdx]
		r.totalCount -= evicted.count
		r.oldestIdx = (r.oldestIdx + 1) % len(r.items)
	} else {
		r.itemCount++
	}
	r.items[next] = item{count: size, startTimeMs: nowMs, hasStartTime: true}
	r.newestIdx = next
	r.totalCount += size
}
