// Package ratewindow coalesces high-frequency per-category signals
// (TRANSFER_INFO progress, ConditionTree re-evaluation) down to a
// minimum emission interval, so a saturated byte stream or a flapping
// sensor can't flood the event queue or the telemetry body (spec §4.4,
// §4.6).
//
// The category/next-allowed bookkeeping is grounded on the retrieval
// pack's catrate.Limiter, reduced to a single fixed window per category
// rather than a map of windows: catrate's multi-duration sliding window
// and ring-buffer event history solve request-rate limiting, which
// needs an accurate event count; coalescing only needs "has at least
// minInterval elapsed since the last emission for this category", so
// the ring buffer and its cleanup worker are dropped in favor of one
// timestamp per category.
package ratewindow

import (
	"sync"
	"time"
)

// Window coalesces emissions per category to at most one per
// minInterval. The zero value is not usable; use New.
type Window struct {
	minInterval time.Duration
	mu          sync.Mutex
	last        map[string]time.Time
	now         func() time.Time
}

// New creates a Window that allows at most one emission per category
// every minInterval.
func New(minInterval time.Duration) *Window {
	return &Window{
		minInterval: minInterval,
		last:        make(map[string]time.Time),
		now:         time.Now,
	}
}

// Allow reports whether an emission for category is due now: either no
// prior emission was recorded, or at least minInterval has elapsed
// since the last one. A true result implicitly records the emission at
// the current time, same as catrate.Limiter.Allow's reservation
// semantics.
func (w *Window) Allow(category string) bool {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if last, ok := w.last[category]; ok && now.Sub(last) < w.minInterval {
		return false
	}
	w.last[category] = now
	return true
}

// Reset clears the recorded last-emission time for category, so the
// next Allow call always succeeds. Used when a category's state
// changes in a way that should bypass coalescing (e.g. a transfer
// finishing, which always emits TRANSFER_FINISHED regardless of the
// TRANSFER_INFO cadence).
func (w *Window) Reset(category string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.last, category)
}
