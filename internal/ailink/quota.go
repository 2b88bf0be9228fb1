package ailink

import (
	"context"
	"time"
)

// QuotaWindow is the fallback consumption counter for one rolling window.
type QuotaWindow struct {
	Count       int           `json:"count"`
	WindowStart time.Time     `json:"window_start"`
	Duration    time.Duration `json:"duration"`
	Limit       int           `json:"limit"`
}

// WindowEnd returns when the current window lapses.
func (w QuotaWindow) WindowEnd() time.Time {
	return w.WindowStart.Add(w.Duration)
}

// Remaining returns how many requests the window still allows.
func (w QuotaWindow) Remaining() int {
	if w.Count >= w.Limit {
		return 0
	}
	return w.Limit - w.Count
}

// QuotaTracker does bookkeeping over a QuotaWindow. It performs no I/O and holds
// no lock; the dispatcher serializes access.
type QuotaTracker struct {
	window QuotaWindow
}

// NewQuotaTracker starts a window at now.
func NewQuotaTracker(limit int, duration time.Duration, now time.Time) *QuotaTracker {
	return &QuotaTracker{window: QuotaWindow{
		WindowStart: now,
		Duration:    duration,
		Limit:       limit,
	}}
}

// ShouldReset reports whether the window has lapsed at now.
func (q *QuotaTracker) ShouldReset(now time.Time) bool {
	return now.After(q.window.WindowEnd())
}

// Reset zeroes the count and starts a new window at now.
func (q *QuotaTracker) Reset(now time.Time) {
	q.window.Count = 0
	q.window.WindowStart = now
}

// RecordUse counts one fallback request.
func (q *QuotaTracker) RecordUse() {
	q.window.Count++
}

// IsExhausted reports whether the limit has been reached.
func (q *QuotaTracker) IsExhausted() bool {
	return q.window.Count >= q.window.Limit
}

// Snapshot returns a copy of the window.
func (q *QuotaTracker) Snapshot() QuotaWindow {
	return q.window
}

// Restore adopts persisted count and start, keeping the configured limit and duration.
func (q *QuotaTracker) Restore(w QuotaWindow) {
	q.window.Count = w.Count
	q.window.WindowStart = w.WindowStart
}

// Reserve applies the lazy reset and counts one use when the window has room.
// It reports false, leaving the count alone, when the limit is reached.
func (q *QuotaTracker) Reserve(now time.Time) (QuotaWindow, bool) {
	if q.ShouldReset(now) {
		q.Reset(now)
	}
	if q.IsExhausted() {
		return q.Snapshot(), false
	}
	q.RecordUse()
	return q.Snapshot(), true
}

// ReserveWindow is Reserve over a stored window; stored may be nil. Stores
// call it inside their own transaction.
func ReserveWindow(stored *QuotaWindow, limit int, duration time.Duration, now time.Time) (QuotaWindow, bool) {
	q := NewQuotaTracker(limit, duration, now)
	if stored != nil {
		q.Restore(*stored)
	}
	return q.Reserve(now)
}

// QuotaStore holds the fallback window shared by every process using it.
// ReserveQuota must be atomic against concurrent callers.
type QuotaStore interface {
	LoadQuota(ctx context.Context, key string) (*QuotaWindow, error)
	ReserveQuota(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (QuotaWindow, bool, error)
}
