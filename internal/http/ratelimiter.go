package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most limit calls in any window. A zero window or
// limit admits everything.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu       sync.Mutex
	accepted []time.Time
}

// NewSlidingWindowLimiter constructs a limiter allowing up to limit calls per window.
func NewSlidingWindowLimiter(window time.Duration, limit int, clock func() time.Time) *SlidingWindowLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &SlidingWindowLimiter{window: window, limit: limit, now: clock}
}

// Allow records the call and reports whether it fits the window.
func (l *SlidingWindowLimiter) Allow() bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.expireLocked(now)
	if len(l.accepted) >= l.limit {
		return false
	}
	l.accepted = append(l.accepted, now)
	return true
}

// RetryAfter reports how long until the next call would be admitted.
func (l *SlidingWindowLimiter) RetryAfter() time.Duration {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.expireLocked(now)
	if len(l.accepted) < l.limit {
		return 0
	}
	return l.accepted[0].Add(l.window).Sub(now)
}

// expireLocked drops calls that left the window; accepted is kept oldest first.
func (l *SlidingWindowLimiter) expireLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	drop := 0
	for drop < len(l.accepted) && !l.accepted[drop].After(cutoff) {
		drop++
	}
	l.accepted = l.accepted[drop:]
}
