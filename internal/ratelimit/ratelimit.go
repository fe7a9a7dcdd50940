// Package ratelimit provides sliding-window admission control for outbound
// sends. Unlike a token bucket, the window is exact: at most maxRequests
// admissions in any rolling window, with rejections visible to the caller
// synchronously.
package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow admits at most maxRequests calls per rolling window.
// Safe for concurrent use.
type SlidingWindow struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	stamps      []time.Time

	now func() time.Time // overridable in tests
}

// NewSlidingWindow creates a limiter admitting maxRequests per window.
func NewSlidingWindow(maxRequests int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		maxRequests: maxRequests,
		window:      window,
		stamps:      make([]time.Time, 0, maxRequests),
		now:         time.Now,
	}
}

// Allow is the sole mutating read: it prunes expired timestamps, then
// either records the request and admits it, or rejects it.
func (l *SlidingWindow) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.stamps) >= l.maxRequests {
		return false
	}

	l.stamps = append(l.stamps, now)
	return true
}

// Len returns the number of admissions currently inside the window.
func (l *SlidingWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}

// Reset forgets all recorded admissions.
func (l *SlidingWindow) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stamps = l.stamps[:0]
}

func (l *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}
