package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(maxRequests int, window time.Duration) (*SlidingWindow, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := NewSlidingWindow(maxRequests, window)
	l.now = clock.now
	return l, clock
}

func TestAllow_WithinLimit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Second)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	assert.Equal(t, 3, l.Len())
}

func TestAllow_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(2, time.Second)

	assert.True(t, l.Allow())
	clock.advance(600 * time.Millisecond)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	// First admission falls out of the window; one slot frees up.
	clock.advance(500 * time.Millisecond)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestAllow_FullWindowExpiry(t *testing.T) {
	l, clock := newTestLimiter(5, time.Second)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow())
	}
	assert.False(t, l.Allow())

	clock.advance(time.Second + time.Millisecond)
	assert.Equal(t, 0, l.Len())
	assert.True(t, l.Allow())
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	l.Reset()
	assert.True(t, l.Allow())
}

func TestAllow_Concurrent(t *testing.T) {
	l := NewSlidingWindow(50, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, admitted)
}
