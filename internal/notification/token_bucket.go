package notification

import (
	"sync"
	"time"
)

// Default token bucket settings: a burst of five notifications, then one every 20 seconds.
const (
	DefaultCapacity = 5.0
	DefaultRate     = 1.0 / 20.0
)

// TokenBucket throttles outbound notifications.
// Tokens refill continuously at rate per second and never exceed capacity.
type TokenBucket struct {
	capacity   float64
	rate       float64
	tokens     float64
	lastRefill time.Time
	clock      func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a full bucket. Non-positive values fall back to the defaults.
func NewTokenBucket(capacity, rate float64) *TokenBucket {
	return newTokenBucketWithClock(capacity, rate, time.Now)
}

func newTokenBucketWithClock(capacity, rate float64, clock func() time.Time) *TokenBucket {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if rate <= 0 {
		rate = DefaultRate
	}
	return &TokenBucket{
		capacity:   capacity,
		rate:       rate,
		tokens:     capacity,
		lastRefill: clock(),
		clock:      clock,
	}
}

// Consume takes n tokens if they are available and reports whether it did.
// A request for more than capacity never succeeds.
func (tb *TokenBucket) Consume(n float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if n < 0 || n > tb.tokens {
		return false
	}
	tb.tokens -= n
	return true
}

// Tokens returns the current token count after refilling.
func (tb *TokenBucket) Tokens() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	return tb.tokens
}

// Capacity returns the bucket capacity.
func (tb *TokenBucket) Capacity() float64 {
	return tb.capacity
}

func (tb *TokenBucket) refillLocked() {
	now := tb.clock()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		// Clock went backwards or no time passed
		return
	}
	tb.tokens = min(tb.capacity, tb.tokens+tb.rate*elapsed)
	tb.lastRefill = now
}
