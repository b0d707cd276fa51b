package outbox

import (
	"sync"
	"time"
)

// TokenBucket is a lazily-refilled rate limiter shared by all senders.
// Refill is computed from the monotonic clock on each Take, so an idle
// bucket needs no background goroutine.
type TokenBucket struct {
	mu     sync.Mutex
	rate   float64 // tokens per second
	burst  float64
	tokens float64
	last   time.Time
	now    func() time.Time
}

// NewTokenBucket builds a bucket that refills ratePerMinute tokens per
// minute and holds at most burst. The bucket starts full.
func NewTokenBucket(ratePerMinute, burst int) *TokenBucket {
	rate := float64(ratePerMinute) / 60.0
	if rate < 0.001 {
		rate = 0.001
	}
	if burst < 1 {
		burst = 1
	}
	b := &TokenBucket{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		now:    time.Now,
	}
	b.last = b.now()
	return b
}

// Take consumes one token when available and reports whether it did.
func (b *TokenBucket) Take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.last = now

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}
