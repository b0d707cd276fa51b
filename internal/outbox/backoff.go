package outbox

import (
	"math/rand"
	"time"
)

// maxBackoffShift caps the exponent so the doubling cannot overflow long
// before the max delay clamps it anyway.
const maxBackoffShift = 8

// Delay computes the wait before retry number attempts, doubling from base
// up to max with ±10% symmetric jitter.
func Delay(base, max time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	if max <= 0 {
		max = time.Hour
	}
	shift := attempts
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	if shift < 0 {
		shift = 0
	}
	delay := base << uint(shift)
	if delay > max || delay <= 0 {
		delay = max
	}

	jitter := time.Duration(float64(delay) * 0.2 * (rand.Float64() - 0.5))
	return delay + jitter
}
