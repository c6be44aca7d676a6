package executor

import (
	"math"
	"time"
)

// Retry delay defaults. Stage retries are seconds-scale: anything a
// pipeline stage recovers from, it recovers from quickly.
const (
	defaultBaseDelay = 2 * time.Second
	defaultMaxDelay  = 30 * time.Second
)

// Backoff returns the wait after a failed attempt before the next one.
// Uses exponential backoff: base * 2^(attempt-1), capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = defaultBaseDelay
	}
	if max <= 0 {
		max = defaultMaxDelay
	}
	d := base
	if attempt > 1 {
		d = time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	}
	if d > max || d <= 0 {
		d = max
	}
	return d
}
