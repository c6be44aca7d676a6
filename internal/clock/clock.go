// Package clock abstracts time reads and waits so retry backoff and health
// polling stay deterministic under test.
package clock

import "time"

// Clock is the time source injected into anything that reads or waits on time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// System returns the wall clock.
func System() Clock {
	return systemClock{}
}
