package service

import "time"

// Clock supplies the current time. Liveness and expiry checks go through it
// so tests can move time forward.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
