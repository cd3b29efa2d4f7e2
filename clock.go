package iio

import (
	"time"
)

// Instant is a point on a clock's timeline.
// The zero value of an implementation is the "unset" sentinel.
type Instant[T any] interface {
	// IsZero reports whether the instant is unset.
	IsZero() bool
	// Before reports whether the instant is strictly earlier than u.
	Before(u T) bool
	// Add returns the instant shifted by usecs microseconds.
	Add(usecs int64) T
	// SubMicros returns the signed distance to u in microseconds.
	SubMicros(u T) int64
}

// Clock produces instants and sleeps until them.
type Clock[T Instant[T]] interface {
	Now() T
	SleepUntil(deadline T) error
}

// Micros is a microsecond counter, as supplied by a host engine.
type Micros int64

// IsZero reports whether m is unset.
func (m Micros) IsZero() bool {
	return m == 0
}

// Before reports whether m is earlier than u.
func (m Micros) Before(u Micros) bool {
	return m < u
}

// Add returns m shifted by usecs.
func (m Micros) Add(usecs int64) Micros {
	return m + Micros(usecs)
}

// SubMicros returns m - u.
func (m Micros) SubMicros(u Micros) int64 {
	return int64(m - u)
}

// MicrosClock is a Clock over a host microsecond counter.
// It sleeps with relative durations since the counter has no absolute sleep primitive.
type MicrosClock struct {
	source func() uint64
	sleep  func(time.Duration)
}

// NewMicrosClock returns a clock reading source.
// A nil source counts microseconds since the clock was created, a nil sleep uses time.Sleep.
func NewMicrosClock(source func() uint64, sleep func(time.Duration)) *MicrosClock {
	if source == nil {
		// Start at one so the first reading is never the zero sentinel.
		epoch := time.Now().Add(-time.Microsecond)
		source = func() uint64 {
			return uint64(time.Since(epoch).Microseconds())
		}
	}

	if sleep == nil {
		sleep = time.Sleep
	}

	return &MicrosClock{source: source, sleep: sleep}
}

// Now returns the current counter value.
func (c *MicrosClock) Now() Micros {
	return Micros(c.source())
}

// SleepUntil sleeps for the remaining time until deadline, if any.
func (c *MicrosClock) SleepUntil(deadline Micros) error {
	wait := deadline.SubMicros(c.Now())
	if wait > 0 {
		c.sleep(time.Duration(wait) * time.Microsecond)
	}

	return nil
}
