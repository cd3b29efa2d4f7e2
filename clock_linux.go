package iio

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// Timespec is a (seconds, nanoseconds) instant read with clock_gettime.
// An instant with Sec == 0 is considered unset.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// Nano returns t in nanoseconds.
func (t Timespec) Nano() int64 {
	return t.Sec*1e9 + t.Nsec
}

// IsZero reports whether t is unset.
func (t Timespec) IsZero() bool {
	return t.Sec == 0
}

// Before reports whether t is earlier than u.
func (t Timespec) Before(u Timespec) bool {
	return t.Sec < u.Sec || (t.Sec == u.Sec && t.Nsec < u.Nsec)
}

// Add returns t shifted by usecs microseconds.
func (t Timespec) Add(usecs int64) Timespec {
	return timespecFromNano(t.Nano() + usecs*1000)
}

// SubMicros returns t - u in microseconds.
func (t Timespec) SubMicros(u Timespec) int64 {
	return (t.Nano() - u.Nano()) / 1000
}

func timespecFromNano(ns int64) Timespec {
	ts := unix.NsecToTimespec(ns)

	return Timespec{Sec: int64(ts.Sec), Nsec: int64(ts.Nsec)}
}

// TimespecClock reads a POSIX clock and sleeps with absolute deadlines,
// so repeated sleeps do not accumulate drift.
type TimespecClock struct {
	id int32
}

// NewTimespecClock returns a clock for the given POSIX clock id (e.g. unix.CLOCK_MONOTONIC).
func NewTimespecClock(clockID int32) *TimespecClock {
	return &TimespecClock{id: clockID}
}

// NewRealtimeClock returns a CLOCK_REALTIME clock.
func NewRealtimeClock() *TimespecClock {
	return NewTimespecClock(unix.CLOCK_REALTIME)
}

// NewMonotonicClock returns a CLOCK_MONOTONIC clock.
func NewMonotonicClock() *TimespecClock {
	return NewTimespecClock(unix.CLOCK_MONOTONIC)
}

// Now returns the current time of the clock.
// It panics if the clock id is invalid, the zero Timespec would read as an unset instant.
func (c *TimespecClock) Now() Timespec {
	var ts unix.Timespec
	if err := unix.ClockGettime(c.id, &ts); err != nil {
		panic(fmt.Sprintf("clock_gettime(%d) failed: %v", c.id, err))
	}

	return Timespec{Sec: int64(ts.Sec), Nsec: int64(ts.Nsec)}
}

// SleepUntil blocks until the clock reaches deadline.
func (c *TimespecClock) SleepUntil(deadline Timespec) error {
	ts := unix.NsecToTimespec(deadline.Nano())

	for {
		err := unix.ClockNanosleep(c.id, unix.TIMER_ABSTIME, &ts, nil)
		if err == nil {
			return nil
		}

		// The deadline is absolute, an interrupted sleep is simply restarted.
		if errors.Is(err, syscall.EINTR) {
			continue
		}

		return fmt.Errorf("clock_nanosleep failed: %w", err)
	}
}
