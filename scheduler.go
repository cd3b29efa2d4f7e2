package iio

import (
	"fmt"
)

// CycleState is the state of the deadline scheduler.
type CycleState int

const (
	// CycleUninitialized means no deadline is set, the next cycle starts from "now".
	CycleUninitialized CycleState = iota
	// CycleSteady means cycles are running against a deadline.
	CycleSteady
	// CycleFaulted means an overrun was just reported and the deadline was dropped.
	CycleFaulted
)

// String returns the state name.
func (s CycleState) String() string {
	switch s {
	case CycleUninitialized:
		return "uninitialized"
	case CycleSteady:
		return "steady"
	case CycleFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("CycleState(%d)", int(s))
	}
}

// Cycle is the outcome of one scheduler wait.
type Cycle struct {
	// Frames to process, zero on overrun.
	Frames uint32
	// DelayedMicros is the oversleep past the deadline, or on overrun the lateness against the missed deadline.
	DelayedMicros float64
	// Overrun is set when the device buffer capacity was exceeded.
	Overrun bool
}

// Scheduler decides, cycle by cycle, whether to run, sleep or declare an overrun.
//
// It tolerates lateness as long as the device buffer can absorb it, and drops the
// cycle otherwise: capture DMA cannot be rewound, so there is no catch-up.
type Scheduler[T Instant[T]] struct {
	clock          Clock[T]
	timing         *CycleTiming
	next           T
	lastCycleStart T
	state          CycleState
	xruns          int
}

// NewScheduler returns a scheduler reading timing on every cycle.
func NewScheduler[T Instant[T]](clock Clock[T], timing *CycleTiming) *Scheduler[T] {
	return &Scheduler[T]{clock: clock, timing: timing}
}

// Reset drops the deadline, the next Wait starts a fresh first cycle.
func (s *Scheduler[T]) Reset() {
	var zero T
	s.next = zero
	s.lastCycleStart = zero
	s.state = CycleUninitialized
}

// State returns the current scheduler state.
func (s *Scheduler[T]) State() CycleState {
	return s.state
}

// NextDeadline returns the expected start of the next cycle.
func (s *Scheduler[T]) NextDeadline() T {
	return s.next
}

// Xruns returns the number of overruns reported so far.
func (s *Scheduler[T]) Xruns() int {
	return s.xruns
}

// Wait blocks until the next cycle boundary and returns the cycle to run.
func (s *Scheduler[T]) Wait() (Cycle, error) {
	var cycle Cycle

	now := s.clock.Now()

	switch {
	case s.next.IsZero():
		// First cycle, or the first one after an overrun.
		s.next = now
	case s.next.Before(now):
		if float64(now.SubMicros(s.lastCycleStart)) > s.timing.UsableDelayMicros() {
			cycle.Overrun = true
			cycle.DelayedMicros = float64(now.SubMicros(s.next))

			var zero T
			s.next = zero
			s.state = CycleFaulted
			s.xruns++

			return cycle, nil
		}
		// Late, but the device buffer still holds the data.
	default:
		if err := s.clock.SleepUntil(s.next); err != nil {
			return Cycle{}, fmt.Errorf("sleep until deadline failed: %w", err)
		}

		if over := s.clock.Now().SubMicros(s.next); over > 0 {
			cycle.DelayedMicros = float64(over)
		}
	}

	s.next = s.next.Add(int64(s.timing.PeriodMicros()))
	s.lastCycleStart = s.clock.Now()
	s.state = CycleSteady

	cycle.Frames = s.timing.PeriodFrames()

	return cycle, nil
}
