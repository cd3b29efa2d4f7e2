package iio

import "fmt"

// CycleTiming holds the timing constants of the capture cycle.
// It is owned by the Driver and borrowed by the Scheduler and the Negotiator.
type CycleTiming struct {
	sampleRate     uint32
	periodFrames   uint32
	periods        uint32
	safetyFactor   float64
	periodMicros   uint64
	maxDelayMicros float64
}

// NewCycleTiming returns timing for the given rate and period geometry.
// A safety factor outside (0,1] is replaced by 1.
func NewCycleTiming(sampleRate, periodFrames, periods uint32, safetyFactor float64) CycleTiming {
	if safetyFactor <= 0 || safetyFactor > 1 {
		safetyFactor = 1
	}

	t := CycleTiming{
		sampleRate:   sampleRate,
		periodFrames: periodFrames,
		periods:      periods,
		safetyFactor: safetyFactor,
	}
	t.recompute()

	return t
}

// SampleRate returns the sample rate in Hz.
func (t CycleTiming) SampleRate() uint32 { return t.sampleRate }

// PeriodFrames returns the number of frames per cycle.
func (t CycleTiming) PeriodFrames() uint32 { return t.periodFrames }

// Periods returns the number of hardware periods.
func (t CycleTiming) Periods() uint32 { return t.periods }

// SafetyFactor returns the usable fraction of the device buffer.
func (t CycleTiming) SafetyFactor() float64 { return t.safetyFactor }

// PeriodMicros returns the duration of one period, floored to whole microseconds.
func (t CycleTiming) PeriodMicros() uint64 { return t.periodMicros }

// MaxDelayMicros returns the device's maximum buffered duration in microseconds.
func (t CycleTiming) MaxDelayMicros() float64 { return t.maxDelayMicros }

// UsableDelayMicros returns the part of the device buffer the driver may consume before an overrun is declared.
func (t CycleTiming) UsableDelayMicros() float64 {
	return t.safetyFactor * t.maxDelayMicros
}

// SetSampleRate changes the sample rate and recomputes the period duration.
func (t *CycleTiming) SetSampleRate(rate uint32) {
	t.sampleRate = rate
	t.recompute()
}

// SetPeriodFrames changes the period size and recomputes the period duration.
func (t *CycleTiming) SetPeriodFrames(frames uint32) {
	t.periodFrames = frames
	t.recompute()
}

// SetMaxBufferedDuration sets the device capacity from a duration in seconds.
func (t *CycleTiming) SetMaxBufferedDuration(seconds float64) {
	t.maxDelayMicros = seconds * 1e6
}

// Fits reports whether a period of frames fits in the usable part of a device buffer holding maxDelayMicros.
func (t CycleTiming) Fits(frames uint32, maxDelayMicros float64) bool {
	return exactMicros(frames, t.sampleRate) <= t.safetyFactor*maxDelayMicros
}

// Validate checks the period against the committed device capacity.
func (t CycleTiming) Validate() error {
	if t.periodFrames == 0 {
		return ErrInvalidPeriod
	}

	if !t.Fits(t.periodFrames, t.maxDelayMicros) {
		return fmt.Errorf("%w: period %d us, usable buffer %.1f us",
			ErrPeriodExceedsBufferCapacity, t.periodMicros, t.UsableDelayMicros())
	}

	return nil
}

// LatencyFrames returns one device max-delay unit expressed in frames.
func (t CycleTiming) LatencyFrames() uint32 {
	return uint32(t.maxDelayMicros*float64(t.sampleRate)/1e6 + 0.5)
}

func (t *CycleTiming) recompute() {
	t.periodMicros = FramesToMicros(t.periodFrames, t.sampleRate)
}

// FramesToMicros returns the duration of nframes at rate, floored to whole microseconds.
func FramesToMicros(nframes, rate uint32) uint64 {
	if rate == 0 {
		return 0
	}

	return uint64(nframes) * 1000000 / uint64(rate)
}

func exactMicros(nframes, rate uint32) float64 {
	if rate == 0 {
		return 0
	}

	return float64(nframes) * 1e6 / float64(rate)
}
