package iio

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Negotiator applies period size changes atomically across timing, the raw block and the device.
type Negotiator struct {
	timing   *CycleTiming
	block    *RawBlock
	device   CaptureDevice
	layout   ChannelLayout
	onCommit func(frames uint32) error
	log      *zap.Logger
}

type negotiationSnapshot struct {
	timing  CycleTiming
	frames  uint32
	columns uint32
}

// NewNegotiator returns a negotiator over the driver-owned timing and block.
// onCommit, when set, runs last and may veto the change (the driver passes the engine's SetBufferSize).
func NewNegotiator(timing *CycleTiming, block *RawBlock, device CaptureDevice, layout ChannelLayout,
	onCommit func(frames uint32) error, log *zap.Logger) *Negotiator {
	if log == nil {
		log = zap.NewNop()
	}

	return &Negotiator{
		timing:   timing,
		block:    block,
		device:   device,
		layout:   layout,
		onCommit: onCommit,
		log:      log,
	}
}

// ProposeResize switches the cycle to frames frames per period.
//
// The capacity check uses the buffer of the current geometry, so with devices whose
// buffer follows the period a single call can grow the period to that buffer at most.
// Larger periods are reached in steps.
//
// A rejected proposal leaves every observable value as it was. If the device cannot be
// restored after a failure the returned error wraps ErrInconsistentState.
func (n *Negotiator) ProposeResize(frames uint32) error {
	if frames == 0 {
		return ErrInvalidPeriod
	}

	rate := n.timing.SampleRate()
	maxDelay := n.device.MaxBufferedDuration(rate) * 1e6

	if !n.timing.Fits(frames, maxDelay) {
		n.log.Warn("period rejected",
			zap.Uint32("frames", frames),
			zap.Float64("period_us", exactMicros(frames, rate)),
			zap.Float64("usable_us", n.timing.SafetyFactor()*maxDelay))

		return fmt.Errorf("%w: %d frames at %d Hz", ErrPeriodExceedsBufferCapacity, frames, rate)
	}

	columns := n.layout.Columns()
	if frames == n.timing.PeriodFrames() && columns == n.block.Columns() && n.timing.Validate() == nil {
		return nil
	}

	snap := negotiationSnapshot{
		timing:  *n.timing,
		frames:  n.block.Frames(),
		columns: n.block.Columns(),
	}

	n.timing.SetPeriodFrames(frames)

	if err := n.block.Resize(frames, columns); err != nil {
		return n.rollback(snap, false, err)
	}

	periods := n.timing.Periods()
	if err := n.device.ResizeMappedRegions(periods, frames); err != nil {
		// A rejected resize may have released the old regions, restore them too.
		return n.rollback(snap, true, fmt.Errorf("%w: %w", ErrDeviceResizeRejected, err))
	}

	// The device may round its buffer, check again against what it actually holds.
	n.timing.SetMaxBufferedDuration(n.device.MaxBufferedDuration(rate))
	if err := n.timing.Validate(); err != nil {
		return n.rollback(snap, true, err)
	}

	if n.onCommit != nil {
		if err := n.onCommit(frames); err != nil {
			return n.rollback(snap, true, fmt.Errorf("%w: %w", ErrBufferSizeRejected, err))
		}
	}

	n.log.Info("period resized",
		zap.Uint32("frames", frames),
		zap.Uint64("period_us", n.timing.PeriodMicros()),
		zap.Float64("max_delay_us", n.timing.MaxDelayMicros()))

	return nil
}

func (n *Negotiator) rollback(snap negotiationSnapshot, deviceTouched bool, cause error) error {
	*n.timing = snap.timing

	var errs []error

	if err := n.block.Resize(snap.frames, snap.columns); err != nil {
		errs = append(errs, err)
	}

	if deviceTouched {
		if err := n.device.ResizeMappedRegions(snap.timing.Periods(), snap.timing.PeriodFrames()); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		n.log.Error("rollback failed",
			zap.Error(cause),
			zap.Errors("rollback", errs))

		return fmt.Errorf("%w: %w (rollback: %w)", ErrInconsistentState, cause, errors.Join(errs...))
	}

	n.log.Warn("period resize rolled back", zap.Error(cause))

	return cause
}
