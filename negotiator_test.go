package iio_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gen2brain/iio"
)

type negotiatorFixture struct {
	timing  *iio.CycleTiming
	block   *iio.RawBlock
	device  *fakeDevice
	commits []uint32
	veto    error
	n       *iio.Negotiator
}

// newNegotiatorFixture sets up 2 x 2048 frames at 1 MHz against a device holding capacity us.
func newNegotiatorFixture(t *testing.T, capacity, safety float64) *negotiatorFixture {
	t.Helper()

	f := &negotiatorFixture{
		device: &fakeDevice{perDevice: 4, devices: 2, capacityMicros: capacity},
	}
	require.NoError(t, f.device.Open(2, 2048))

	timing := iio.NewCycleTiming(1000000, 2048, 2, safety)
	timing.SetMaxBufferedDuration(f.device.MaxBufferedDuration(1000000))
	f.timing = &timing

	layout := iio.NewChannelLayout(0, 4, 2)

	var err error
	f.block, err = iio.NewRawBlock(2048, 4, layout.Columns())
	require.NoError(t, err)

	f.n = iio.NewNegotiator(f.timing, f.block, f.device, layout, func(frames uint32) error {
		if f.veto != nil {
			return f.veto
		}
		f.commits = append(f.commits, frames)

		return nil
	}, zap.NewNop())

	return f
}

func (f *negotiatorFixture) assertUnchanged(t *testing.T, timing iio.CycleTiming) {
	t.Helper()
	assert.Equal(t, timing, *f.timing)
	assert.Equal(t, uint32(2048), f.block.Frames())
	assert.Equal(t, uint32(2), f.block.Columns())
	assert.Empty(t, f.commits)
}

func TestNegotiatorRejectsBeforeMutation(t *testing.T) {
	f := newNegotiatorFixture(t, 4000, 1)
	before := *f.timing

	err := f.n.ProposeResize(5000)
	require.ErrorIs(t, err, iio.ErrPeriodExceedsBufferCapacity)

	f.assertUnchanged(t, before)
	assert.Empty(t, f.device.resizes, "the device is not touched")
	assert.Equal(t, uint64(2048), f.timing.PeriodMicros())
}

func TestNegotiatorResize(t *testing.T) {
	f := newNegotiatorFixture(t, 4096, 1)
	f.device.capacityAfterResize = func(periods, frames uint32) float64 {
		return float64(periods * frames)
	}

	require.NoError(t, f.n.ProposeResize(1024))

	assert.Equal(t, uint32(1024), f.timing.PeriodFrames())
	assert.Equal(t, uint64(1024), f.timing.PeriodMicros())
	assert.InDelta(t, 2048, f.timing.MaxDelayMicros(), 1e-6)
	assert.Equal(t, uint32(1024), f.block.Frames())
	assert.Equal(t, uint32(2), f.block.Columns())
	assert.Equal(t, [][2]uint32{{2, 1024}}, f.device.resizes)
	assert.Equal(t, []uint32{1024}, f.commits)
}

func TestNegotiatorZeroFrames(t *testing.T) {
	f := newNegotiatorFixture(t, 4096, 1)
	before := *f.timing

	require.ErrorIs(t, f.n.ProposeResize(0), iio.ErrInvalidPeriod)
	f.assertUnchanged(t, before)
}

func TestNegotiatorSamePeriodIsNoop(t *testing.T) {
	f := newNegotiatorFixture(t, 4096, 1)

	require.NoError(t, f.n.ProposeResize(2048))
	require.NoError(t, f.n.ProposeResize(2048))

	assert.Empty(t, f.device.resizes)
	assert.Empty(t, f.commits)
}

func TestNegotiatorDeviceRejectsResize(t *testing.T) {
	f := newNegotiatorFixture(t, 8192, 1)
	before := *f.timing

	rejected := errors.New("EBUSY")
	f.device.resizeErr = func(_, frames uint32) error {
		if frames == 1024 {
			return rejected
		}

		return nil
	}

	err := f.n.ProposeResize(1024)
	require.ErrorIs(t, err, iio.ErrDeviceResizeRejected)
	require.ErrorIs(t, err, rejected)
	assert.NotErrorIs(t, err, iio.ErrInconsistentState)

	f.assertUnchanged(t, before)
	assert.Equal(t, [][2]uint32{{2, 1024}, {2, 2048}}, f.device.resizes, "old regions are restored")
}

func TestNegotiatorRechecksCapacityAfterResize(t *testing.T) {
	f := newNegotiatorFixture(t, 8192, 1)
	before := *f.timing

	// The device rounds its buffer down below one period.
	f.device.capacityAfterResize = func(_, frames uint32) float64 {
		if frames == 4096 {
			return 4000
		}

		return 8192
	}

	err := f.n.ProposeResize(4096)
	require.ErrorIs(t, err, iio.ErrPeriodExceedsBufferCapacity)

	f.assertUnchanged(t, before)
	assert.Equal(t, [][2]uint32{{2, 4096}, {2, 2048}}, f.device.resizes)
}

func TestNegotiatorEngineVeto(t *testing.T) {
	f := newNegotiatorFixture(t, 8192, 1)
	before := *f.timing
	f.veto = errors.New("engine busy")

	err := f.n.ProposeResize(1024)
	require.ErrorIs(t, err, iio.ErrBufferSizeRejected)

	f.assertUnchanged(t, before)
	assert.Equal(t, [][2]uint32{{2, 1024}, {2, 2048}}, f.device.resizes)
}

func TestNegotiatorAllocationFailed(t *testing.T) {
	f := newNegotiatorFixture(t, 1e12, 1)
	before := *f.timing

	err := f.n.ProposeResize(iio.MaxBlockSamples)
	require.ErrorIs(t, err, iio.ErrAllocationFailed)

	f.assertUnchanged(t, before)
	assert.Empty(t, f.device.resizes)
}

func TestNegotiatorInconsistentState(t *testing.T) {
	f := newNegotiatorFixture(t, 8192, 1)

	f.device.resizeErr = func(_, _ uint32) error {
		return errors.New("device gone")
	}

	err := f.n.ProposeResize(1024)
	require.ErrorIs(t, err, iio.ErrInconsistentState)
	assert.ErrorIs(t, err, iio.ErrDeviceResizeRejected)
}

func TestNegotiatorAcceptancePredicate(t *testing.T) {
	for _, safety := range []float64{1, 0.75, 0.5} {
		f := newNegotiatorFixture(t, 4000, safety)

		for frames := uint32(1); frames < 6000; frames += 97 {
			before := *f.timing
			beforeFrames := f.block.Frames()

			err := f.n.ProposeResize(frames)

			fits := float64(frames) <= safety*4000
			if fits {
				require.NoError(t, err, "safety %v frames %d", safety, frames)
				require.Equal(t, frames, f.timing.PeriodFrames())
				require.Equal(t, frames, f.block.Frames())
			} else {
				require.ErrorIs(t, err, iio.ErrPeriodExceedsBufferCapacity, "safety %v frames %d", safety, frames)
				require.Equal(t, before, *f.timing)
				require.Equal(t, beforeFrames, f.block.Frames())
			}
		}
	}
}

func TestNegotiatorGrowsInSteps(t *testing.T) {
	f := newNegotiatorFixture(t, 4096, 1)
	f.device.capacityAfterResize = func(periods, frames uint32) float64 {
		return float64(periods) * float64(frames)
	}

	require.ErrorIs(t, f.n.ProposeResize(8192), iio.ErrPeriodExceedsBufferCapacity,
		"checked against the current buffer")

	require.NoError(t, f.n.ProposeResize(4096))
	require.NoError(t, f.n.ProposeResize(8192))
	assert.Equal(t, uint32(8192), f.timing.PeriodFrames())
	assert.InDelta(t, 16384, f.timing.MaxDelayMicros(), 1e-6)
	assert.Equal(t, []uint32{4096, 8192}, f.commits)
}
