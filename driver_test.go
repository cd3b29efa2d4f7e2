package iio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gen2brain/iio"
)

func testConfig() *iio.Config {
	cfg := iio.DefaultConfig()
	cfg.Channels = 6

	return &cfg
}

func newTestDriver(t *testing.T, dev *fakeDevice, clock *fakeClock) *iio.Driver {
	t.Helper()

	return iio.NewDriver(dev, testConfig(), iio.WithClock[iio.Micros](clock), iio.WithLogger(zaptest.NewLogger(t)))
}

func TestDefaultConfig(t *testing.T) {
	cfg := iio.DefaultConfig()
	assert.Equal(t, uint32(1000000), cfg.SampleRate)
	assert.Equal(t, uint32(2048), cfg.PeriodSize)
	assert.Equal(t, uint32(2), cfg.PeriodCount)
	assert.Zero(t, cfg.Channels)
	assert.Equal(t, 1.0, cfg.SafetyFactor)
}

func TestDriverAttach(t *testing.T) {
	dev := &fakeDevice{perDevice: 4, devices: 2, capacityMicros: 4096}
	engine := newFakeEngine()
	d := newTestDriver(t, dev, newFakeClock(1000))

	require.NoError(t, d.Attach(engine))
	t.Cleanup(func() { _ = d.Close() })

	assert.True(t, dev.opened)
	assert.Equal(t, uint32(2), dev.periods)
	assert.Equal(t, uint32(2048), dev.frames)
	assert.Equal(t, uint32(2048), engine.bufferSize)
	assert.Equal(t, uint32(1000000), engine.rate)

	layout := d.Layout()
	assert.Equal(t, uint32(6), layout.Requested)
	assert.Equal(t, uint32(2), layout.Columns())

	require.Len(t, engine.ports, 6)
	for i, p := range engine.ports {
		assert.Equal(t, "capture_"+string(rune('1'+i)), p.name)
		assert.Equal(t, uint32(4096), p.latency, "latency is one device max-delay unit")
	}

	timing := d.Timing()
	assert.Equal(t, uint64(2048), timing.PeriodMicros())
	assert.InDelta(t, 4096, timing.MaxDelayMicros(), 1e-6)

	assert.Equal(t, uint32(2048), d.Block().Frames())
	assert.Equal(t, uint32(2), d.Block().Columns())

	assert.ErrorIs(t, d.Attach(engine), iio.ErrAlreadyAttached)
}

func TestDriverAttachClampsChannels(t *testing.T) {
	dev := &fakeDevice{perDevice: 2, devices: 1, capacityMicros: 4096}
	engine := newFakeEngine()
	d := newTestDriver(t, dev, newFakeClock(1000))

	require.NoError(t, d.Attach(engine))
	assert.Equal(t, uint32(2), d.Layout().Requested)
	assert.Len(t, engine.ports, 2)
	require.NoError(t, d.Detach())
}

func TestDriverAttachRejectsPeriod(t *testing.T) {
	dev := &fakeDevice{perDevice: 4, devices: 2, capacityMicros: 2000}
	engine := newFakeEngine()
	d := newTestDriver(t, dev, newFakeClock(1000))

	err := d.Attach(engine)
	require.ErrorIs(t, err, iio.ErrPeriodExceedsBufferCapacity)
	assert.False(t, dev.opened, "device is closed again")
	assert.Empty(t, engine.ports)
	assert.ErrorIs(t, d.RunCycle(), iio.ErrNotAttached)
}

func TestDriverAttachRejectedKeepsState(t *testing.T) {
	dev := &fakeDevice{perDevice: 4, devices: 2, capacityMicros: 1000}
	engine := newFakeEngine()
	engine.bufferSize = 512
	d := newTestDriver(t, dev, newFakeClock(1000))

	require.ErrorIs(t, d.Attach(engine), iio.ErrPeriodExceedsBufferCapacity)

	timing := d.Timing()
	assert.Zero(t, timing.PeriodFrames())
	assert.Zero(t, timing.MaxDelayMicros())
	assert.Equal(t, uint32(512), engine.bufferSize)
	assert.Zero(t, engine.rate)
}

func TestDriverAttachOpenFailure(t *testing.T) {
	openErr := errors.New("no such device")
	dev := &fakeDevice{perDevice: 4, devices: 2, capacityMicros: 4096, openErr: openErr}
	d := newTestDriver(t, dev, newFakeClock(1000))

	err := d.Attach(newFakeEngine())
	require.ErrorIs(t, err, iio.ErrDeviceOpenFailed)
	require.ErrorIs(t, err, openErr)
}

func TestDriverAttachPortFailure(t *testing.T) {
	dev := &fakeDevice{perDevice: 4, devices: 2, capacityMicros: 4096}
	engine := newFakeEngine()
	engine.registerErrAt = 3
	d := newTestDriver(t, dev, newFakeClock(1000))

	engine.bufferSize = 512

	require.Error(t, d.Attach(engine))
	assert.Empty(t, engine.ports, "registered ports are removed again")
	assert.Equal(t, uint32(512), engine.bufferSize)
	assert.False(t, dev.opened)
	assert.Equal(t, 1, dev.closeCalls)
}

func TestDriverAttachEngineRejectsBufferSize(t *testing.T) {
	dev := &fakeDevice{perDevice: 4, devices: 2, capacityMicros: 4096}
	engine := newFakeEngine()
	engine.bufferSizeErr = func(uint32) error { return errors.New("nope") }
	d := newTestDriver(t, dev, newFakeClock(1000))

	require.ErrorIs(t, d.Attach(engine), iio.ErrBufferSizeRejected)
	assert.False(t, dev.opened)
	assert.Empty(t, engine.ports)
	assert.Zero(t, d.Timing().PeriodFrames())
}

func TestDriverAttachZeroPeriod(t *testing.T) {
	cfg := testConfig()
	cfg.PeriodSize = 0
	d := iio.NewDriver(&fakeDevice{perDevice: 1, devices: 1}, cfg)

	require.ErrorIs(t, d.Attach(newFakeEngine()), iio.ErrInvalidPeriod)
}

func TestDriverRunCycle(t *testing.T) {
	dev := &fakeDevice{perDevice: 4, devices: 2, capacityMicros: 4096, fill: fillCoded}
	engine := newFakeEngine()
	engine.disconnected["capture_2"] = true
	clock := newFakeClock(1000)
	d := newTestDriver(t, dev, clock)

	require.NoError(t, d.Attach(engine))
	t.Cleanup(func() { _ = d.Close() })

	assert.ErrorIs(t, d.RunCycle(), iio.ErrNotRunning)

	require.NoError(t, d.Start())
	assert.True(t, dev.enabled)

	// The first cycle after Start never overruns.
	clock.advance(1000000)
	require.NoError(t, d.RunCycle())
	require.Len(t, engine.cycles, 1)
	assert.Equal(t, uint32(2048), engine.cycles[0].frames)
	assert.Equal(t, 1, dev.reads)

	// capture_6 is channel 5: second channel of the second device.
	p := engine.ports[5]
	require.Len(t, p.buf, 2048)
	assert.Equal(t, float32(1000+(7*4+1)*10), p.buf[7])

	assert.Nil(t, engine.ports[1].buf, "unconnected ports are not written")

	clock.oversleep = 25
	require.NoError(t, d.RunCycle())
	require.Len(t, engine.cycles, 2)
	assert.Equal(t, 25.0, engine.cycles[1].delayed)
	assert.Equal(t, iio.CycleSteady, d.State())
}

func TestDriverOverrun(t *testing.T) {
	dev := &fakeDevice{perDevice: 4, devices: 2, capacityMicros: 4096}
	engine := newFakeEngine()
	clock := newFakeClock(1000)
	d := newTestDriver(t, dev, clock)

	require.NoError(t, d.Attach(engine))
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.Start())

	require.NoError(t, d.RunCycle())

	clock.advance(10000)
	require.NoError(t, d.RunCycle(), "an overrun is not an error")
	require.Len(t, engine.delays, 1)
	assert.Equal(t, float64(10000-2048), engine.delays[0])
	assert.Len(t, engine.cycles, 1, "no cycle runs on overrun")
	assert.Equal(t, 1, dev.reads)
	assert.Equal(t, iio.CycleFaulted, d.State())
	assert.Equal(t, 1, d.Xruns())

	require.NoError(t, d.RunCycle())
	assert.Len(t, engine.cycles, 2)
	assert.Equal(t, iio.CycleSteady, d.State())
}

func TestDriverStartResetsScheduler(t *testing.T) {
	dev := &fakeDevice{perDevice: 4, devices: 2, capacityMicros: 4096}
	engine := newFakeEngine()
	clock := newFakeClock(1000)
	d := newTestDriver(t, dev, clock)

	require.NoError(t, d.Attach(engine))
	t.Cleanup(func() { _ = d.Close() })

	require.NoError(t, d.Start())
	require.NoError(t, d.RunCycle())
	require.NoError(t, d.Stop())
	assert.False(t, dev.enabled)
	assert.NotNil(t, d.Block(), "buffers survive Stop")

	clock.advance(60000000)
	require.NoError(t, d.Start())
	require.NoError(t, d.RunCycle())
	assert.Empty(t, engine.delays, "restart is a fresh first cycle")
	assert.Len(t, engine.cycles, 2)
}

func TestDriverStopFailureKeepsRunning(t *testing.T) {
	dev := &fakeDevice{perDevice: 4, devices: 2, capacityMicros: 4096}
	d := newTestDriver(t, dev, newFakeClock(1000))

	require.NoError(t, d.Attach(newFakeEngine()))
	require.NoError(t, d.Start())

	dev.enableErr = errors.New("busy")
	require.Error(t, d.Stop())
	assert.True(t, d.Running(), "capture is still enabled")
	assert.True(t, dev.enabled)

	dev.enableErr = nil
	require.NoError(t, d.Stop())
	assert.False(t, d.Running())
	require.NoError(t, d.Detach())
}

func TestDriverBufsize(t *testing.T) {
	dev := &fakeDevice{perDevice: 4, devices: 2, capacityMicros: 4096}
	engine := newFakeEngine()
	d := newTestDriver(t, dev, newFakeClock(1000))

	require.NoError(t, d.Attach(engine))
	t.Cleanup(func() { _ = d.Close() })

	require.NoError(t, d.Bufsize(1024))
	assert.Equal(t, uint32(1024), d.Timing().PeriodFrames())
	assert.Equal(t, uint32(1024), d.Block().Frames())
	assert.Equal(t, uint32(1024), engine.bufferSize)

	err := d.Bufsize(5000)
	require.ErrorIs(t, err, iio.ErrPeriodExceedsBufferCapacity)
	assert.Equal(t, uint32(1024), d.Timing().PeriodFrames())
	assert.Equal(t, uint32(1024), d.Block().Frames())
	assert.Equal(t, uint32(1024), engine.bufferSize)
}

func TestDriverBufsizeInconsistentState(t *testing.T) {
	dev := &fakeDevice{perDevice: 4, devices: 2, capacityMicros: 4096}
	d := newTestDriver(t, dev, newFakeClock(1000))

	require.NoError(t, d.Attach(newFakeEngine()))
	t.Cleanup(func() { _ = d.Close() })

	dev.resizeErr = func(_, _ uint32) error { return errors.New("gone") }
	require.ErrorIs(t, d.Bufsize(1024), iio.ErrInconsistentState)

	assert.ErrorIs(t, d.Bufsize(512), iio.ErrInconsistentState)
	assert.ErrorIs(t, d.Start(), iio.ErrInconsistentState)
	assert.ErrorIs(t, d.RunCycle(), iio.ErrInconsistentState)

	require.NoError(t, d.Detach())
}

func TestDriverDetach(t *testing.T) {
	dev := &fakeDevice{perDevice: 4, devices: 2, capacityMicros: 4096}
	engine := newFakeEngine()
	d := newTestDriver(t, dev, newFakeClock(1000))

	assert.ErrorIs(t, d.Detach(), iio.ErrNotAttached)
	assert.NoError(t, d.Close(), "closing an unattached driver is fine")

	require.NoError(t, d.Attach(engine))
	require.NoError(t, d.Start())
	require.NoError(t, d.Detach())

	assert.False(t, dev.enabled)
	assert.False(t, dev.opened)
	assert.Empty(t, engine.ports)
	assert.Nil(t, d.Block())
	assert.NoError(t, d.Close())
}

func TestDriverRun(t *testing.T) {
	dev := &fakeDevice{perDevice: 4, devices: 2, capacityMicros: 4096}
	engine := newFakeEngine()
	d := iio.NewDriver(dev, testConfig(), iio.WithLogger(zaptest.NewLogger(t)))

	require.NoError(t, d.Attach(engine))
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := d.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, d.Running())
	assert.NotEmpty(t, engine.cycles)
}

func TestDriverWithDummyDevice(t *testing.T) {
	dev := iio.NewDummyDevice(2, 2)
	engine := newFakeEngine()
	clock := newFakeClock(1000)
	cfg := iio.DefaultConfig()
	d := iio.NewDriver(dev, &cfg, iio.WithClock[iio.Micros](clock))

	require.NoError(t, d.Attach(engine))
	t.Cleanup(func() { _ = d.Close() })
	require.Len(t, engine.ports, 4)

	require.NoError(t, d.Start())
	require.NoError(t, d.RunCycle())

	buf := engine.ports[3].buf
	require.Len(t, buf, 2048)
	assert.Zero(t, buf[0])
	assert.InDelta(t, 0.5, buf[1024], 1e-3)
	assert.Less(t, buf[2047], float32(1))
}
