package iio

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Config describes the capture geometry requested from the device.
type Config struct {
	// SampleRate in Hz.
	SampleRate uint32
	// PeriodSize is the number of frames per cycle.
	PeriodSize uint32
	// PeriodCount is the number of hardware periods.
	PeriodCount uint32
	// Channels is the number of logical channels to expose, 0 for all.
	Channels uint32
	// SafetyFactor is the usable fraction of the device buffer, in (0,1].
	SafetyFactor float64
}

// DefaultConfig returns the AD7476A defaults: 1 MHz, 2 periods of 2048 frames, every channel.
func DefaultConfig() Config {
	return Config{
		SampleRate:   1000000,
		PeriodSize:   2048,
		PeriodCount:  2,
		SafetyFactor: 1,
	}
}

type cycleWaiter interface {
	Wait() (Cycle, error)
	Reset()
	State() CycleState
	Xruns() int
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Driver) {
		if log != nil {
			d.log = log
		}
	}
}

// WithClock makes the driver schedule cycles on clock instead of CLOCK_MONOTONIC.
func WithClock[T Instant[T]](clock Clock[T]) Option {
	return func(d *Driver) {
		d.newWaiter = func(t *CycleTiming) cycleWaiter {
			return NewScheduler(clock, t)
		}
	}
}

// Driver runs periodic capture cycles from a CaptureDevice into an Engine.
// It is not safe for concurrent use; Bufsize must not overlap RunCycle.
type Driver struct {
	device CaptureDevice
	engine Engine
	cfg    Config
	log    *zap.Logger

	timing     CycleTiming
	layout     ChannelLayout
	block      *RawBlock
	negotiator *Negotiator
	sched      cycleWaiter
	newWaiter  func(*CycleTiming) cycleWaiter

	ports []Port
	bufs  [][]float32
	scale float32

	attached bool
	running  bool
	broken   error
}

// NewDriver returns a driver for device. A nil cfg means DefaultConfig.
func NewDriver(device CaptureDevice, cfg *Config, opts ...Option) *Driver {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}

	d := &Driver{
		device: device,
		cfg:    c,
		log:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.newWaiter == nil {
		clock := NewMonotonicClock()
		d.newWaiter = func(t *CycleTiming) cycleWaiter {
			return NewScheduler[Timespec](clock, t)
		}
	}

	return d
}

// Attach opens the device, validates the period against the device buffer and registers the capture ports.
// On error nothing is left open or registered, and neither the engine nor the driver timing is changed.
func (d *Driver) Attach(engine Engine) (err error) {
	if d.attached {
		return ErrAlreadyAttached
	}

	if d.cfg.PeriodSize == 0 {
		return ErrInvalidPeriod
	}

	if err = d.device.Open(d.cfg.PeriodCount, d.cfg.PeriodSize); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceOpenFailed, err)
	}

	var ports []Port

	defer func() {
		if err != nil {
			for _, p := range ports {
				_ = engine.UnregisterPort(p)
			}
			_ = d.device.Close()
		}
	}()

	timing := NewCycleTiming(d.cfg.SampleRate, d.cfg.PeriodSize, d.cfg.PeriodCount, d.cfg.SafetyFactor)
	timing.SetMaxBufferedDuration(d.device.MaxBufferedDuration(d.cfg.SampleRate))

	if err = timing.Validate(); err != nil {
		return err
	}

	layout := NewChannelLayout(d.cfg.Channels, d.device.ChannelsPerDevice(), d.device.DeviceCount())
	if layout.Requested == 0 {
		err = fmt.Errorf("%w: device reports no channels", ErrDeviceOpenFailed)

		return err
	}

	block, err := NewRawBlock(d.cfg.PeriodSize, layout.PerDevice, layout.Columns())
	if err != nil {
		return err
	}

	latency := timing.LatencyFrames()
	for i := uint32(0); i < layout.Requested; i++ {
		var p Port
		p, err = engine.RegisterCapturePort(fmt.Sprintf("capture_%d", i+1), latency)
		if err != nil {
			return fmt.Errorf("cannot register port capture_%d: %w", i+1, err)
		}
		ports = append(ports, p)
	}

	// Last fallible step, the engine keeps its old size when it refuses.
	if err = engine.SetBufferSize(d.cfg.PeriodSize); err != nil {
		return fmt.Errorf("%w: %w", ErrBufferSizeRejected, err)
	}

	engine.SetSampleRate(d.cfg.SampleRate)

	d.timing = timing
	d.engine = engine
	d.layout = layout
	d.block = block
	d.ports = ports
	d.bufs = make([][]float32, layout.Requested)
	d.scale = sampleScale(d.device)
	d.sched = d.newWaiter(&d.timing)
	d.negotiator = NewNegotiator(&d.timing, block, d.device, layout, engine.SetBufferSize, d.log)
	d.attached = true
	d.broken = nil

	d.log.Info("attached",
		zap.Uint32("rate", d.timing.SampleRate()),
		zap.Uint32("period", d.timing.PeriodFrames()),
		zap.Uint32("periods", d.timing.Periods()),
		zap.Uint32("channels", layout.Requested),
		zap.Uint32("devices", layout.Devices),
		zap.Uint64("period_us", d.timing.PeriodMicros()),
		zap.Float64("max_delay_us", d.timing.MaxDelayMicros()),
		zap.Uint32("latency_frames", latency))

	return nil
}

// Start enables the device and arms the scheduler for a fresh first cycle.
func (d *Driver) Start() error {
	if !d.attached {
		return ErrNotAttached
	}

	if d.broken != nil {
		return d.broken
	}

	if d.running {
		return nil
	}

	if err := d.device.Enable(true); err != nil {
		return fmt.Errorf("cannot enable capture: %w", err)
	}

	d.sched.Reset()
	d.running = true

	return nil
}

// Stop disables the device. Buffers and ports are kept for a later Start.
func (d *Driver) Stop() error {
	if !d.attached {
		return ErrNotAttached
	}

	if !d.running {
		return nil
	}

	if err := d.device.Enable(false); err != nil {
		return fmt.Errorf("cannot disable capture: %w", err)
	}

	d.running = false

	return nil
}

// Detach stops capture, closes the device and unregisters the ports.
func (d *Driver) Detach() error {
	if !d.attached {
		return ErrNotAttached
	}

	var errs []error

	if d.running {
		d.running = false
		if err := d.device.Enable(false); err != nil {
			errs = append(errs, err)
		}
	}

	if err := d.device.Close(); err != nil {
		errs = append(errs, err)
	}

	for _, p := range d.ports {
		if err := d.engine.UnregisterPort(p); err != nil {
			errs = append(errs, err)
		}
	}

	d.ports = nil
	d.bufs = nil
	d.block = nil
	d.negotiator = nil
	d.engine = nil
	d.attached = false

	d.log.Info("detached", zap.Int("xruns", d.sched.Xruns()))

	return errors.Join(errs...)
}

// Close detaches the driver if it is attached.
func (d *Driver) Close() error {
	if !d.attached {
		return nil
	}

	return d.Detach()
}

// RunCycle waits for the next cycle and delivers it to the engine.
// An overrun is reported to the engine with Delay and is not an error.
func (d *Driver) RunCycle() error {
	if !d.attached {
		return ErrNotAttached
	}

	if d.broken != nil {
		return d.broken
	}

	if !d.running {
		return ErrNotRunning
	}

	cycle, err := d.sched.Wait()
	if err != nil {
		return err
	}

	if cycle.Overrun {
		d.log.Warn("xrun",
			zap.Float64("delay_us", cycle.DelayedMicros),
			zap.Int("xruns", d.sched.Xruns()))
		d.engine.Delay(cycle.DelayedMicros)

		return nil
	}

	if err = d.device.Read(cycle.Frames, d.block); err != nil {
		return fmt.Errorf("capture read failed: %w", err)
	}

	for i, p := range d.ports {
		if p.Connected() {
			d.bufs[i] = p.Buffer(cycle.Frames)
		} else {
			d.bufs[i] = nil
		}
	}

	Demux(d.bufs, d.block, cycle.Frames, d.layout, d.scale)

	return d.engine.RunCycle(cycle.Frames, cycle.DelayedMicros)
}

// Run starts capture and runs cycles until ctx is done or a cycle fails.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			if err := d.Stop(); err != nil {
				return err
			}

			return ctx.Err()
		default:
		}

		if err := d.RunCycle(); err != nil {
			_ = d.Stop()

			return err
		}
	}
}

// Bufsize changes the period size. A rejected change leaves the driver as it was,
// except for ErrInconsistentState after which the driver has to be detached.
func (d *Driver) Bufsize(frames uint32) error {
	if !d.attached {
		return ErrNotAttached
	}

	if d.broken != nil {
		return d.broken
	}

	if err := d.negotiator.ProposeResize(frames); err != nil {
		if errors.Is(err, ErrInconsistentState) {
			d.broken = err
		}

		return err
	}

	d.cfg.PeriodSize = frames

	return nil
}

// Timing returns a copy of the committed cycle timing.
func (d *Driver) Timing() CycleTiming {
	return d.timing
}

// Layout returns the channel layout fixed at Attach.
func (d *Driver) Layout() ChannelLayout {
	return d.layout
}

// Block returns the raw sample block, nil when detached.
func (d *Driver) Block() *RawBlock {
	return d.block
}

// State returns the scheduler state.
func (d *Driver) State() CycleState {
	if d.sched == nil {
		return CycleUninitialized
	}

	return d.sched.State()
}

// Xruns returns the number of overruns since Attach.
func (d *Driver) Xruns() int {
	if d.sched == nil {
		return 0
	}

	return d.sched.Xruns()
}

// Running reports whether capture is enabled.
func (d *Driver) Running() bool {
	return d.running
}
