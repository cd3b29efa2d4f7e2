package iio_test

import (
	"errors"
	"fmt"

	"github.com/gen2brain/iio"
)

// fakeClock is a manual clock. SleepUntil jumps to the deadline plus oversleep.
type fakeClock struct {
	now       iio.Micros
	oversleep int64
	sleeps    []iio.Micros
	sleepErr  error
}

func newFakeClock(start iio.Micros) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() iio.Micros { return c.now }

func (c *fakeClock) SleepUntil(deadline iio.Micros) error {
	if c.sleepErr != nil {
		return c.sleepErr
	}

	c.sleeps = append(c.sleeps, deadline)
	if deadline > c.now {
		c.now = deadline
	}
	c.now = c.now.Add(c.oversleep)

	return nil
}

func (c *fakeClock) advance(usecs int64) { c.now = c.now.Add(usecs) }

// fakeDevice is a CaptureDevice with a fixed buffer capacity and failure injection.
type fakeDevice struct {
	perDevice uint32
	devices   uint32
	// capacityMicros is the buffered duration reported for the current geometry.
	capacityMicros float64
	// capacityAfterResize, when set, is reported after a successful resize.
	capacityAfterResize func(periods, frames uint32) float64

	openErr    error
	enableErr  error
	resizeErr  func(periods, frames uint32) error
	fill       func(block *iio.RawBlock)
	opened     bool
	enabled    bool
	periods    uint32
	frames     uint32
	resizes    [][2]uint32
	reads      int
	closeCalls int
}

func (d *fakeDevice) Open(periods, frames uint32) error {
	if d.openErr != nil {
		return d.openErr
	}
	d.opened = true
	d.periods, d.frames = periods, frames

	return nil
}

func (d *fakeDevice) Close() error {
	d.closeCalls++
	d.opened = false

	return nil
}

func (d *fakeDevice) Enable(on bool) error {
	if d.enableErr != nil {
		return d.enableErr
	}
	d.enabled = on

	return nil
}

func (d *fakeDevice) Read(nframes uint32, block *iio.RawBlock) error {
	if !d.enabled {
		return errors.New("not enabled")
	}
	d.reads++
	if d.fill != nil {
		d.fill(block)
	}

	return nil
}

func (d *fakeDevice) ResizeMappedRegions(periods, frames uint32) error {
	d.resizes = append(d.resizes, [2]uint32{periods, frames})
	if d.resizeErr != nil {
		if err := d.resizeErr(periods, frames); err != nil {
			return err
		}
	}
	d.periods, d.frames = periods, frames
	if d.capacityAfterResize != nil {
		d.capacityMicros = d.capacityAfterResize(periods, frames)
	}

	return nil
}

func (d *fakeDevice) ChannelsPerDevice() uint32 { return d.perDevice }
func (d *fakeDevice) DeviceCount() uint32       { return d.devices }

func (d *fakeDevice) MaxBufferedDuration(uint32) float64 {
	return d.capacityMicros / 1e6
}

// fakePort records the buffer handed out to the driver.
type fakePort struct {
	name      string
	latency   uint32
	connected bool
	buf       []float32
}

func (p *fakePort) Name() string    { return p.name }
func (p *fakePort) Connected() bool { return p.connected }

func (p *fakePort) Buffer(nframes uint32) []float32 {
	if uint32(len(p.buf)) < nframes {
		p.buf = make([]float32, nframes)
	}

	return p.buf[:nframes]
}

type engineCycle struct {
	frames  uint32
	delayed float64
}

// fakeEngine is an Engine recording every call.
type fakeEngine struct {
	bufferSize    uint32
	rate          uint32
	ports         []*fakePort
	cycles        []engineCycle
	delays        []float64
	bufferSizeErr func(n uint32) error
	registerErrAt int
	disconnected  map[string]bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{registerErrAt: -1, disconnected: map[string]bool{}}
}

func (e *fakeEngine) SetBufferSize(n uint32) error {
	if e.bufferSizeErr != nil {
		if err := e.bufferSizeErr(n); err != nil {
			return err
		}
	}
	e.bufferSize = n

	return nil
}

func (e *fakeEngine) SetSampleRate(rate uint32) { e.rate = rate }

func (e *fakeEngine) RegisterCapturePort(name string, latency uint32) (iio.Port, error) {
	if e.registerErrAt == len(e.ports) {
		return nil, fmt.Errorf("no more ports")
	}
	p := &fakePort{name: name, latency: latency, connected: !e.disconnected[name]}
	e.ports = append(e.ports, p)

	return p, nil
}

func (e *fakeEngine) UnregisterPort(p iio.Port) error {
	for i, q := range e.ports {
		if q == p {
			e.ports = append(e.ports[:i], e.ports[i+1:]...)

			return nil
		}
	}

	return errors.New("unknown port")
}

func (e *fakeEngine) RunCycle(nframes uint32, delayed float64) error {
	e.cycles = append(e.cycles, engineCycle{nframes, delayed})

	return nil
}

func (e *fakeEngine) Delay(delayed float64) { e.delays = append(e.delays, delayed) }
