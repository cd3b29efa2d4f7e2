package iio

import (
	"errors"
	"fmt"
)

var errDummyNotOpen = errors.New("dummy device not open")

// DummyDevice is a CaptureDevice that produces a ramp on every channel, without hardware.
// Each period rises from 0 towards full scale over the period.
type DummyDevice struct {
	perDevice    uint32
	devices      uint32
	periods      uint32
	periodFrames uint32
	open         bool
	enabled      bool
}

// NewDummyDevice returns a dummy device of devices devices with perDevice channels each.
func NewDummyDevice(perDevice, devices uint32) *DummyDevice {
	return &DummyDevice{perDevice: perDevice, devices: devices}
}

// Open records the period geometry.
func (d *DummyDevice) Open(periods, periodFrames uint32) error {
	if d.open {
		return errors.New("dummy device already open")
	}

	if periods == 0 || periodFrames == 0 {
		return fmt.Errorf("invalid geometry %d x %d", periods, periodFrames)
	}

	d.periods = periods
	d.periodFrames = periodFrames
	d.open = true

	return nil
}

// Close closes the device.
func (d *DummyDevice) Close() error {
	d.open = false
	d.enabled = false

	return nil
}

// Enable starts or stops the ramp.
func (d *DummyDevice) Enable(on bool) error {
	if !d.open {
		return errDummyNotOpen
	}

	d.enabled = on

	return nil
}

// Read writes the ramp into every column of block.
func (d *DummyDevice) Read(nframes uint32, block *RawBlock) error {
	if !d.enabled {
		return errors.New("dummy device not enabled")
	}

	nframes = min(nframes, block.Frames())
	stride := block.Channels()

	for col := uint32(0); col < block.Columns(); col++ {
		data := block.Column(col)
		for frame := uint32(0); frame < nframes; frame++ {
			v := int32(uint64(frame) * 32767 / uint64(nframes))
			for chn := uint32(0); chn < stride; chn++ {
				data[frame*stride+chn] = v
			}
		}
	}

	return nil
}

// ResizeMappedRegions records the new geometry.
func (d *DummyDevice) ResizeMappedRegions(periods, periodFrames uint32) error {
	if !d.open {
		return errDummyNotOpen
	}

	d.periods = periods
	d.periodFrames = periodFrames

	return nil
}

// ChannelsPerDevice returns the number of channels per device.
func (d *DummyDevice) ChannelsPerDevice() uint32 { return d.perDevice }

// DeviceCount returns the number of devices.
func (d *DummyDevice) DeviceCount() uint32 { return d.devices }

// MaxBufferedDuration returns periods * periodFrames / rate seconds.
func (d *DummyDevice) MaxBufferedDuration(rate uint32) float64 {
	if rate == 0 {
		return 0
	}

	return float64(d.periods) * float64(d.periodFrames) / float64(rate)
}

// SampleScale maps the ramp to [0, 1).
func (d *DummyDevice) SampleScale() float32 {
	return 1.0 / 32768
}
