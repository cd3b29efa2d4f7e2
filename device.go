package iio

// CaptureDevice is the hardware side of the driver.
//
// A device is made of DeviceCount() concatenated devices of ChannelsPerDevice()
// interleaved channels each; device i fills column i of the raw block.
type CaptureDevice interface {
	// Open prepares the device for periods periods of periodFrames frames.
	Open(periods, periodFrames uint32) error
	// Close releases the device.
	Close() error
	// Enable starts or stops capture.
	Enable(on bool) error
	// Read fills the first nframes frames of every block column.
	Read(nframes uint32, block *RawBlock) error
	// ResizeMappedRegions reallocates hardware buffers for a new period geometry.
	ResizeMappedRegions(periods, periodFrames uint32) error
	ChannelsPerDevice() uint32
	DeviceCount() uint32
	// MaxBufferedDuration returns, in seconds, how long the device can buffer data at rate.
	MaxBufferedDuration(rate uint32) float64
}

// SampleScaler is implemented by devices that convert raw samples to float with a scale other than 1.
type SampleScaler interface {
	SampleScale() float32
}

func sampleScale(d CaptureDevice) float32 {
	if s, ok := d.(SampleScaler); ok {
		return s.SampleScale()
	}

	return 1
}
