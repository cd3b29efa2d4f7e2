package iio

// Engine is the host graph the driver feeds.
type Engine interface {
	// SetBufferSize announces the number of frames per cycle.
	SetBufferSize(nframes uint32) error
	SetSampleRate(rate uint32)
	// RegisterCapturePort creates an output port of the driver with a fixed capture latency.
	RegisterCapturePort(name string, latencyFrames uint32) (Port, error)
	UnregisterPort(p Port) error
	// RunCycle processes nframes frames already written to the port buffers.
	RunCycle(nframes uint32, delayedUsecs float64) error
	// Delay notifies the engine of an overrun, delayedUsecs past the missed deadline.
	Delay(delayedUsecs float64)
}

// Port is a capture port registered with the engine.
type Port interface {
	Name() string
	// Connected reports whether anything consumes the port.
	Connected() bool
	// Buffer returns the port's buffer for this cycle, at least nframes long.
	Buffer(nframes uint32) []float32
}
