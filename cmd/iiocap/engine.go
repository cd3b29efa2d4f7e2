package main

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/zap"

	"github.com/gen2brain/iio"
)

// wavEngine is an offline engine that interleaves its capture ports into a WAV file.
type wavEngine struct {
	out      io.WriteSeeker
	bitDepth int
	log      *zap.SugaredLogger

	rate       uint32
	bufferSize uint32
	ports      []*wavPort
	enc        *wav.Encoder
	buf        *audio.IntBuffer

	frames  uint64
	cycles  int
	overrun int
}

type wavPort struct {
	name    string
	latency uint32
	buf     []float32
}

func (p *wavPort) Name() string    { return p.name }
func (p *wavPort) Connected() bool { return true }

func (p *wavPort) Buffer(nframes uint32) []float32 {
	if uint32(cap(p.buf)) < nframes {
		p.buf = make([]float32, nframes)
	}

	return p.buf[:nframes]
}

func newWavEngine(out io.WriteSeeker, bitDepth int, log *zap.SugaredLogger) *wavEngine {
	return &wavEngine{out: out, bitDepth: bitDepth, log: log}
}

func (e *wavEngine) SetBufferSize(nframes uint32) error {
	if nframes == 0 {
		return errors.New("zero buffer size")
	}

	e.bufferSize = nframes

	return nil
}

func (e *wavEngine) SetSampleRate(rate uint32) { e.rate = rate }

func (e *wavEngine) RegisterCapturePort(name string, latencyFrames uint32) (iio.Port, error) {
	if e.enc != nil {
		return nil, errors.New("cannot add ports once recording started")
	}

	p := &wavPort{name: name, latency: latencyFrames}
	e.ports = append(e.ports, p)
	e.log.Debugw("port registered", "port", name, "latency_frames", latencyFrames)

	return p, nil
}

func (e *wavEngine) UnregisterPort(p iio.Port) error {
	for i, q := range e.ports {
		if q == p {
			e.ports = append(e.ports[:i], e.ports[i+1:]...)

			return nil
		}
	}

	return fmt.Errorf("unknown port %s", p.Name())
}

// RunCycle appends nframes frames of every port to the WAV data.
func (e *wavEngine) RunCycle(nframes uint32, delayedUsecs float64) error {
	if len(e.ports) == 0 {
		return errors.New("no ports")
	}

	if e.enc == nil {
		e.enc = wav.NewEncoder(e.out, int(e.rate), e.bitDepth, len(e.ports), 1)
		e.buf = &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: len(e.ports), SampleRate: int(e.rate)},
			SourceBitDepth: e.bitDepth,
		}
	}

	n := int(nframes) * len(e.ports)
	if cap(e.buf.Data) < n {
		e.buf.Data = make([]int, n)
	}
	e.buf.Data = e.buf.Data[:n]

	full := float64(int64(1)<<(e.bitDepth-1) - 1)
	for c, p := range e.ports {
		src := p.Buffer(nframes)
		for i := 0; i < int(nframes); i++ {
			e.buf.Data[i*len(e.ports)+c] = toInt(src[i], full)
		}
	}

	if err := e.enc.Write(e.buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}

	e.frames += uint64(nframes)
	e.cycles++

	if delayedUsecs > 0 {
		e.log.Debugw("late cycle", "delayed_us", delayedUsecs)
	}

	return nil
}

func (e *wavEngine) Delay(delayedUsecs float64) {
	e.overrun++
	e.log.Warnw("overrun", "delayed_us", delayedUsecs, "count", e.overrun)
}

// Close finishes the WAV header. It does not close the output.
func (e *wavEngine) Close() error {
	if e.enc == nil {
		return nil
	}

	return e.enc.Close()
}

func toInt(v float32, full float64) int {
	s := math.Round(float64(v) * full)

	return int(max(-full-1, min(full, s)))
}
