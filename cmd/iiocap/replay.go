package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/gen2brain/iio"
)

// sampleSource abstracts the decoded input of the replay device.
type sampleSource interface {
	// PCMBuffer reads interleaved samples into buf and returns the number of samples read.
	PCMBuffer(buf *audio.IntBuffer) (n int, err error)
	NumChans() uint16
	SampleRate() uint32
	BitDepth() uint16
}

type wavSource struct {
	*wav.Decoder
}

func newWavSource(r io.ReadSeeker) (sampleSource, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	if decoder.WavAudioFormat == 3 {
		return nil, errors.New("float WAV files are not supported")
	}

	return &wavSource{Decoder: decoder}, nil
}

func (w *wavSource) SampleRate() uint32 { return w.Decoder.SampleRate }
func (w *wavSource) NumChans() uint16   { return w.Decoder.NumChans }
func (w *wavSource) BitDepth() uint16   { return uint16(w.Decoder.BitDepth) }

// mp3Source decodes to 16-bit stereo.
type mp3Source struct {
	decoder    *mp3.Decoder
	sampleRate uint32
	scratch    []byte
}

func newMp3Source(r io.Reader) (sampleSource, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}

	return &mp3Source{decoder: decoder, sampleRate: uint32(decoder.SampleRate())}, nil
}

func (m *mp3Source) PCMBuffer(buf *audio.IntBuffer) (int, error) {
	want := len(buf.Data) * 2
	if cap(m.scratch) < want {
		m.scratch = make([]byte, want)
	}

	n, err := io.ReadFull(m.decoder, m.scratch[:want])
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}

	samples := n / 2
	for i := 0; i < samples; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(m.scratch[i*2:])))
	}

	return samples, err
}

func (m *mp3Source) SampleRate() uint32 { return m.sampleRate }
func (m *mp3Source) NumChans() uint16   { return 2 }
func (m *mp3Source) BitDepth() uint16   { return 16 }

// replayDevice is a CaptureDevice that plays a recorded file back as a single device.
// Frames arrive as fast as the driver asks for them, timing comes from the driver clock.
type replayDevice struct {
	path string
	loop bool

	file    *os.File
	src     sampleSource
	buf     *audio.IntBuffer
	periods uint32
	frames  uint32
	open    bool
	enabled bool
	eof     bool
}

// newReplayDevice opens path to read its format, the file stays open until Close.
func newReplayDevice(path string, loop bool) (*replayDevice, error) {
	d := &replayDevice{path: path, loop: loop}
	if err := d.rewind(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *replayDevice) rewind() error {
	if d.file != nil {
		_ = d.file.Close()
		d.file = nil
	}

	file, err := os.Open(d.path)
	if err != nil {
		return err
	}

	var src sampleSource
	if strings.EqualFold(filepath.Ext(d.path), ".mp3") {
		src, err = newMp3Source(file)
	} else {
		src, err = newWavSource(file)
	}

	if err != nil {
		_ = file.Close()

		return fmt.Errorf("%s: %w", d.path, err)
	}

	if src.NumChans() == 0 || src.BitDepth() == 0 {
		_ = file.Close()

		return fmt.Errorf("%s: no audio format", d.path)
	}

	d.file = file
	d.src = src
	d.eof = false

	return nil
}

func (d *replayDevice) Open(periods, periodFrames uint32) error {
	if d.open {
		return errors.New("replay device already open")
	}

	if d.file == nil {
		if err := d.rewind(); err != nil {
			return err
		}
	}

	d.periods = periods
	d.frames = periodFrames
	d.open = true

	return nil
}

func (d *replayDevice) Close() error {
	d.open = false
	d.enabled = false

	if d.file == nil {
		return nil
	}

	err := d.file.Close()
	d.file = nil

	return err
}

func (d *replayDevice) Enable(on bool) error {
	if !d.open {
		return errors.New("replay device not open")
	}

	d.enabled = on

	return nil
}

// Read decodes nframes frames into column 0. Past the end of a non-looping input it reads silence.
func (d *replayDevice) Read(nframes uint32, block *iio.RawBlock) error {
	if !d.enabled {
		return errors.New("replay device not enabled")
	}

	nframes = min(nframes, block.Frames())
	want := int(nframes * block.Channels())
	col := block.Column(0)

	if d.buf == nil {
		d.buf = &audio.IntBuffer{Format: &audio.Format{
			NumChannels: int(d.src.NumChans()),
			SampleRate:  int(d.src.SampleRate()),
		}}
	}

	got := 0
	rewound := false
	for got < want && !d.eof {
		if cap(d.buf.Data) < want-got {
			d.buf.Data = make([]int, want-got)
		}
		d.buf.Data = d.buf.Data[:want-got]

		n, err := d.src.PCMBuffer(d.buf)
		for i := 0; i < n; i++ {
			col[got+i] = int32(d.buf.Data[i])
		}
		got += n

		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: %w", d.path, err)
		}

		if n > 0 {
			rewound = false
		}

		if n == 0 || errors.Is(err, io.EOF) {
			// An input without samples would loop forever.
			if !d.loop || (rewound && n == 0) {
				d.eof = true

				break
			}

			if err := d.rewind(); err != nil {
				return err
			}
			rewound = true
		}
	}

	clear(col[got:want])

	return nil
}

func (d *replayDevice) ResizeMappedRegions(periods, periodFrames uint32) error {
	if !d.open {
		return errors.New("replay device not open")
	}

	d.periods = periods
	d.frames = periodFrames

	return nil
}

func (d *replayDevice) ChannelsPerDevice() uint32 { return uint32(d.src.NumChans()) }
func (d *replayDevice) DeviceCount() uint32       { return 1 }

func (d *replayDevice) MaxBufferedDuration(rate uint32) float64 {
	if rate == 0 {
		return 0
	}

	return float64(d.periods) * float64(d.frames) / float64(rate)
}

func (d *replayDevice) SampleScale() float32 {
	return 1 / float32(uint64(1)<<(d.src.BitDepth()-1))
}

// SampleRate returns the rate of the input file.
func (d *replayDevice) SampleRate() uint32 { return d.src.SampleRate() }
