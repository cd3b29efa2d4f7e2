package iio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ALSAConfig selects and configures the capture PCMs behind an ALSADevice.
type ALSAConfig struct {
	// Chip is a card name, part of a card description, or a list of hw:C,D addresses.
	Chip string
	// Channels per PCM, 0 for the hardware maximum.
	Channels uint32
	// Rate in Hz.
	Rate uint32
	// Format of the raw samples, S16_LE when unset.
	Format PcmFormat
	// MMap reads through the mapped ring buffer.
	MMap bool
}

// ALSADevice is a CaptureDevice made of one or more hardware capture PCMs.
// Every PCM is one concatenated device and fills one block column.
type ALSADevice struct {
	cfg   ALSAConfig
	log   *zap.Logger
	cards func() ([]SoundCard, error)

	addrs    []PcmAddress
	pcms     []*PCM
	scratch  []byte
	channels uint32
	enabled  bool
}

// NewALSADevice returns a device for cfg. Devices are looked up when it is opened.
func NewALSADevice(cfg ALSAConfig, log *zap.Logger) *ALSADevice {
	if log == nil {
		log = zap.NewNop()
	}

	if cfg.Format == 0 {
		cfg.Format = SNDRV_PCM_FORMAT_S16_LE
	}

	return &ALSADevice{
		cfg:      cfg,
		log:      log,
		cards:    EnumerateCards,
		channels: cfg.Channels,
	}
}

// Open resolves the chip selector and opens every matching capture PCM with the same geometry.
func (d *ALSADevice) Open(periods, periodFrames uint32) (err error) {
	if len(d.pcms) > 0 {
		return errors.New("alsa device already open")
	}

	if PcmFormatToBits(d.cfg.Format) == 0 {
		return fmt.Errorf("unsupported sample format %s", d.cfg.Format)
	}

	addrs, err := d.resolve()
	if err != nil {
		return err
	}

	channels := d.cfg.Channels
	if channels == 0 {
		params, err := PcmParamsGetRefined(addrs[0])
		if err != nil {
			return err
		}

		if channels, err = params.RangeMax(SNDRV_PCM_HW_PARAM_CHANNELS); err != nil {
			return err
		}
	}

	flags := PCM_MONOTONIC
	if d.cfg.MMap {
		flags |= PCM_MMAP
	}

	defer func() {
		if err != nil {
			_ = d.closeAll()
		}
	}()

	for _, addr := range addrs {
		pcm, err := PcmOpen(addr, flags, &PcmConfig{
			Channels:    channels,
			Rate:        d.cfg.Rate,
			PeriodSize:  periodFrames,
			PeriodCount: periods,
			Format:      d.cfg.Format,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", addr, err)
		}

		d.pcms = append(d.pcms, pcm)

		if pcm.Channels() != channels {
			return fmt.Errorf("%s: got %d channels, want %d", addr, pcm.Channels(), channels)
		}
	}

	d.addrs = addrs
	d.channels = channels
	d.allocScratch()

	d.log.Debug("alsa device opened",
		zap.Stringers("pcms", addrs),
		zap.Uint32("channels", channels),
		zap.Uint32("buffer_frames", d.pcms[0].BufferSize()),
		zap.Duration("buffer_time", d.pcms[0].BufferTime()),
		zap.Stringer("format", d.cfg.Format))

	return nil
}

func (d *ALSADevice) resolve() ([]PcmAddress, error) {
	var cards []SoundCard

	// An explicit address list needs no enumeration.
	if !strings.HasPrefix(strings.TrimSpace(d.cfg.Chip), "hw:") {
		var err error
		if cards, err = d.cards(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
		}
	}

	return FindCaptureDevices(d.cfg.Chip, cards)
}

func (d *ALSADevice) allocScratch() {
	size := 0
	for _, pcm := range d.pcms {
		size = max(size, int(pcm.BufferSize()*pcm.FrameSize()))
	}

	if cap(d.scratch) < size {
		d.scratch = make([]byte, size)
	}

	d.scratch = d.scratch[:size]
}

// Close closes every PCM.
func (d *ALSADevice) Close() error {
	return d.closeAll()
}

func (d *ALSADevice) closeAll() error {
	var errs []error
	for _, pcm := range d.pcms {
		if err := pcm.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", pcm.Address(), err))
		}
	}

	d.pcms = nil
	d.enabled = false

	return errors.Join(errs...)
}

// Enable starts or stops every PCM.
func (d *ALSADevice) Enable(on bool) error {
	if len(d.pcms) == 0 {
		return errors.New("alsa device not open")
	}

	for _, pcm := range d.pcms {
		var err error
		if on {
			err = pcm.Start()
		} else {
			err = pcm.Stop()
		}

		if err != nil {
			return fmt.Errorf("%s: %w", pcm.Address(), err)
		}
	}

	d.enabled = on

	return nil
}

// Read reads nframes frames from every PCM into its block column.
func (d *ALSADevice) Read(nframes uint32, block *RawBlock) error {
	nframes = min(nframes, block.Frames())

	for i, pcm := range d.pcms {
		if uint32(i) >= block.Columns() {
			break
		}

		frameSize := pcm.FrameSize()
		buf := d.scratch[:min(int(nframes*frameSize), len(d.scratch))]

		var frames uint32
		if d.cfg.MMap {
			n, err := pcm.MmapRead(buf)
			if err != nil {
				return fmt.Errorf("%s: %w", pcm.Address(), err)
			}

			frames = uint32(n) / frameSize
		} else {
			n, err := pcm.Read(buf)
			if err != nil {
				return fmt.Errorf("%s: %w", pcm.Address(), err)
			}

			frames = uint32(n)
		}

		col := block.Column(uint32(i))
		decoded := DecodeSamples(col, buf[:frames*frameSize], pcm.Format())
		if end := min(len(col), int(nframes*block.Channels())); decoded < end {
			clear(col[decoded:end])
		}
	}

	return nil
}

// ResizeMappedRegions reconfigures every PCM for the new geometry and restarts capture if it was enabled.
func (d *ALSADevice) ResizeMappedRegions(periods, periodFrames uint32) error {
	if len(d.pcms) == 0 {
		return errors.New("alsa device not open")
	}

	for _, pcm := range d.pcms {
		if err := pcm.Reconfigure(periodFrames, periods); err != nil {
			return fmt.Errorf("%s: %w", pcm.Address(), err)
		}

		if pcm.PeriodSize() != periodFrames {
			return fmt.Errorf("%s: hardware chose a period of %d frames, want %d", pcm.Address(), pcm.PeriodSize(), periodFrames)
		}
	}

	d.allocScratch()

	if d.enabled {
		return d.Enable(true)
	}

	return nil
}

// ChannelsPerDevice returns the channel count of each PCM.
func (d *ALSADevice) ChannelsPerDevice() uint32 { return d.channels }

// DeviceCount returns the number of open PCMs.
func (d *ALSADevice) DeviceCount() uint32 { return uint32(len(d.pcms)) }

// MaxBufferedDuration returns the shortest PCM buffer, in seconds at rate.
func (d *ALSADevice) MaxBufferedDuration(rate uint32) float64 {
	if rate == 0 || len(d.pcms) == 0 {
		return 0
	}

	frames := d.pcms[0].BufferSize()
	for _, pcm := range d.pcms[1:] {
		frames = min(frames, pcm.BufferSize())
	}

	return float64(frames) / float64(rate)
}

// SampleScale maps full scale of the configured format to [-1, 1).
func (d *ALSADevice) SampleScale() float32 {
	bits := PcmFormatSignificantBits(d.cfg.Format)
	if bits == 0 {
		return 1
	}

	return 1 / float32(uint64(1)<<(bits-1))
}

// Xruns returns the hardware overruns recovered by all PCMs.
func (d *ALSADevice) Xruns() int {
	n := 0
	for _, pcm := range d.pcms {
		n += pcm.Xruns()
	}

	return n
}

// Addresses returns the PCMs the device was opened on.
func (d *ALSADevice) Addresses() []PcmAddress {
	return d.addrs
}

// DecodeSamples converts little-endian samples in src to sign-extended int32 values in dst.
// It decodes as many whole samples as fit in both and returns that count.
func DecodeSamples(dst []int32, src []byte, format PcmFormat) int {
	width := int(PcmFormatToBits(format) / 8)
	if width == 0 {
		return 0
	}

	n := min(len(dst), len(src)/width)

	switch format {
	case SNDRV_PCM_FORMAT_S16_LE:
		for i := 0; i < n; i++ {
			dst[i] = int32(int16(binary.LittleEndian.Uint16(src[i*2:])))
		}
	case SNDRV_PCM_FORMAT_S24_LE:
		for i := 0; i < n; i++ {
			dst[i] = int32(binary.LittleEndian.Uint32(src[i*4:])<<8) >> 8
		}
	case SNDRV_PCM_FORMAT_S24_3LE:
		for i := 0; i < n; i++ {
			b := src[i*3:]
			dst[i] = int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
		}
	case SNDRV_PCM_FORMAT_S32_LE:
		for i := 0; i < n; i++ {
			dst[i] = int32(binary.LittleEndian.Uint32(src[i*4:]))
		}
	default:
		return 0
	}

	return n
}
