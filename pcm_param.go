package iio

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"syscall"
	"unsafe"
)

// PcmParams holds the hardware parameter space of a capture device.
type PcmParams struct {
	params *sndPcmHwParams
}

// PcmParamsGetRefined asks the kernel to narrow the full parameter space down to what the
// capture device at addr supports. The device is opened non-blocking and closed again.
func PcmParamsGetRefined(addr PcmAddress) (*PcmParams, error) {
	path := addr.path()

	file, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM device %s for query: %w", path, err)
	}
	defer file.Close()

	hwParams := &sndPcmHwParams{}
	paramInit(hwParams)

	if err := ioctl(file.Fd(), sndrvPcmIoctlHwRefine, uintptr(unsafe.Pointer(hwParams))); err != nil {
		return nil, fmt.Errorf("ioctl HW_REFINE failed: %w", err)
	}

	return &PcmParams{params: hwParams}, nil
}

func isIntervalParam(param PcmParam) bool {
	return param >= SNDRV_PCM_HW_PARAM_SAMPLE_BITS && param <= SNDRV_PCM_HW_PARAM_TICK_TIME
}

func isMaskParam(param PcmParam) bool {
	return param >= SNDRV_PCM_HW_PARAM_ACCESS && param <= SNDRV_PCM_HW_PARAM_SUBFORMAT
}

// RangeMin returns the minimum value for an interval parameter.
func (pp *PcmParams) RangeMin(param PcmParam) (uint32, error) {
	if pp == nil || pp.params == nil {
		return 0, fmt.Errorf("params not initialized")
	}

	if !isIntervalParam(param) {
		return 0, fmt.Errorf("parameter %d is not an interval type", param)
	}

	return pp.params.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS].MinVal, nil
}

// RangeMax returns the maximum value for an interval parameter.
func (pp *PcmParams) RangeMax(param PcmParam) (uint32, error) {
	if pp == nil || pp.params == nil {
		return 0, fmt.Errorf("params not initialized")
	}

	if !isIntervalParam(param) {
		return 0, fmt.Errorf("parameter %d is not an interval type", param)
	}

	return pp.params.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS].MaxVal, nil
}

// Mask returns the bitmask for a mask-type parameter.
func (pp *PcmParams) Mask(param PcmParam) (*PcmParamMask, error) {
	if pp == nil || pp.params == nil {
		return nil, fmt.Errorf("params not initialized")
	}

	if !isMaskParam(param) {
		return nil, fmt.Errorf("parameter %d is not a mask type", param)
	}

	return (*PcmParamMask)(unsafe.Pointer(&pp.params.Masks[param-SNDRV_PCM_HW_PARAM_ACCESS])), nil
}

// FormatIsSupported reports whether the device can capture in format.
func (pp *PcmParams) FormatIsSupported(format PcmFormat) bool {
	if format < 0 {
		return false
	}

	mask, err := pp.Mask(SNDRV_PCM_HW_PARAM_FORMAT)
	if err != nil {
		return false
	}

	return mask.Test(uint(format))
}

// String returns the capabilities that matter for capture, one per line.
func (pp *PcmParams) String() string {
	if pp == nil || pp.params == nil {
		return "<nil>"
	}

	var b strings.Builder

	b.WriteString("PCM capture capabilities:\n")

	if mask, err := pp.Mask(SNDRV_PCM_HW_PARAM_ACCESS); err == nil {
		var supported []string
		for i, n := range PcmParamAccessNames {
			if mask.Test(uint(i)) {
				supported = append(supported, n)
			}
		}

		if len(supported) > 0 {
			fmt.Fprintf(&b, "%12s: %s\n", "Access", strings.Join(supported, ", "))
		}
	}

	formats := make([]PcmFormat, 0, len(PcmParamFormatNames))
	for f := range PcmParamFormatNames {
		if pp.FormatIsSupported(f) {
			formats = append(formats, f)
		}
	}

	if len(formats) > 0 {
		slices.Sort(formats)

		names := make([]string, len(formats))
		for i, f := range formats {
			names[i] = f.String()
		}

		fmt.Fprintf(&b, "%12s: %s\n", "Format", strings.Join(names, ", "))
	}

	interval := func(name string, param PcmParam, unit string) {
		lo, errMin := pp.RangeMin(param)
		hi, errMax := pp.RangeMax(param)

		if errMin != nil || errMax != nil || hi == 0 || hi == ^uint32(0) {
			return
		}

		fmt.Fprintf(&b, "%12s: min=%-6d max=%-6d %s\n", name, lo, hi, unit)
	}

	interval("Rate", SNDRV_PCM_HW_PARAM_RATE, "Hz")
	interval("Channels", SNDRV_PCM_HW_PARAM_CHANNELS, "")
	interval("Sample bits", SNDRV_PCM_HW_PARAM_SAMPLE_BITS, "")
	interval("Period size", SNDRV_PCM_HW_PARAM_PERIOD_SIZE, "frames")
	interval("Periods", SNDRV_PCM_HW_PARAM_PERIODS, "")
	interval("Buffer size", SNDRV_PCM_HW_PARAM_BUFFER_SIZE, "frames")

	return b.String()
}

// paramInit opens every mask and interval to its full range.
func paramInit(p *sndPcmHwParams) {
	for n := range p.Masks {
		for i := range p.Masks[n].Bits {
			p.Masks[n].Bits[i] = ^uint32(0)
		}
	}

	for n := range p.Mres {
		for i := range p.Mres[n].Bits {
			p.Mres[n].Bits[i] = ^uint32(0)
		}
	}

	for n := range p.Intervals {
		p.Intervals[n] = sndInterval{MaxVal: ^uint32(0)}
	}

	for n := range p.Ires {
		p.Ires[n] = sndInterval{MaxVal: ^uint32(0)}
	}

	p.Rmask = ^uint32(0)
	p.Info = ^uint32(0)
}

func paramSetMask(p *sndPcmHwParams, param PcmParam, bit uint32) {
	if !isMaskParam(param) {
		return
	}

	mask := &p.Masks[param-SNDRV_PCM_HW_PARAM_ACCESS]
	clear(mask.Bits[:])

	if bit >= 256 {
		return
	}

	mask.Bits[bit>>5] |= 1 << (bit & 31)
}

func paramSetInt(p *sndPcmHwParams, param PcmParam, val uint32) {
	if !isIntervalParam(param) {
		return
	}

	interval := &p.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS]
	interval.MinVal = val
	interval.MaxVal = val
	interval.Flags = sndrvPcmIntervalInteger
}

func paramSetMin(p *sndPcmHwParams, param PcmParam, val uint32) {
	if !isIntervalParam(param) {
		return
	}

	p.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS].MinVal = val
}

// paramGetInt reads back a parameter the driver has narrowed to a single value.
func paramGetInt(p *sndPcmHwParams, param PcmParam) uint32 {
	if !isIntervalParam(param) {
		return 0
	}

	return p.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS].MinVal
}
