// Package iio captures fixed-size periodic cycles from ALSA/IIO capture hardware and delivers them,
// one buffer per channel, to a host processing engine.
//
// The cycle scheduler tolerates OS scheduling jitter up to the hardware buffer depth and reports
// an overrun past it. Period size changes are negotiated against the device buffer and rolled back
// atomically when any step fails. The ALSA layer talks to /dev/snd directly through ioctl and mmap,
// it does not use alsa-lib.
package iio

import (
	"fmt"
	"strings"
)

// PcmFormat is a sample format, one of the SNDRV_PCM_FORMAT_* kernel values.
type PcmFormat int32

// Capture formats the driver can decode.
const (
	SNDRV_PCM_FORMAT_INVALID PcmFormat = -1
	SNDRV_PCM_FORMAT_S16_LE  PcmFormat = 2
	SNDRV_PCM_FORMAT_S24_LE  PcmFormat = 6
	SNDRV_PCM_FORMAT_S32_LE  PcmFormat = 10
	SNDRV_PCM_FORMAT_S24_3LE PcmFormat = 32
)

// PcmState is the state of a PCM stream (SNDRV_PCM_STATE_*).
type PcmState int32

const (
	SNDRV_PCM_STATE_OPEN         PcmState = 0
	SNDRV_PCM_STATE_SETUP        PcmState = 1
	SNDRV_PCM_STATE_PREPARED     PcmState = 2
	SNDRV_PCM_STATE_RUNNING      PcmState = 3
	SNDRV_PCM_STATE_XRUN         PcmState = 4
	SNDRV_PCM_STATE_DRAINING     PcmState = 5
	SNDRV_PCM_STATE_PAUSED       PcmState = 6
	SNDRV_PCM_STATE_SUSPENDED    PcmState = 7
	SNDRV_PCM_STATE_DISCONNECTED PcmState = 8
)

// PcmFlag modifies how a capture PCM is opened.
type PcmFlag uint32

const (
	// PCM_MMAP reads through the memory-mapped ring buffer instead of READI ioctls.
	PCM_MMAP PcmFlag = 0x00000001
	// PCM_MONOTONIC requests CLOCK_MONOTONIC stream timestamps.
	PCM_MONOTONIC PcmFlag = 0x00000004
	// PCM_NONBLOCK makes reads return EAGAIN instead of blocking.
	PCM_NONBLOCK PcmFlag = 0x00000010
)

// snd_interval.flags bits.
const (
	sndrvPcmIntervalOpenMin = 1 << 0
	sndrvPcmIntervalOpenMax = 1 << 1
	sndrvPcmIntervalInteger = 1 << 2
	sndrvPcmIntervalEmpty   = 1 << 3
)

// mmap offsets of the status and control pages.
const (
	sndrvPcmMmapOffsetStatus  = 0x80000000
	sndrvPcmMmapOffsetControl = 0x81000000
)

const (
	sndrvPcmSyncPtrHwsync   = 1 << 0
	sndrvPcmSyncPtrAppl     = 1 << 1
	sndrvPcmSyncPtrAvailMin = 1 << 2
)

const (
	SNDRV_PCM_ACCESS_MMAP_INTERLEAVED    = 0
	SNDRV_PCM_ACCESS_MMAP_NONINTERLEAVED = 1
	SNDRV_PCM_ACCESS_MMAP_COMPLEX        = 2
	SNDRV_PCM_ACCESS_RW_INTERLEAVED      = 3
	SNDRV_PCM_ACCESS_RW_NONINTERLEAVED   = 4
)

// PcmParam identifies a hardware parameter (SNDRV_PCM_HW_PARAM_*).
// The first three are masks, the rest are intervals.
type PcmParam int

const (
	SNDRV_PCM_HW_PARAM_ACCESS       PcmParam = 0
	SNDRV_PCM_HW_PARAM_FORMAT       PcmParam = 1
	SNDRV_PCM_HW_PARAM_SUBFORMAT    PcmParam = 2
	SNDRV_PCM_HW_PARAM_SAMPLE_BITS  PcmParam = 8
	SNDRV_PCM_HW_PARAM_FRAME_BITS   PcmParam = 9
	SNDRV_PCM_HW_PARAM_CHANNELS     PcmParam = 10
	SNDRV_PCM_HW_PARAM_RATE         PcmParam = 11
	SNDRV_PCM_HW_PARAM_PERIOD_TIME  PcmParam = 12
	SNDRV_PCM_HW_PARAM_PERIOD_SIZE  PcmParam = 13
	SNDRV_PCM_HW_PARAM_PERIOD_BYTES PcmParam = 14
	SNDRV_PCM_HW_PARAM_PERIODS      PcmParam = 15
	SNDRV_PCM_HW_PARAM_BUFFER_TIME  PcmParam = 16
	SNDRV_PCM_HW_PARAM_BUFFER_SIZE  PcmParam = 17
	SNDRV_PCM_HW_PARAM_BUFFER_BYTES PcmParam = 18
	SNDRV_PCM_HW_PARAM_TICK_TIME    PcmParam = 19
)

// PcmParamMask is the bitmask of a mask-type hardware parameter.
type PcmParamMask struct {
	bits [8]uint32
}

// Test reports whether bit is set.
func (m *PcmParamMask) Test(bit uint) bool {
	if bit >= 256 {
		return false
	}

	return m.bits[bit>>5]&(1<<(bit&31)) != 0
}

// PcmParamAccessNames is indexed by SNDRV_PCM_ACCESS_* value.
var PcmParamAccessNames = []string{
	"MMAP_INTERLEAVED",
	"MMAP_NONINTERLEAVED",
	"MMAP_COMPLEX",
	"RW_INTERLEAVED",
	"RW_NONINTERLEAVED",
}

// PcmParamFormatNames names the capture formats.
var PcmParamFormatNames = map[PcmFormat]string{
	SNDRV_PCM_FORMAT_S16_LE:  "S16_LE",
	SNDRV_PCM_FORMAT_S24_LE:  "S24_LE",
	SNDRV_PCM_FORMAT_S32_LE:  "S32_LE",
	SNDRV_PCM_FORMAT_S24_3LE: "S24_3LE",
}

// String returns the ALSA name of the format.
func (f PcmFormat) String() string {
	if name, ok := PcmParamFormatNames[f]; ok {
		return name
	}

	return fmt.Sprintf("PcmFormat(%d)", int32(f))
}

// ParsePcmFormat returns the format named name, e.g. "S16_LE". Matching is case-insensitive.
func ParsePcmFormat(name string) (PcmFormat, error) {
	for f, n := range PcmParamFormatNames {
		if strings.EqualFold(n, name) {
			return f, nil
		}
	}

	return SNDRV_PCM_FORMAT_INVALID, fmt.Errorf("unsupported sample format %q", name)
}

// PcmFormatToBits returns the storage width of one sample in bits.
// S24_LE lives in a 32-bit container and returns 32.
func PcmFormatToBits(f PcmFormat) uint32 {
	switch f {
	case SNDRV_PCM_FORMAT_S32_LE, SNDRV_PCM_FORMAT_S24_LE:
		return 32
	case SNDRV_PCM_FORMAT_S24_3LE:
		return 24
	case SNDRV_PCM_FORMAT_S16_LE:
		return 16
	default:
		return 0
	}
}

// PcmFormatSignificantBits returns the number of significant bits of one sample.
func PcmFormatSignificantBits(f PcmFormat) uint32 {
	switch f {
	case SNDRV_PCM_FORMAT_S24_LE, SNDRV_PCM_FORMAT_S24_3LE:
		return 24
	default:
		return PcmFormatToBits(f)
	}
}
