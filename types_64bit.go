//go:build linux && (amd64 || arm64)

package iio

// sndPcmUframesT is snd_pcm_uframes_t (unsigned long).
type sndPcmUframesT = uint64

// sndPcmSframesT is snd_pcm_sframes_t (long).
type sndPcmSframesT = int64

// kernelTimespec is struct timespec as laid out by the kernel.
type kernelTimespec struct {
	Sec  int64
	Nsec int64
}

// sndXferi is struct snd_xferi for interleaved reads.
type sndXferi struct {
	Result int
	Buf    uintptr
	Frames sndPcmUframesT
}

// sndPcmHwParams mirrors struct snd_pcm_hw_params.
type sndPcmHwParams struct {
	Flags     uint32
	Masks     [3]sndMask
	Mres      [5]sndMask
	Intervals [12]sndInterval
	Ires      [9]sndInterval
	Rmask     uint32
	Cmask     uint32
	Info      uint32
	Msbits    uint32
	RateNum   uint32
	RateDen   uint32
	FifoSize  sndPcmUframesT
	Reserved  [64]byte
}

// sndPcmMmapStatus needs padding before AudioTstamp for 8-byte alignment.
type sndPcmMmapStatus struct {
	State          int32
	Pad1           int32
	HwPtr          sndPcmUframesT
	Tstamp         kernelTimespec
	SuspendedState int32
	_              [4]byte
	AudioTstamp    kernelTimespec
}

type sndPcmMmapControl struct {
	ApplPtr  sndPcmUframesT
	AvailMin sndPcmUframesT
}

// sndPcmSyncPtr mirrors struct snd_pcm_sync_ptr, both unions are 64 bytes.
type sndPcmSyncPtr struct {
	Flags uint32
	_     [4]byte
	S     struct {
		sndPcmMmapStatus
		_ [8]byte
	}
	C struct {
		sndPcmMmapControl
		_ [48]byte
	}
}

// sndPcmSwParams mirrors struct snd_pcm_sw_params.
type sndPcmSwParams struct {
	TstampMode       uint32
	PeriodStep       uint32
	SleepMin         uint32
	_                [4]byte
	AvailMin         sndPcmUframesT
	XferAlign        sndPcmUframesT
	StartThreshold   sndPcmUframesT
	StopThreshold    sndPcmUframesT
	SilenceThreshold sndPcmUframesT
	SilenceSize      sndPcmUframesT
	Boundary         sndPcmUframesT
	Reserved         [64]byte
}
