//go:build linux && (386 || arm)

package iio

// sndPcmUframesT is snd_pcm_uframes_t, 32 bits wide here.
type sndPcmUframesT = uint32

// sndPcmSframesT is snd_pcm_sframes_t, 32 bits wide here.
type sndPcmSframesT = int32

// kernelTimespec is the 32-bit time_t timespec of the classic ABI.
type kernelTimespec struct {
	Sec  int32
	Nsec int32
}

type sndXferi struct {
	Result int
	Buf    uintptr
	Frames sndPcmUframesT
}

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

// Every field is 4-byte aligned, no padding.
type sndPcmMmapStatus struct {
	State          int32
	Pad1           int32
	HwPtr          sndPcmUframesT
	Tstamp         kernelTimespec
	SuspendedState int32
	AudioTstamp    kernelTimespec
}

type sndPcmMmapControl struct {
	ApplPtr  sndPcmUframesT
	AvailMin sndPcmUframesT
}

type sndPcmSyncPtr struct {
	Flags uint32
	S     struct {
		sndPcmMmapStatus
		_ [32]byte
	}
	C struct {
		sndPcmMmapControl
		_ [56]byte
	}
}

type sndPcmSwParams struct {
	TstampMode       uint32
	PeriodStep       uint32
	SleepMin         uint32
	AvailMin         sndPcmUframesT
	XferAlign        sndPcmUframesT
	StartThreshold   sndPcmUframesT
	StopThreshold    sndPcmUframesT
	SilenceThreshold sndPcmUframesT
	SilenceSize      sndPcmUframesT
	Boundary         sndPcmUframesT
	Reserved         [64]byte
}
