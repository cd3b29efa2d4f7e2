package iio

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PcmConfig holds the hardware and software parameters of a capture stream.
type PcmConfig struct {
	Channels       uint32
	Rate           uint32
	PeriodSize     uint32
	PeriodCount    uint32
	Format         PcmFormat
	StartThreshold uint32
	StopThreshold  uint32
	AvailMin       uint32
}

// PcmAddress names a hardware PCM, "hw:Card,Device".
type PcmAddress struct {
	Card   uint
	Device uint
}

// String returns the address in hw:C,D form.
func (a PcmAddress) String() string {
	return fmt.Sprintf("hw:%d,%d", a.Card, a.Device)
}

// path returns the capture device node.
func (a PcmAddress) path() string {
	return fmt.Sprintf("/dev/snd/pcmC%dD%dc", a.Card, a.Device)
}

// ParsePcmAddress parses a name in the format "hw:C,D".
func ParsePcmAddress(name string) (PcmAddress, error) {
	if !strings.HasPrefix(name, "hw:") {
		return PcmAddress{}, fmt.Errorf("invalid PCM name %q: missing 'hw:' prefix", name)
	}

	parts := strings.Split(strings.TrimPrefix(name, "hw:"), ",")
	if len(parts) != 2 {
		return PcmAddress{}, fmt.Errorf("invalid PCM name %q: expected 'hw:card,device'", name)
	}

	card, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return PcmAddress{}, fmt.Errorf("invalid card number '%s': %w", parts[0], err)
	}

	device, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return PcmAddress{}, fmt.Errorf("invalid device number '%s': %w", parts[1], err)
	}

	return PcmAddress{Card: uint(card), Device: uint(device)}, nil
}

// PCM is an open ALSA capture stream.
type PCM struct {
	file        *os.File
	addr        PcmAddress
	config      PcmConfig
	flags       PcmFlag
	bufferSize  uint32 // In frames
	subdevice   uint32
	mmapBuffer  []byte
	mmapStatus  *sndPcmMmapStatus
	mmapControl *sndPcmMmapControl
	syncPointer *sndPcmSyncPtr // SYNC_PTR fallback when the status/control pages cannot be mapped
	isMmapped   bool
	boundary    sndPcmUframesT
	xruns       int
}

// PcmOpen opens the capture PCM at addr and configures it.
// Only direct hardware devices (/dev/snd/pcmC*D*c) are supported, not alsa-lib plugins.
func PcmOpen(addr PcmAddress, flags PcmFlag, config *PcmConfig) (*PCM, error) {
	path := addr.path()

	// Open non-blocking so a busy device does not hang us, then clear the flag if blocking I/O was requested.
	file, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM device %s: %w", path, err)
	}

	if (flags & PCM_NONBLOCK) == 0 {
		currentFlags, err := unix.FcntlInt(file.Fd(), unix.F_GETFL, 0)
		if err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("fcntl F_GETFL for %s failed: %w", path, err)
		}
		if _, err = unix.FcntlInt(file.Fd(), unix.F_SETFL, currentFlags&^syscall.O_NONBLOCK); err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("failed to set blocking mode on %s: %w", path, err)
		}
	}

	var info sndPcmInfo
	if err := ioctl(file.Fd(), sndrvPcmIoctlInfo, uintptr(unsafe.Pointer(&info))); err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("ioctl INFO failed: %w", err)
	}

	pcm := &PCM{
		file:      file,
		addr:      addr,
		flags:     flags,
		subdevice: info.Subdevice,
	}

	if err := pcm.SetConfig(config); err != nil {
		_ = pcm.Close()

		return nil, fmt.Errorf("failed to set PCM config: %w", err)
	}

	pcm.mapStatusAndControl()

	if (flags & PCM_MONOTONIC) != 0 {
		// SNDRV_PCM_TSTAMP_TYPE_MONOTONIC
		var arg int32 = 1
		if err := ioctl(pcm.file.Fd(), sndrvPcmIoctlTtstamp, uintptr(unsafe.Pointer(&arg))); err != nil {
			_ = pcm.Close()

			return nil, fmt.Errorf("ioctl TTSTAMP failed: %w", err)
		}
	}

	return pcm, nil
}

// IsReady checks if the PCM handle is valid.
func (p *PCM) IsReady() bool {
	return p != nil && p.file != nil
}

// Close stops the stream and releases the device.
func (p *PCM) Close() error {
	if !p.IsReady() {
		return nil
	}

	_ = p.Stop()

	p.unmapStatusAndControl()
	p.unmapBuffer()

	err := p.file.Close()
	p.bufferSize = 0
	p.file = nil

	return err
}

// Address returns the hardware address of the stream.
func (p *PCM) Address() PcmAddress { return p.addr }

// Config returns the parameters as refined by the driver.
func (p *PCM) Config() PcmConfig { return p.config }

// BufferSize returns the ring buffer size in frames.
func (p *PCM) BufferSize() uint32 { return p.bufferSize }

// PeriodSize returns the number of frames per period.
func (p *PCM) PeriodSize() uint32 { return p.config.PeriodSize }

// PeriodCount returns the number of periods in the buffer.
func (p *PCM) PeriodCount() uint32 { return p.config.PeriodCount }

// Channels returns the number of interleaved channels.
func (p *PCM) Channels() uint32 { return p.config.Channels }

// Rate returns the sample rate in Hz.
func (p *PCM) Rate() uint32 { return p.config.Rate }

// Format returns the sample format.
func (p *PCM) Format() PcmFormat { return p.config.Format }

// Subdevice returns the subdevice the kernel assigned.
func (p *PCM) Subdevice() uint32 { return p.subdevice }

// Xruns returns the number of hardware overruns seen by reads.
func (p *PCM) Xruns() int { return p.xruns }

// FrameSize returns the size of one frame in bytes.
func (p *PCM) FrameSize() uint32 {
	return p.config.Channels * (PcmFormatToBits(p.config.Format) / 8)
}

// BufferTime returns the duration the ring buffer holds.
func (p *PCM) BufferTime() time.Duration {
	if p.config.Rate == 0 {
		return 0
	}

	return time.Duration(float64(p.bufferSize) * 1e9 / float64(p.config.Rate))
}

// SetConfig installs hardware and software parameters. The stream must not be running.
func (p *PCM) SetConfig(config *PcmConfig) error {
	if config == nil {
		return fmt.Errorf("PCM config is required")
	}

	if PcmFormatToBits(config.Format) == 0 {
		return fmt.Errorf("unsupported sample format %v", config.Format)
	}

	p.config = *config

	hwParams := &sndPcmHwParams{}
	paramInit(hwParams)

	paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_FORMAT, uint32(config.Format))
	paramSetMin(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE, config.PeriodSize)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS, config.Channels)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIODS, config.PeriodCount)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_RATE, config.Rate)

	if (p.flags & PCM_MMAP) != 0 {
		paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_ACCESS, SNDRV_PCM_ACCESS_MMAP_INTERLEAVED)
	} else {
		paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_ACCESS, SNDRV_PCM_ACCESS_RW_INTERLEAVED)
	}

	if err := ioctl(p.file.Fd(), sndrvPcmIoctlHwParams, uintptr(unsafe.Pointer(hwParams))); err != nil {
		return fmt.Errorf("ioctl HW_PARAMS failed: %w", err)
	}

	p.config.PeriodSize = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE)
	p.config.PeriodCount = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIODS)
	p.config.Channels = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS)
	p.config.Rate = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_RATE)
	p.bufferSize = p.config.PeriodSize * p.config.PeriodCount

	if p.config.Channels == 0 || p.config.Rate == 0 || p.config.PeriodSize == 0 || p.config.PeriodCount == 0 {
		return fmt.Errorf("driver finalized invalid PCM configuration (Channels=%d, Rate=%d, PeriodSize=%d, PeriodCount=%d)",
			p.config.Channels, p.config.Rate, p.config.PeriodSize, p.config.PeriodCount)
	}

	if (p.flags & PCM_MMAP) != 0 {
		mmapLen := int(p.bufferSize * p.FrameSize())

		buf, err := unix.Mmap(int(p.file.Fd()), 0, mmapLen, unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("mmap data buffer failed: %w", err)
		}

		p.mmapBuffer = buf
	}

	swParams := &sndPcmSwParams{}
	swParams.TstampMode = 1 // SNDRV_PCM_TSTAMP_ENABLE
	swParams.PeriodStep = 1

	if config.AvailMin == 0 {
		p.config.AvailMin = p.config.PeriodSize
	}
	swParams.AvailMin = sndPcmUframesT(p.config.AvailMin)

	// Capture starts on the first read unless told otherwise.
	if config.StartThreshold == 0 {
		p.config.StartThreshold = 1
	}
	swParams.StartThreshold = sndPcmUframesT(p.config.StartThreshold)

	// A full ring buffer is an overrun.
	if config.StopThreshold == 0 {
		p.config.StopThreshold = p.bufferSize
	}
	swParams.StopThreshold = sndPcmUframesT(p.config.StopThreshold)

	swParams.XferAlign = sndPcmUframesT(p.config.PeriodSize / 2) // Needed for old kernels

	if err := ioctl(p.file.Fd(), sndrvPcmIoctlSwParams, uintptr(unsafe.Pointer(swParams))); err != nil {
		p.unmapBuffer()

		return fmt.Errorf("ioctl SW_PARAMS failed: %w", err)
	}

	p.boundary = swParams.Boundary

	return nil
}

// Reconfigure drops the stream, frees the hardware parameters and installs a new period geometry.
// On error the stream has no valid setup until Reconfigure succeeds again.
func (p *PCM) Reconfigure(periodSize, periodCount uint32) error {
	if !p.IsReady() {
		return fmt.Errorf("PCM handle is not valid")
	}

	_ = p.Stop()
	p.unmapBuffer()

	if err := ioctl(p.file.Fd(), sndrvPcmIoctlHwFree, 0); err != nil {
		return fmt.Errorf("ioctl HW_FREE failed: %w", err)
	}

	config := p.config
	config.PeriodSize = periodSize
	config.PeriodCount = periodCount
	config.AvailMin = 0
	config.StopThreshold = 0

	return p.SetConfig(&config)
}

// Prepare readies the stream for I/O, also used to recover from an overrun.
func (p *PCM) Prepare() error {
	if err := ioctl(p.file.Fd(), sndrvPcmIoctlPrepare, 0); err != nil {
		return fmt.Errorf("ioctl PREPARE failed: %w", err)
	}

	return p.syncPtr(sndrvPcmSyncPtrAppl | sndrvPcmSyncPtrAvailMin)
}

// Start prepares the stream if needed and starts capture.
func (p *PCM) Start() error {
	if p.State() == SNDRV_PCM_STATE_SETUP {
		if err := p.Prepare(); err != nil {
			return err
		}
	}

	if err := p.syncPtr(0); err != nil {
		return err
	}

	if p.mmapStatus.State != int32(SNDRV_PCM_STATE_RUNNING) {
		if err := ioctl(p.file.Fd(), sndrvPcmIoctlStart, 0); err != nil {
			return fmt.Errorf("ioctl START failed: %w", err)
		}
	}

	return nil
}

// Stop stops capture and drops buffered frames.
func (p *PCM) Stop() error {
	if err := ioctl(p.file.Fd(), sndrvPcmIoctlDrop, 0); err != nil {
		return fmt.Errorf("ioctl DROP failed: %w", err)
	}

	return nil
}

// Wait waits for the stream to have a period ready or until timeoutMs elapses.
// It returns false on timeout.
func (p *PCM) Wait(timeoutMs int) (bool, error) {
	if !p.IsReady() {
		return false, fmt.Errorf("PCM handle not ready")
	}

	pfd := []unix.PollFd{
		{
			Fd:     int32(p.file.Fd()),
			Events: unix.POLLIN | unix.POLLERR | unix.POLLNVAL,
		},
	}

	var n int
	var err error

	for {
		n, err = unix.Poll(pfd, timeoutMs)
		if !errors.Is(err, syscall.EINTR) {
			break
		}
	}

	if err != nil {
		return false, err
	}

	if n == 0 {
		return false, nil
	}

	if (pfd[0].Revents & (unix.POLLERR | unix.POLLNVAL)) != 0 {
		switch p.State() {
		case SNDRV_PCM_STATE_XRUN:
			return false, fmt.Errorf("stream xrun: %w", syscall.EPIPE)
		case SNDRV_PCM_STATE_SUSPENDED:
			return false, fmt.Errorf("stream suspended: %w", syscall.ESTRPIPE)
		case SNDRV_PCM_STATE_DISCONNECTED:
			return false, fmt.Errorf("device disconnected: %w", syscall.ENODEV)
		default:
			return false, fmt.Errorf("input/output error: %w", syscall.EIO)
		}
	}

	return true, nil
}

// State returns the current state of the stream.
func (p *PCM) State() PcmState {
	if err := p.syncPtr(sndrvPcmSyncPtrHwsync); err != nil {
		return SNDRV_PCM_STATE_DISCONNECTED
	}

	return PcmState(atomic.LoadInt32(&p.mmapStatus.State))
}

// xrunRecover counts an overrun and prepares the stream again. Other errors are returned as is.
func (p *PCM) xrunRecover(err error) error {
	if !errors.Is(err, syscall.EPIPE) && !errors.Is(err, unix.ESTRPIPE) {
		return err
	}

	if errors.Is(err, syscall.EPIPE) {
		p.xruns++
	}

	if prepErr := p.Prepare(); prepErr != nil {
		return fmt.Errorf("recovery failed: could not prepare stream: %w", prepErr)
	}

	return nil
}

// mapStatusAndControl maps the kernel status and control pages.
// When that is not possible it falls back to the SYNC_PTR ioctl on a local copy.
func (p *PCM) mapStatusAndControl() {
	pageSize := os.Getpagesize()
	p.syncPointer = &sndPcmSyncPtr{}

	statusBuf, err := unix.Mmap(int(p.file.Fd()), sndrvPcmMmapOffsetStatus, pageSize, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		var controlBuf []byte
		controlBuf, err = unix.Mmap(int(p.file.Fd()), sndrvPcmMmapOffsetControl, pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			_ = unix.Munmap(statusBuf)
		} else {
			p.mmapStatus = (*sndPcmMmapStatus)(unsafe.Pointer(&statusBuf[0]))
			p.mmapControl = (*sndPcmMmapControl)(unsafe.Pointer(&controlBuf[0]))
			p.isMmapped = true
		}
	}

	if !p.isMmapped {
		p.mmapStatus = &p.syncPointer.S.sndPcmMmapStatus
		p.mmapControl = &p.syncPointer.C.sndPcmMmapControl
	}

	storeUframes(&p.mmapControl.AvailMin, sndPcmUframesT(p.config.AvailMin))
}

func (p *PCM) unmapStatusAndControl() {
	if p.isMmapped {
		pageSize := os.Getpagesize()
		_ = unix.Munmap(unsafe.Slice((*byte)(unsafe.Pointer(p.mmapStatus)), pageSize))
		_ = unix.Munmap(unsafe.Slice((*byte)(unsafe.Pointer(p.mmapControl)), pageSize))
		p.isMmapped = false
	}

	p.syncPointer = nil
	p.mmapStatus = nil
	p.mmapControl = nil
}

func (p *PCM) unmapBuffer() {
	if p.mmapBuffer != nil {
		_ = unix.Munmap(p.mmapBuffer)
		p.mmapBuffer = nil
	}
}

// syncPtr synchronizes the application and hardware pointers with the kernel.
func (p *PCM) syncPtr(flags uint32) error {
	if p.syncPointer == nil {
		return fmt.Errorf("sync pointer not initialized")
	}

	// Without the APPL flag the kernel takes appl_ptr from our copy, which is how the fallback commits.
	if !p.isMmapped || (flags&sndrvPcmSyncPtrAppl) != 0 {
		p.syncPointer.Flags = flags

		return ioctl(p.file.Fd(), sndrvPcmIoctlSyncPtr, uintptr(unsafe.Pointer(p.syncPointer)))
	}

	if (flags & sndrvPcmSyncPtrHwsync) != 0 {
		return ioctl(p.file.Fd(), sndrvPcmIoctlHwsync, 0)
	}

	return nil
}

func loadUframes(v *sndPcmUframesT) sndPcmUframesT {
	if unsafe.Sizeof(*v) == 8 {
		return sndPcmUframesT(atomic.LoadUint64((*uint64)(unsafe.Pointer(v))))
	}

	return sndPcmUframesT(atomic.LoadUint32((*uint32)(unsafe.Pointer(v))))
}

func storeUframes(v *sndPcmUframesT, val sndPcmUframesT) {
	if unsafe.Sizeof(*v) == 8 {
		atomic.StoreUint64((*uint64)(unsafe.Pointer(v)), uint64(val))
	} else {
		atomic.StoreUint32((*uint32)(unsafe.Pointer(v)), uint32(val))
	}
}

// PcmFramesToBytes converts frames to bytes for the stream's frame size.
func PcmFramesToBytes(p *PCM, frames uint32) uint32 {
	if p == nil {
		return 0
	}

	return frames * p.FrameSize()
}

// PcmBytesToFrames converts bytes to whole frames for the stream's frame size.
func PcmBytesToFrames(p *PCM, bytes uint32) uint32 {
	if p == nil || p.FrameSize() == 0 {
		return 0
	}

	return bytes / p.FrameSize()
}
