package iio

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// AvailUpdate synchronizes with the kernel and returns the number of frames ready to be read.
// Only available for MMAP streams.
func (p *PCM) AvailUpdate() (int, error) {
	if (p.flags & PCM_MMAP) == 0 {
		return 0, fmt.Errorf("method AvailUpdate() is only available for MMAP streams")
	}

	if err := p.syncPtr(sndrvPcmSyncPtrHwsync); err != nil {
		if p.State() == SNDRV_PCM_STATE_XRUN {
			return 0, syscall.EPIPE
		}

		return 0, err
	}

	return int(p.avail()), nil
}

// avail returns the readable frames from the last synchronized pointers.
func (p *PCM) avail() uint32 {
	applPtr := loadUframes(&p.mmapControl.ApplPtr)
	hwPtr := loadUframes(&p.mmapStatus.HwPtr)

	avail := int64(hwPtr) - int64(applPtr)
	if avail < 0 {
		avail += int64(p.boundary)
	}

	return uint32(avail)
}

// MmapRead fills dst with interleaved frames from the mapped ring buffer.
// It waits for data, starts a prepared stream and recovers from overruns, counting them.
func (p *PCM) MmapRead(dst []byte) (int, error) {
	if (p.flags & PCM_MMAP) == 0 {
		return 0, fmt.Errorf("method MmapRead() can only be used with MMAP streams")
	}

	s := p.State()
	if s == SNDRV_PCM_STATE_SETUP || s == SNDRV_PCM_STATE_OPEN {
		if err := p.Prepare(); err != nil {
			return 0, err
		}
	}

	offset := 0

	for offset < len(dst) {
		wantFrames := PcmBytesToFrames(p, uint32(len(dst)-offset))
		if wantFrames == 0 {
			break
		}

		// Without a mapped status page hw_ptr only moves on a sync.
		if _, err := p.AvailUpdate(); err != nil && !errors.Is(err, syscall.EPIPE) {
			return offset, err
		}

		buffer, frames, err := p.MmapBegin(wantFrames)
		if err != nil {
			if errors.Is(err, syscall.EPIPE) {
				if recoveryErr := p.xrunRecover(err); recoveryErr != nil {
					return offset, recoveryErr
				}

				continue
			}

			if errors.Is(err, unix.EBADFD) {
				if prepErr := p.Prepare(); prepErr != nil {
					return offset, prepErr
				}

				continue
			}

			return offset, err
		}

		if frames == 0 {
			// A prepared capture stream only moves once started.
			if p.State() == SNDRV_PCM_STATE_PREPARED {
				if err := p.Start(); err != nil && !errors.Is(err, unix.EBADFD) {
					return offset, err
				}
			}

			ready, waitErr := p.Wait(-1)
			if waitErr != nil {
				if errors.Is(waitErr, syscall.EPIPE) {
					if recoveryErr := p.xrunRecover(waitErr); recoveryErr != nil {
						return offset, recoveryErr
					}

					continue
				}

				return offset, fmt.Errorf("pcm wait failed: %w", waitErr)
			}

			if !ready && (p.flags&PCM_NONBLOCK) != 0 {
				return offset, syscall.EAGAIN
			}

			continue
		}

		offset += copy(dst[offset:], buffer)

		if err := p.MmapCommit(frames); err != nil {
			if errors.Is(err, syscall.EPIPE) {
				// The frames copied are valid, only the stream needs restarting.
				if recoveryErr := p.xrunRecover(err); recoveryErr != nil {
					return offset, recoveryErr
				}

				continue
			}

			return offset, err
		}
	}

	return offset, nil
}

// MmapBegin returns the contiguous readable part of the ring buffer, at most wantFrames long.
func (p *PCM) MmapBegin(wantFrames uint32) (buffer []byte, frames uint32, err error) {
	if (p.flags & PCM_MMAP) == 0 {
		return nil, 0, fmt.Errorf("method MmapBegin() is only available for MMAP streams")
	}

	switch p.State() {
	case SNDRV_PCM_STATE_XRUN:
		return nil, 0, syscall.EPIPE
	case SNDRV_PCM_STATE_OPEN, SNDRV_PCM_STATE_SETUP, SNDRV_PCM_STATE_DRAINING:
		return nil, 0, unix.EBADFD
	case SNDRV_PCM_STATE_SUSPENDED:
		return nil, 0, syscall.ESTRPIPE
	case SNDRV_PCM_STATE_DISCONNECTED:
		return nil, 0, syscall.ENODEV
	}

	frames = min(wantFrames, p.avail())

	applPtr := loadUframes(&p.mmapControl.ApplPtr)
	offsetFrames := uint32(applPtr % sndPcmUframesT(p.bufferSize))
	frames = min(frames, p.bufferSize-offsetFrames)

	frameSize := uint64(p.FrameSize())
	byteOffset := uint64(offsetFrames) * frameSize
	byteCount := uint64(frames) * frameSize

	if byteOffset+byteCount > uint64(len(p.mmapBuffer)) {
		return nil, 0, unix.EBADFD
	}

	return p.mmapBuffer[byteOffset : byteOffset+byteCount], frames, nil
}

// MmapCommit advances the application pointer by frames after a MmapBegin.
func (p *PCM) MmapCommit(frames uint32) error {
	if (p.flags & PCM_MMAP) == 0 {
		return fmt.Errorf("method MmapCommit() is only available for MMAP streams")
	}

	applPtr := loadUframes(&p.mmapControl.ApplPtr) + sndPcmUframesT(frames)
	if p.boundary > 0 && applPtr >= p.boundary {
		applPtr -= p.boundary
	}

	storeUframes(&p.mmapControl.ApplPtr, applPtr)

	return p.syncPtr(sndrvPcmSyncPtrHwsync)
}
