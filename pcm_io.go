package iio

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"
)

// Read fills dst with interleaved frames using the READI ioctl.
// It returns the number of frames read. Overruns are recovered and counted.
func (p *PCM) Read(dst []byte) (int, error) {
	if (p.flags & PCM_MMAP) != 0 {
		return 0, fmt.Errorf("use MmapRead for mmap devices")
	}

	frames := PcmBytesToFrames(p, uint32(len(dst)))
	if frames == 0 {
		return 0, fmt.Errorf("buffer of %d bytes holds no frame", len(dst))
	}

	if p.State() == SNDRV_PCM_STATE_SETUP {
		if err := p.Prepare(); err != nil {
			return 0, err
		}
	}

	framesRead := uint32(0)
	for framesRead < frames {
		offsetBytes := PcmFramesToBytes(p, framesRead)

		xfer := sndXferi{
			Frames: sndPcmUframesT(frames - framesRead),
			Buf:    uintptr(unsafe.Pointer(&dst[offsetBytes])),
		}

		err := ioctl(p.file.Fd(), sndrvPcmIoctlReadiFrames, uintptr(unsafe.Pointer(&xfer)))

		if xfer.Result > 0 {
			framesRead += uint32(xfer.Result)
		}

		if err != nil {
			if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ESTRPIPE) {
				if errRec := p.xrunRecover(err); errRec != nil {
					return int(framesRead), errRec
				}

				continue
			}

			if (p.flags&PCM_NONBLOCK) != 0 && errors.Is(err, syscall.EAGAIN) {
				return int(framesRead), syscall.EAGAIN
			}

			return int(framesRead), fmt.Errorf("ioctl READI_FRAMES failed: %w", err)
		}
	}

	return int(framesRead), nil
}
