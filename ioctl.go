package iio

import (
	"syscall"
	"unsafe"
)

// ioctl performs a generic ioctl syscall.
func ioctl(fd uintptr, req uintptr, arg uintptr) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, fd, req, arg)
	if errno != 0 {
		return errno
	}

	return nil
}

// ioctl request direction bits.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

// ioc builds an ioctl request code the way the _IOC macro does.
func ioc(dir, typ, nr, size uintptr) uintptr {
	const (
		iocNrbits    = 8
		iocTypebits  = 8
		iocSizebits  = 14
		iocNrshift   = 0
		iocTypeshift = iocNrshift + iocNrbits
		iocSizeshift = iocTypeshift + iocTypebits
		iocDirshift  = iocSizeshift + iocSizebits
	)

	return (dir << iocDirshift) | (typ << iocTypeshift) | (nr << iocNrshift) | (size << iocSizeshift)
}

// PCM ioctls used by capture streams.
var (
	sndrvPcmIoctlInfo        = ioc(iocRead, 'A', 0x01, unsafe.Sizeof(sndPcmInfo{}))
	sndrvPcmIoctlTtstamp     = ioc(iocWrite, 'A', 0x03, unsafe.Sizeof(int32(0)))
	sndrvPcmIoctlHwRefine    = ioc(iocRead|iocWrite, 'A', 0x10, unsafe.Sizeof(sndPcmHwParams{}))
	sndrvPcmIoctlHwParams    = ioc(iocRead|iocWrite, 'A', 0x11, unsafe.Sizeof(sndPcmHwParams{}))
	sndrvPcmIoctlHwFree      = ioc(iocNone, 'A', 0x12, 0)
	sndrvPcmIoctlSwParams    = ioc(iocRead|iocWrite, 'A', 0x13, unsafe.Sizeof(sndPcmSwParams{}))
	sndrvPcmIoctlHwsync      = ioc(iocNone, 'A', 0x22, 0)
	sndrvPcmIoctlSyncPtr     = ioc(iocRead|iocWrite, 'A', 0x23, unsafe.Sizeof(sndPcmSyncPtr{}))
	sndrvPcmIoctlPrepare     = ioc(iocNone, 'A', 0x40, 0)
	sndrvPcmIoctlStart       = ioc(iocNone, 'A', 0x42, 0)
	sndrvPcmIoctlDrop        = ioc(iocNone, 'A', 0x43, 0)
	sndrvPcmIoctlReadiFrames = ioc(iocRead, 'A', 0x51, unsafe.Sizeof(sndXferi{}))
)
