package iio

import "errors"

// Configuration-time errors. They are returned wrapped, test them with errors.Is.
var (
	// ErrPeriodExceedsBufferCapacity is returned when one period lasts longer than the usable part of the device buffer.
	ErrPeriodExceedsBufferCapacity = errors.New("period exceeds device buffer capacity")
	// ErrAllocationFailed is returned when the raw sample block cannot be sized as requested.
	ErrAllocationFailed = errors.New("raw sample block allocation failed")
	// ErrDeviceResizeRejected is returned when the device refuses to resize its mapped regions.
	ErrDeviceResizeRejected = errors.New("device rejected mapped region resize")
	// ErrDeviceOpenFailed is returned when the capture device cannot be opened.
	ErrDeviceOpenFailed = errors.New("capture device open failed")
	// ErrDeviceNotFound is returned when no capture device matches the chip selector.
	ErrDeviceNotFound = errors.New("capture device not found")
	// ErrInconsistentState is returned when a failed reconfiguration could not be rolled back.
	// The driver must be torn down, retrying is pointless.
	ErrInconsistentState = errors.New("rollback failed, driver state is inconsistent")
	// ErrInvalidPeriod is returned for a zero period size.
	ErrInvalidPeriod = errors.New("period size must be greater than zero")
	// ErrBufferSizeRejected is returned when the host engine refuses a new buffer size.
	ErrBufferSizeRejected = errors.New("engine rejected buffer size")
)

// Lifecycle misuse errors.
var (
	ErrNotAttached     = errors.New("driver is not attached")
	ErrAlreadyAttached = errors.New("driver is already attached")
	ErrNotRunning      = errors.New("driver is not running")
)
