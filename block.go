package iio

import (
	"fmt"
	"math/bits"
)

// MaxBlockSamples is the largest number of samples a RawBlock may hold (512 MiB of int32).
const MaxBlockSamples = 1 << 27

// RawBlock is a column-major matrix of raw device samples.
//
// Each column holds one device's interleaved frames, so a column has
// Frames*Channels rows. Cell (row, col) is stored at data[col*rows+row].
type RawBlock struct {
	frames   uint32
	channels uint32
	columns  uint32
	data     []int32
}

// NewRawBlock returns a block sized for frames of channels-wide interleaved data in columns columns.
func NewRawBlock(frames, channels, columns uint32) (*RawBlock, error) {
	b := &RawBlock{channels: channels}
	if err := b.Resize(frames, columns); err != nil {
		return nil, err
	}

	return b, nil
}

// Frames returns the number of frames per column.
func (b *RawBlock) Frames() uint32 { return b.frames }

// Channels returns the interleave stride, i.e. channels per device.
func (b *RawBlock) Channels() uint32 { return b.channels }

// Columns returns the number of columns (devices).
func (b *RawBlock) Columns() uint32 { return b.columns }

// Rows returns the number of rows per column.
func (b *RawBlock) Rows() uint32 { return b.frames * b.channels }

// At returns the sample at (row, col).
func (b *RawBlock) At(row, col uint32) int32 {
	return b.data[int(col)*int(b.Rows())+int(row)]
}

// Set stores the sample at (row, col).
func (b *RawBlock) Set(row, col uint32, v int32) {
	b.data[int(col)*int(b.Rows())+int(row)] = v
}

// Column returns the backing slice of column col. Devices write into it directly.
func (b *RawBlock) Column(col uint32) []int32 {
	rows := int(b.Rows())
	off := int(col) * rows

	return b.data[off : off+rows : off+rows]
}

// Resize changes the frame count and column count, keeping the channel stride.
// On error the block is left untouched.
// Existing samples are not preserved, the block is refilled on every cycle.
func (b *RawBlock) Resize(frames, columns uint32) error {
	n, err := blockSamples(frames, b.channels, columns)
	if err != nil {
		return err
	}

	if n <= uint64(cap(b.data)) {
		b.data = b.data[:n]
		clear(b.data)
	} else {
		b.data = make([]int32, n)
	}

	b.frames = frames
	b.columns = columns

	return nil
}

func blockSamples(frames, channels, columns uint32) (uint64, error) {
	hi, rows := bits.Mul64(uint64(frames), uint64(channels))
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d frames x %d channels overflows", ErrAllocationFailed, frames, channels)
	}

	hi, n := bits.Mul64(rows, uint64(columns))
	if hi != 0 || n > MaxBlockSamples {
		return 0, fmt.Errorf("%w: %d x %d samples exceeds limit of %d", ErrAllocationFailed, rows, columns, MaxBlockSamples)
	}

	return n, nil
}
