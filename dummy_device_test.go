package iio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/iio"
)

func TestDummyDevice(t *testing.T) {
	dev := iio.NewDummyDevice(2, 3)
	assert.Equal(t, uint32(2), dev.ChannelsPerDevice())
	assert.Equal(t, uint32(3), dev.DeviceCount())

	require.Error(t, dev.Enable(true), "enable before open")
	require.Error(t, dev.Open(2, 0))
	require.NoError(t, dev.Open(2, 1000))
	require.Error(t, dev.Open(2, 1000), "double open")

	assert.InDelta(t, 2000.0/48000, dev.MaxBufferedDuration(48000), 1e-12)
	assert.Zero(t, dev.MaxBufferedDuration(0))

	block, err := iio.NewRawBlock(4, 2, 3)
	require.NoError(t, err)

	require.Error(t, dev.Read(4, block), "read before enable")
	require.NoError(t, dev.Enable(true))
	require.NoError(t, dev.Read(4, block))

	want := []int32{0, 0, 8191, 8191, 16383, 16383, 24575, 24575}
	for col := uint32(0); col < 3; col++ {
		assert.Equal(t, want, block.Column(col), "column %d", col)
	}

	assert.Equal(t, float32(1.0/32768), dev.SampleScale())

	require.NoError(t, dev.ResizeMappedRegions(4, 500))
	assert.InDelta(t, 2000.0/48000, dev.MaxBufferedDuration(48000), 1e-12)

	require.NoError(t, dev.Close())
	require.Error(t, dev.ResizeMappedRegions(2, 1000))
}
