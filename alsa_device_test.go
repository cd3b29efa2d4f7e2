package iio_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gen2brain/iio"
)

func TestALSADeviceNoMatch(t *testing.T) {
	dev := iio.NewALSADevice(iio.ALSAConfig{Chip: "ad7476a", Rate: 48000}, zaptest.NewLogger(t))
	dev.SetCardSource(func() ([]iio.SoundCard, error) {
		return iio.ParseCards([]byte(" 0 [PCH            ]: HDA-Intel - HDA Intel PCH\n"), nil), nil
	})

	err := dev.Open(2, 1024)
	require.ErrorIs(t, err, iio.ErrDeviceNotFound)
	assert.Zero(t, dev.DeviceCount())
	assert.Zero(t, dev.MaxBufferedDuration(48000))
}

func TestALSADeviceEnumerationFailure(t *testing.T) {
	dev := iio.NewALSADevice(iio.ALSAConfig{Chip: "iioadc"}, nil)
	dev.SetCardSource(func() ([]iio.SoundCard, error) {
		return nil, errors.New("no /proc/asound")
	})

	require.ErrorIs(t, dev.Open(2, 1024), iio.ErrDeviceNotFound)
}

func TestALSADeviceNotOpen(t *testing.T) {
	dev := iio.NewALSADevice(iio.ALSAConfig{Chip: "hw:0,0"}, nil)

	assert.Error(t, dev.Enable(true))
	assert.Error(t, dev.ResizeMappedRegions(2, 512))
	assert.NoError(t, dev.Close())
}

func TestALSADeviceUnsupportedFormat(t *testing.T) {
	dev := iio.NewALSADevice(iio.ALSAConfig{Chip: "hw:0,0", Format: iio.SNDRV_PCM_FORMAT_INVALID}, nil)

	assert.Error(t, dev.Open(2, 1024))
}

func TestALSADeviceSampleScale(t *testing.T) {
	testCases := []struct {
		format iio.PcmFormat
		scale  float32
	}{
		{0, 1.0 / 32768},
		{iio.SNDRV_PCM_FORMAT_S16_LE, 1.0 / 32768},
		{iio.SNDRV_PCM_FORMAT_S24_LE, 1.0 / 8388608},
		{iio.SNDRV_PCM_FORMAT_S24_3LE, 1.0 / 8388608},
		{iio.SNDRV_PCM_FORMAT_S32_LE, 1.0 / 2147483648},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprint(tc.format), func(t *testing.T) {
			dev := iio.NewALSADevice(iio.ALSAConfig{Format: tc.format}, nil)
			assert.Equal(t, tc.scale, dev.SampleScale())
		})
	}
}

func TestALSADeviceLoopback(t *testing.T) {
	card := requireLoopback(t)

	dev := iio.NewALSADevice(iio.ALSAConfig{
		Chip:     fmt.Sprintf("hw:%d,1", card),
		Channels: 2,
		Rate:     48000,
	}, zaptest.NewLogger(t))

	cfg := iio.Config{SampleRate: 48000, PeriodSize: 1024, PeriodCount: 4, SafetyFactor: 1}
	drv := iio.NewDriver(dev, &cfg, iio.WithLogger(zaptest.NewLogger(t)))
	eng := newFakeEngine()

	require.NoError(t, drv.Attach(eng))
	defer func() { assert.NoError(t, drv.Detach()) }()

	assert.Equal(t, uint32(2), drv.Layout().Requested)
	assert.InDelta(t, 4096.0/48000*1e6, drv.Timing().MaxDelayMicros(), 1)

	require.NoError(t, drv.Start())
	for i := 0; i < 3; i++ {
		require.NoError(t, drv.RunCycle())
	}

	require.NoError(t, drv.Bufsize(512))
	assert.Equal(t, uint32(512), drv.Timing().PeriodFrames())
	require.NoError(t, drv.RunCycle())
	require.NoError(t, drv.Stop())
}
