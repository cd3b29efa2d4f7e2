package iio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/iio"
)

const procCards = ` 0 [PCH            ]: HDA-Intel - HDA Intel PCH
                      HDA Intel PCH at 0xf7f10000 irq 32
 1 [iioadc         ]: ad7476a - AD7476A IIO ADC
                      AD7476A IIO ADC on spi0.0
 2 [Loopback       ]: Loopback - Loopback
                      Loopback 1
`

const procPcm = `00-00: ALC3232 Analog : ALC3232 Analog : playback 1 : capture 1
00-03: HDMI 0 : HDMI 0 : playback 1
01-00: ad7476a-adc0 : ad7476a-adc0 : capture 1
01-01: ad7476a-adc1 : ad7476a-adc1 : capture 1
02-00: Loopback PCM : Loopback PCM : playback 8 : capture 8
02-01: Loopback PCM : Loopback PCM : playback 8 : capture 8
07-00: Orphan : Orphan : capture 1
`

func TestParseCards(t *testing.T) {
	cards := iio.ParseCards([]byte(procCards), []byte(procPcm))
	require.Len(t, cards, 3)

	assert.Equal(t, 0, cards[0].ID)
	assert.Equal(t, "PCH", cards[0].Name)
	assert.Equal(t, "HDA-Intel - HDA Intel PCH", cards[0].Description)
	require.Len(t, cards[0].Devices, 1, "playback-only HDMI is left out")
	assert.Equal(t, "pcm0c", cards[0].Devices[0].Name)
	assert.Equal(t, "ALC3232 Analog", cards[0].Devices[0].Description)

	assert.Equal(t, "iioadc", cards[1].Name)
	require.Len(t, cards[1].Devices, 2)
	assert.Equal(t, 1, cards[1].Devices[1].ID)

	assert.Contains(t, cards[2].String(), "Card 2: Loopback (Loopback - Loopback)")
	assert.Contains(t, cards[2].String(), "Device 1: pcm1c (Loopback PCM)")
}

func TestParseCardsEmpty(t *testing.T) {
	assert.Empty(t, iio.ParseCards(nil, nil))
	assert.Empty(t, iio.ParseCards([]byte("--- no soundcards ---\n"), nil))
}

func TestFindCaptureDevices(t *testing.T) {
	cards := iio.ParseCards([]byte(procCards), []byte(procPcm))

	testCases := []struct {
		name     string
		selector string
		want     []iio.PcmAddress
	}{
		{"card name", "iioadc", []iio.PcmAddress{{Card: 1, Device: 0}, {Card: 1, Device: 1}}},
		{"card name ignores case", "LOOPBACK", []iio.PcmAddress{{Card: 2, Device: 0}, {Card: 2, Device: 1}}},
		{"description", "ad7476a", []iio.PcmAddress{{Card: 1, Device: 0}, {Card: 1, Device: 1}}},
		{"single address", "hw:1,1", []iio.PcmAddress{{Card: 1, Device: 1}}},
		{"comma list", "hw:1,0,hw:2,1", []iio.PcmAddress{{Card: 1, Device: 0}, {Card: 2, Device: 1}}},
		{"space list", " hw:1,0 hw:1,1 ", []iio.PcmAddress{{Card: 1, Device: 0}, {Card: 1, Device: 1}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := iio.FindCaptureDevices(tc.selector, cards)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFindCaptureDevicesNotFound(t *testing.T) {
	cards := iio.ParseCards([]byte(procCards), []byte(procPcm))

	for _, selector := range []string{"", "   ", "ad9361", "hw:x,0", "hw:1"} {
		_, err := iio.FindCaptureDevices(selector, cards)
		assert.ErrorIs(t, err, iio.ErrDeviceNotFound, selector)
	}
}
