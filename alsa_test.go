package iio_test

import (
	"fmt"
	"os"
	"strings"
	"testing"
)

// findCard searches /proc/asound/cards for the passed device name and returns its card number. Returns -1 if not found.
func findCard(name string) int {
	content, err := os.ReadFile("/proc/asound/cards")
	if err != nil {
		return -1
	}

	for _, line := range strings.Split(string(content), "\n") {
		if strings.Contains(line, name) {
			var card int
			// The format is " 0 [Loopback       ]: Loopback - Loopback"
			if _, err := fmt.Sscanf(line, " %d", &card); err == nil {
				return card
			}
		}
	}

	return -1
}

// requireLoopback skips the test unless the snd-aloop card is loaded and returns its number.
func requireLoopback(t *testing.T) int {
	t.Helper()

	card := findCard("Loopback")
	if card == -1 {
		t.Skip("ALSA loopback device not found, run: sudo modprobe snd-aloop")
	}

	return card
}
