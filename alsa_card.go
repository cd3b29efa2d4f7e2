package iio

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SoundCardDevice is one capture PCM on a sound card.
type SoundCardDevice struct {
	ID          int
	Name        string
	Description string
}

// String returns a human-readable representation of the SoundCardDevice.
func (d SoundCardDevice) String() string {
	return fmt.Sprintf("  Device %d: %s (%s)", d.ID, d.Name, d.Description)
}

// SoundCard is an enumerated sound card with its capture devices.
type SoundCard struct {
	ID          int
	Name        string
	Description string
	Devices     []SoundCardDevice
}

// String returns a human-readable representation of the SoundCard.
func (c SoundCard) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Card %d: %s (%s)\n", c.ID, c.Name, c.Description)
	for _, dev := range c.Devices {
		sb.WriteString(dev.String() + "\n")
	}

	return sb.String()
}

var (
	cardRegex = regexp.MustCompile(`^\s*(\d+)\s+\[\s*([^]]*?)\s*\]:\s*(.*)`)
	// Lines like "02-00: Loopback PCM : Loopback PCM : playback 8 : capture 8".
	pcmRegex = regexp.MustCompile(`^(\d+)-(\d+): (.*?) :.*`)
)

// EnumerateCards reads /proc/asound and returns every card with its capture devices.
func EnumerateCards() ([]SoundCard, error) {
	cardsFile := "/proc/asound/cards"
	cards, err := os.ReadFile(cardsFile)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", cardsFile, err)
	}

	pcmFile := "/proc/asound/pcm"
	pcm, err := os.ReadFile(pcmFile)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", pcmFile, err)
	}

	return ParseCards(cards, pcm), nil
}

// ParseCards builds the card list from the contents of /proc/asound/cards and /proc/asound/pcm.
// Playback-only PCMs are left out. Cards are sorted by ID.
func ParseCards(cards, pcm []byte) []SoundCard {
	cardMap := make(map[int]*SoundCard)

	for _, line := range strings.Split(string(cards), "\n") {
		matches := cardRegex.FindStringSubmatch(line)
		if len(matches) != 4 {
			continue
		}

		id, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}

		cardMap[id] = &SoundCard{
			ID:          id,
			Name:        strings.TrimSpace(matches[2]),
			Description: strings.TrimSpace(matches[3]),
		}
	}

	for _, line := range strings.Split(string(pcm), "\n") {
		matches := pcmRegex.FindStringSubmatch(line)
		if len(matches) < 4 || !strings.Contains(line, "capture") {
			continue
		}

		cardID, _ := strconv.Atoi(matches[1])
		devID, _ := strconv.Atoi(matches[2])

		card, ok := cardMap[cardID]
		if !ok {
			continue
		}

		card.Devices = append(card.Devices, SoundCardDevice{
			ID:          devID,
			Name:        fmt.Sprintf("pcm%dc", devID),
			Description: strings.TrimSpace(matches[3]),
		})
	}

	ids := make([]int, 0, len(cardMap))
	for id := range cardMap {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	result := make([]SoundCard, 0, len(ids))
	for _, id := range ids {
		result = append(result, *cardMap[id])
	}

	return result
}

// FindCaptureDevices resolves a chip selector to capture PCM addresses.
//
// The selector is either a comma or space separated list of "hw:C,D" addresses, which is
// returned as given, or a name matched case-insensitively against card names and
// descriptions. A name selects every capture device of every matching card, in card order.
func FindCaptureDevices(selector string, cards []SoundCard) ([]PcmAddress, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, fmt.Errorf("%w: empty chip selector", ErrDeviceNotFound)
	}

	if strings.HasPrefix(selector, "hw:") {
		return parseAddressList(selector)
	}

	var addrs []PcmAddress
	for _, card := range cards {
		if !strings.EqualFold(card.Name, selector) && !strings.Contains(strings.ToLower(card.Description), strings.ToLower(selector)) {
			continue
		}

		for _, dev := range card.Devices {
			addrs = append(addrs, PcmAddress{Card: uint(card.ID), Device: uint(dev.ID)})
		}
	}

	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no capture device matches %q", ErrDeviceNotFound, selector)
	}

	return addrs, nil
}

// parseAddressList splits "hw:0,0 hw:1,0" or "hw:0,0,hw:1,0" into addresses.
func parseAddressList(list string) ([]PcmAddress, error) {
	fields := strings.Fields(strings.ReplaceAll(list, "hw:", " hw:"))

	addrs := make([]PcmAddress, 0, len(fields))
	for _, field := range fields {
		addr, err := ParsePcmAddress(strings.TrimRight(field, ","))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
		}

		addrs = append(addrs, addr)
	}

	return addrs, nil
}
