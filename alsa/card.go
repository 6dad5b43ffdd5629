package alsa

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Device is a PCM device of a sound card, addressed as hw:Card,ID.
type Device struct {
	Card        int
	ID          int
	Description string
	Playback    int // Number of playback substreams.
	Capture     int // Number of capture substreams.
}

// Duplex reports whether the device has both capture and playback streams.
func (d Device) Duplex() bool {
	return d.Playback > 0 && d.Capture > 0
}

func (d Device) String() string {
	var streams []string
	if d.Capture > 0 {
		streams = append(streams, fmt.Sprintf("capture %d", d.Capture))
	}
	if d.Playback > 0 {
		streams = append(streams, fmt.Sprintf("playback %d", d.Playback))
	}

	return fmt.Sprintf("  hw:%d,%d  %s [%s]", d.Card, d.ID, d.Description, strings.Join(streams, ", "))
}

// SoundCard is an enumerated sound card with its PCM devices.
type SoundCard struct {
	ID          int
	Name        string
	Description string
	Devices     []Device
}

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
	// Matches lines like "02-00: Loopback PCM : Loopback PCM : playback 8 : capture 8".
	pcmRegex    = regexp.MustCompile(`^(\d+)-(\d+): (.*?) :`)
	streamRegex = regexp.MustCompile(`(playback|capture) (\d+)`)
)

// Cards lists the sound cards in /proc/asound and their PCM devices.
func Cards() ([]SoundCard, error) {
	cards, err := os.ReadFile("/proc/asound/cards")
	if err != nil {
		return nil, fmt.Errorf("could not read sound cards: %w", err)
	}

	// Without PCM devices the file is missing.
	pcm, err := os.ReadFile("/proc/asound/pcm")
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not read PCM devices: %w", err)
	}

	return parseCards(string(cards), string(pcm)), nil
}

// FindCard returns the number of the first card whose id or description contains name, -1 if none does.
func FindCard(name string) int {
	cards, err := Cards()
	if err != nil {
		return -1
	}

	i := slices.IndexFunc(cards, func(c SoundCard) bool {
		return strings.Contains(c.Name, name) || strings.Contains(c.Description, name)
	})
	if i < 0 {
		return -1
	}

	return cards[i].ID
}

func parseCards(cardsContent, pcmContent string) []SoundCard {
	var cards []SoundCard

	for _, line := range strings.Split(cardsContent, "\n") {
		m := cardRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		cards = append(cards, SoundCard{ID: id, Name: m[2], Description: strings.TrimSpace(m[3])})
	}

	for _, line := range strings.Split(pcmContent, "\n") {
		dev, ok := parsePcmLine(line)
		if !ok {
			continue
		}

		i := slices.IndexFunc(cards, func(c SoundCard) bool { return c.ID == dev.Card })
		if i < 0 {
			continue
		}

		cards[i].Devices = append(cards[i].Devices, dev)
	}

	slices.SortFunc(cards, func(a, b SoundCard) int { return a.ID - b.ID })
	for _, c := range cards {
		slices.SortFunc(c.Devices, func(a, b Device) int { return a.ID - b.ID })
	}

	return cards
}

func parsePcmLine(line string) (Device, bool) {
	m := pcmRegex.FindStringSubmatch(line)
	if m == nil {
		return Device{}, false
	}

	card, _ := strconv.Atoi(m[1])
	id, _ := strconv.Atoi(m[2])
	dev := Device{Card: card, ID: id, Description: strings.TrimSpace(m[3])}

	for _, s := range streamRegex.FindAllStringSubmatch(line, -1) {
		n, _ := strconv.Atoi(s[2])
		if s[1] == "playback" {
			dev.Playback = n
		} else {
			dev.Capture = n
		}
	}

	return dev, dev.Playback > 0 || dev.Capture > 0
}
