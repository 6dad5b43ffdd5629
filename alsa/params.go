//go:build linux

package alsa

import (
	"fmt"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Range is an inclusive interval of values a hardware parameter can take.
type Range struct {
	Min uint32
	Max uint32
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v uint32) bool {
	return v >= r.Min && v <= r.Max
}

// Caps are the capabilities of one stream direction of a PCM device.
type Caps struct {
	Channels   Range
	Rate       Range
	PeriodSize Range
	Periods    Range

	formats sndMask
	access  sndMask
}

// FormatIsSupported checks if a given PCM format is supported.
func (c *Caps) FormatIsSupported(format PcmFormat) bool {
	if format < 0 {
		return false
	}

	return c.formats.test(uint32(format))
}

// Interleaved reports whether read/write interleaved access is supported.
func (c *Caps) Interleaved() bool {
	return c.access.test(SNDRV_PCM_ACCESS_RW_INTERLEAVED)
}

// String returns a human-readable representation of the capabilities.
func (c *Caps) String() string {
	var formats []string
	for _, f := range []PcmFormat{SNDRV_PCM_FORMAT_S8, SNDRV_PCM_FORMAT_S16_LE, SNDRV_PCM_FORMAT_S24_LE,
		SNDRV_PCM_FORMAT_S24_3LE, SNDRV_PCM_FORMAT_S32_LE, SNDRV_PCM_FORMAT_FLOAT_LE} {
		if c.FormatIsSupported(f) {
			formats = append(formats, f.String())
		}
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%12s: %s\n", "Format", strings.Join(formats, ", ")))
	b.WriteString(fmt.Sprintf("%12s: min=%-6d max=%-6d %s\n", "Rate", c.Rate.Min, c.Rate.Max, "Hz"))
	b.WriteString(fmt.Sprintf("%12s: min=%-6d max=%-6d\n", "Channels", c.Channels.Min, c.Channels.Max))
	b.WriteString(fmt.Sprintf("%12s: min=%-6d max=%-6d %s\n", "Period size", c.PeriodSize.Min, c.PeriodSize.Max, "frames"))
	b.WriteString(fmt.Sprintf("%12s: min=%-6d max=%-6d\n", "Periods", c.Periods.Min, c.Periods.Max))

	return b.String()
}

// pcmPath returns the device node of a PCM stream.
func pcmPath(card, device uint, flags PcmFlag) string {
	streamChar := 'p'
	if (flags & PCM_IN) != 0 {
		streamChar = 'c'
	}

	return fmt.Sprintf("/dev/snd/pcmC%dD%d%c", card, device, streamChar)
}

// Refine asks the kernel to restrict a fully open parameter space to what the hardware
// supports, using the SNDRV_PCM_IOCTL_HW_REFINE ioctl.
func Refine(card, device uint, flags PcmFlag) (*Caps, error) {
	path := pcmPath(card, device, flags)

	// Use O_NONBLOCK on open to avoid getting stuck if the device is busy.
	file, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM device %s for query: %w", path, err)
	}
	defer file.Close()

	hwParams := &sndPcmHwParams{}
	paramInit(hwParams)

	if err := ioctl(file.Fd(), SNDRV_PCM_IOCTL_HW_REFINE, uintptr(unsafe.Pointer(hwParams))); err != nil {
		return nil, fmt.Errorf("ioctl HW_REFINE failed: %w", err)
	}

	return &Caps{
		Channels:   paramRange(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS),
		Rate:       paramRange(hwParams, SNDRV_PCM_HW_PARAM_RATE),
		PeriodSize: paramRange(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE),
		Periods:    paramRange(hwParams, SNDRV_PCM_HW_PARAM_PERIODS),
		formats:    hwParams.Masks[SNDRV_PCM_HW_PARAM_FORMAT-SNDRV_PCM_HW_PARAM_ACCESS],
		access:     hwParams.Masks[SNDRV_PCM_HW_PARAM_ACCESS-SNDRV_PCM_HW_PARAM_ACCESS],
	}, nil
}

// paramInit initializes a sndPcmHwParams struct to allow all possible values.
func paramInit(p *sndPcmHwParams) {
	for n := range p.Masks {
		for i := range p.Masks[n].Bits {
			p.Masks[n].Bits[i] = ^uint32(0)
		}
	}

	for n := range p.Mres {
		for i := range p.Mres[n].Bits {
			p.Mres[n].Bits[i] = ^uint32(0)
		}
	}

	for n := range p.Intervals {
		p.Intervals[n] = sndInterval{MinVal: 0, MaxVal: ^uint32(0)}
	}

	for n := range p.Ires {
		p.Ires[n] = sndInterval{MinVal: 0, MaxVal: ^uint32(0)}
	}

	p.Rmask = ^uint32(0)
	p.Info = ^uint32(0)
}

func isMask(param PcmParam) bool {
	return param >= SNDRV_PCM_HW_PARAM_ACCESS && param <= SNDRV_PCM_HW_PARAM_SUBFORMAT
}

func isInterval(param PcmParam) bool {
	return param >= SNDRV_PCM_HW_PARAM_SAMPLE_BITS && param <= SNDRV_PCM_HW_PARAM_TICK_TIME
}

func paramSetMask(p *sndPcmHwParams, param PcmParam, bit uint32) {
	if !isMask(param) {
		return
	}

	mask := &p.Masks[param-SNDRV_PCM_HW_PARAM_ACCESS]
	mask.Bits = [8]uint32{}

	if bit >= 256 { // SNDRV_MASK_MAX
		return
	}

	mask.Bits[bit>>5] |= 1 << (bit & 31)
}

func paramSetInt(p *sndPcmHwParams, param PcmParam, val uint32) {
	if !isInterval(param) {
		return
	}

	p.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS] = sndInterval{MinVal: val, MaxVal: val, Flags: SNDRV_PCM_INTERVAL_INTEGER}
}

// paramGetInt reads a finalized parameter, the driver narrows the interval to a single value.
func paramGetInt(p *sndPcmHwParams, param PcmParam) uint32 {
	if !isInterval(param) {
		return 0
	}

	return p.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS].MinVal
}

func paramRange(p *sndPcmHwParams, param PcmParam) Range {
	if !isInterval(param) {
		return Range{}
	}

	interval := p.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS]

	return Range{Min: interval.MinVal, Max: interval.MaxVal}
}
