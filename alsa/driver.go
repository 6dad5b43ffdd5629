//go:build linux

package alsa

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/gen2brain/asiotest"
)

const (
	// MaxChannels caps the channel count reported per direction.
	MaxChannels = 32

	initialRate         = 48000
	preferredBufferSize = 512
	minBufferSize       = 16
	maxBufferSize       = 8192
	periods             = 2
)

// Formats the driver opens streams with, in order of preference.
var preferredFormats = []PcmFormat{SNDRV_PCM_FORMAT_S32_LE, SNDRV_PCM_FORMAT_S16_LE}

// Driver drives the capture and playback streams of one hw PCM device.
type Driver struct {
	card   uint
	device uint
	name   string
	logger *slog.Logger

	capture  *Caps // nil if the device has no capture stream
	playback *Caps // nil if the device has no playback stream
	format   PcmFormat

	mu          sync.Mutex
	initialized bool
	rate        float64
	bufferSize  int32
	infos       []asiotest.BufferInfo
	callbacks   asiotest.Callbacks
	timeInfo    bool
	in          *PCM
	out         *PCM
	inFrames    []byte
	outFrames   []byte
	running     bool
	stop        chan struct{}
	done        chan struct{}
	samples     int64
	timestamp   int64
}

var _ asiotest.Driver = (*Driver)(nil)

// Open queries the capabilities of hw:card,device. Streams are opened by CreateBuffers.
func Open(card, device uint, logger *slog.Logger) (*Driver, error) {
	if logger == nil {
		logger = asiotest.Logger()
	}

	d := &Driver{
		card:   card,
		device: device,
		name:   fmt.Sprintf("hw:%d,%d", card, device),
		logger: logger.With("driver", "alsa", "card", card, "device", device),
	}

	var errs []error
	if caps, err := Refine(card, device, PCM_IN); err != nil {
		errs = append(errs, fmt.Errorf("capture: %w", err))
	} else if caps.Interleaved() {
		d.capture = caps
	}

	if caps, err := Refine(card, device, PCM_OUT); err != nil {
		errs = append(errs, fmt.Errorf("playback: %w", err))
	} else if caps.Interleaved() {
		d.playback = caps
	}

	if d.capture == nil && d.playback == nil {
		return nil, fmt.Errorf("no usable stream on %s: %w", d.name, errors.Join(errs...))
	}

	d.format = SNDRV_PCM_FORMAT_INVALID
	for _, f := range preferredFormats {
		if d.supports(func(c *Caps) bool { return c.FormatIsSupported(f) }) {
			d.format = f

			break
		}
	}

	if d.format == SNDRV_PCM_FORMAT_INVALID {
		return nil, fmt.Errorf("no supported sample format on %s", d.name)
	}

	if name, err := CardName(card); err == nil && name != "" {
		d.name = fmt.Sprintf("%s (hw:%d,%d)", name, card, device)
	}

	d.rate = initialRate
	if !d.supports(func(c *Caps) bool { return c.Rate.Contains(initialRate) }) {
		d.rate = float64(d.streams()[0].Rate.Min)
	}

	d.logger.Debug("Device opened", "name", d.name, "format", d.format, "capture", d.capture != nil, "playback", d.playback != nil)

	return d, nil
}

// Caps returns the capabilities of the capture and playback streams, nil for a missing direction.
func (d *Driver) Caps() (capture, playback *Caps) {
	return d.capture, d.playback
}

func (d *Driver) streams() []*Caps {
	var s []*Caps
	if d.capture != nil {
		s = append(s, d.capture)
	}
	if d.playback != nil {
		s = append(s, d.playback)
	}

	return s
}

// supports reports whether every present stream satisfies fn.
func (d *Driver) supports(fn func(*Caps) bool) bool {
	for _, c := range d.streams() {
		if !fn(c) {
			return false
		}
	}

	return true
}

func channelCount(c *Caps) int32 {
	if c == nil {
		return 0
	}

	return int32(min(c.Channels.Max, MaxChannels))
}

// Init implements asiotest.Driver.
func (d *Driver) Init(versionRequest int32) (asiotest.DriverInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.initialized = true
	d.logger.Debug("Init", "hostVersion", versionRequest)

	return asiotest.DriverInfo{
		AsioVersion:   2,
		DriverVersion: 1,
		Name:          d.name,
	}, nil
}

// GetChannels implements asiotest.Driver.
func (d *Driver) GetChannels() (int32, int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return 0, 0, asiotest.ASE_NotPresent
	}

	return channelCount(d.capture), channelCount(d.playback), nil
}

// GetBufferSize implements asiotest.Driver.
// Buffer sizes are period sizes, the stream buffer holds two periods.
func (d *Driver) GetBufferSize() (asiotest.BufferSize, error) {
	size := asiotest.BufferSize{Min: minBufferSize, Max: maxBufferSize, Granularity: 1}
	for _, c := range d.streams() {
		size.Min = max(size.Min, int32(min(c.PeriodSize.Min, math.MaxInt32)))
		size.Max = min(size.Max, int32(min(c.PeriodSize.Max, math.MaxInt32)))
	}

	if size.Min > size.Max {
		return asiotest.BufferSize{}, asiotest.ASE_NotPresent
	}

	size.Preferred = min(max(preferredBufferSize, size.Min), size.Max)
	if size.Min == size.Max {
		size.Granularity = 0
	}

	return size, nil
}

// GetSampleRate implements asiotest.Driver.
func (d *Driver) GetSampleRate() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.rate, nil
}

// CanSampleRate implements asiotest.Driver.
func (d *Driver) CanSampleRate(rate float64) error {
	if rate <= 0 || rate > math.MaxUint32 || rate != math.Trunc(rate) {
		return asiotest.ASE_NoClock
	}

	if !d.supports(func(c *Caps) bool { return c.Rate.Contains(uint32(rate)) }) {
		return asiotest.ASE_NoClock
	}

	return nil
}

// SetSampleRate implements asiotest.Driver.
// The rate takes effect when the streams are opened by CreateBuffers.
func (d *Driver) SetSampleRate(rate float64) error {
	if err := d.CanSampleRate(rate); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.infos != nil {
		return asiotest.ASE_InvalidMode
	}

	d.rate = rate

	return nil
}

// OutputReady implements asiotest.Driver.
// Output is written after every buffer switch returns, so the optimization is not offered.
func (d *Driver) OutputReady() error {
	return asiotest.ASE_NotPresent
}

// GetChannelInfo implements asiotest.Driver.
func (d *Driver) GetChannelInfo(channel int32, isInput bool) (asiotest.ChannelInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, prefix := d.playback, "Playback"
	if isInput {
		caps, prefix = d.capture, "Capture"
	}

	if channel < 0 || channel >= channelCount(caps) {
		return asiotest.ChannelInfo{}, asiotest.ASE_InvalidParameter
	}

	active := slices.ContainsFunc(d.infos, func(info asiotest.BufferInfo) bool {
		return info.IsInput == isInput && info.Channel == channel
	})

	return asiotest.ChannelInfo{
		Channel:  channel,
		IsInput:  isInput,
		IsActive: active,
		Type:     SampleType(d.format),
		Name:     fmt.Sprintf("%s %d", prefix, channel+1),
	}, nil
}

// CreateBuffers implements asiotest.Driver.
// It opens the streams the descriptors need with two periods of bufferSize frames each.
func (d *Driver) CreateBuffers(infos []asiotest.BufferInfo, bufferSize int32, callbacks asiotest.Callbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.infos != nil {
		return asiotest.ASE_InvalidMode
	}

	if len(infos) == 0 || callbacks.BufferSwitch == nil {
		return asiotest.ASE_InvalidParameter
	}

	sizes, err := d.GetBufferSize()
	if err != nil {
		return err
	}

	if bufferSize < sizes.Min || bufferSize > sizes.Max {
		return asiotest.ASE_InvalidMode
	}

	var needIn, needOut bool
	for _, info := range infos {
		caps := d.playback
		if info.IsInput {
			caps = d.capture
		}

		if info.Channel < 0 || info.Channel >= channelCount(caps) {
			return asiotest.ASE_InvalidParameter
		}

		needIn = needIn || info.IsInput
		needOut = needOut || !info.IsInput
	}

	cfg := Config{
		Rate:        uint32(d.rate),
		PeriodSize:  uint32(bufferSize),
		PeriodCount: periods,
		Format:      d.format,
	}

	var in, out *PCM
	if needIn {
		cfg.Channels = uint32(channelCount(d.capture))
		if in, err = PcmOpen(d.card, d.device, PCM_IN, cfg); err != nil {
			return fmt.Errorf("%w: capture: %w", asiotest.ASE_HWMalfunction, err)
		}
	}

	if needOut {
		cfg.Channels = uint32(channelCount(d.playback))
		if out, err = PcmOpen(d.card, d.device, PCM_OUT, cfg); err != nil {
			_ = in.Close()

			return fmt.Errorf("%w: playback: %w", asiotest.ASE_HWMalfunction, err)
		}
	}

	bps := d.format.Bits() / 8
	for i := range infos {
		infos[i].Buffers[0] = make([]byte, int(bufferSize)*bps)
		infos[i].Buffers[1] = make([]byte, int(bufferSize)*bps)
	}

	d.inFrames, d.outFrames = nil, nil
	if in != nil {
		d.inFrames = make([]byte, int(bufferSize)*in.FrameSize())
	}
	if out != nil {
		d.outFrames = make([]byte, int(bufferSize)*out.FrameSize())
	}

	d.in, d.out = in, out
	d.infos = infos
	d.bufferSize = bufferSize
	d.callbacks = callbacks
	d.timeInfo = asiotest.HostSupportsTimeInfo(callbacks)

	d.logger.Debug("Buffers created", "channels", len(infos), "bufferSize", bufferSize, "rate", d.rate, "timeInfo", d.timeInfo)

	return nil
}

// DisposeBuffers implements asiotest.Driver.
func (d *Driver) DisposeBuffers() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.infos == nil || d.running {
		return asiotest.ASE_InvalidMode
	}

	return d.release()
}

// release closes the streams and forgets the buffers, mu must be held.
func (d *Driver) release() error {
	err := errors.Join(d.in.Close(), d.out.Close())

	for i := range d.infos {
		d.infos[i].Buffers = [2][]byte{}
	}

	d.in, d.out = nil, nil
	d.inFrames, d.outFrames = nil, nil
	d.infos = nil
	d.callbacks = asiotest.Callbacks{}

	return err
}

// GetLatencies implements asiotest.Driver.
func (d *Driver) GetLatencies() (int32, int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	size := d.bufferSize
	if size == 0 {
		sizes, err := d.GetBufferSize()
		if err != nil {
			return 0, 0, err
		}
		size = sizes.Preferred
	}

	return size, periods * size, nil
}

// Start implements asiotest.Driver.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.infos == nil || d.running {
		return asiotest.ASE_InvalidMode
	}

	if d.in != nil {
		if err := d.in.Prepare(); err != nil {
			return fmt.Errorf("%w: %w", asiotest.ASE_HWMalfunction, err)
		}
	}

	if d.out != nil {
		if err := d.out.Prepare(); err != nil {
			return fmt.Errorf("%w: %w", asiotest.ASE_HWMalfunction, err)
		}

		// One period of silence, the stream starts once the first callback's output is queued behind it.
		clear(d.outFrames)
		if _, err := d.out.Write(d.outFrames); err != nil {
			return fmt.Errorf("%w: %w", asiotest.ASE_HWMalfunction, err)
		}
	}

	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.running = true
	d.samples = 0

	go d.process(d.stop, d.done, d.callbacks, d.timeInfo)

	return nil
}

// Stop implements asiotest.Driver.
// It drops both streams, which unblocks pending transfers, and waits for the processing goroutine.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()

		return asiotest.ASE_InvalidMode
	}

	stop, done, in, out := d.stop, d.done, d.in, d.out
	d.mu.Unlock()

	close(stop)

	var errs []error
	if in != nil {
		errs = append(errs, in.Drop())
	}
	if out != nil {
		errs = append(errs, out.Drop())
	}

	<-done

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", asiotest.ASE_HWMalfunction, err)
	}

	return nil
}

// GetSamplePosition implements asiotest.Driver.
func (d *Driver) GetSamplePosition() (int64, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return 0, 0, asiotest.ASE_SPNotAdvancing
	}

	return d.samples, d.timestamp, nil
}

// Close stops the streams if they are running and closes them.
func (d *Driver) Close() error {
	if d == nil {
		return nil
	}

	d.mu.Lock()
	running := d.running
	d.mu.Unlock()

	if running {
		_ = d.Stop()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.release()
}

// process moves one period per buffer switch: capture into input half index, callback,
// output half index to playback.
func (d *Driver) process(stop, done chan struct{}, callbacks asiotest.Callbacks, timeInfo bool) {
	defer close(done)

	d.mu.Lock()
	in, out, inFrames, outFrames := d.in, d.out, d.inFrames, d.outFrames
	bps := d.format.Bits() / 8
	d.mu.Unlock()

	fail := func(msg string, err error) {
		select {
		case <-stop:
		default:
			d.logger.Warn(msg, "err", err)
		}
	}

	var index int32
	for {
		select {
		case <-stop:
			return
		default:
		}

		if in != nil {
			if _, err := in.Read(inFrames); err != nil {
				fail("Capture failed", err)

				return
			}
		}

		d.mu.Lock()
		if in != nil {
			channels := int(in.Config().Channels)
			for _, info := range d.infos {
				if info.IsInput {
					deinterleave(info.Buffers[index], inFrames, int(info.Channel), channels, bps)
				}
			}
		}
		pos, now, rate := d.samples, time.Now().UnixNano(), d.rate
		d.timestamp = now
		d.mu.Unlock()

		if timeInfo {
			callbacks.BufferSwitchTimeInfo(&asiotest.Time{
				SamplePosition: pos,
				SystemTime:     now,
				SampleRate:     rate,
				Flags:          asiotest.TimeInfoSystemTimeValid | asiotest.TimeInfoSamplePositionValid | asiotest.TimeInfoSampleRateValid,
			}, index, false)
		} else {
			callbacks.BufferSwitch(index, false)
		}

		if out != nil {
			d.mu.Lock()
			channels := int(out.Config().Channels)
			for _, info := range d.infos {
				if !info.IsInput {
					interleave(outFrames, info.Buffers[index], int(info.Channel), channels, bps)
				}
			}
			d.mu.Unlock()

			if _, err := out.Write(outFrames); err != nil {
				fail("Playback failed", err)

				return
			}
		}

		d.mu.Lock()
		d.samples += int64(d.bufferSize)
		d.mu.Unlock()

		index ^= 1
	}
}
