// Package miniaudio implements an asiotest.Driver on top of the miniaudio library.
//
// miniaudio delivers audio in callbacks of arbitrary size. The driver stages those frames into
// the current half of the double buffer and reports a buffer switch every time a half fills up.
// Samples are 32-bit signed integers, miniaudio converts from and to the device format and rate.
package miniaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/gen2brain/asiotest"
)

const (
	MinSampleRate = 8000
	MaxSampleRate = 384000

	initialRate = 48000
	sampleSize  = 4 // malgo.FormatS32
)

// ErrUnknownBackend is returned by ParseBackend.
var ErrUnknownBackend = errors.New("unknown miniaudio backend")

var backendNames = map[string]malgo.Backend{
	"wasapi":     malgo.BackendWasapi,
	"dsound":     malgo.BackendDsound,
	"winmm":      malgo.BackendWinmm,
	"coreaudio":  malgo.BackendCoreaudio,
	"sndio":      malgo.BackendSndio,
	"audio4":     malgo.BackendAudio4,
	"oss":        malgo.BackendOss,
	"pulseaudio": malgo.BackendPulseaudio,
	"alsa":       malgo.BackendAlsa,
	"jack":       malgo.BackendJack,
	"aaudio":     malgo.BackendAaudio,
	"opensl":     malgo.BackendOpensl,
	"webaudio":   malgo.BackendWebaudio,
	"null":       malgo.BackendNull,
}

// ParseBackend returns the miniaudio backend with the given name, e.g. "pulseaudio" or "null".
func ParseBackend(name string) (malgo.Backend, error) {
	b, ok := backendNames[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}

	return b, nil
}

// Options configures a miniaudio driver.
type Options struct {
	// Inputs is the number of capture channels, zero disables capture.
	Inputs int32
	// Outputs is the number of playback channels, zero disables playback.
	Outputs int32
	// Backends restricts the backends miniaudio tries, in order. Empty uses its default order.
	Backends []malgo.Backend
}

// DefaultOptions returns a stereo in/out configuration on the default backend.
func DefaultOptions() Options {
	return Options{Inputs: 2, Outputs: 2}
}

// Driver drives the default capture and playback devices of a miniaudio context.
type Driver struct {
	opts   Options
	logger *slog.Logger
	ctx    *malgo.AllocatedContext
	name   string

	mu          sync.Mutex
	initialized bool
	rate        float64
	bufferSize  int32
	infos       []asiotest.BufferInfo
	callbacks   asiotest.Callbacks
	timeInfo    bool
	device      *malgo.Device
	running     bool
	index       int32
	staged      int
	samples     int64
	timestamp   int64
}

var _ asiotest.Driver = (*Driver)(nil)

// Open initializes a miniaudio context. The device is initialized by CreateBuffers.
func Open(opts Options, logger *slog.Logger) (*Driver, error) {
	if logger == nil {
		logger = asiotest.Logger()
	}

	if opts.Inputs < 0 || opts.Outputs < 0 {
		return nil, fmt.Errorf("invalid channel counts %d/%d", opts.Inputs, opts.Outputs)
	}

	d := &Driver{
		opts:   opts,
		logger: logger.With("driver", "miniaudio"),
		name:   "miniaudio",
		rate:   initialRate,
	}

	ctx, err := malgo.InitContext(opts.Backends, malgo.ContextConfig{}, func(message string) {
		d.logger.Debug("miniaudio", "msg", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize context: %w", err)
	}

	d.ctx = ctx

	if opts.Inputs > 0 && !d.hasDevice(malgo.Capture) {
		d.logger.Warn("No capture device, inputs disabled")
		d.opts.Inputs = 0
	}

	if opts.Outputs > 0 && !d.hasDevice(malgo.Playback) {
		d.logger.Warn("No playback device, outputs disabled")
		d.opts.Outputs = 0
	}

	return d, nil
}

// hasDevice reports whether the context has a device of the given kind and adds the default's name to the driver name.
func (d *Driver) hasDevice(kind malgo.DeviceType) bool {
	devices, err := d.ctx.Devices(kind)
	if err != nil {
		d.logger.Warn("Device enumeration failed", "err", err)

		return false
	}

	if len(devices) == 0 {
		return false
	}

	i := slices.IndexFunc(devices, func(info malgo.DeviceInfo) bool { return info.IsDefault != 0 })
	if i < 0 {
		i = 0
	}

	d.name = fmt.Sprintf("%s, %s", d.name, devices[i].Name())

	return true
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

	return d.opts.Inputs, d.opts.Outputs, nil
}

// GetBufferSize implements asiotest.Driver.
func (d *Driver) GetBufferSize() (asiotest.BufferSize, error) {
	return asiotest.BufferSize{Min: 64, Max: 4096, Preferred: 512, Granularity: -1}, nil
}

// GetSampleRate implements asiotest.Driver.
func (d *Driver) GetSampleRate() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.rate, nil
}

// CanSampleRate implements asiotest.Driver.
func (d *Driver) CanSampleRate(rate float64) error {
	if rate < MinSampleRate || rate > MaxSampleRate || rate != math.Trunc(rate) {
		return asiotest.ASE_NoClock
	}

	return nil
}

// SetSampleRate implements asiotest.Driver.
func (d *Driver) SetSampleRate(rate float64) error {
	if err := d.CanSampleRate(rate); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return asiotest.ASE_InvalidMode
	}

	d.rate = rate

	return nil
}

// OutputReady implements asiotest.Driver.
func (d *Driver) OutputReady() error {
	return asiotest.ASE_NotPresent
}

// GetChannelInfo implements asiotest.Driver.
func (d *Driver) GetChannelInfo(channel int32, isInput bool) (asiotest.ChannelInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	count, prefix := d.opts.Outputs, "Out"
	if isInput {
		count, prefix = d.opts.Inputs, "In"
	}

	if channel < 0 || channel >= count {
		return asiotest.ChannelInfo{}, asiotest.ASE_InvalidParameter
	}

	active := slices.ContainsFunc(d.infos, func(info asiotest.BufferInfo) bool {
		return info.IsInput == isInput && info.Channel == channel
	})

	return asiotest.ChannelInfo{
		Channel:  channel,
		IsInput:  isInput,
		IsActive: active,
		Type:     asiotest.ASIOSTInt32LSB,
		Name:     fmt.Sprintf("%s %d", prefix, channel+1),
	}, nil
}

// CreateBuffers implements asiotest.Driver.
// It initializes a device with periods of bufferSize frames.
func (d *Driver) CreateBuffers(infos []asiotest.BufferInfo, bufferSize int32, callbacks asiotest.Callbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.infos != nil {
		return asiotest.ASE_InvalidMode
	}

	if len(infos) == 0 || callbacks.BufferSwitch == nil {
		return asiotest.ASE_InvalidParameter
	}

	sizes, _ := d.GetBufferSize()
	if bufferSize < sizes.Min || bufferSize > sizes.Max || bufferSize&(bufferSize-1) != 0 {
		return asiotest.ASE_InvalidMode
	}

	for _, info := range infos {
		count := d.opts.Outputs
		if info.IsInput {
			count = d.opts.Inputs
		}

		if info.Channel < 0 || info.Channel >= count {
			return asiotest.ASE_InvalidParameter
		}
	}

	kind := malgo.Duplex
	switch {
	case d.opts.Inputs == 0:
		kind = malgo.Playback
	case d.opts.Outputs == 0:
		kind = malgo.Capture
	}

	cfg := malgo.DefaultDeviceConfig(kind)
	cfg.Capture.Format = malgo.FormatS32
	cfg.Capture.Channels = uint32(d.opts.Inputs)
	cfg.Playback.Format = malgo.FormatS32
	cfg.Playback.Channels = uint32(d.opts.Outputs)
	cfg.SampleRate = uint32(d.rate)
	cfg.PeriodSizeInFrames = uint32(bufferSize)
	cfg.Periods = 2

	device, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: d.onData,
		Stop: func() { d.logger.Debug("Device stopped") },
	})
	if err != nil {
		return fmt.Errorf("%w: %w", asiotest.ASE_HWMalfunction, err)
	}

	for i := range infos {
		infos[i].Buffers[0] = make([]byte, int(bufferSize)*sampleSize)
		infos[i].Buffers[1] = make([]byte, int(bufferSize)*sampleSize)
	}

	d.device = device
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
	device := d.device
	if d.infos == nil || d.running {
		d.mu.Unlock()

		return asiotest.ASE_InvalidMode
	}

	for i := range d.infos {
		d.infos[i].Buffers = [2][]byte{}
	}

	d.device = nil
	d.infos = nil
	d.callbacks = asiotest.Callbacks{}
	d.mu.Unlock()

	device.Uninit()

	return nil
}

// GetLatencies implements asiotest.Driver.
func (d *Driver) GetLatencies() (int32, int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	size := d.bufferSize
	if size == 0 {
		sizes, _ := d.GetBufferSize()
		size = sizes.Preferred
	}

	return size, 2 * size, nil
}

// Start implements asiotest.Driver.
func (d *Driver) Start() error {
	d.mu.Lock()
	if d.device == nil || d.running {
		d.mu.Unlock()

		return asiotest.ASE_InvalidMode
	}

	device := d.device
	d.running = true
	d.index = 0
	d.staged = 0
	d.samples = 0
	d.mu.Unlock()

	// miniaudio pulls the first playback chunk before Start returns, so mu cannot be held.
	if err := device.Start(); err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()

		return fmt.Errorf("%w: %w", asiotest.ASE_HWMalfunction, err)
	}

	return nil
}

// Stop implements asiotest.Driver.
// It returns after the device worker has finished its last data callback.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()

		return asiotest.ASE_InvalidMode
	}

	device := d.device
	d.mu.Unlock()

	err := device.Stop()

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	if err != nil {
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

// Close uninitializes the device if there still is one and frees the context.
func (d *Driver) Close() error {
	if d == nil || d.ctx == nil {
		return nil
	}

	d.mu.Lock()
	device := d.device
	d.device = nil
	d.infos = nil
	d.running = false
	d.mu.Unlock()

	if device != nil {
		device.Uninit()
	}

	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil

	return err
}

// onData stages captured frames into input half index and plays output half index^1,
// which the host filled at the previous buffer switch. It fires a buffer switch whenever a half is full.
func (d *Driver) onData(output, input []byte, frameCount uint32) {
	frames := int(frameCount)
	clear(output)

	for done := 0; done < frames; {
		d.mu.Lock()
		if !d.running || d.infos == nil {
			d.mu.Unlock()

			return
		}

		n := min(frames-done, int(d.bufferSize)-d.staged)
		index := d.index
		for _, info := range d.infos {
			if info.IsInput {
				stage(info.Buffers[index], input, d.staged, done, n, int(info.Channel), int(d.opts.Inputs))
			} else {
				unstage(output, info.Buffers[index^1], d.staged, done, n, int(info.Channel), int(d.opts.Outputs))
			}
		}

		done += n
		d.staged += n
		if d.staged < int(d.bufferSize) {
			d.mu.Unlock()

			break
		}

		pos, now, rate := d.samples, time.Now().UnixNano(), d.rate
		d.timestamp = now
		callbacks, timeInfo := d.callbacks, d.timeInfo
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

		d.mu.Lock()
		d.samples += int64(d.bufferSize)
		d.staged = 0
		d.index ^= 1
		d.mu.Unlock()
	}
}

// stage copies n frames of channel ch from interleaved input, starting at frame from,
// into a channel buffer starting at frame at.
func stage(dst, input []byte, at, from, n, ch, channels int) {
	for i := 0; i < n; i++ {
		src := ((from+i)*channels + ch) * sampleSize
		if src+sampleSize > len(input) {
			binary.LittleEndian.PutUint32(dst[(at+i)*sampleSize:], 0)

			continue
		}

		copy(dst[(at+i)*sampleSize:(at+i+1)*sampleSize], input[src:src+sampleSize])
	}
}

// unstage copies n frames of a channel buffer starting at frame at into channel ch of
// interleaved output, starting at frame from.
func unstage(output, src []byte, at, from, n, ch, channels int) {
	for i := 0; i < n; i++ {
		dst := ((from+i)*channels + ch) * sampleSize
		if dst+sampleSize > len(output) {
			return
		}

		copy(output[dst:dst+sampleSize], src[(at+i)*sampleSize:(at+i+1)*sampleSize])
	}
}
