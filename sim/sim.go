// Package sim implements a simulated driver.
//
// The simulated driver behaves like a well-mannered hardware driver: it answers queries from its
// options, allocates double buffers in CreateBuffers and calls back from its own goroutine
// between Start and Stop. Every call is recorded, and any call can be made to fail.
package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gen2brain/asiotest"
)

// Call names a driver call.
type Call string

const (
	CallInit              Call = "Init"
	CallGetChannels       Call = "GetChannels"
	CallGetBufferSize     Call = "GetBufferSize"
	CallGetSampleRate     Call = "GetSampleRate"
	CallCanSampleRate     Call = "CanSampleRate"
	CallSetSampleRate     Call = "SetSampleRate"
	CallOutputReady       Call = "OutputReady"
	CallGetChannelInfo    Call = "GetChannelInfo"
	CallCreateBuffers     Call = "CreateBuffers"
	CallDisposeBuffers    Call = "DisposeBuffers"
	CallGetLatencies      Call = "GetLatencies"
	CallStart             Call = "Start"
	CallStop              Call = "Stop"
	CallGetSamplePosition Call = "GetSamplePosition"
)

// Options configures a simulated driver.
type Options struct {
	Name        string
	Inputs      int32
	Outputs     int32
	InitialRate float64
	Rates       []float64 // Accepted sample rates.
	BufferSize  asiotest.BufferSize
	SampleType  asiotest.SampleType

	// Realtime paces buffer switches at rate/bufferSize per second, otherwise they come as fast as possible.
	Realtime bool

	// TimeInfo makes the driver ask the host for SupportsTimeInfo and use the timed callback if supported.
	TimeInfo bool

	// MaxSwitches stops calling back after that many buffer switches, zero means no limit.
	MaxSwitches int

	// Fail makes the given calls return the error instead of doing anything.
	Fail map[Call]error

	// RateEcho, if set, maps the rate passed to SetSampleRate to the rate reported afterwards.
	RateEcho func(float64) float64

	// Source feeds the input buffers, silence if nil.
	Source Source

	Logger *slog.Logger
}

// DefaultOptions returns a stereo in/out driver at 44100 Hz.
func DefaultOptions() Options {
	return Options{
		Name:        "Simulated ASIO",
		Inputs:      2,
		Outputs:     2,
		InitialRate: 44100,
		Rates:       []float64{44100},
		BufferSize:  asiotest.BufferSize{Min: 64, Max: 4096, Preferred: 512, Granularity: -1},
		SampleType:  asiotest.ASIOSTInt32LSB,
	}
}

// Driver is a simulated driver.
type Driver struct {
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	calls       []Call
	initialized bool
	rate        float64
	infos       []asiotest.BufferInfo
	callbacks   asiotest.Callbacks
	bufferSize  int32
	timeInfo    bool
	running     bool
	samples     int64
	timestamp   int64
	cancel      context.CancelFunc
	done        chan struct{}
}

// New returns a simulated driver.
func New(opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = asiotest.Logger()
	}

	return &Driver{
		opts:   opts,
		logger: logger.With("driver", "sim"),
		rate:   opts.InitialRate,
	}
}

// Calls returns the calls made so far, in order.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Clone(d.calls)
}

// Count returns how many times call was made.
func (d *Driver) Count(call Call) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, c := range d.calls {
		if c == call {
			n++
		}
	}

	return n
}

// UsesTimeInfo reports whether the driver calls BufferSwitchTimeInfo instead of BufferSwitch.
func (d *Driver) UsesTimeInfo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.timeInfo
}

// enter records call and returns the injected failure, if any. It must be called with mu held.
func (d *Driver) enter(call Call) error {
	d.calls = append(d.calls, call)

	if err, ok := d.opts.Fail[call]; ok {
		d.logger.Debug("Injected failure", "call", call, "err", err)

		return err
	}

	return nil
}

// Init implements asiotest.Driver.
func (d *Driver) Init(versionRequest int32) (asiotest.DriverInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := asiotest.DriverInfo{
		AsioVersion:   versionRequest,
		DriverVersion: 1,
		Name:          d.opts.Name,
	}

	if err := d.enter(CallInit); err != nil {
		info.ErrorMessage = err.Error()

		return info, err
	}

	d.initialized = true

	return info, nil
}

// GetChannels implements asiotest.Driver.
func (d *Driver) GetChannels() (int32, int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(CallGetChannels); err != nil {
		return 0, 0, err
	}

	if !d.initialized {
		return 0, 0, asiotest.ASE_NotPresent
	}

	return d.opts.Inputs, d.opts.Outputs, nil
}

// GetBufferSize implements asiotest.Driver.
func (d *Driver) GetBufferSize() (asiotest.BufferSize, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(CallGetBufferSize); err != nil {
		return asiotest.BufferSize{}, err
	}

	return d.opts.BufferSize, nil
}

// GetSampleRate implements asiotest.Driver.
func (d *Driver) GetSampleRate() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(CallGetSampleRate); err != nil {
		return 0, err
	}

	return d.rate, nil
}

// CanSampleRate implements asiotest.Driver.
func (d *Driver) CanSampleRate(rate float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(CallCanSampleRate); err != nil {
		return err
	}

	if !slices.Contains(d.opts.Rates, rate) {
		return asiotest.ASE_NoClock
	}

	return nil
}

// SetSampleRate implements asiotest.Driver.
func (d *Driver) SetSampleRate(rate float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(CallSetSampleRate); err != nil {
		return err
	}

	if !slices.Contains(d.opts.Rates, rate) {
		return asiotest.ASE_NoClock
	}

	if d.opts.RateEcho != nil {
		rate = d.opts.RateEcho(rate)
	}
	d.rate = rate

	return nil
}

// OutputReady implements asiotest.Driver.
func (d *Driver) OutputReady() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.enter(CallOutputReady)
}

// GetChannelInfo implements asiotest.Driver.
func (d *Driver) GetChannelInfo(channel int32, isInput bool) (asiotest.ChannelInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(CallGetChannelInfo); err != nil {
		return asiotest.ChannelInfo{}, err
	}

	count, dir := d.opts.Outputs, "Out"
	if isInput {
		count, dir = d.opts.Inputs, "In"
	}

	if channel < 0 || channel >= count {
		return asiotest.ChannelInfo{}, asiotest.ASE_InvalidParameter
	}

	info := asiotest.ChannelInfo{
		Channel: channel,
		IsInput: isInput,
		Type:    d.opts.SampleType,
		Name:    fmt.Sprintf("Sim %s %d", dir, channel+1),
	}

	for _, bi := range d.infos {
		if bi.IsInput == isInput && bi.Channel == channel {
			info.IsActive = true
		}
	}

	return info, nil
}

// CreateBuffers implements asiotest.Driver.
func (d *Driver) CreateBuffers(infos []asiotest.BufferInfo, bufferSize int32, callbacks asiotest.Callbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(CallCreateBuffers); err != nil {
		return err
	}

	if d.infos != nil {
		return asiotest.ASE_InvalidMode
	}

	if len(infos) == 0 || callbacks.BufferSwitch == nil {
		return asiotest.ASE_InvalidParameter
	}

	if bufferSize < d.opts.BufferSize.Min || bufferSize > d.opts.BufferSize.Max {
		return asiotest.ASE_InvalidMode
	}

	size := int(bufferSize) * d.opts.SampleType.BytesPerSample()
	if size == 0 {
		return asiotest.ASE_InvalidMode
	}

	for i := range infos {
		count := d.opts.Outputs
		if infos[i].IsInput {
			count = d.opts.Inputs
		}

		if infos[i].Channel < 0 || infos[i].Channel >= count {
			return asiotest.ASE_InvalidParameter
		}
	}

	for i := range infos {
		infos[i].Buffers[0] = make([]byte, size)
		infos[i].Buffers[1] = make([]byte, size)
	}

	d.infos = infos
	d.bufferSize = bufferSize
	d.callbacks = callbacks

	d.timeInfo = d.opts.TimeInfo && asiotest.HostSupportsTimeInfo(callbacks)

	d.logger.Debug("Buffers created", "channels", len(infos), "bufferSize", bufferSize, "timeInfo", d.timeInfo)

	return nil
}

// DisposeBuffers implements asiotest.Driver.
// A running driver is halted first, no callbacks arrive after it returns.
func (d *Driver) DisposeBuffers() error {
	d.mu.Lock()
	if err := d.enter(CallDisposeBuffers); err != nil {
		d.mu.Unlock()

		return err
	}

	if d.infos == nil {
		d.mu.Unlock()

		return asiotest.ASE_InvalidMode
	}

	if d.running {
		d.logger.Warn("Buffers disposed while running, halting")
	}
	d.mu.Unlock()

	d.halt()

	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.infos {
		d.infos[i].Buffers = [2][]byte{}
	}

	d.infos = nil
	d.callbacks = asiotest.Callbacks{}

	return nil
}

// GetLatencies implements asiotest.Driver.
func (d *Driver) GetLatencies() (int32, int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(CallGetLatencies); err != nil {
		return 0, 0, err
	}

	size := d.bufferSize
	if size == 0 {
		size = d.opts.BufferSize.Preferred
	}

	return size, 2 * size, nil
}

// Start implements asiotest.Driver.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(CallStart); err != nil {
		return err
	}

	if d.infos == nil || d.running {
		return asiotest.ASE_InvalidMode
	}

	var limiter *rate.Limiter
	if d.opts.Realtime {
		limiter = rate.NewLimiter(rate.Limit(d.rate/float64(d.bufferSize)), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true
	d.samples = 0

	go d.process(ctx, limiter, d.done, d.callbacks, d.timeInfo)

	return nil
}

// Stop implements asiotest.Driver.
// It returns once the processing goroutine has made its last callback.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if err := d.enter(CallStop); err != nil {
		d.mu.Unlock()

		return err
	}

	if !d.running {
		d.mu.Unlock()

		return asiotest.ASE_InvalidMode
	}

	d.mu.Unlock()

	d.halt()

	return nil
}

// halt cancels the processing goroutine and waits for its last callback.
// Callbacks call back into the driver, so it must be called without mu held.
func (d *Driver) halt() {
	d.mu.Lock()
	running, cancel, done := d.running, d.cancel, d.done
	d.mu.Unlock()

	if !running {
		return
	}

	cancel()
	<-done

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// GetSamplePosition implements asiotest.Driver.
func (d *Driver) GetSamplePosition() (int64, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(CallGetSamplePosition); err != nil {
		return 0, 0, err
	}

	if !d.running {
		return 0, 0, asiotest.ASE_SPNotAdvancing
	}

	return d.samples, d.timestamp, nil
}

// Close stops the driver if it is still running.
func (d *Driver) Close() error {
	if d == nil {
		return nil
	}

	d.halt()

	d.mu.Lock()
	d.infos = nil
	d.mu.Unlock()

	return nil
}

func (d *Driver) process(ctx context.Context, limiter *rate.Limiter, done chan struct{}, callbacks asiotest.Callbacks, timeInfo bool) {
	defer close(done)

	var index int32
	for n := 0; d.opts.MaxSwitches == 0 || n < d.opts.MaxSwitches; n++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		} else if ctx.Err() != nil {
			return
		}

		d.mu.Lock()
		d.fillInputs(index)
		pos, now, sampleRate := d.samples, time.Now().UnixNano(), d.rate
		d.timestamp = now
		d.mu.Unlock()

		if timeInfo {
			callbacks.BufferSwitchTimeInfo(&asiotest.Time{
				SamplePosition: pos,
				SystemTime:     now,
				SampleRate:     sampleRate,
				Flags:          asiotest.TimeInfoSystemTimeValid | asiotest.TimeInfoSamplePositionValid | asiotest.TimeInfoSampleRateValid,
			}, index, false)
		} else {
			callbacks.BufferSwitch(index, false)
		}

		d.mu.Lock()
		d.samples += int64(d.bufferSize)
		d.mu.Unlock()

		index ^= 1
	}

	d.logger.Debug("Switch limit reached, no more callbacks", "switches", d.opts.MaxSwitches)
}

// fillInputs writes the next source block, or silence, into half index of every input buffer.
// It must be called with mu held.
func (d *Driver) fillInputs(index int32) {
	if d.opts.Source == nil {
		return
	}

	frames := int(d.bufferSize)
	chans := d.opts.Source.NumChans()
	block := make([]int, frames*chans)
	if err := d.opts.Source.Read(block); err != nil {
		d.logger.Warn("Source read failed", "err", err)

		return
	}

	shift := 32 - d.opts.Source.BitDepth()
	bps := d.opts.SampleType.BytesPerSample()

	for _, info := range d.infos {
		if !info.IsInput {
			continue
		}

		ch := int(info.Channel) % chans
		buf := info.Buffers[index]
		for i := 0; i < frames; i++ {
			encodeSample(buf[i*bps:], int32(block[i*chans+ch]<<shift), d.opts.SampleType)
		}
	}
}

// encodeSample stores a full scale 32-bit sample in the given sample type.
func encodeSample(b []byte, v int32, st asiotest.SampleType) {
	switch st {
	case asiotest.ASIOSTInt16LSB:
		binary.LittleEndian.PutUint16(b, uint16(v>>16))
	case asiotest.ASIOSTInt24LSB:
		b[0], b[1], b[2] = byte(v>>8), byte(v>>16), byte(v>>24)
	case asiotest.ASIOSTInt32LSB:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case asiotest.ASIOSTFloat32LSB:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(float64(v)/(math.MaxInt32+1))))
	}
}
