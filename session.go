package asiotest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultThreshold is the number of buffer switches a run waits for before stopping the driver.
// Enough to surface steady-state callback bugs rather than one-shot issues.
const DefaultThreshold = 30

// HostVersion is the ASIO version passed to Driver.Init.
const HostVersion = 2

// StandardSampleRates are the rates offered to the driver, followed by its initial rate.
var StandardSampleRates = []float64{44100, 48000, 96000, 192000}

var (
	// ErrNoChannels is returned when the driver reports neither inputs nor outputs.
	ErrNoChannels = errors.New("driver reports no channels")
	// ErrRateMismatch is returned when the driver reports a rate other than the one just set.
	ErrRateMismatch = errors.New("sample rate mismatch")
	// ErrNoBuffers is returned when buffers could not be allocated.
	ErrNoBuffers = errors.New("no buffers allocated")
	// ErrWaitAborted is returned when the wait for buffer switches was cancelled or timed out.
	ErrWaitAborted = errors.New("wait for buffer switches aborted")
	// ErrStillRunning is recorded when the driver could neither be stopped nor released,
	// the callback binding then stays active for the rest of the process.
	ErrStillRunning = errors.New("driver still running after the run")
)

// Options configures a Session.
type Options struct {
	// Threshold is the number of buffer switches to wait for, DefaultThreshold if zero.
	Threshold int

	// Timeout bounds the wait for buffer switches. Zero waits forever.
	Timeout time.Duration

	// LenientRates records sample rate mismatches instead of aborting.
	LenientRates bool

	// Logger receives the log trail of the run, DefaultLogger if nil.
	Logger *slog.Logger

	// Record, if set, receives the input channels of every buffer switch as a WAV file.
	Record io.WriteSeeker
}

// RateMismatch is a sample rate the driver accepted but did not report back.
type RateMismatch struct {
	Requested float64
	Reported  float64
}

// Report is the outcome of a run.
type Report struct {
	State          State
	Driver         DriverInfo
	Inputs         int32
	Outputs        int32
	SampleRate     float64
	BufferSize     BufferSize
	Descriptors    int
	Switches       int
	Disposals      int
	Advisory       []error
	RateMismatches []RateMismatch
	Err            error
}

// OK reports whether the run succeeded.
func (r *Report) OK() bool {
	return r.Err == nil
}

// Buffers owns the descriptors of one successful CreateBuffers call.
type Buffers struct {
	Info []BufferInfo

	driver   Driver
	once     sync.Once
	called   bool
	err      error
	disposed func(error)
}

// Dispose calls DisposeBuffers on the driver. Only the first call reaches the driver.
func (b *Buffers) Dispose() error {
	if b == nil {
		return nil
	}

	b.once.Do(func() {
		b.called = true
		b.err = b.driver.DisposeBuffers()
		if b.disposed != nil {
			b.disposed(b.err)
		}
	})

	return b.err
}

// Released reports whether DisposeBuffers was called and succeeded.
func (b *Buffers) Released() bool {
	return b != nil && b.called && IsOK(b.err)
}

// Session drives one driver through the full host lifecycle.
type Session struct {
	driver     Driver
	opts       Options
	logger     *slog.Logger
	machine    Machine
	gate       *Gate
	dispatcher *Dispatcher
	report     Report
	buffers    *Buffers
	recorder   *Recorder
	inputType  SampleType
}

// NewSession returns a session for driver. The caller keeps ownership of the driver.
func NewSession(driver Driver, opts Options) *Session {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	logger := loggerOrDefault(opts.Logger)

	return &Session{
		driver:     driver,
		opts:       opts,
		logger:     logger,
		gate:       NewGate(logger),
		dispatcher: NewDispatcher(logger),
		inputType:  -1,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.machine.State()
}

// Gate returns the buffer switch counter of the run.
func (s *Session) Gate() *Gate {
	return s.gate
}

// Run executes the lifecycle once. The returned report is never nil, its Err equals the returned error.
func (s *Session) Run(ctx context.Context) (report *Report, err error) {
	defer func() {
		s.report.State = s.machine.State()
		s.report.Switches = s.gate.Count()
		s.report.Err = err
		r := s.report
		report = &r
	}()

	if s.machine.State() != Uninitialized {
		return nil, fmt.Errorf("%w: session already ran", ErrInvalidTransition)
	}

	if err := s.init(); err != nil {
		return nil, err
	}

	if err := s.channels(); err != nil {
		return nil, err
	}

	if err := s.negotiateSampleRate(); err != nil {
		return nil, err
	}

	if err := s.bufferSize(); err != nil {
		return nil, err
	}

	s.outputReady()
	s.channelInfo()

	trampoline := NewTrampoline(s.handlers(), s.logger)
	defer s.unbind(trampoline)

	if err := s.createBuffers(trampoline); err != nil {
		return nil, err
	}
	defer s.buffers.Dispose()

	s.display()

	if s.opts.Record != nil {
		s.startRecording()
		defer func() {
			if err := s.recorder.Close(); err != nil {
				s.logger.Warn("Closing recording failed", "err", err)
			}
		}()
	}

	if err := s.call("Start", s.driver.Start); err != nil {
		return nil, err
	}

	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	if err := s.call("Stop", s.driver.Stop); err != nil {
		return nil, err
	}

	s.dispose()

	return nil, nil
}

// unbind closes the callback binding unless the driver may still call back,
// that is Stop failed and DisposeBuffers did not succeed either.
func (s *Session) unbind(trampoline *Trampoline) {
	if s.machine.State() == Started && !s.buffers.Released() {
		s.report.Advisory = append(s.report.Advisory, ErrStillRunning)
		s.logger.Error("Driver was not stopped, leaving the callback binding active")

		return
	}

	trampoline.Close()
}

// check logs the status of a driver call and returns nil for success statuses.
func (s *Session) check(call string, policy Policy, err error) error {
	if IsOK(err) {
		s.logger.Debug(call, "status", StatusString(err))

		return nil
	}

	level := slog.LevelError
	switch policy {
	case Advisory:
		level = slog.LevelWarn
	case Informational:
		level = slog.LevelInfo
	}

	s.logger.Log(context.Background(), level, call+" failed", "status", StatusString(err), "policy", policy)

	return err
}

// call runs a driver call that makes the named transition.
func (s *Session) call(name string, fn func() error) error {
	t, err := s.machine.Check(name)
	if err != nil {
		return err
	}

	s.logger.Info(name, "from", t.From, "to", t.To)
	if err := s.check(name, t.Policy, fn()); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}

	return s.machine.Advance(name)
}

func (s *Session) init() error {
	return s.call("Init", func() error {
		info, err := s.driver.Init(HostVersion)
		s.report.Driver = info
		s.logger.Info("Driver info",
			"asioVersion", info.AsioVersion,
			"driverVersion", info.DriverVersion,
			"name", info.Name,
			"errorMessage", info.ErrorMessage,
			"sysRef", info.SysRef)

		return err
	})
}

func (s *Session) channels() error {
	return s.call("GetChannels", func() error {
		in, out, err := s.driver.GetChannels()
		if !IsOK(err) {
			return err
		}

		if in == 0 && out == 0 {
			return ErrNoChannels
		}

		s.report.Inputs, s.report.Outputs = in, out
		s.logger.Info("Channel count", "inputs", in, "outputs", out)

		return nil
	})
}

func (s *Session) sampleRate(policy Policy) (float64, error) {
	rate, err := s.driver.GetSampleRate()
	if err := s.check("GetSampleRate", policy, err); err != nil {
		return 0, err
	}

	s.logger.Info("Sample rate", "rate", rate)

	return rate, nil
}

func (s *Session) negotiateSampleRate() error {
	return s.call("SetSampleRate", func() error {
		initial, err := s.sampleRate(Mandatory)
		if err != nil {
			return fmt.Errorf("initial GetSampleRate failed: %w", err)
		}
		s.report.SampleRate = initial

		candidates := append(append([]float64(nil), StandardSampleRates...), initial)
		for _, rate := range candidates {
			if err := s.check("CanSampleRate", Informational, s.driver.CanSampleRate(rate)); err != nil {
				s.logger.Info("Sample rate not supported", "rate", rate)

				continue
			}

			s.logger.Info("SetSampleRate", "rate", rate)
			if err := s.check("SetSampleRate", Mandatory, s.driver.SetSampleRate(rate)); err != nil {
				return fmt.Errorf("rate %g: %w", rate, err)
			}

			reported, err := s.sampleRate(Mandatory)
			if err != nil {
				return fmt.Errorf("GetSampleRate after setting %g failed: %w", rate, err)
			}
			s.report.SampleRate = reported

			if reported != rate {
				s.report.RateMismatches = append(s.report.RateMismatches, RateMismatch{Requested: rate, Reported: reported})
				s.logger.Warn("Sample rate mismatch", "requested", rate, "reported", reported)

				if !s.opts.LenientRates {
					return fmt.Errorf("%w: requested %g, driver reports %g", ErrRateMismatch, rate, reported)
				}
			}
		}

		return nil
	})
}

func (s *Session) bufferSize() error {
	return s.call("GetBufferSize", func() error {
		size, err := s.driver.GetBufferSize()
		if !IsOK(err) {
			return err
		}

		s.report.BufferSize = size
		s.logger.Info("Buffer size",
			"min", size.Min,
			"max", size.Max,
			"preferred", size.Preferred,
			"granularity", size.Granularity)

		return nil
	})
}

func (s *Session) outputReady() {
	s.logger.Info("OutputReady")
	if err := s.check("OutputReady", CallPolicy("OutputReady"), s.driver.OutputReady()); err != nil {
		s.report.Advisory = append(s.report.Advisory, fmt.Errorf("OutputReady failed: %w", err))
	}
}

func (s *Session) channelInfo() {
	for _, isInput := range []bool{true, false} {
		count := s.report.Outputs
		if isInput {
			count = s.report.Inputs
		}

		for ch := int32(0); ch < count; ch++ {
			info, err := s.driver.GetChannelInfo(ch, isInput)
			if err := s.check("GetChannelInfo", Informational, err); err != nil {
				continue
			}

			if isInput && ch == 0 {
				s.inputType = info.Type
			}

			s.logger.Info("Channel info",
				"channel", ch,
				"isInput", isInput,
				"isActive", info.IsActive,
				"group", info.Group,
				"type", info.Type,
				"name", info.Name)
		}
	}
}

func (s *Session) createBuffers(trampoline *Trampoline) error {
	infos := NewBufferInfos(s.report.Inputs, s.report.Outputs)
	preferred := s.report.BufferSize.Preferred

	return s.call("CreateBuffers", func() error {
		for _, info := range infos {
			s.logger.Debug("Buffer descriptor", "isInput", info.IsInput, "channel", info.Channel)
		}
		s.logger.Info("CreateBuffers", "descriptors", len(infos), "bufferSize", preferred)

		err := s.driver.CreateBuffers(infos, preferred, trampoline.Callbacks())
		if !IsOK(err) {
			return errors.Join(ErrNoBuffers, err)
		}

		s.report.Descriptors = len(infos)
		s.buffers = &Buffers{
			Info:   infos,
			driver: s.driver,
			disposed: func(err error) {
				s.report.Disposals++
				s.logger.Info("DisposeBuffers")
				_ = s.check("DisposeBuffers", CallPolicy("DisposeBuffers"), err)
			},
		}

		return nil
	})
}

func (s *Session) display() {
	_, _ = s.sampleRate(Informational)
	s.channelInfo()

	in, out, err := s.driver.GetLatencies()
	if s.check("GetLatencies", Informational, err) == nil {
		s.logger.Info("Latencies", "input", in, "output", out)
	}
}

func (s *Session) startRecording() {
	if s.report.Inputs == 0 {
		s.logger.Warn("Nothing to record, driver has no inputs")

		return
	}

	rec, err := NewRecorder(s.opts.Record, s.report.SampleRate, int(s.report.Inputs), s.inputType)
	if err != nil {
		s.report.Advisory = append(s.report.Advisory, fmt.Errorf("recording disabled: %w", err))
		s.logger.Warn("Recording disabled", "err", err)

		return
	}

	s.recorder = rec
}

func (s *Session) wait(ctx context.Context) error {
	threshold := s.opts.Threshold
	s.logger.Info("Waiting for buffer switches", "threshold", threshold)

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	if ctx.Done() == nil {
		s.gate.WaitUntil(threshold)
	} else if err := s.gate.WaitUntilContext(ctx, threshold); err != nil {
		count := s.gate.Count()
		s.logger.Error("Wait aborted", "switches", count, "threshold", threshold, "err", err)

		s.logger.Info("Stop")
		if s.check("Stop", Mandatory, s.driver.Stop()) == nil {
			_ = s.machine.Advance("Stop")
			s.dispose()
		}

		return fmt.Errorf("%w after %d of %d buffer switches: %w", ErrWaitAborted, count, threshold, err)
	}

	s.logger.Info("Reached buffer switch threshold, stopping", "threshold", threshold)

	return nil
}

func (s *Session) dispose() {
	if _, err := s.machine.Check("DisposeBuffers"); err != nil {
		s.logger.Error("Dispose out of order", "err", err)

		return
	}

	if err := s.buffers.Dispose(); !IsOK(err) {
		s.report.Advisory = append(s.report.Advisory, fmt.Errorf("DisposeBuffers failed: %w", err))
	}

	_ = s.machine.Advance("DisposeBuffers")
}

func (s *Session) handlers() Callbacks {
	return Callbacks{
		BufferSwitch: func(index int32, _ bool) {
			s.bufferSwitch(index)
		},
		SampleRateDidChange: func(rate float64) {
			s.logger.Warn("Driver reports sample rate change", "rate", rate)
		},
		Message: s.dispatcher.Dispatch,
		BufferSwitchTimeInfo: func(_ *Time, index int32, _ bool) *Time {
			s.bufferSwitch(index)

			return nil
		},
	}
}

func (s *Session) bufferSwitch(index int32) {
	samples, timestamp, err := s.driver.GetSamplePosition()
	if s.check("GetSamplePosition", Informational, err) == nil {
		s.logger.Debug("Sample position", "samples", samples, "timestamp", timestamp)
	}

	if s.recorder != nil {
		s.record(index)
	}

	s.gate.Increment()
}

func (s *Session) record(index int32) {
	half := index & 1
	inputs := make([][]byte, 0, s.report.Inputs)
	for _, info := range s.buffers.Info {
		if info.IsInput {
			inputs = append(inputs, info.Buffers[half])
		}
	}

	if err := s.recorder.Write(inputs); err != nil {
		s.logger.Warn("Recording failed", "err", err)
	}
}
