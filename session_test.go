package asiotest_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/asiotest"
	"github.com/gen2brain/asiotest/sim"
)

// observer wraps the simulated driver to capture what the session hands to it.
type observer struct {
	*sim.Driver

	mu            sync.Mutex
	session       *asiotest.Session
	descriptors   []asiotest.BufferInfo
	bufferSize    int32
	countAtStop   int
	bindingAtStop *asiotest.Trampoline
}

func (o *observer) CreateBuffers(infos []asiotest.BufferInfo, bufferSize int32, callbacks asiotest.Callbacks) error {
	o.mu.Lock()
	o.descriptors = slices.Clone(infos)
	o.bufferSize = bufferSize
	o.mu.Unlock()

	return o.Driver.CreateBuffers(infos, bufferSize, callbacks)
}

func (o *observer) Stop() error {
	o.mu.Lock()
	o.countAtStop = o.session.Gate().Count()
	o.bindingAtStop = asiotest.ActiveBinding()
	o.mu.Unlock()

	return o.Driver.Stop()
}

func newObserved(t *testing.T, opts sim.Options, sessionOpts asiotest.Options) (*observer, *asiotest.Session) {
	t.Helper()

	d := sim.New(opts)
	t.Cleanup(func() { d.Close() })

	o := &observer{Driver: d}
	o.session = asiotest.NewSession(o, sessionOpts)

	return o, o.session
}

func TestSessionEndToEnd(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.MaxSwitches = asiotest.DefaultThreshold

	o, s := newObserved(t, opts, asiotest.Options{})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.True(t, report.OK())
	assert.Equal(t, asiotest.Released, report.State)
	assert.Equal(t, 44100.0, report.SampleRate)
	assert.Equal(t, int32(2), report.Inputs)
	assert.Equal(t, int32(2), report.Outputs)
	assert.Equal(t, 4, report.Descriptors)
	assert.Equal(t, asiotest.DefaultThreshold, report.Switches)
	assert.Equal(t, 1, report.Disposals)
	assert.Empty(t, report.Advisory)
	assert.Empty(t, report.RateMismatches)

	want := []asiotest.BufferInfo{
		{IsInput: true, Channel: 0},
		{IsInput: true, Channel: 1},
		{IsInput: false, Channel: 0},
		{IsInput: false, Channel: 1},
	}
	assert.Equal(t, want, o.descriptors)
	assert.Equal(t, int32(512), o.bufferSize)

	assert.Equal(t, asiotest.DefaultThreshold, o.countAtStop)
	assert.NotNil(t, o.bindingAtStop)
	assert.Nil(t, asiotest.ActiveBinding())

	assert.Equal(t, 1, o.Count(sim.CallCreateBuffers))
	assert.Equal(t, 1, o.Count(sim.CallStart))
	assert.Equal(t, 1, o.Count(sim.CallStop))
	assert.Equal(t, 1, o.Count(sim.CallDisposeBuffers))
	assert.Equal(t, asiotest.DefaultThreshold, o.Count(sim.CallGetSamplePosition))

	calls := o.Calls()
	stop := slices.Index(calls, sim.CallStop)
	dispose := slices.Index(calls, sim.CallDisposeBuffers)
	assert.Less(t, stop, dispose)
}

func TestSessionCallOrder(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.Inputs, opts.Outputs = 1, 1
	opts.MaxSwitches = 2

	o, s := newObserved(t, opts, asiotest.Options{Threshold: 2})

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	var lifecycle []sim.Call
	for _, c := range o.Calls() {
		if c != sim.CallGetSamplePosition {
			lifecycle = append(lifecycle, c)
		}
	}

	want := []sim.Call{
		sim.CallInit,
		sim.CallGetChannels,
		sim.CallGetSampleRate,
		// 44100, 48000, 96000, 192000 and the initial 44100.
		sim.CallCanSampleRate, sim.CallSetSampleRate, sim.CallGetSampleRate,
		sim.CallCanSampleRate,
		sim.CallCanSampleRate,
		sim.CallCanSampleRate,
		sim.CallCanSampleRate, sim.CallSetSampleRate, sim.CallGetSampleRate,
		sim.CallGetBufferSize,
		sim.CallOutputReady,
		sim.CallGetChannelInfo, sim.CallGetChannelInfo,
		sim.CallCreateBuffers,
		sim.CallGetSampleRate,
		sim.CallGetChannelInfo, sim.CallGetChannelInfo,
		sim.CallGetLatencies,
		sim.CallStart,
		sim.CallStop,
		sim.CallDisposeBuffers,
	}

	assert.Equal(t, want, lifecycle)
}

func TestSessionAbort(t *testing.T) {
	tests := []struct {
		name     string
		fail     sim.Call
		status   asiotest.Error
		state    asiotest.State
		disposed int
	}{
		{"Init", sim.CallInit, asiotest.ASE_NotPresent, asiotest.Uninitialized, 0},
		{"GetChannels", sim.CallGetChannels, asiotest.ASE_HWMalfunction, asiotest.Initialized, 0},
		{"GetSampleRate", sim.CallGetSampleRate, asiotest.ASE_NoClock, asiotest.ChannelsKnown, 0},
		{"SetSampleRate", sim.CallSetSampleRate, asiotest.ASE_InvalidMode, asiotest.ChannelsKnown, 0},
		{"GetBufferSize", sim.CallGetBufferSize, asiotest.ASE_HWMalfunction, asiotest.SampleRateEstablished, 0},
		{"CreateBuffers", sim.CallCreateBuffers, asiotest.ASE_NoMemory, asiotest.BufferSizeKnown, 0},
		{"Start", sim.CallStart, asiotest.ASE_HWMalfunction, asiotest.BuffersAllocated, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := sim.DefaultOptions()
			opts.Fail = map[sim.Call]error{tt.fail: tt.status}

			o, s := newObserved(t, opts, asiotest.Options{})

			report, err := s.Run(context.Background())
			require.Error(t, err)
			require.ErrorIs(t, err, tt.status)
			require.NotNil(t, report)

			assert.False(t, report.OK())
			assert.Equal(t, tt.state, report.State)
			assert.Equal(t, tt.disposed, report.Disposals)
			assert.Equal(t, tt.disposed, o.Count(sim.CallDisposeBuffers))
			assert.Zero(t, o.Count(sim.CallStop))
			assert.Nil(t, asiotest.ActiveBinding())
		})
	}
}

func TestSessionGetChannelsFailure(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.Fail = map[sim.Call]error{sim.CallGetChannels: asiotest.ASE_NotPresent}

	o, s := newObserved(t, opts, asiotest.Options{})

	_, err := s.Run(context.Background())
	require.ErrorIs(t, err, asiotest.ASE_NotPresent)

	assert.Equal(t, []sim.Call{sim.CallInit, sim.CallGetChannels}, o.Calls())
	assert.Nil(t, o.descriptors)
}

func TestSessionNoChannels(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.Inputs, opts.Outputs = 0, 0

	o, s := newObserved(t, opts, asiotest.Options{})

	_, err := s.Run(context.Background())
	require.ErrorIs(t, err, asiotest.ErrNoChannels)
	assert.Equal(t, []sim.Call{sim.CallInit, sim.CallGetChannels}, o.Calls())
}

func TestSessionOutputsOnly(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.Inputs = 0
	opts.MaxSwitches = 3

	o, s := newObserved(t, opts, asiotest.Options{Threshold: 3})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Descriptors)
	for _, d := range o.descriptors {
		assert.False(t, d.IsInput)
	}
}

func TestSessionCreateBuffersFailure(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.Fail = map[sim.Call]error{sim.CallCreateBuffers: asiotest.ASE_NoMemory}

	o, s := newObserved(t, opts, asiotest.Options{})

	report, err := s.Run(context.Background())
	require.ErrorIs(t, err, asiotest.ErrNoBuffers)
	require.ErrorIs(t, err, asiotest.ASE_NoMemory)

	assert.Zero(t, report.Descriptors)
	assert.Zero(t, o.Count(sim.CallDisposeBuffers))
	assert.Zero(t, o.Count(sim.CallStart))
}

func TestSessionOutputReadyAdvisory(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.MaxSwitches = 5
	opts.Fail = map[sim.Call]error{sim.CallOutputReady: asiotest.ASE_NotPresent}

	_, s := newObserved(t, opts, asiotest.Options{Threshold: 5})

	report, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Advisory, 1)
	assert.ErrorIs(t, report.Advisory[0], asiotest.ASE_NotPresent)
	assert.Equal(t, asiotest.Released, report.State)
}

func TestSessionInformationalFailures(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.MaxSwitches = 5
	opts.Fail = map[sim.Call]error{
		sim.CallGetChannelInfo:    asiotest.ASE_InvalidParameter,
		sim.CallGetLatencies:      asiotest.ASE_NotPresent,
		sim.CallGetSamplePosition: asiotest.ASE_SPNotAdvancing,
	}

	_, s := newObserved(t, opts, asiotest.Options{Threshold: 5})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Advisory)
	assert.Equal(t, 5, report.Switches)
}

func TestSessionStopFailure(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.MaxSwitches = 5
	opts.Fail = map[sim.Call]error{sim.CallStop: asiotest.ASE_HWMalfunction}

	o, s := newObserved(t, opts, asiotest.Options{Threshold: 5})

	report, err := s.Run(context.Background())
	require.ErrorIs(t, err, asiotest.ASE_HWMalfunction)
	assert.Equal(t, asiotest.Started, report.State)
	assert.Equal(t, 1, o.Count(sim.CallDisposeBuffers))
	assert.Equal(t, 1, report.Disposals)
	assert.Nil(t, asiotest.ActiveBinding())
	assert.NotContains(t, report.Advisory, asiotest.ErrStillRunning)
}

const runningCaseEnv = "ASIOTEST_RUNNING_CASE"

type runningCase struct {
	fail  map[sim.Call]error
	opts  asiotest.Options
	bound bool // The binding must stay active after Run.
}

var runningCases = map[string]runningCase{
	"StopFails": {
		fail: map[sim.Call]error{sim.CallStop: asiotest.ASE_HWMalfunction},
		opts: asiotest.Options{Threshold: 5},
	},
	"StopFailsAfterTimeout": {
		fail: map[sim.Call]error{sim.CallStop: asiotest.ASE_HWMalfunction},
		opts: asiotest.Options{Threshold: 1 << 30, Timeout: 50 * time.Millisecond},
	},
	"StopAndDisposeFail": {
		fail:  map[sim.Call]error{sim.CallStop: asiotest.ASE_HWMalfunction, sim.CallDisposeBuffers: asiotest.ASE_HWMalfunction},
		opts:  asiotest.Options{Threshold: 5},
		bound: true,
	},
}

// runRunningCase runs a session whose driver keeps calling back after a failed Stop,
// then lets it call back for a while. It exits 1 for the expected failed run, 2 otherwise.
func runRunningCase(tc runningCase) {
	opts := sim.DefaultOptions()
	opts.Realtime = true
	opts.Fail = tc.fail

	report, err := asiotest.NewSession(sim.New(opts), tc.opts).Run(context.Background())

	time.Sleep(200 * time.Millisecond)

	stillRunning := slices.Contains(report.Advisory, asiotest.ErrStillRunning)
	if err == nil || (asiotest.ActiveBinding() != nil) != tc.bound || stillRunning != tc.bound {
		os.Exit(2)
	}

	os.Exit(1)
}

// A failed Stop is an ordinary failure, callbacks still arriving must not hit an unbound trampoline.
func TestSessionDriverLeftRunning(t *testing.T) {
	if name := os.Getenv(runningCaseEnv); name != "" {
		runRunningCase(runningCases[name])

		return
	}

	for name := range runningCases {
		t.Run(name, func(t *testing.T) {
			cmd := exec.Command(os.Args[0], "-test.run=^TestSessionDriverLeftRunning$")
			cmd.Env = append(os.Environ(), runningCaseEnv+"="+name)

			out, err := cmd.CombinedOutput()

			var exitErr *exec.ExitError
			require.ErrorAs(t, err, &exitErr, string(out))
			assert.NotEqual(t, asiotest.FatalExitCode, exitErr.ExitCode(), string(out))
			assert.Equal(t, 1, exitErr.ExitCode(), string(out))
		})
	}
}

func TestSessionDisposeFailure(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.MaxSwitches = 5
	opts.Fail = map[sim.Call]error{sim.CallDisposeBuffers: asiotest.ASE_InvalidMode}

	o, s := newObserved(t, opts, asiotest.Options{Threshold: 5})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, asiotest.Released, report.State)
	require.Len(t, report.Advisory, 1)
	assert.ErrorIs(t, report.Advisory[0], asiotest.ASE_InvalidMode)
	assert.Equal(t, 1, o.Count(sim.CallDisposeBuffers))
}

func TestSessionRateNegotiation(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.Rates = []float64{44100, 48000, 96000}
	opts.InitialRate = 48000
	opts.MaxSwitches = 2

	o, s := newObserved(t, opts, asiotest.Options{Threshold: 2})

	report, err := s.Run(context.Background())
	require.NoError(t, err)

	// The initial rate is offered last, so it is the one left set.
	assert.Equal(t, 48000.0, report.SampleRate)
	assert.Equal(t, 4, o.Count(sim.CallSetSampleRate))
	assert.Equal(t, 5, o.Count(sim.CallCanSampleRate))
}

func TestSessionNoRateAccepted(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.Rates = nil
	opts.InitialRate = 22050
	opts.MaxSwitches = 2

	o, s := newObserved(t, opts, asiotest.Options{Threshold: 2})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 22050.0, report.SampleRate)
	assert.Zero(t, o.Count(sim.CallSetSampleRate))
}

func TestSessionRateMismatch(t *testing.T) {
	echo := func(rate float64) float64 { return rate + 1 }

	t.Run("Strict", func(t *testing.T) {
		opts := sim.DefaultOptions()
		opts.RateEcho = echo

		o, s := newObserved(t, opts, asiotest.Options{})

		report, err := s.Run(context.Background())
		require.ErrorIs(t, err, asiotest.ErrRateMismatch)
		assert.Equal(t, asiotest.ChannelsKnown, report.State)
		assert.Equal(t, []asiotest.RateMismatch{{Requested: 44100, Reported: 44101}}, report.RateMismatches)
		assert.Zero(t, o.Count(sim.CallCreateBuffers))
	})

	t.Run("Lenient", func(t *testing.T) {
		opts := sim.DefaultOptions()
		opts.Rates = []float64{44100, 48000}
		opts.RateEcho = echo
		opts.MaxSwitches = 2

		_, s := newObserved(t, opts, asiotest.Options{Threshold: 2, LenientRates: true})

		report, err := s.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []asiotest.RateMismatch{
			{Requested: 44100, Reported: 44101},
			{Requested: 48000, Reported: 48001},
			{Requested: 44100, Reported: 44101},
		}, report.RateMismatches)
		assert.Equal(t, 44101.0, report.SampleRate)
	})
}

func TestSessionTimeout(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.MaxSwitches = 5

	o, s := newObserved(t, opts, asiotest.Options{Timeout: 100 * time.Millisecond})

	report, err := s.Run(context.Background())
	require.ErrorIs(t, err, asiotest.ErrWaitAborted)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, 5, report.Switches)
	assert.Equal(t, asiotest.Released, report.State)
	assert.Equal(t, 1, report.Disposals)
	assert.Equal(t, 1, o.Count(sim.CallStop))
	assert.Equal(t, 1, o.Count(sim.CallDisposeBuffers))
	assert.Nil(t, asiotest.ActiveBinding())
}

func TestSessionCancel(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.MaxSwitches = 1

	o, s := newObserved(t, opts, asiotest.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := s.Run(ctx)
	require.ErrorIs(t, err, asiotest.ErrWaitAborted)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, o.Count(sim.CallDisposeBuffers))
}

func TestSessionRealtime(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.Realtime = true
	opts.BufferSize.Max = 8192
	opts.BufferSize.Preferred = 4410 // 10 switches per second at 44100.

	_, s := newObserved(t, opts, asiotest.Options{Threshold: 3})

	start := time.Now()
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Switches, 3)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestSessionTimeInfo(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.TimeInfo = true
	opts.MaxSwitches = asiotest.DefaultThreshold

	o, s := newObserved(t, opts, asiotest.Options{})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, o.UsesTimeInfo())
	assert.Equal(t, asiotest.DefaultThreshold, report.Switches)
}

func TestSessionRunsOnce(t *testing.T) {
	opts := sim.DefaultOptions()
	opts.MaxSwitches = 2

	_, s := newObserved(t, opts, asiotest.Options{Threshold: 2})

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	report, err := s.Run(context.Background())
	require.ErrorIs(t, err, asiotest.ErrInvalidTransition)
	require.NotNil(t, report)
	assert.Equal(t, asiotest.Released, report.State)
}

type rampSource struct {
	next int
}

func (r *rampSource) Read(dst []int) error {
	for i := range dst {
		dst[i] = r.next%2000 - 1000
		r.next++
	}

	return nil
}

func (r *rampSource) NumChans() int { return 2 }
func (r *rampSource) BitDepth() int { return 16 }

func TestSessionRecord(t *testing.T) {
	sampleTypes := []asiotest.SampleType{
		asiotest.ASIOSTInt16LSB,
		asiotest.ASIOSTInt24LSB,
		asiotest.ASIOSTInt32LSB,
		asiotest.ASIOSTFloat32LSB,
	}

	for _, st := range sampleTypes {
		t.Run(st.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "inputs.wav")
			f, err := os.Create(path)
			require.NoError(t, err)
			defer f.Close()

			opts := sim.DefaultOptions()
			opts.SampleType = st
			opts.Source = &rampSource{}
			opts.MaxSwitches = 4

			_, s := newObserved(t, opts, asiotest.Options{Threshold: 4, Record: f})

			report, err := s.Run(context.Background())
			require.NoError(t, err)
			require.Empty(t, report.Advisory)

			_, err = f.Seek(0, 0)
			require.NoError(t, err)

			dec := wav.NewDecoder(f)
			require.True(t, dec.IsValidFile())
			assert.Equal(t, uint16(2), dec.NumChans)
			assert.Equal(t, uint32(44100), dec.SampleRate)

			buf, err := dec.FullPCMBuffer()
			require.NoError(t, err)
			assert.Equal(t, 4*512, buf.NumFrames())
		})
	}
}

func TestSessionRecordUnsupportedType(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "inputs.wav"))
	require.NoError(t, err)
	defer f.Close()

	opts := sim.DefaultOptions()
	opts.SampleType = asiotest.ASIOSTInt32MSB
	opts.MaxSwitches = 2

	_, s := newObserved(t, opts, asiotest.Options{Threshold: 2, Record: f})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Advisory, 1)
	assert.ErrorContains(t, report.Advisory[0], "recording disabled")
}
