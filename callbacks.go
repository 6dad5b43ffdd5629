package asiotest

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync/atomic"
	"unsafe"
)

// FatalExitCode is the process exit status after a callback binding contract violation.
const FatalExitCode = 134

// The driver calls back through plain functions with no user data,
// so the handlers of the current run are reached through this slot.
var activeBinding atomic.Pointer[Trampoline]

// Trampoline binds the handlers of one run to the fixed callback functions given to the driver.
// At most one Trampoline is bound at any time.
type Trampoline struct {
	handlers Callbacks
	logger   *slog.Logger
}

// NewTrampoline binds handlers as the active callback binding.
// Binding while another Trampoline is active terminates the process.
func NewTrampoline(handlers Callbacks, logger *slog.Logger) *Trampoline {
	t := &Trampoline{
		handlers: handlers,
		logger:   loggerOrDefault(logger),
	}

	if !activeBinding.CompareAndSwap(nil, t) {
		contractViolation(t.logger, "callback binding already active")
	}

	return t
}

// Close unbinds t. Closing a Trampoline that is not the active binding terminates the process.
func (t *Trampoline) Close() {
	if !activeBinding.CompareAndSwap(t, nil) {
		contractViolation(t.logger, "closing a callback binding that is not active")
	}
}

// Callbacks returns the functions to pass to Driver.CreateBuffers.
func (t *Trampoline) Callbacks() Callbacks {
	return Callbacks{
		BufferSwitch:         bufferSwitch,
		SampleRateDidChange:  sampleRateDidChange,
		Message:              asioMessage,
		BufferSwitchTimeInfo: bufferSwitchTimeInfo,
	}
}

// ActiveBinding returns the bound Trampoline, or nil.
func ActiveBinding() *Trampoline {
	return activeBinding.Load()
}

func bound(name string) *Trampoline {
	t := activeBinding.Load()
	if t == nil {
		contractViolation(Logger(), name+" called with no callback binding")
	}

	return t
}

func bufferSwitch(index int32, direct bool) {
	t := bound("bufferSwitch")
	t.logger.Debug("bufferSwitch", "index", index, "direct", direct)

	if t.handlers.BufferSwitch != nil {
		t.handlers.BufferSwitch(index, direct)
	}

	t.logger.Debug("bufferSwitch returned")
}

func sampleRateDidChange(rate float64) {
	t := bound("sampleRateDidChange")
	t.logger.Info("sampleRateDidChange", "rate", rate)

	if t.handlers.SampleRateDidChange != nil {
		t.handlers.SampleRateDidChange(rate)
	}

	t.logger.Debug("sampleRateDidChange returned")
}

func asioMessage(selector Selector, value int32, message unsafe.Pointer, opt *float64) int32 {
	t := bound("asioMessage")
	t.logger.Debug("asioMessage", "selector", selector, "value", value, "message", message, "opt", opt)

	var ret int32
	if t.handlers.Message != nil {
		ret = t.handlers.Message(selector, value, message, opt)
	}

	t.logger.Debug("asioMessage returned", "result", ret)

	return ret
}

func bufferSwitchTimeInfo(params *Time, index int32, direct bool) *Time {
	t := bound("bufferSwitchTimeInfo")
	t.logger.Debug("bufferSwitchTimeInfo", "params", describeTime(params), "index", index, "direct", direct)

	var ret *Time
	if t.handlers.BufferSwitchTimeInfo != nil {
		ret = t.handlers.BufferSwitchTimeInfo(params, index, direct)
	}

	t.logger.Debug("bufferSwitchTimeInfo returned", "result", describeTime(ret))

	return ret
}

func describeTime(t *Time) string {
	if t == nil {
		return "none"
	}

	return fmt.Sprintf("samplePosition=%d systemTime=%d sampleRate=%g flags=%#x",
		t.SamplePosition, t.SystemTime, t.SampleRate, t.Flags)
}

func contractViolation(logger *slog.Logger, msg string) {
	logger.Error("fatal contract violation", "reason", msg)
	fmt.Fprintf(os.Stderr, "fatal: %s\n%s", msg, debug.Stack())
	os.Exit(FatalExitCode)
}
