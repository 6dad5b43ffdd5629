package asiotest

import (
	"unsafe"
)

// DriverInfo is filled in by Driver.Init.
type DriverInfo struct {
	AsioVersion   int32
	DriverVersion int32
	Name          string
	ErrorMessage  string
	SysRef        uintptr
}

// BufferSize describes the buffer sizes, in sample frames, a driver supports.
// A Granularity of -1 means the sizes are powers of two between Min and Max.
type BufferSize struct {
	Min         int32
	Max         int32
	Preferred   int32
	Granularity int32
}

// ChannelInfo describes a single input or output channel.
type ChannelInfo struct {
	Channel  int32
	IsInput  bool
	IsActive bool
	Group    int32
	Type     SampleType
	Name     string
}

// BufferInfo describes one channel buffer pair submitted to CreateBuffers.
// The driver fills Buffers with the two halves of the double buffer.
type BufferInfo struct {
	IsInput bool
	Channel int32
	Buffers [2][]byte
}

// NewBufferInfos returns one descriptor per channel, all inputs before all outputs.
func NewBufferInfos(inputs, outputs int32) []BufferInfo {
	infos := make([]BufferInfo, 0, inputs+outputs)
	for ch := int32(0); ch < inputs; ch++ {
		infos = append(infos, BufferInfo{IsInput: true, Channel: ch})
	}
	for ch := int32(0); ch < outputs; ch++ {
		infos = append(infos, BufferInfo{IsInput: false, Channel: ch})
	}

	return infos
}

// Time info flags.
const (
	TimeInfoSystemTimeValid     uint32 = 1
	TimeInfoSamplePositionValid uint32 = 1 << 1
	TimeInfoSampleRateValid     uint32 = 1 << 2
	TimeInfoSpeedValid          uint32 = 1 << 3
	TimeInfoSampleRateChanged   uint32 = 1 << 4
	TimeInfoClockSourceChanged  uint32 = 1 << 5
)

// Time is the timing information passed to the timed buffer switch callback.
type Time struct {
	SamplePosition int64   // Sample frames since Start.
	SystemTime     int64   // Nanoseconds, system clock.
	SampleRate     float64 // Current sample rate.
	Flags          uint32  // Combination of TimeInfo* flags.
}

// Callbacks is the fixed set of functions a driver calls back into while it runs.
type Callbacks struct {
	// BufferSwitch reports that half index of the double buffer is ready for processing.
	BufferSwitch func(index int32, direct bool)

	// SampleRateDidChange reports a sample rate change detected by the driver.
	SampleRateDidChange func(rate float64)

	// Message is a generic query from the driver, see Selector.
	Message func(selector Selector, value int32, message unsafe.Pointer, opt *float64) int32

	// BufferSwitchTimeInfo is the timed variant of BufferSwitch, used when the host answers SupportsTimeInfo.
	BufferSwitchTimeInfo func(params *Time, index int32, direct bool) *Time
}
