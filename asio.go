// Package asiotest drives a callback-driven real-time audio driver through its full host lifecycle
// (init, capability negotiation, buffer allocation, run, stop, release) and checks that it behaves
// under sustained asynchronous buffer-switch delivery, the way an audio application would use it.
package asiotest

import (
	"errors"
	"fmt"
)

// Error is a status code returned by a driver call.
// These values correspond to the ASE_* constants of the ASIO SDK.
type Error int32

const (
	ASE_OK               Error = 0          // This value will be returned whenever the call succeeded.
	ASE_SUCCESS          Error = 0x3f4847a0 // Unique success return value for Future calls.
	ASE_NotPresent       Error = -1000      // Hardware input or output is not present or available.
	ASE_HWMalfunction    Error = -999       // Hardware is malfunctioning.
	ASE_InvalidParameter Error = -998       // Input parameter invalid.
	ASE_InvalidMode      Error = -997       // Hardware is in a bad mode or used in a bad mode.
	ASE_SPNotAdvancing   Error = -996       // Hardware is not running when sample position is inquired.
	ASE_NoClock          Error = -995       // Sample clock or rate cannot be determined or is not present.
	ASE_NoMemory         Error = -994       // Not enough memory for completing the request.
)

// ErrorNames provides human-readable names for driver status codes.
var ErrorNames = map[Error]string{
	ASE_OK:               "ASE_OK",
	ASE_SUCCESS:          "ASE_SUCCESS",
	ASE_NotPresent:       "ASE_NotPresent",
	ASE_HWMalfunction:    "ASE_HWMalfunction",
	ASE_InvalidParameter: "ASE_InvalidParameter",
	ASE_InvalidMode:      "ASE_InvalidMode",
	ASE_SPNotAdvancing:   "ASE_SPNotAdvancing",
	ASE_NoClock:          "ASE_NoClock",
	ASE_NoMemory:         "ASE_NoMemory",
}

func (e Error) Error() string {
	if name, ok := ErrorNames[e]; ok {
		return name
	}

	return fmt.Sprintf("ASE_%d", int32(e))
}

// IsOK reports whether err is a success status.
// nil, ASE_OK and ASE_SUCCESS are all treated as success.
func IsOK(err error) bool {
	if err == nil {
		return true
	}

	var e Error
	if errors.As(err, &e) {
		return e == ASE_OK || e == ASE_SUCCESS
	}

	return false
}

// StatusString returns the name of the status carried by err, "ASE_OK" for nil.
func StatusString(err error) string {
	if err == nil {
		return ASE_OK.Error()
	}

	return err.Error()
}

// Selector identifies a message the driver sends to the host through the message callback.
// These values correspond to the kAsio* selector constants.
type Selector int32

const (
	SelectorSupported    Selector = 1  // Selector in value, returns 1 if supported, 0 otherwise.
	EngineVersion        Selector = 2  // Returns engine (host) ASIO implementation version, 2 or higher.
	ResetRequest         Selector = 3  // Request driver reset.
	BufferSizeChange     Selector = 4  // Not yet supported, will currently always return 0.
	ResyncRequest        Selector = 5  // The driver went out of sync, such that the timestamp is no longer valid.
	LatenciesChanged     Selector = 6  // The drivers latencies have changed.
	SupportsTimeInfo     Selector = 7  // If host returns true here, it will expect the callback BufferSwitchTimeInfo to be called.
	SupportsTimeCode     Selector = 8  // Supports time code reading/writing.
	MMCCommand           Selector = 9  // Unused.
	SupportsInputMonitor Selector = 10 // Supports input monitoring.
	SupportsInputGain    Selector = 11 // Unused.
	SupportsInputMeter   Selector = 12 // Unused.
	SupportsOutputGain   Selector = 13 // Unused.
	SupportsOutputMeter  Selector = 14 // Unused.
	Overload             Selector = 15 // Driver detected an overload.
	NumMessageSelectors  Selector = 16
)

// SelectorNames provides the SDK names of message selectors.
var SelectorNames = map[Selector]string{
	SelectorSupported:    "kAsioSelectorSupported",
	EngineVersion:        "kAsioEngineVersion",
	ResetRequest:         "kAsioResetRequest",
	BufferSizeChange:     "kAsioBufferSizeChange",
	ResyncRequest:        "kAsioResyncRequest",
	LatenciesChanged:     "kAsioLatenciesChanged",
	SupportsTimeInfo:     "kAsioSupportsTimeInfo",
	SupportsTimeCode:     "kAsioSupportsTimeCode",
	MMCCommand:           "kAsioMMCCommand",
	SupportsInputMonitor: "kAsioSupportsInputMonitor",
	SupportsInputGain:    "kAsioSupportsInputGain",
	SupportsInputMeter:   "kAsioSupportsInputMeter",
	SupportsOutputGain:   "kAsioSupportsOutputGain",
	SupportsOutputMeter:  "kAsioSupportsOutputMeter",
	Overload:             "kAsioOverload",
}

func (s Selector) String() string {
	if name, ok := SelectorNames[s]; ok {
		return name
	}

	return fmt.Sprintf("kAsioUnknown(%d)", int32(s))
}

// SampleType defines the sample format of a channel buffer.
// These values correspond to the ASIOST* constants.
type SampleType int32

const (
	ASIOSTInt16MSB   SampleType = 0
	ASIOSTInt24MSB   SampleType = 1 // Used for 20 bits as well.
	ASIOSTInt32MSB   SampleType = 2
	ASIOSTFloat32MSB SampleType = 3 // IEEE 754 32 bit float.
	ASIOSTFloat64MSB SampleType = 4 // IEEE 754 64 bit double float.

	ASIOSTInt32MSB16 SampleType = 8  // 32 bit data with 16 bit alignment.
	ASIOSTInt32MSB18 SampleType = 9  // 32 bit data with 18 bit alignment.
	ASIOSTInt32MSB20 SampleType = 10 // 32 bit data with 20 bit alignment.
	ASIOSTInt32MSB24 SampleType = 11 // 32 bit data with 24 bit alignment.

	ASIOSTInt16LSB   SampleType = 16
	ASIOSTInt24LSB   SampleType = 17 // Used for 20 bits as well.
	ASIOSTInt32LSB   SampleType = 18
	ASIOSTFloat32LSB SampleType = 19 // IEEE 754 32 bit float, as found on Intel x86 architecture.
	ASIOSTFloat64LSB SampleType = 20 // IEEE 754 64 bit double float, as found on Intel x86 architecture.

	ASIOSTInt32LSB16 SampleType = 24 // 32 bit data with 16 bit alignment.
	ASIOSTInt32LSB18 SampleType = 25 // 32 bit data with 18 bit alignment.
	ASIOSTInt32LSB20 SampleType = 26 // 32 bit data with 20 bit alignment.
	ASIOSTInt32LSB24 SampleType = 27 // 32 bit data with 24 bit alignment.
)

// SampleTypeNames provides human-readable names for sample types.
var SampleTypeNames = map[SampleType]string{
	ASIOSTInt16MSB:   "Int16MSB",
	ASIOSTInt24MSB:   "Int24MSB",
	ASIOSTInt32MSB:   "Int32MSB",
	ASIOSTFloat32MSB: "Float32MSB",
	ASIOSTFloat64MSB: "Float64MSB",
	ASIOSTInt32MSB16: "Int32MSB16",
	ASIOSTInt32MSB18: "Int32MSB18",
	ASIOSTInt32MSB20: "Int32MSB20",
	ASIOSTInt32MSB24: "Int32MSB24",
	ASIOSTInt16LSB:   "Int16LSB",
	ASIOSTInt24LSB:   "Int24LSB",
	ASIOSTInt32LSB:   "Int32LSB",
	ASIOSTFloat32LSB: "Float32LSB",
	ASIOSTFloat64LSB: "Float64LSB",
	ASIOSTInt32LSB16: "Int32LSB16",
	ASIOSTInt32LSB18: "Int32LSB18",
	ASIOSTInt32LSB20: "Int32LSB20",
	ASIOSTInt32LSB24: "Int32LSB24",
}

func (t SampleType) String() string {
	if name, ok := SampleTypeNames[t]; ok {
		return name
	}

	return fmt.Sprintf("SampleType(%d)", int32(t))
}

// BytesPerSample returns the size of a single sample in a channel buffer, 0 for unknown types.
func (t SampleType) BytesPerSample() int {
	switch t {
	case ASIOSTInt16MSB, ASIOSTInt16LSB:
		return 2
	case ASIOSTInt24MSB, ASIOSTInt24LSB:
		return 3
	case ASIOSTFloat64MSB, ASIOSTFloat64LSB:
		return 8
	case ASIOSTInt32MSB, ASIOSTFloat32MSB, ASIOSTInt32LSB, ASIOSTFloat32LSB,
		ASIOSTInt32MSB16, ASIOSTInt32MSB18, ASIOSTInt32MSB20, ASIOSTInt32MSB24,
		ASIOSTInt32LSB16, ASIOSTInt32LSB18, ASIOSTInt32LSB20, ASIOSTInt32LSB24:
		return 4
	default:
		return 0
	}
}
