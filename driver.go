package asiotest

// Driver is a loaded audio driver instance.
//
// Every call is synchronous from the point of view of the caller. Status codes are reported
// as Error values, a nil error, ASE_OK and ASE_SUCCESS all mean success (see IsOK).
// Callbacks passed to CreateBuffers are invoked from driver goroutines between Start and Stop.
type Driver interface {
	// Init initializes the driver, versionRequest is the host ASIO version.
	Init(versionRequest int32) (DriverInfo, error)

	// GetChannels returns the number of available input and output channels.
	GetChannels() (numInput, numOutput int32, err error)

	// GetBufferSize returns the supported buffer sizes in sample frames.
	GetBufferSize() (BufferSize, error)

	// GetSampleRate returns the current sample rate.
	GetSampleRate() (float64, error)

	// CanSampleRate returns nil if the driver supports the given rate.
	CanSampleRate(rate float64) error

	// SetSampleRate sets the sample rate.
	SetSampleRate(rate float64) error

	// OutputReady notifies the driver that output buffers are filled.
	OutputReady() error

	// GetChannelInfo describes a single channel.
	GetChannelInfo(channel int32, isInput bool) (ChannelInfo, error)

	// CreateBuffers allocates double buffers for infos and registers callbacks.
	CreateBuffers(infos []BufferInfo, bufferSize int32, callbacks Callbacks) error

	// DisposeBuffers releases buffers allocated by CreateBuffers.
	DisposeBuffers() error

	// GetLatencies returns input and output latencies in sample frames.
	GetLatencies() (input, output int32, err error)

	// Start starts processing, callbacks are invoked until Stop.
	Start() error

	// Stop stops processing.
	Stop() error

	// GetSamplePosition returns the sample position and the system time of the last buffer switch, in nanoseconds.
	GetSamplePosition() (samples, timestamp int64, err error)
}

// HostSupportsTimeInfo asks the host through callbacks.Message whether it takes the timed buffer switch.
// Drivers call it from CreateBuffers to choose the callback variant.
func HostSupportsTimeInfo(callbacks Callbacks) bool {
	if callbacks.Message == nil || callbacks.BufferSwitchTimeInfo == nil {
		return false
	}

	if callbacks.Message(SelectorSupported, int32(SupportsTimeInfo), nil, nil) != 1 {
		return false
	}

	return callbacks.Message(SupportsTimeInfo, 0, nil, nil) == 1
}
