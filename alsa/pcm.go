//go:build linux

package alsa

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Config encapsulates the hardware and software parameters of a PCM stream.
type Config struct {
	Channels    uint32
	Rate        uint32
	PeriodSize  uint32
	PeriodCount uint32
	Format      PcmFormat
}

// PCM is an open hw PCM stream using read/write interleaved access.
type PCM struct {
	file      *os.File
	config    Config
	flags     PcmFlag
	subdevice uint32
	xruns     int // Counter for overruns/underruns
}

// PcmOpen opens an ALSA PCM device and configures it according to config.
func PcmOpen(card, device uint, flags PcmFlag, config Config) (*PCM, error) {
	path := pcmPath(card, device, flags)

	// Always open non-blocking to avoid getting stuck
	// if the device is in use, then clear the flag if blocking I/O was requested.
	file, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM device %s: %w", path, err)
	}

	if (flags & PCM_NONBLOCK) == 0 {
		currentFlags, err := unix.FcntlInt(file.Fd(), unix.F_GETFL, 0)
		if err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("fcntl F_GETFL for %s failed: %w", path, err)
		}
		if _, err = unix.FcntlInt(file.Fd(), unix.F_SETFL, currentFlags&^syscall.O_NONBLOCK); err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("failed to set blocking mode on %s: %w", path, err)
		}
	}

	var info sndPcmInfo
	if err := ioctl(file.Fd(), SNDRV_PCM_IOCTL_INFO, uintptr(unsafe.Pointer(&info))); err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("ioctl INFO failed: %w", err)
	}

	pcm := &PCM{
		file:      file,
		flags:     flags,
		subdevice: info.Subdevice,
	}

	if err := pcm.setConfig(config); err != nil {
		_ = pcm.Close()

		return nil, fmt.Errorf("failed to set PCM config: %w", err)
	}

	return pcm, nil
}

// Close closes the PCM device handle.
func (p *PCM) Close() error {
	if p == nil || p.file == nil {
		return nil
	}

	_ = ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_HW_FREE, 0)

	err := p.file.Close()
	p.file = nil

	return err
}

// Config returns the configuration finalized by the driver.
func (p *PCM) Config() Config {
	return p.config
}

// Xruns returns the number of buffer underruns (for playback) or overruns (for capture) that have occurred.
func (p *PCM) Xruns() int {
	return p.xruns
}

// FrameSize returns the size of a single frame in bytes.
func (p *PCM) FrameSize() int {
	return int(p.config.Channels) * p.config.Format.Bits() / 8
}

// PeriodTime returns the duration of a single period.
func (p *PCM) PeriodTime() time.Duration {
	if p.config.Rate == 0 {
		return 0
	}

	return time.Duration(1e9 * float64(p.config.PeriodSize) / float64(p.config.Rate))
}

// setConfig sets the hardware and software parameters, the stream must not be running.
func (p *PCM) setConfig(config Config) error {
	hwParams := &sndPcmHwParams{}
	paramInit(hwParams)

	paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_ACCESS, SNDRV_PCM_ACCESS_RW_INTERLEAVED)
	paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_FORMAT, uint32(config.Format))
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS, config.Channels)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_RATE, config.Rate)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE, config.PeriodSize)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIODS, config.PeriodCount)

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_HW_PARAMS, uintptr(unsafe.Pointer(hwParams))); err != nil {
		return fmt.Errorf("ioctl HW_PARAMS failed: %w", err)
	}

	p.config = Config{
		Channels:    paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS),
		Rate:        paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_RATE),
		PeriodSize:  paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE),
		PeriodCount: paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIODS),
		Format:      config.Format,
	}

	if p.config.Channels == 0 || p.config.Rate == 0 || p.config.PeriodSize == 0 || p.config.PeriodCount == 0 {
		return fmt.Errorf("driver finalized invalid PCM configuration (Channels=%d, Rate=%d, PeriodSize=%d, PeriodCount=%d)",
			p.config.Channels, p.config.Rate, p.config.PeriodSize, p.config.PeriodCount)
	}

	bufferSize := p.config.PeriodSize * p.config.PeriodCount

	swParams := &sndPcmSwParams{}
	swParams.TstampMode = 1 // SNDRV_PCM_TSTAMP_ENABLE
	swParams.PeriodStep = 1
	swParams.AvailMin = sndPcmUframesT(p.config.PeriodSize)
	swParams.XferAlign = sndPcmUframesT(p.config.PeriodSize / 2) // Needed for old kernels

	if (p.flags & PCM_IN) != 0 {
		// Capture starts with the first read.
		swParams.StartThreshold = 1
		swParams.StopThreshold = sndPcmUframesT(bufferSize * 10)
	} else {
		// Playback starts once both periods are queued.
		swParams.StartThreshold = sndPcmUframesT(bufferSize)
		swParams.StopThreshold = sndPcmUframesT(bufferSize)
	}

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_SW_PARAMS, uintptr(unsafe.Pointer(swParams))); err != nil {
		return fmt.Errorf("ioctl SW_PARAMS (write) failed: %w", err)
	}

	return nil
}

// Prepare readies the PCM device for I/O operations.
func (p *PCM) Prepare() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_PREPARE, 0); err != nil {
		return fmt.Errorf("ioctl PREPARE failed: %w", err)
	}

	return nil
}

// Start explicitly starts the PCM stream.
func (p *PCM) Start() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_START, 0); err != nil {
		return fmt.Errorf("ioctl START failed: %w", err)
	}

	return nil
}

// Drop stops the PCM stream, dropping any pending frames.
func (p *PCM) Drop() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DROP, 0); err != nil {
		return fmt.Errorf("ioctl DROP failed: %w", err)
	}

	return nil
}

// Write writes interleaved frames to a playback stream and returns the number of frames written.
func (p *PCM) Write(data []byte) (int, error) {
	if (p.flags & PCM_IN) != 0 {
		return 0, errors.New("cannot write to a capture device")
	}

	return p.transfer(SNDRV_PCM_IOCTL_WRITEI_FRAMES, data)
}

// Read reads interleaved frames from a capture stream and returns the number of frames read.
func (p *PCM) Read(data []byte) (int, error) {
	if (p.flags & PCM_IN) == 0 {
		return 0, errors.New("cannot read from a playback device")
	}

	return p.transfer(SNDRV_PCM_IOCTL_READI_FRAMES, data)
}

func (p *PCM) transfer(req uintptr, data []byte) (int, error) {
	frameSize := p.FrameSize()
	if frameSize == 0 || len(data) < frameSize {
		return 0, fmt.Errorf("buffer too small: needs at least %d bytes, got %d", frameSize, len(data))
	}

	frames := len(data) / frameSize
	defer runtime.KeepAlive(data)

	done := 0
	for done < frames {
		xfer := sndXferi{
			Frames: sndPcmUframesT(frames - done),
			Buf:    uintptr(unsafe.Pointer(&data[done*frameSize])),
		}

		err := ioctl(p.file.Fd(), req, uintptr(unsafe.Pointer(&xfer)))
		if xfer.Result > 0 {
			done += xfer.Result
		}

		if errors.Is(err, syscall.EINTR) {
			continue
		}

		if err != nil {
			if errRec := p.xrunRecover(err); errRec != nil {
				return done, fmt.Errorf("ioctl transfer failed: %w", errRec)
			}

			continue
		}
	}

	return done, nil
}

// xrunRecover prepares the stream again after an underrun, overrun or suspend.
func (p *PCM) xrunRecover(err error) error {
	if !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ESTRPIPE) {
		return err
	}

	if errors.Is(err, syscall.EPIPE) {
		p.xruns++
	}

	if prepErr := p.Prepare(); prepErr != nil {
		return fmt.Errorf("recovery failed: could not prepare stream: %w", prepErr)
	}

	return nil
}
