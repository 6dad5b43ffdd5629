package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gen2brain/malgo"

	"github.com/gen2brain/asiotest"
	"github.com/gen2brain/asiotest/miniaudio"
	"github.com/gen2brain/asiotest/sim"
)

// OpenDriver opens the configured driver backend.
// The closer releases the driver and everything opened for it.
func OpenDriver(cfg Config, logger *slog.Logger) (asiotest.Driver, io.Closer, error) {
	switch cfg.Driver {
	case "sim":
		return openSim(cfg, logger)
	case "alsa":
		return openALSA(cfg, logger)
	case "miniaudio":
		return openMiniaudio(cfg, logger)
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

// SessionOptions maps the configuration to session options.
func SessionOptions(cfg Config, logger *slog.Logger) asiotest.Options {
	return asiotest.Options{
		Threshold:    cfg.Threshold,
		Timeout:      cfg.Timeout,
		LenientRates: !cfg.StrictRates,
		Logger:       logger,
	}
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i].Close())
	}

	return errors.Join(errs...)
}

func openSim(cfg Config, logger *slog.Logger) (asiotest.Driver, io.Closer, error) {
	opts := sim.DefaultOptions()
	opts.Inputs = cfg.Sim.Inputs
	opts.Outputs = cfg.Sim.Outputs
	opts.InitialRate = cfg.Sim.InitialRate
	opts.Realtime = cfg.Sim.Realtime
	opts.TimeInfo = cfg.Sim.TimeInfo
	opts.MaxSwitches = cfg.Sim.MaxSwitches
	opts.Logger = logger

	if len(cfg.Sim.Rates) > 0 {
		opts.Rates = cfg.Sim.Rates
	}

	if cfg.Sim.BufferSize > 0 {
		opts.BufferSize.Preferred = cfg.Sim.BufferSize
		opts.BufferSize.Min = min(opts.BufferSize.Min, cfg.Sim.BufferSize)
		opts.BufferSize.Max = max(opts.BufferSize.Max, cfg.Sim.BufferSize)
	}

	if len(cfg.Sim.Fail) > 0 {
		opts.Fail = make(map[sim.Call]error, len(cfg.Sim.Fail))
		for _, name := range cfg.Sim.Fail {
			call, err := parseCall(name)
			if err != nil {
				return nil, nil, err
			}
			opts.Fail[call] = asiotest.ASE_HWMalfunction
		}
	}

	var c closers
	if cfg.Sim.Source != "" {
		src, err := sim.OpenSource(cfg.Sim.Source)
		if err != nil {
			return nil, nil, err
		}
		opts.Source = src
		c = append(c, src)
	}

	driver := sim.New(opts)

	return driver, append(c, driver), nil
}

var simCalls = []sim.Call{
	sim.CallInit, sim.CallGetChannels, sim.CallGetBufferSize, sim.CallGetSampleRate,
	sim.CallCanSampleRate, sim.CallSetSampleRate, sim.CallOutputReady, sim.CallGetChannelInfo,
	sim.CallCreateBuffers, sim.CallDisposeBuffers, sim.CallGetLatencies, sim.CallStart,
	sim.CallStop, sim.CallGetSamplePosition,
}

func parseCall(name string) (sim.Call, error) {
	for _, c := range simCalls {
		if string(c) == name {
			return c, nil
		}
	}

	return "", fmt.Errorf("unknown driver call %q in sim.fail", name)
}

func openMiniaudio(cfg Config, logger *slog.Logger) (asiotest.Driver, io.Closer, error) {
	opts := miniaudio.DefaultOptions()
	opts.Inputs = cfg.Miniaudio.Inputs
	opts.Outputs = cfg.Miniaudio.Outputs

	if cfg.Miniaudio.Backend != "" {
		backend, err := miniaudio.ParseBackend(cfg.Miniaudio.Backend)
		if err != nil {
			return nil, nil, err
		}
		opts.Backends = []malgo.Backend{backend}
	}

	driver, err := miniaudio.Open(opts, logger)
	if err != nil {
		return nil, nil, err
	}

	return driver, driver, nil
}
