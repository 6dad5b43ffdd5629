// Package config resolves the settings of the command line tools.
//
// Settings come from, in increasing priority: built-in defaults, an optional config file
// (YAML, TOML or JSON), ASIOTEST_* environment variables and command line flags.
// Flag names are the config keys, e.g. -sim.inputs.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gen2brain/asiotest"
)

// Config is the resolved configuration.
type Config struct {
	Driver      string
	Threshold   int
	Timeout     time.Duration
	StrictRates bool
	LogLevel    string
	LogFile     string
	Record      string

	ALSA struct {
		Card   uint
		Device uint
	}

	Sim struct {
		Inputs      int32
		Outputs     int32
		Rates       []float64
		InitialRate float64
		BufferSize  int32
		Source      string
		Realtime    bool
		TimeInfo    bool
		MaxSwitches int
		Fail        []string
	}

	Miniaudio struct {
		Inputs  int32
		Outputs int32
		Backend string
	}
}

func setViperDefaults(v *viper.Viper) {
	v.SetDefault("driver", "sim")
	v.SetDefault("threshold", asiotest.DefaultThreshold)
	v.SetDefault("timeout", time.Duration(0))
	v.SetDefault("strict_rates", true)
	v.SetDefault("loglevel", "info")
	v.SetDefault("logfile", "")
	v.SetDefault("record", "")
	v.SetDefault("alsa.card", 0)
	v.SetDefault("alsa.device", 0)
	v.SetDefault("sim.inputs", 2)
	v.SetDefault("sim.outputs", 2)
	v.SetDefault("sim.rates", []string{"44100"})
	v.SetDefault("sim.initial_rate", 44100)
	v.SetDefault("sim.buffer_size", 512)
	v.SetDefault("sim.source", "")
	v.SetDefault("sim.realtime", true)
	v.SetDefault("sim.time_info", true)
	v.SetDefault("sim.max_switches", 0)
	v.SetDefault("sim.fail", []string{})
	v.SetDefault("miniaudio.inputs", 2)
	v.SetDefault("miniaudio.outputs", 2)
	v.SetDefault("miniaudio.backend", "")
}

// Flags returns a flag set with one flag per config key plus -config.
// Defaults shown in the usage text are the built-in ones.
func Flags(name string) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)

	flags.String("config", "", "Path to a config file (YAML, TOML or JSON)")
	flags.String("driver", "sim", "Driver backend: sim, alsa or miniaudio")
	flags.Int("threshold", asiotest.DefaultThreshold, "Number of buffer switches to wait for")
	flags.Duration("timeout", 0, "Give up waiting for buffer switches after this long (0 waits forever)")
	flags.Bool("strict_rates", true, "Abort when the driver reports a rate other than the one just set")
	flags.String("loglevel", "info", "Log level: none, error, warn, info or debug")
	flags.String("logfile", "", "Write JSON logs to this file instead of stderr")
	flags.String("record", "", "Record the input channels to this WAV file")
	flags.Uint("alsa.card", 0, "ALSA card number")
	flags.Uint("alsa.device", 0, "ALSA device number")
	flags.Int("sim.inputs", 2, "Simulated input channels")
	flags.Int("sim.outputs", 2, "Simulated output channels")
	flags.String("sim.rates", "44100", "Comma separated sample rates the simulated driver accepts")
	flags.Float64("sim.initial_rate", 44100, "Initial sample rate of the simulated driver")
	flags.Int("sim.buffer_size", 512, "Preferred buffer size of the simulated driver")
	flags.String("sim.source", "", "WAV or MP3 file feeding the simulated inputs")
	flags.Bool("sim.realtime", true, "Pace simulated buffer switches in real time")
	flags.Bool("sim.time_info", true, "Use the timed buffer switch if the host supports it")
	flags.Int("sim.max_switches", 0, "Stop calling back after this many buffer switches (0 is unlimited)")
	flags.String("sim.fail", "", "Comma separated driver calls the simulated driver fails")
	flags.Int("miniaudio.inputs", 2, "miniaudio capture channels")
	flags.Int("miniaudio.outputs", 2, "miniaudio playback channels")
	flags.String("miniaudio.backend", "", "miniaudio backend, e.g. alsa, pulseaudio, jack, null (default picks one)")

	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage: %s [options]\n", name)
		fmt.Fprintln(flags.Output(), "\nOptions:")
		flags.PrintDefaults()
	}

	return flags
}

// Load parses args and resolves the configuration.
func Load(flags *flag.FlagSet, args []string) (Config, error) {
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setViperDefaults(v)

	v.SetEnvPrefix("ASIOTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
		if err := readConfigFile(v, f.Value.String()); err != nil {
			return Config{}, err
		}
	}

	// Only flags given on the command line override the file.
	flags.Visit(func(f *flag.Flag) {
		if f.Name != "config" {
			v.Set(f.Name, f.Value.String())
		}
	})

	return decode(v)
}

func readConfigFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		asiotest.Logger().Info("No config file found", "configFilePath", path)

		return nil
	}

	if err != nil {
		return fmt.Errorf("error during config read: %w", err)
	}

	return nil
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config

	cfg.Driver = strings.ToLower(v.GetString("driver"))
	cfg.Threshold = v.GetInt("threshold")
	cfg.Timeout = v.GetDuration("timeout")
	cfg.StrictRates = v.GetBool("strict_rates")
	cfg.LogLevel = strings.ToLower(v.GetString("loglevel"))
	cfg.LogFile = v.GetString("logfile")
	cfg.Record = v.GetString("record")

	cfg.ALSA.Card = v.GetUint("alsa.card")
	cfg.ALSA.Device = v.GetUint("alsa.device")

	cfg.Sim.Inputs = v.GetInt32("sim.inputs")
	cfg.Sim.Outputs = v.GetInt32("sim.outputs")
	cfg.Sim.InitialRate = v.GetFloat64("sim.initial_rate")
	cfg.Sim.BufferSize = v.GetInt32("sim.buffer_size")
	cfg.Sim.Source = v.GetString("sim.source")
	cfg.Sim.Realtime = v.GetBool("sim.realtime")
	cfg.Sim.TimeInfo = v.GetBool("sim.time_info")
	cfg.Sim.MaxSwitches = v.GetInt("sim.max_switches")
	cfg.Sim.Fail = list(v.GetStringSlice("sim.fail"))

	for _, s := range list(v.GetStringSlice("sim.rates")) {
		rate, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid sample rate %q in sim.rates: %w", s, err)
		}
		cfg.Sim.Rates = append(cfg.Sim.Rates, rate)
	}

	cfg.Miniaudio.Inputs = v.GetInt32("miniaudio.inputs")
	cfg.Miniaudio.Outputs = v.GetInt32("miniaudio.outputs")
	cfg.Miniaudio.Backend = v.GetString("miniaudio.backend")

	return cfg, cfg.validate()
}

// list splits comma separated entries, values from flags and the environment arrive as one string.
func list(values []string) []string {
	var out []string
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}

	return out
}

func (c Config) validate() error {
	switch c.Driver {
	case "sim", "alsa", "miniaudio":
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}

	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %d", c.Threshold)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}

	if _, _, err := asiotest.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// ConfigureLogger builds the logger for the log level and file.
// An empty logFile logs text to stderr, otherwise JSON is written to the file.
// The returned closer closes the log file, it is never nil.
func ConfigureLogger(logLevel, logFile string) (*slog.Logger, io.Closer, error) {
	if logFile == "" {
		logger, err := asiotest.NewLogger(os.Stderr, logLevel, false)

		return logger, io.NopCloser(nil), err
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, nil, err
	}

	logger, err := asiotest.NewLogger(f, logLevel, true)
	if err != nil {
		_ = f.Close()

		return nil, nil, err
	}

	return logger, f, nil
}
