package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/asiotest"
	"github.com/gen2brain/asiotest/sim"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Flags("test"), nil)
	require.NoError(t, err)

	assert.Equal(t, "sim", cfg.Driver)
	assert.Equal(t, asiotest.DefaultThreshold, cfg.Threshold)
	assert.Zero(t, cfg.Timeout)
	assert.True(t, cfg.StrictRates)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []float64{44100}, cfg.Sim.Rates)
	assert.Equal(t, int32(2), cfg.Sim.Inputs)
	assert.Empty(t, cfg.Sim.Fail)
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load(Flags("test"), []string{
		"-threshold", "5",
		"-timeout", "2s",
		"-strict_rates=false",
		"-sim.rates", "44100, 48000",
		"-sim.inputs", "8",
		"-sim.fail", "Start,Stop",
		"-alsa.card", "1",
	})
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Threshold)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.False(t, cfg.StrictRates)
	assert.Equal(t, []float64{44100, 48000}, cfg.Sim.Rates)
	assert.Equal(t, int32(8), cfg.Sim.Inputs)
	assert.Equal(t, []string{"Start", "Stop"}, cfg.Sim.Fail)
	assert.Equal(t, uint(1), cfg.ALSA.Card)

	opts := SessionOptions(cfg, nil)
	assert.True(t, opts.LenientRates)
	assert.Equal(t, 5, opts.Threshold)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asiotest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
driver: miniaudio
threshold: 12
miniaudio:
  backend: "null"
  inputs: 0
sim:
  rates: ["48000", "96000"]
`), 0644))

	cfg, err := Load(Flags("test"), []string{"-config", path, "-threshold", "3"})
	require.NoError(t, err)

	assert.Equal(t, "miniaudio", cfg.Driver)
	assert.Equal(t, 3, cfg.Threshold, "flags override the file")
	assert.Equal(t, "null", cfg.Miniaudio.Backend)
	assert.Equal(t, int32(0), cfg.Miniaudio.Inputs)
	assert.Equal(t, []float64{48000, 96000}, cfg.Sim.Rates)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(Flags("test"), []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.NoError(t, err)
	assert.Equal(t, "sim", cfg.Driver)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("ASIOTEST_THRESHOLD", "7")
	t.Setenv("ASIOTEST_SIM_OUTPUTS", "4")

	cfg, err := Load(Flags("test"), nil)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Threshold)
	assert.Equal(t, int32(4), cfg.Sim.Outputs)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"driver", []string{"-driver", "wdm"}},
		{"threshold", []string{"-threshold", "0"}},
		{"timeout", []string{"-timeout", "-1s"}},
		{"loglevel", []string{"-loglevel", "trace"}},
		{"rates", []string{"-sim.rates", "44100,fast"}},
		{"flag", []string{"-nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := Flags("test")
			fs.SetOutput(discard{})

			_, err := Load(fs, tt.args)
			assert.Error(t, err)
		})
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestOpenSim(t *testing.T) {
	cfg, err := Load(Flags("test"), []string{"-sim.fail", "CreateBuffers", "-sim.buffer_size", "8192"})
	require.NoError(t, err)

	driver, closer, err := OpenDriver(cfg, nil)
	require.NoError(t, err)
	defer closer.Close()

	bs, err := driver.GetBufferSize()
	require.NoError(t, err)
	assert.Equal(t, int32(8192), bs.Preferred)
	assert.Equal(t, int32(8192), bs.Max)

	err = driver.CreateBuffers(nil, 512, asiotest.Callbacks{})
	assert.ErrorIs(t, err, asiotest.ASE_HWMalfunction)
}

func TestOpenSimUnknownCall(t *testing.T) {
	cfg, err := Load(Flags("test"), []string{"-sim.fail", "Explode"})
	require.NoError(t, err)

	_, _, err = OpenDriver(cfg, nil)
	assert.ErrorContains(t, err, "Explode")
}

func TestParseCall(t *testing.T) {
	call, err := parseCall("GetSamplePosition")
	require.NoError(t, err)
	assert.Equal(t, sim.CallGetSamplePosition, call)
}

func TestConfigureLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")

	logger, closer, err := ConfigureLogger("debug", path)
	require.NoError(t, err)

	logger.Debug("Hello", "k", 1)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Hello"`)

	_, _, err = ConfigureLogger("loud", "")
	assert.Error(t, err)
}
