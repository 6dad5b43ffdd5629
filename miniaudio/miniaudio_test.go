package miniaudio

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/asiotest"
)

func frames(values ...int32) []byte {
	b := make([]byte, 0, len(values)*sampleSize)
	for _, v := range values {
		b = binary.LittleEndian.AppendUint32(b, uint32(v))
	}

	return b
}

func samples(b []byte) []int32 {
	s := make([]int32, len(b)/sampleSize)
	for i := range s {
		s[i] = int32(binary.LittleEndian.Uint32(b[i*sampleSize:]))
	}

	return s
}

func TestOnDataStaging(t *testing.T) {
	infos := asiotest.NewBufferInfos(2, 1)
	for i := range infos {
		infos[i].Buffers = [2][]byte{make([]byte, 4*sampleSize), make([]byte, 4*sampleSize)}
	}
	copy(infos[2].Buffers[0], frames(200, 201, 202, 203))
	copy(infos[2].Buffers[1], frames(100, 101, 102, 103))

	var switches []int32
	var captured [][]int32

	d := &Driver{
		opts:       Options{Inputs: 2, Outputs: 1},
		logger:     asiotest.DefaultLogger,
		running:    true,
		bufferSize: 4,
		infos:      infos,
	}
	d.callbacks = asiotest.Callbacks{
		BufferSwitch: func(index int32, _ bool) {
			switches = append(switches, index)
			captured = append(captured, samples(infos[0].Buffers[index]), samples(infos[1].Buffers[index]))
		},
	}

	// Six stereo frames: value is frame*10 + channel.
	out := make([]byte, 6*sampleSize)
	d.onData(out, frames(0, 1, 10, 11, 20, 21, 30, 31, 40, 41, 50, 51), 6)

	require.Equal(t, []int32{0}, switches)
	assert.Equal(t, []int32{0, 10, 20, 30}, captured[0])
	assert.Equal(t, []int32{1, 11, 21, 31}, captured[1])
	assert.Equal(t, []int32{100, 101, 102, 103, 200, 201}, samples(out))

	out = make([]byte, 2*sampleSize)
	d.onData(out, frames(60, 61, 70, 71), 2)

	require.Equal(t, []int32{0, 1}, switches)
	assert.Equal(t, []int32{40, 50, 60, 70}, captured[2])
	assert.Equal(t, []int32{41, 51, 61, 71}, captured[3])
	assert.Equal(t, []int32{202, 203}, samples(out))
	assert.Equal(t, int64(8), d.samples)
}

func TestOnDataStopped(t *testing.T) {
	d := &Driver{bufferSize: 4}
	d.callbacks.BufferSwitch = func(int32, bool) { t.Fatal("unexpected buffer switch") }

	out := frames(1, 2, 3, 4)
	d.onData(out, nil, 4)
	assert.Equal(t, []int32{0, 0, 0, 0}, samples(out))
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("Null")
	require.NoError(t, err)
	assert.Equal(t, malgo.Backend(malgo.BackendNull), b)

	_, err = ParseBackend("portaudio")
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestCanSampleRate(t *testing.T) {
	d := &Driver{}
	require.NoError(t, d.CanSampleRate(44100))
	require.NoError(t, d.CanSampleRate(MaxSampleRate))
	require.ErrorIs(t, d.CanSampleRate(4000), asiotest.ASE_NoClock)
	require.ErrorIs(t, d.CanSampleRate(44100.5), asiotest.ASE_NoClock)
}

func openNull(t *testing.T, opts Options) *Driver {
	t.Helper()

	opts.Backends = []malgo.Backend{malgo.BackendNull}
	d, err := Open(opts, nil)
	if err != nil {
		t.Skipf("miniaudio null backend unavailable: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	return d
}

func TestQueries(t *testing.T) {
	d := openNull(t, DefaultOptions())

	_, _, err := d.GetChannels()
	require.ErrorIs(t, err, asiotest.ASE_NotPresent)

	info, err := d.Init(asiotest.HostVersion)
	require.NoError(t, err)
	assert.Contains(t, info.Name, "miniaudio")

	inputs, outputs, err := d.GetChannels()
	require.NoError(t, err)
	assert.Equal(t, int32(2), inputs)
	assert.Equal(t, int32(2), outputs)

	ch, err := d.GetChannelInfo(1, false)
	require.NoError(t, err)
	assert.Equal(t, "Out 2", ch.Name)
	assert.Equal(t, asiotest.ASIOSTInt32LSB, ch.Type)

	_, err = d.GetChannelInfo(2, true)
	require.ErrorIs(t, err, asiotest.ASE_InvalidParameter)

	cb := asiotest.Callbacks{BufferSwitch: func(int32, bool) {}}
	require.ErrorIs(t, d.CreateBuffers(asiotest.NewBufferInfos(2, 2), 500, cb), asiotest.ASE_InvalidMode)
	require.ErrorIs(t, d.CreateBuffers(nil, 512, cb), asiotest.ASE_InvalidParameter)
	require.ErrorIs(t, d.OutputReady(), asiotest.ASE_NotPresent)
}

func TestSession(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"Duplex", Options{Inputs: 2, Outputs: 2}},
		{"Capture", Options{Inputs: 1}},
		{"Playback", Options{Outputs: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := openNull(t, tt.opts)

			s := asiotest.NewSession(d, asiotest.Options{Threshold: 4, Timeout: 10 * time.Second})
			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)
			report, err := s.Run(ctx)
			require.NoError(t, err)
			require.True(t, report.OK())

			assert.Equal(t, asiotest.Released, report.State)
			assert.GreaterOrEqual(t, report.Switches, 4)
			assert.Equal(t, int(tt.opts.Inputs+tt.opts.Outputs), report.Descriptors)
		})
	}
}
