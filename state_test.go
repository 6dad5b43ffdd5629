package asiotest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/asiotest"
)

func TestTransitionsForwardOrder(t *testing.T) {
	transitions := asiotest.Transitions()
	require.Len(t, transitions, int(asiotest.Released))

	for i, tr := range transitions {
		assert.Equal(t, asiotest.State(i), tr.From, tr.Name)
		assert.Equal(t, asiotest.State(i+1), tr.To, tr.Name)

		from, ok := asiotest.Predecessor(tr.To)
		assert.True(t, ok)
		assert.Equal(t, tr.From, from)
	}

	_, ok := asiotest.Predecessor(asiotest.Uninitialized)
	assert.False(t, ok)
}

func TestMachineAdvance(t *testing.T) {
	var m asiotest.Machine
	require.Equal(t, asiotest.Uninitialized, m.State())

	for _, tr := range asiotest.Transitions() {
		require.NoError(t, m.Advance(tr.Name))
		assert.Equal(t, tr.To, m.State())
	}

	assert.Equal(t, asiotest.Released, m.State())
}

func TestMachineRefusesSkipping(t *testing.T) {
	tests := []struct {
		name  string
		steps []string
		next  string
	}{
		{"StartBeforeInit", nil, "Start"},
		{"GetChannelsTwice", []string{"Init", "GetChannels"}, "GetChannels"},
		{"CreateBuffersBeforeBufferSize", []string{"Init", "GetChannels", "SetSampleRate"}, "CreateBuffers"},
		{"DisposeBeforeStop", []string{"Init", "GetChannels", "SetSampleRate", "GetBufferSize", "CreateBuffers", "Start"}, "DisposeBuffers"},
		{"Unknown", nil, "Exit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m asiotest.Machine
			for _, step := range tt.steps {
				require.NoError(t, m.Advance(step))
			}

			before := m.State()
			err := m.Advance(tt.next)
			require.ErrorIs(t, err, asiotest.ErrInvalidTransition)
			assert.Equal(t, before, m.State())
		})
	}
}

func TestCallPolicy(t *testing.T) {
	assert.Equal(t, asiotest.Mandatory, asiotest.CallPolicy("CreateBuffers"))
	assert.Equal(t, asiotest.Mandatory, asiotest.CallPolicy("Stop"))
	assert.Equal(t, asiotest.Advisory, asiotest.CallPolicy("OutputReady"))
	assert.Equal(t, asiotest.Advisory, asiotest.CallPolicy("DisposeBuffers"))
	assert.Equal(t, asiotest.Informational, asiotest.CallPolicy("GetLatencies"))
	assert.Equal(t, asiotest.Informational, asiotest.CallPolicy("GetSamplePosition"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "SampleRateEstablished", asiotest.SampleRateEstablished.String())
	assert.Equal(t, "State(42)", asiotest.State(42).String())
}
