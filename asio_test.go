package asiotest_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gen2brain/asiotest"
)

func TestIsOK(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"Nil", nil, true},
		{"OK", asiotest.ASE_OK, true},
		{"Success", asiotest.ASE_SUCCESS, true},
		{"WrappedSuccess", fmt.Errorf("call: %w", asiotest.ASE_SUCCESS), true},
		{"NotPresent", asiotest.ASE_NotPresent, false},
		{"WrappedNoClock", fmt.Errorf("call: %w", asiotest.ASE_NoClock), false},
		{"Other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, asiotest.IsOK(tt.err))
		})
	}
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "ASE_HWMalfunction", asiotest.ASE_HWMalfunction.Error())
	assert.Equal(t, "ASE_-5", asiotest.Error(-5).Error())
	assert.Equal(t, "ASE_OK", asiotest.StatusString(nil))
	assert.Equal(t, "ASE_NoMemory", asiotest.StatusString(asiotest.ASE_NoMemory))
}

func TestSampleTypeBytesPerSample(t *testing.T) {
	tests := []struct {
		st   asiotest.SampleType
		want int
	}{
		{asiotest.ASIOSTInt16LSB, 2},
		{asiotest.ASIOSTInt24MSB, 3},
		{asiotest.ASIOSTInt32LSB, 4},
		{asiotest.ASIOSTInt32LSB24, 4},
		{asiotest.ASIOSTFloat32LSB, 4},
		{asiotest.ASIOSTFloat64MSB, 8},
		{asiotest.SampleType(99), 0},
	}

	for _, tt := range tests {
		t.Run(tt.st.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.st.BytesPerSample())
		})
	}
}

func TestNewBufferInfos(t *testing.T) {
	infos := asiotest.NewBufferInfos(2, 3)

	want := []asiotest.BufferInfo{
		{IsInput: true, Channel: 0},
		{IsInput: true, Channel: 1},
		{IsInput: false, Channel: 0},
		{IsInput: false, Channel: 1},
		{IsInput: false, Channel: 2},
	}

	assert.Equal(t, want, infos)
	assert.Empty(t, asiotest.NewBufferInfos(0, 0))
}
