package asiotest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrRecorderClosed is returned by Write after Close.
var ErrRecorderClosed = errors.New("recorder closed")

// Recorder writes the input channel buffers delivered in buffer switches to a WAV file.
// It is safe to call Write from driver goroutines.
type Recorder struct {
	mu         sync.Mutex
	enc        *wav.Encoder
	buf        *audio.IntBuffer
	sampleType SampleType
	channels   int
	wrote      bool
	closed     bool
}

// NewRecorder creates a recorder for channels input channels of sample type st.
// Only Int16LSB, Int24LSB, Int32LSB and Float32LSB are supported.
func NewRecorder(w io.WriteSeeker, rate float64, channels int, st SampleType) (*Recorder, error) {
	bitDepth, err := recordBitDepth(st)
	if err != nil {
		return nil, err
	}

	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}

	enc := wav.NewEncoder(w, int(rate), bitDepth, channels, 1)

	return &Recorder{
		enc: enc,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: int(rate)},
			SourceBitDepth: bitDepth,
		},
		sampleType: st,
		channels:   channels,
	}, nil
}

func recordBitDepth(st SampleType) (int, error) {
	switch st {
	case ASIOSTInt16LSB:
		return 16, nil
	case ASIOSTInt24LSB:
		return 24, nil
	case ASIOSTInt32LSB, ASIOSTFloat32LSB:
		return 32, nil
	default:
		return 0, fmt.Errorf("unsupported sample type for recording: %s", st)
	}
}

// Write interleaves one buffer half per channel and appends it to the file.
func (r *Recorder) Write(channels [][]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}

	if len(channels) != r.channels {
		return fmt.Errorf("got %d channels, expected %d", len(channels), r.channels)
	}

	bps := r.sampleType.BytesPerSample()
	frames := len(channels[0]) / bps

	n := frames * r.channels
	if cap(r.buf.Data) < n {
		r.buf.Data = make([]int, n)
	}
	r.buf.Data = r.buf.Data[:n]

	for ch, data := range channels {
		if len(data) < frames*bps {
			return fmt.Errorf("channel %d buffer too short: %d bytes", ch, len(data))
		}

		for i := 0; i < frames; i++ {
			r.buf.Data[i*r.channels+ch] = decodeSample(data[i*bps:], r.sampleType)
		}
	}

	if err := r.enc.Write(r.buf); err != nil {
		return fmt.Errorf("wav write failed: %w", err)
	}
	r.wrote = true

	return nil
}

// Close finishes the WAV header. It does not close the underlying writer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	// The encoder writes its header on the first write only.
	if !r.wrote {
		if err := r.enc.Write(&audio.IntBuffer{Format: r.buf.Format}); err != nil {
			return fmt.Errorf("wav write failed: %w", err)
		}
	}

	return r.enc.Close()
}

func decodeSample(b []byte, st SampleType) int {
	switch st {
	case ASIOSTInt16LSB:
		return int(int16(binary.LittleEndian.Uint16(b)))
	case ASIOSTInt24LSB:
		val := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
		if val&0x800000 != 0 {
			val |= 0xFF000000
		}

		return int(int32(val))
	case ASIOSTInt32LSB:
		return int(int32(binary.LittleEndian.Uint32(b)))
	case ASIOSTFloat32LSB:
		f := float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		f = math.Max(-1, math.Min(1, f))

		return int(f * math.MaxInt32)
	default:
		return 0
	}
}
