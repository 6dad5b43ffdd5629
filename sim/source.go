package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrEmptySource is returned when a source has no samples at all.
var ErrEmptySource = errors.New("source has no samples")

// Source feeds interleaved integer samples to the input buffers.
type Source interface {
	// Read fills dst completely with interleaved samples, looping at the end of the stream.
	Read(dst []int) error
	// NumChans returns the number of interleaved channels.
	NumChans() int
	// BitDepth returns the bit depth of the samples.
	BitDepth() int
}

// decoder abstracts the decoding of the supported formats.
type decoder interface {
	PCMBuffer(buf *audio.IntBuffer) (n int, err error)
	Rewind() error
	NumChans() int
	BitDepth() int
}

type wavDecoder struct {
	*wav.Decoder
}

func newWavDecoder(r io.ReadSeeker) (decoder, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("unsupported WAV audio format %d, only PCM is supported", dec.WavAudioFormat)
	}

	return &wavDecoder{Decoder: dec}, nil
}

func (w *wavDecoder) NumChans() int { return int(w.Decoder.NumChans) }
func (w *wavDecoder) BitDepth() int { return int(w.Decoder.BitDepth) }

type mp3Decoder struct {
	decoder *mp3.Decoder
	raw     []byte
}

func newMp3Decoder(r io.ReadSeeker) (decoder, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}

	return &mp3Decoder{decoder: dec}, nil
}

// PCMBuffer reads from the MP3 decoder and converts the 16-bit PCM byte data to integers.
func (m *mp3Decoder) PCMBuffer(buf *audio.IntBuffer) (int, error) {
	size := len(buf.Data) * 2
	if cap(m.raw) < size {
		m.raw = make([]byte, size)
	}
	raw := m.raw[:size]

	n, err := io.ReadFull(m.decoder, raw)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, err
	}

	samples := n / 2
	for i := 0; i < samples; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	}

	return samples, nil
}

func (m *mp3Decoder) Rewind() error {
	_, err := m.decoder.Seek(0, io.SeekStart)

	return err
}

func (m *mp3Decoder) NumChans() int { return 2 } // always decodes to stereo
func (m *mp3Decoder) BitDepth() int { return 16 }

// FileSource loops over a decoded WAV or MP3 file.
type FileSource struct {
	file *os.File
	dec  decoder
	buf  *audio.IntBuffer
}

// OpenSource opens a WAV or MP3 file, chosen by extension.
func OpenSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var dec decoder
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		dec, err = newWavDecoder(f)
	case ".mp3":
		dec, err = newMp3Decoder(f)
	default:
		err = fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}

	if err != nil {
		f.Close()

		return nil, fmt.Errorf("open source %s failed: %w", path, err)
	}

	return &FileSource{
		file: f,
		dec:  dec,
		buf: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: dec.NumChans()},
		},
	}, nil
}

// Read implements Source.
func (s *FileSource) Read(dst []int) error {
	rewound := false
	for len(dst) > 0 {
		if cap(s.buf.Data) < len(dst) {
			s.buf.Data = make([]int, len(dst))
		}
		s.buf.Data = s.buf.Data[:len(dst)]

		n, err := s.dec.PCMBuffer(s.buf)
		if err != nil {
			return fmt.Errorf("decode failed: %w", err)
		}

		if n == 0 {
			if rewound {
				return ErrEmptySource
			}

			if err := s.dec.Rewind(); err != nil {
				return fmt.Errorf("rewind failed: %w", err)
			}
			rewound = true

			continue
		}

		copy(dst, s.buf.Data[:n])
		dst = dst[n:]
		rewound = false
	}

	return nil
}

// NumChans implements Source.
func (s *FileSource) NumChans() int {
	return s.dec.NumChans()
}

// BitDepth implements Source.
func (s *FileSource) BitDepth() int {
	return s.dec.BitDepth()
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s == nil || s.file == nil {
		return nil
	}

	return s.file.Close()
}
