// Command wavinfo inspects a recording written by asiotest -record: format, length and
// the peak level of every channel.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("wavinfo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	bufferSize := fs.Int("buffer", 0, "Buffer size in frames, prints the number of buffer switches recorded")

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: wavinfo [options] <wav-file>")
		fmt.Fprintln(fs.Output(), "\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}

		return 1
	}

	if fs.NArg() != 1 {
		fs.Usage()

		return 1
	}

	wavPath := fs.Arg(0)

	file, err := os.Open(wavPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open file: %v\n", err)

		return 1
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		fmt.Fprintln(stderr, "Invalid WAV file")

		return 1
	}

	fmt.Fprintf(stdout, "Filename:           %s\n", wavPath)
	fmt.Fprintf(stdout, "Channels:           %d\n", decoder.NumChans)
	fmt.Fprintf(stdout, "Sample Rate:        %d Hz\n", decoder.SampleRate)
	fmt.Fprintf(stdout, "Bits Per Sample:    %d\n", decoder.BitDepth)

	// Format 1 is integer PCM, 3 is IEEE float.
	formatStr := "Signed Integer PCM"
	if decoder.WavAudioFormat == 3 {
		formatStr = "IEEE Float"
	}
	fmt.Fprintf(stdout, "Format:             %s\n", formatStr)

	peaks, frames, err := channelPeaks(decoder)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read samples: %v\n", err)

		return 1
	}

	var duration time.Duration
	if decoder.SampleRate > 0 {
		duration = time.Duration(float64(frames) / float64(decoder.SampleRate) * float64(time.Second))
	}

	fmt.Fprintf(stdout, "Duration:           %s\n", formatDuration(duration))
	fmt.Fprintf(stdout, "Frames:             %d\n", frames)

	if *bufferSize > 0 {
		fmt.Fprintf(stdout, "Buffer Switches:    %d\n", frames / *bufferSize)
	}

	for ch, peak := range peaks {
		fmt.Fprintf(stdout, "Peak Channel %-5d  %s\n", ch+1, formatPeak(peak, int(decoder.BitDepth)))
	}

	return 0
}

// channelPeaks reads the whole data chunk and returns the largest absolute sample per channel.
func channelPeaks(decoder *wav.Decoder) ([]int, int, error) {
	channels := int(decoder.NumChans)
	if channels == 0 {
		return nil, 0, errors.New("no channels")
	}

	peaks := make([]int, channels)
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: int(decoder.SampleRate)},
		Data:   make([]int, 4096*channels),
	}

	samples := 0
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, 0, err
		}

		if n == 0 {
			break
		}

		for i, v := range buf.Data[:n] {
			if v < 0 {
				v = -v
			}
			peaks[(samples+i)%channels] = max(peaks[(samples+i)%channels], v)
		}
		samples += n
	}

	return peaks, samples / channels, nil
}

// formatPeak prints a peak relative to full scale.
func formatPeak(peak, bitDepth int) string {
	if peak == 0 || bitDepth == 0 {
		return "silent"
	}

	full := float64(int64(1) << (bitDepth - 1))

	return fmt.Sprintf("%.1f dBFS", 20*math.Log10(float64(peak)/full))
}

// formatDuration formats a time.Duration into a more readable HH:MM:SS.ms format.
func formatDuration(d time.Duration) string {
	nanos := d.Nanoseconds() % 1e9
	millis := nanos / 1e6

	seconds := int(d.Seconds()) % 60
	minutes := int(d.Minutes()) % 60
	hours := int(d.Hours())

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}
