package alsa

import (
	"github.com/gen2brain/asiotest"
)

// SampleType returns the sample type a channel buffer holds for a hw format.
func SampleType(format PcmFormat) asiotest.SampleType {
	switch format {
	case SNDRV_PCM_FORMAT_S16_LE:
		return asiotest.ASIOSTInt16LSB
	case SNDRV_PCM_FORMAT_S24_3LE:
		return asiotest.ASIOSTInt24LSB
	case SNDRV_PCM_FORMAT_S32_LE:
		return asiotest.ASIOSTInt32LSB
	case SNDRV_PCM_FORMAT_FLOAT_LE:
		return asiotest.ASIOSTFloat32LSB
	default:
		return -1
	}
}

// deinterleave copies channel ch out of interleaved frames into a channel buffer.
// Both sides use the same sample layout of bps bytes.
func deinterleave(dst, frames []byte, ch, channels, bps int) {
	stride := channels * bps
	for i, off := 0, ch*bps; i+bps <= len(dst) && off+bps <= len(frames); i, off = i+bps, off+stride {
		copy(dst[i:i+bps], frames[off:off+bps])
	}
}

// interleave copies a channel buffer into channel ch of interleaved frames.
func interleave(frames, src []byte, ch, channels, bps int) {
	stride := channels * bps
	for i, off := 0, ch*bps; i+bps <= len(src) && off+bps <= len(frames); i, off = i+bps, off+stride {
		copy(frames[off:off+bps], src[i:i+bps])
	}
}
