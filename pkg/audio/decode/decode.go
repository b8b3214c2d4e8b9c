// Package decode reads audio containers into normalized PCM.
//
// It is the codec front-end for fingerprint extraction: each supported
// format (WAV, MP3, FLAC, OGG Vorbis) is decoded into per-channel float64
// samples in [-1, 1] at the file's native sample rate. The true channel
// layout is preserved; no downmix happens at decode time.
//
// Decoding is delegated to pure Go codec libraries. Any decoder failure
// (corrupt file, unsupported codec, truncated stream) surfaces as an error
// wrapping [ErrUnreadable].
package decode

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnreadable indicates the file could not be decoded as audio.
var ErrUnreadable = errors.New("decode: unreadable audio")

// Signal is a decoded audio file at its native sample rate.
type Signal struct {
	// Channels holds one sample slice per channel, all the same length.
	// Samples are normalized to [-1, 1].
	Channels [][]float64

	// SampleRate is the native sample rate in Hz.
	SampleRate int

	// Format is the container format tag ("WAV", "MP3", "FLAC", "OGG").
	Format string

	// Subtype is the encoding tag ("PCM_16", "PCM_24", "FLOAT",
	// "MPEG_LAYER_III", "VORBIS").
	Subtype string
}

// Frames returns the number of samples per channel.
func (s *Signal) Frames() int {
	if len(s.Channels) == 0 {
		return 0
	}
	return len(s.Channels[0])
}

// Duration returns the signal duration in seconds.
func (s *Signal) Duration() float64 {
	if s.SampleRate == 0 {
		return 0
	}
	return float64(s.Frames()) / float64(s.SampleRate)
}

// Decode reads the audio file at path, selecting the codec by extension.
func Decode(path string) (*Signal, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(path)
	case ".mp3":
		return decodeMP3(path)
	case ".flac":
		return decodeFLAC(path)
	case ".ogg":
		return decodeOGG(path)
	default:
		return nil, fmt.Errorf("%w: unsupported extension %q", ErrUnreadable, filepath.Ext(path))
	}
}

// deinterleave splits interleaved samples into per-channel slices.
func deinterleave(data []float64, channels int) [][]float64 {
	if channels < 1 {
		channels = 1
	}
	frames := len(data) / channels
	out := make([][]float64, channels)
	for c := range out {
		out[c] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			out[c][i] = data[i*channels+c]
		}
	}
	return out
}
