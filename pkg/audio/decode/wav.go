package decode

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

func decodeWAV(path string) (*Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: wav: %v", ErrUnreadable, err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate < 1 {
		return nil, fmt.Errorf("%w: wav: missing format chunk", ErrUnreadable)
	}

	bitDepth := int(d.BitDepth)
	if bitDepth == 0 {
		bitDepth = buf.SourceBitDepth
	}
	scale := float64(int64(1) << (bitDepth - 1))

	data := make([]float64, len(buf.Data))
	for i, s := range buf.Data {
		data[i] = float64(s) / scale
	}

	return &Signal{
		Channels:   deinterleave(data, buf.Format.NumChannels),
		SampleRate: buf.Format.SampleRate,
		Format:     "WAV",
		Subtype:    wavSubtype(int(d.WavAudioFormat), bitDepth),
	}, nil
}

func wavSubtype(audioFormat, bitDepth int) string {
	if audioFormat == 3 {
		return "FLOAT"
	}
	switch bitDepth {
	case 8:
		return "PCM_U8"
	case 24:
		return "PCM_24"
	case 32:
		return "PCM_32"
	default:
		return "PCM_16"
	}
}
