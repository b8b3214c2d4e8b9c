package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

func decodeFLAC(path string) (*Signal, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: flac: %v", ErrUnreadable, err)
	}
	defer stream.Close()

	info := stream.Info
	channels := int(info.NChannels)
	bits := int(info.BitsPerSample)
	scale := float64(int64(1) << (bits - 1))

	out := make([][]float64, channels)
	for c := range out {
		out[c] = make([]float64, 0, info.NSamples)
	}

	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: flac: %v", ErrUnreadable, err)
		}
		for c, sub := range frame.Subframes {
			if c >= channels {
				break
			}
			for _, s := range sub.Samples {
				out[c] = append(out[c], float64(s)/scale)
			}
		}
	}

	subtype := "PCM_16"
	if bits == 24 {
		subtype = "PCM_24"
	} else if bits == 8 {
		subtype = "PCM_U8"
	}

	return &Signal{
		Channels:   out,
		SampleRate: int(info.SampleRate),
		Format:     "FLAC",
		Subtype:    subtype,
	}, nil
}
