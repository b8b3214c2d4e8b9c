package decode

import (
	"fmt"
	"os"

	"github.com/jfreymuth/oggvorbis"
)

func decodeOGG(path string) (*Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	samples, format, err := oggvorbis.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: ogg: %v", ErrUnreadable, err)
	}

	data := make([]float64, len(samples))
	for i, s := range samples {
		data[i] = float64(s)
	}

	return &Signal{
		Channels:   deinterleave(data, format.Channels),
		SampleRate: format.SampleRate,
		Format:     "OGG",
		Subtype:    "VORBIS",
	}, nil
}
