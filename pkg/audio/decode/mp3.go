package decode

import (
	"bytes"
	"fmt"
	"io"
	"os"

	mp3 "github.com/hajimehoshi/go-mp3"
)

func decodeMP3(path string) (*Signal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	d, err := mp3.NewDecoder(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", ErrUnreadable, err)
	}

	// go-mp3 always emits 16-bit little-endian stereo frames, duplicating
	// the single channel of mono sources.
	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", ErrUnreadable, err)
	}

	frames := len(pcm) / 4
	data := make([]float64, frames*2)
	for i := 0; i < frames*2; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		data[i] = float64(s) / 32768.0
	}

	// The true channel layout comes from the frame header, not from the
	// decoder's fixed stereo output.
	channels := deinterleave(data, 2)
	if mp3Channels(raw) == 1 {
		channels = channels[:1]
	}

	return &Signal{
		Channels:   channels,
		SampleRate: d.SampleRate(),
		Format:     "MP3",
		Subtype:    "MPEG_LAYER_III",
	}, nil
}

// mp3Channels reads the channel mode from the first valid MPEG frame
// header, skipping a leading ID3v2 tag. Returns 1 for single-channel mode,
// otherwise 2 (stereo, joint stereo and dual channel all carry two).
func mp3Channels(raw []byte) int {
	if len(raw) >= 10 && bytes.HasPrefix(raw, []byte("ID3")) {
		// ID3v2 size is a 4-byte synchsafe integer after the 10-byte header.
		size := int(raw[6])<<21 | int(raw[7])<<14 | int(raw[8])<<7 | int(raw[9])
		if 10+size < len(raw) {
			raw = raw[10+size:]
		}
	}

	for i := 0; i+3 < len(raw); i++ {
		if raw[i] != 0xFF || raw[i+1]&0xE0 != 0xE0 {
			continue
		}
		version := raw[i+1] >> 3 & 0x3
		layer := raw[i+1] >> 1 & 0x3
		bitrate := raw[i+2] >> 4
		sampleRate := raw[i+2] >> 2 & 0x3
		if version == 1 || layer == 0 || bitrate == 0xF || sampleRate == 3 {
			continue
		}
		if raw[i+3]>>6&0x3 == 3 {
			return 1
		}
		return 2
	}
	return 2
}
