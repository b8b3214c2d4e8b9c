// Package audio groups the audio processing sub-packages:
//
//   - decode: codec front-end reading WAV, MP3, FLAC and OGG Vorbis
//     containers into normalized per-channel PCM
//   - feature: acoustic fingerprint extraction (MFCC, spectral contrast
//     and chroma) from decoded audio
package audio
