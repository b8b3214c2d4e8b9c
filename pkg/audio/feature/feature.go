// Package feature computes acoustic fingerprints from audio files.
//
// A fingerprint is a fixed-length, L2-normalized float32 vector built from
// three sub-feature blocks averaged over STFT frames, concatenated in this
// order:
//
//	mean MFCC            (NumCoeffs values, default 40)
//	mean spectral contrast (ContrastBands+1 values, default 7)
//	mean chroma energy   (ChromaBins values, 12 pitch classes)
//
// Multi-channel input is decoded with its true channel layout, and feature
// computation uses channel 0 only. This is a deliberate policy: fingerprints
// stay comparable across mono and stereo sources without depending on a
// downmix formula.
package feature

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/audioseek/audioseek/pkg/audio/decode"
)

// ErrDegenerateSignal indicates the audio produced a zero-energy feature
// vector (silent or degenerate input) that cannot be normalized.
var ErrDegenerateSignal = errors.New("feature: degenerate signal, zero-energy feature vector")

// Extensions lists the audio file extensions accepted for extraction.
var Extensions = []string{".wav", ".mp3", ".flac", ".ogg"}

// SupportedExtension reports whether ext (including the dot, any case) is
// an accepted audio extension.
func SupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Config controls fingerprint extraction parameters.
type Config struct {
	SampleRate    int // target sample rate for analysis (default 22050)
	FFTSize       int // FFT size, power of two (default 2048)
	HopSize       int // hop length in samples (default 512)
	NumCoeffs     int // number of cepstral coefficients (default 40)
	NumMels       int // mel bins feeding the cepstrum (default 128)
	ContrastBands int // octave bands for spectral contrast (default 6)
	ChromaBins    int // pitch classes (always 12)
}

// DefaultConfig returns the standard extraction parameters.
func DefaultConfig() Config {
	return Config{
		SampleRate:    22050,
		FFTSize:       2048,
		HopSize:       512,
		NumCoeffs:     40,
		NumMels:       128,
		ContrastBands: 6,
		ChromaBins:    12,
	}
}

// Dimension returns the fingerprint vector length for this config.
func (c Config) Dimension() int {
	return c.NumCoeffs + c.ContrastBands + 1 + c.ChromaBins
}

// Metadata describes the source file of a fingerprint. It is derived from
// the container and the file itself, never from the resampled analysis
// signal, so it reflects true file characteristics.
type Metadata struct {
	FileName   string  `json:"file_name"`
	FileType   string  `json:"file_type"`
	FileSizeKB float64 `json:"file_size_kb"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channel"`
	Samples    int     `json:"samples"`
	Duration   float64 `json:"duration"`
	Subtype    string  `json:"subtype"`
}

// Fingerprint is an immutable feature vector plus its source metadata.
type Fingerprint struct {
	Vector []float32
	Meta   Metadata
}

// Extractor computes fingerprints. It precomputes the analysis window, the
// mel filter bank, the DCT matrix, the contrast band edges and the chroma
// bin mapping, and is safe for concurrent use once constructed.
type Extractor struct {
	cfg      Config
	window   []float64
	melBank  [][]float64
	dct      [][]float64 // [NumCoeffs][NumMels]
	bands    []int       // contrast band edges as FFT bin indices
	binClass []int       // FFT bin -> pitch class, -1 for unmapped bins
}

// New creates an Extractor with the given config.
func New(cfg Config) *Extractor {
	halfFFT := cfg.FFTSize/2 + 1
	e := &Extractor{
		cfg:      cfg,
		window:   hannWindow(cfg.FFTSize),
		melBank:  melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, 0, float64(cfg.SampleRate)/2),
		dct:      dctMatrix(cfg.NumCoeffs, cfg.NumMels),
		bands:    contrastBands(cfg.ContrastBands, cfg.FFTSize, cfg.SampleRate),
		binClass: chromaClasses(halfFFT, cfg.FFTSize, cfg.SampleRate, cfg.ChromaBins),
	}
	return e
}

// Extract decodes the audio file at path and returns its fingerprint.
//
// Decode failures surface as errors wrapping [decode.ErrUnreadable];
// silent input surfaces as [ErrDegenerateSignal]. Both are terminal for
// the single file only.
func (e *Extractor) Extract(ctx context.Context, path string) (*Fingerprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sig, err := decode.Decode(path)
	if err != nil {
		return nil, err
	}

	meta, err := fileMetadata(path, sig)
	if err != nil {
		return nil, err
	}

	mono := sig.Channels[0]
	if sig.SampleRate != e.cfg.SampleRate {
		mono, err = resample(mono, sig.SampleRate, e.cfg.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("resample %q: %w", path, err)
		}
	}

	vec, err := e.features(mono)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, path)
	}

	return &Fingerprint{Vector: vec, Meta: meta}, nil
}

// ExtractDir walks dir and extracts fingerprints from every supported audio
// file, keyed by source path. Per-file failures are logged and skipped; the
// walk continues.
func (e *Extractor) ExtractDir(ctx context.Context, dir string) (map[string]*Fingerprint, error) {
	out := make(map[string]*Fingerprint)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !SupportedExtension(filepath.Ext(path)) {
			return nil
		}
		fp, err := e.Extract(ctx, path)
		if err != nil {
			slog.Warn("skipping file", "path", path, "error", err)
			return nil
		}
		out[path] = fp
		slog.Info("extracted fingerprint", "path", path, "dimension", len(fp.Vector))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// features computes the concatenated, L2-normalized feature vector from a
// mono signal at the configured sample rate.
func (e *Extractor) features(mono []float64) ([]float32, error) {
	cfg := e.cfg
	halfFFT := cfg.FFTSize/2 + 1
	dim := cfg.Dimension()

	numFrames := 0
	if len(mono) >= cfg.FFTSize {
		numFrames = (len(mono)-cfg.FFTSize)/cfg.HopSize + 1
	}

	mfccSum := make([]float64, cfg.NumCoeffs)
	contrastSum := make([]float64, cfg.ContrastBands+1)
	chromaSum := make([]float64, cfg.ChromaBins)

	re := make([]float64, cfg.FFTSize)
	im := make([]float64, cfg.FFTSize)
	power := make([]float64, halfFFT)
	logMel := make([]float64, cfg.NumMels)
	chromaFrame := make([]float64, cfg.ChromaBins)

	for t := 0; t < numFrames; t++ {
		start := t * cfg.HopSize
		total := 0.0
		for i := 0; i < cfg.FFTSize; i++ {
			re[i] = mono[start+i] * e.window[i]
			im[i] = 0
			total += re[i] * re[i]
		}
		if total == 0 {
			// Silent frame contributes zeros to every block.
			continue
		}

		fft(re, im)
		for i := 0; i < halfFFT; i++ {
			power[i] = re[i]*re[i] + im[i]*im[i]
		}

		// MFCC: mel energies -> log -> DCT-II.
		for m := 0; m < cfg.NumMels; m++ {
			sum := 0.0
			for k, w := range e.melBank[m] {
				sum += w * power[k]
			}
			if sum < 1e-10 {
				sum = 1e-10
			}
			logMel[m] = math.Log(sum)
		}
		for k := 0; k < cfg.NumCoeffs; k++ {
			c := 0.0
			for m := 0; m < cfg.NumMels; m++ {
				c += e.dct[k][m] * logMel[m]
			}
			mfccSum[k] += c
		}

		// Spectral contrast per octave band.
		for b := 0; b < len(e.bands)-1; b++ {
			contrastSum[b] += bandContrast(power[e.bands[b]:e.bands[b+1]])
		}

		// Chroma: magnitude energy folded onto pitch classes, frame
		// normalized by its peak class.
		for i := range chromaFrame {
			chromaFrame[i] = 0
		}
		for k := 1; k < halfFFT; k++ {
			if pc := e.binClass[k]; pc >= 0 {
				chromaFrame[pc] += math.Sqrt(power[k])
			}
		}
		peak := 0.0
		for _, v := range chromaFrame {
			if v > peak {
				peak = v
			}
		}
		if peak > 0 {
			for i, v := range chromaFrame {
				chromaSum[i] += v / peak
			}
		}
	}

	combined := make([]float64, 0, dim)
	if numFrames > 0 {
		n := float64(numFrames)
		for _, v := range mfccSum {
			combined = append(combined, v/n)
		}
		for _, v := range contrastSum {
			combined = append(combined, v/n)
		}
		for _, v := range chromaSum {
			combined = append(combined, v/n)
		}
	} else {
		combined = make([]float64, dim)
	}

	var norm float64
	for _, v := range combined {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 || math.IsNaN(norm) {
		return nil, ErrDegenerateSignal
	}

	vec := make([]float32, dim)
	for i, v := range combined {
		vec[i] = float32(v / norm)
	}
	return vec, nil
}

// bandContrast returns the log ratio between the band's spectral peaks and
// valleys, using the mean of the top and bottom 2% of bins (at least one).
func bandContrast(band []float64) float64 {
	if len(band) == 0 {
		return 0
	}
	sorted := make([]float64, len(band))
	copy(sorted, band)
	sort.Float64s(sorted)

	q := len(band) / 50
	if q < 1 {
		q = 1
	}
	var valley, peak float64
	for i := 0; i < q; i++ {
		valley += sorted[i]
		peak += sorted[len(sorted)-1-i]
	}
	valley /= float64(q)
	peak /= float64(q)

	const eps = 1e-10
	return math.Log((peak + eps) / (valley + eps))
}

func fileMetadata(path string, sig *decode.Signal) (Metadata, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("stat %q: %w", path, err)
	}
	return Metadata{
		FileName:   filepath.Base(path),
		FileType:   strings.ToLower(filepath.Ext(path)),
		FileSizeKB: float64(st.Size()) / 1024,
		SampleRate: sig.SampleRate,
		Channels:   len(sig.Channels),
		Samples:    sig.Frames(),
		Duration:   sig.Duration(),
		Subtype:    sig.Subtype,
	}, nil
}

// resample converts a mono signal between sample rates using the pure Go
// resampler.
func resample(in []float64, from, to int) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, err
	}
	out, err := r.Process(in)
	if err != nil {
		return nil, err
	}
	return out, nil
}
