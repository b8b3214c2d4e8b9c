package feature

import "math"

// hannWindow generates a Hann window of the given length.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1.0 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}

// hzToMel converts frequency in Hz to mel scale.
func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// melToHz converts mel scale frequency back to Hz.
func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterBank creates the mel filterbank matrix.
// Returns [numMels][halfFFT] where halfFFT = fftSize/2 + 1.
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	halfFFT := fftSize/2 + 1
	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)

	// numMels + 2 equally spaced mel points
	melPoints := make([]float64, numMels+2)
	step := (highMel - lowMel) / float64(numMels+1)
	for i := range melPoints {
		melPoints[i] = lowMel + float64(i)*step
	}

	// Convert mel points to FFT bin indices (round to nearest)
	bins := make([]int, numMels+2)
	for i, m := range melPoints {
		hz := melToHz(m)
		bin := int(math.Round(hz * float64(fftSize) / float64(sampleRate)))
		if bin >= halfFFT {
			bin = halfFFT - 1
		}
		bins[i] = bin
	}

	// Ensure each filter has at least 1 bin width
	for i := 1; i < len(bins); i++ {
		if bins[i] <= bins[i-1] {
			bins[i] = bins[i-1] + 1
		}
	}

	// Create triangular filters
	bank := make([][]float64, numMels)
	for m := 0; m < numMels; m++ {
		filter := make([]float64, halfFFT)
		left := bins[m]
		center := bins[m+1]
		right := bins[m+2]

		for k := left; k < center && k < halfFFT; k++ {
			if center != left {
				filter[k] = float64(k-left) / float64(center-left)
			}
		}
		for k := center; k <= right && k < halfFFT; k++ {
			if right != center {
				filter[k] = float64(right-k) / float64(right-center)
			}
		}
		bank[m] = filter
	}
	return bank
}

// dctMatrix builds an orthonormal DCT-II matrix mapping numMels log mel
// energies to numCoeffs cepstral coefficients.
func dctMatrix(numCoeffs, numMels int) [][]float64 {
	m := make([][]float64, numCoeffs)
	scale := math.Sqrt(2.0 / float64(numMels))
	for k := range m {
		row := make([]float64, numMels)
		for n := range row {
			row[n] = scale * math.Cos(math.Pi/float64(numMels)*(float64(n)+0.5)*float64(k))
		}
		if k == 0 {
			for n := range row {
				row[n] /= math.Sqrt2
			}
		}
		m[k] = row
	}
	return m
}

// contrastBands returns band edge bin indices for spectral contrast:
// a base band up to 200 Hz, then numBands octave doublings capped at the
// Nyquist bin. len(result) = numBands + 2, defining numBands + 1 bands.
func contrastBands(numBands, fftSize, sampleRate int) []int {
	halfFFT := fftSize/2 + 1
	hzToBin := func(hz float64) int {
		bin := int(math.Round(hz * float64(fftSize) / float64(sampleRate)))
		if bin > halfFFT {
			bin = halfFFT
		}
		return bin
	}

	edges := make([]int, 0, numBands+2)
	edges = append(edges, 0)
	freq := 200.0
	for b := 0; b <= numBands; b++ {
		edges = append(edges, hzToBin(freq))
		freq *= 2
	}
	edges[len(edges)-1] = halfFFT

	// Keep edges strictly increasing so every band is non-empty.
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			edges[i] = edges[i-1] + 1
		}
	}
	if edges[len(edges)-1] > halfFFT {
		edges[len(edges)-1] = halfFFT
	}
	return edges
}

// chromaClasses maps each FFT bin to a pitch class (0 = C). Bins below the
// musical range map to -1 and are ignored.
func chromaClasses(halfFFT, fftSize, sampleRate, bins int) []int {
	classes := make([]int, halfFFT)
	classes[0] = -1
	for k := 1; k < halfFFT; k++ {
		freq := float64(k) * float64(sampleRate) / float64(fftSize)
		if freq < 27.5 { // below A0
			classes[k] = -1
			continue
		}
		midi := 69.0 + 12.0*math.Log2(freq/440.0)
		pc := int(math.Round(midi)) % bins
		if pc < 0 {
			pc += bins
		}
		classes[k] = pc
	}
	return classes
}
