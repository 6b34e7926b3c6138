// Package fftanalyzer implements windowed DFT with optional DC removal
// and zero-padding, Welch's averaged method, and peak detection, built
// on gonum's FFT and window function collaborators.
package fftanalyzer

import (
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/mat"
)

// WindowFunc names a supported window.
type WindowFunc int

const (
	Rectangular WindowFunc = iota
	Hann
	Hamming
	Blackman
	FlatTop
)

func (w WindowFunc) apply(seq []float64) []float64 {
	switch w {
	case Hann:
		return window.Hann(seq)
	case Hamming:
		return window.Hamming(seq)
	case Blackman:
		return window.Blackman(seq)
	case FlatTop:
		return window.FlatTop(seq)
	default:
		return seq
	}
}

// Config parameterizes one analysis.
type Config struct {
	Window       WindowFunc
	Size         int // target FFT size
	SampleRateHz float64
	RemoveDC     bool
	ZeroPad      bool

	// Welch's method parameters; OverlapRatio is ignored unless more
	// than one segment of Size fits in the input.
	OverlapRatio float64 // [0, 0.99]
}

// Result is a one-sided spectrum.
type Result struct {
	Freqs  []float64
	Mag    []float64
	PSDdB  []float64
	FftSize int
	Fs     float64
}

// dbFloor is the PSD floor applied when magnitude is too small to take a
// meaningful log of.
const dbFloor = -200.0

// Analyze runs a single windowed FFT over samples. If
// cfg.ZeroPad and cfg.Size > len(samples), the buffer is zero-padded to
// the next power of two at or above cfg.Size; otherwise it is truncated
// to min(len(samples), cfg.Size).
func Analyze(samples []float64, cfg Config) Result {
	n := prepareSize(len(samples), cfg)
	buf := make([]float64, n)
	copy(buf, samples[:min(len(samples), n)])

	windowed := cfg.Window.apply(buf)
	if cfg.RemoveDC {
		removeDC(windowed)
	}

	return spectrumOf(windowed, cfg.SampleRateHz)
}

// prepareSize resolves the FFT size per the configured zero-pad/truncate
// rule.
func prepareSize(inputLen int, cfg Config) int {
	size := cfg.Size
	if size <= 0 {
		size = inputLen
	}
	if cfg.ZeroPad && size > inputLen {
		return nextPowerOfTwo(size)
	}
	if size > inputLen {
		return inputLen
	}
	return size
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func removeDC(seq []float64) {
	var mean float64
	for _, v := range seq {
		mean += v
	}
	mean /= float64(len(seq))
	for i := range seq {
		seq[i] -= mean
	}
}

// spectrumOf forward-transforms a (possibly windowed, DC-removed)
// buffer into a one-sided magnitude/PSD spectrum.
func spectrumOf(buf []float64, fs float64) Result {
	n := len(buf)
	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, buf)

	numBins := n/2 + 1
	freqs := make([]float64, numBins)
	mag := make([]float64, numBins)
	psd := make([]float64, numBins)
	for i := 0; i < numBins; i++ {
		freqs[i] = float64(i) * fs / float64(n)
		m := cmplx.Abs(coeffs[i]) * 2 / float64(n)
		mag[i] = m
		if m <= 1e-10 {
			psd[i] = dbFloor
		} else {
			psd[i] = 20 * math.Log10(m)
		}
	}
	return Result{Freqs: freqs, Mag: mag, PSDdB: psd, FftSize: n, Fs: fs}
}

// Welch computes the averaged spectrum over overlapping segments of
// cfg.Size samples (overlap cfg.OverlapRatio), each
// windowed/DC-removed/transformed independently, then averaged
// element-wise. Falls back to a single-segment Analyze if fewer than
// two segments fit.
func Welch(samples []float64, cfg Config) Result {
	size := cfg.Size
	if size <= 0 || size > len(samples) {
		size = len(samples)
	}
	overlap := cfg.OverlapRatio
	if overlap < 0 {
		overlap = 0
	}
	if overlap > 0.99 {
		overlap = 0.99
	}
	step := int(float64(size) * (1 - overlap))
	if step < 1 {
		step = 1
	}

	var segments [][]float64
	for start := 0; start+size <= len(samples); start += step {
		segments = append(segments, samples[start:start+size])
	}
	if len(segments) < 2 {
		return Analyze(samples, cfg)
	}

	// Each segment's spectrum becomes a row; averaging down the columns
	// of a numSegments×numBins matrix is exactly mat.Dense's job, so the
	// per-segment spectra are collected into one before reducing.
	var freqs []float64
	fftSize := 0
	numBins := 0
	var magRows, psdRows [][]float64
	for _, seg := range segments {
		segCfg := cfg
		segCfg.ZeroPad = false // a Welch segment is already exactly cfg.Size
		res := Analyze(seg, segCfg)
		if freqs == nil {
			freqs = res.Freqs
			fftSize = res.FftSize
			numBins = len(res.Mag)
		}
		magRows = append(magRows, res.Mag)
		psdRows = append(psdRows, res.PSDdB)
	}

	avgMag := averageRows(magRows, numBins)
	avgPSD := averageRows(psdRows, numBins)
	return Result{Freqs: freqs, Mag: avgMag, PSDdB: avgPSD, FftSize: fftSize, Fs: cfg.SampleRateHz}
}

// averageRows stacks rows into a numRows×numCols mat.Dense and returns the
// column-wise mean, i.e. ones(1,numRows)/numRows * M.
func averageRows(rows [][]float64, numCols int) []float64 {
	numRows := len(rows)
	m := mat.NewDense(numRows, numCols, nil)
	for i, row := range rows {
		m.SetRow(i, row)
	}

	weights := mat.NewDense(1, numRows, nil)
	for i := 0; i < numRows; i++ {
		weights.Set(0, i, 1/float64(numRows))
	}

	var avg mat.Dense
	avg.Mul(weights, m)
	out := make([]float64, numCols)
	mat.Row(out, 0, &avg)
	return out
}

// Peak returns the (freq, mag) of the spectrum's global maximum.
func (r Result) Peak() (freq, mag float64) {
	if len(r.Mag) == 0 {
		return 0, 0
	}
	bestIdx := 0
	for i, m := range r.Mag {
		if m > r.Mag[bestIdx] {
			bestIdx = i
		}
	}
	return r.Freqs[bestIdx], r.Mag[bestIdx]
}

// FreqResolution returns the spacing between adjacent bins.
func (r Result) FreqResolution() float64 {
	if len(r.Freqs) < 2 {
		return 0
	}
	return r.Freqs[1] - r.Freqs[0]
}

// Peak is one local maximum reported by TopPeaks.
type Peak struct {
	Freq float64
	Mag  float64
}

// TopPeaks returns up to n local peaks (bins strictly greater than both
// neighbors), sorted by descending magnitude, with adjacent peaks closer
// than 2×freq_resolution suppressed in favor of the larger one, to avoid
// adjacent-bin duplicates.
func (r Result) TopPeaks(n int) []Peak {
	if n <= 0 || len(r.Mag) < 3 {
		return nil
	}
	minSep := 2 * r.FreqResolution()

	var candidates []Peak
	for i := 1; i < len(r.Mag)-1; i++ {
		if r.Mag[i] > r.Mag[i-1] && r.Mag[i] > r.Mag[i+1] {
			candidates = append(candidates, Peak{Freq: r.Freqs[i], Mag: r.Mag[i]})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Mag > candidates[j].Mag })

	var out []Peak
	for _, c := range candidates {
		tooClose := false
		for _, kept := range out {
			if math.Abs(kept.Freq-c.Freq) < minSep {
				tooClose = true
				break
			}
		}
		if !tooClose {
			out = append(out, c)
		}
		if len(out) == n {
			break
		}
	}
	return out
}
