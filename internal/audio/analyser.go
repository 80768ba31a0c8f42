package audio

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Analyser defaults, matching the browser AnalyserNode.
const (
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// Analyser produces byte-scaled frequency magnitudes from the most recent
// FFTSize samples. It is not safe for concurrent use.
type Analyser struct {
	size      int
	smoothing float64
	minDB     float64
	maxDB     float64

	fft      *fourier.FFT
	window   []float64
	ring     []float32
	pos      int
	scratch  []float64
	coeffs   []complex128
	smoothed []float64
}

// NewAnalyser creates an analyser with the given FFT size (power of two).
func NewAnalyser(fftSize int) (*Analyser, error) {
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size %d must be a power of two >= 32", fftSize)
	}
	return &Analyser{
		size:      fftSize,
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDecibels,
		maxDB:     DefaultMaxDecibels,
		fft:       fourier.NewFFT(fftSize),
		window:    blackman(fftSize),
		ring:      make([]float32, fftSize),
		scratch:   make([]float64, fftSize),
		coeffs:    make([]complex128, fftSize/2+1),
		smoothed:  make([]float64, fftSize/2),
	}, nil
}

// BinCount returns the number of frequency bins.
func (a *Analyser) BinCount() int { return a.size / 2 }

// Write appends samples to the time-domain window.
func (a *Analyser) Write(samples []float32) {
	if len(samples) >= a.size {
		copy(a.ring, samples[len(samples)-a.size:])
		a.pos = 0
		return
	}
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % a.size
	}
}

// ByteFrequencyData runs the transform over the current window and returns
// magnitudes mapped from [minDB,maxDB] onto 0..255.
func (a *Analyser) ByteFrequencyData() []uint8 {
	for i := range a.scratch {
		a.scratch[i] = float64(a.ring[(a.pos+i)%a.size]) * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.scratch)

	out := make([]uint8, len(a.smoothed))
	scale := 255 / (a.maxDB - a.minDB)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.size)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		db := 20 * math.Log10(a.smoothed[k])
		v := math.Floor(scale * (db - a.minDB))
		switch {
		case math.IsNaN(v) || v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		out[k] = uint8(v)
	}
	return out
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0, a1, a2 := (1-alpha)/2, 0.5, alpha/2
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}
