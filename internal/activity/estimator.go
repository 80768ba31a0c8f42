// Package activity estimates acoustic activity from captured audio frames.
package activity

import "math"

const (
	// HistorySize is the number of instantaneous readings averaged together.
	HistorySize = 10
	// DefaultDecayRate is the fraction the smoothed level loses per frame.
	DefaultDecayRate = 0.01
	// Scale maps a normalized RMS in [0,1] onto the 0..100 activity range.
	Scale = 100
)

// Snapshot is the estimator output for a single frame.
type Snapshot struct {
	Instant float64 // RMS*100 of this frame
	Average float64 // mean of the history window
	Peak    float64 // max of the history window
	Level   float64 // decaying display level
}

// History keeps the last HistorySize readings in arrival order.
type History struct {
	buf  [HistorySize]float64
	head int
	n    int
}

// Push appends v, evicting the oldest reading when full.
func (h *History) Push(v float64) {
	h.buf[(h.head+h.n)%HistorySize] = v
	if h.n < HistorySize {
		h.n++
		return
	}
	h.head = (h.head + 1) % HistorySize
}

// Len returns the number of stored readings.
func (h *History) Len() int { return h.n }

// Values returns the readings oldest first.
func (h *History) Values() []float64 {
	out := make([]float64, h.n)
	for i := range out {
		out[i] = h.buf[(h.head+i)%HistorySize]
	}
	return out
}

// Average returns the arithmetic mean, or 0 when empty.
func (h *History) Average() float64 {
	if h.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < h.n; i++ {
		sum += h.buf[(h.head+i)%HistorySize]
	}
	return sum / float64(h.n)
}

// Peak returns the largest reading, or 0 when empty.
func (h *History) Peak() float64 {
	var peak float64
	for i := 0; i < h.n; i++ {
		peak = math.Max(peak, h.buf[(h.head+i)%HistorySize])
	}
	return peak
}

// Estimator turns frames into smoothed activity readings.
// It is not safe for concurrent use; the session loop owns it.
type Estimator struct {
	decay   float64
	history History
	level   float64
}

// NewEstimator creates an estimator with the given per-frame decay rate.
func NewEstimator(decay float64) *Estimator {
	if decay <= 0 || decay >= 1 {
		decay = DefaultDecayRate
	}
	return &Estimator{decay: decay}
}

// ObserveSamples feeds a frame of normalized float samples.
func (e *Estimator) ObserveSamples(samples []float32) Snapshot {
	return e.Observe(SampleRMS(samples) * Scale)
}

// ObserveSpectrum feeds a frame of byte-scaled frequency magnitudes.
func (e *Estimator) ObserveSpectrum(bins []uint8) Snapshot {
	return e.Observe(SpectrumRMS(bins) * Scale)
}

// Observe records an instantaneous reading and applies the decay law.
func (e *Estimator) Observe(instant float64) Snapshot {
	e.history.Push(instant)
	avg := e.history.Average()
	e.level = math.Max(avg, e.level*(1-e.decay))
	return Snapshot{
		Instant: instant,
		Average: avg,
		Peak:    e.history.Peak(),
		Level:   e.level,
	}
}

// Level returns the current display level.
func (e *Estimator) Level() float64 { return e.level }

// History returns the readings oldest first.
func (e *Estimator) History() []float64 { return e.history.Values() }

// SampleRMS returns the root mean square of samples clamped to [-1,1].
func SampleRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// SpectrumRMS returns the RMS of bins normalized by 255.
func SpectrumRMS(bins []uint8) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bins {
		v := float64(b) / 255
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(bins)))
}
