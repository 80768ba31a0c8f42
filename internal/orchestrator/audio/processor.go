package audio

import (
	"time"

	"github.com/GriffinCanCode/voicegate/internal/activity"
	audiocap "github.com/GriffinCanCode/voicegate/internal/audio"
	"github.com/GriffinCanCode/voicegate/internal/vad"
)

// Config for the frame processor.
type Config struct {
	Source    string // SourceSpectrum or SourceSamples
	FFTSize   int
	DecayRate float64
	VAD       vad.Config
}

// Result is the gate verdict for one frame.
type Result struct {
	Activity activity.Snapshot
	Decision vad.Decision
	Bins     []uint8 // spectrum of the most recent FFTSize samples
	PCM      []byte  // encoded frame, set only when Decision.Transmit
}

// Processor owns the per-session analysis state. Not safe for concurrent
// use; the session loop is the only caller.
type Processor struct {
	cfg       Config
	analyser  *audiocap.Analyser
	estimator *activity.Estimator
	detector  *vad.Detector
}

// NewProcessor creates a frame processor.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Source == "" {
		cfg.Source = SourceSpectrum
	}
	if cfg.FFTSize == 0 {
		cfg.FFTSize = audiocap.DefaultFFTSize
	}
	analyser, err := audiocap.NewAnalyser(cfg.FFTSize)
	if err != nil {
		return nil, err
	}
	return &Processor{
		cfg:       cfg,
		analyser:  analyser,
		estimator: activity.NewEstimator(cfg.DecayRate),
		detector:  vad.New(cfg.VAD),
	}, nil
}

// Process analyses a frame at its capture timestamp.
func (p *Processor) Process(frame audiocap.Frame) Result {
	return p.ProcessAt(frame, frame.Timestamp)
}

// ProcessAt analyses a frame as if observed at now.
func (p *Processor) ProcessAt(frame audiocap.Frame, now time.Time) Result {
	p.analyser.Write(frame.Samples)
	bins := p.analyser.ByteFrequencyData()

	var snap activity.Snapshot
	if p.cfg.Source == SourceSamples {
		snap = p.estimator.ObserveSamples(frame.Samples)
	} else {
		snap = p.estimator.ObserveSpectrum(bins)
	}

	res := Result{
		Activity: snap,
		Decision: p.detector.Update(snap.Average, snap.Peak, now),
		Bins:     bins,
	}
	if res.Decision.Transmit {
		res.PCM = audiocap.EncodePCM16(frame.Samples)
	}
	return res
}

// State returns the current capture state.
func (p *Processor) State() vad.State { return p.detector.State() }
