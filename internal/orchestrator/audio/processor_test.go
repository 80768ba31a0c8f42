package audio

import (
	"math"
	"testing"
	"time"

	audiocap "github.com/GriffinCanCode/voicegate/internal/audio"
	"github.com/GriffinCanCode/voicegate/internal/vad"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func tone(n int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func frameAt(ms int, samples []float32) audiocap.Frame {
	return audiocap.Frame{Samples: samples, Timestamp: t0.Add(time.Duration(ms) * time.Millisecond)}
}

func newSamplesProcessor(t *testing.T) *Processor {
	t.Helper()
	p, err := NewProcessor(Config{Source: SourceSamples, FFTSize: 256, DecayRate: 0.01, VAD: vad.DefaultConfig()})
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	return p
}

func TestNewProcessorRejectsBadFFT(t *testing.T) {
	if _, err := NewProcessor(Config{FFTSize: 1000}); err == nil {
		t.Error("NewProcessor() error = nil for fft size 1000")
	}
}

func TestProcessGatesOnVoice(t *testing.T) {
	p := newSamplesProcessor(t)

	res := p.Process(frameAt(0, make([]float32, 256)))
	if res.Decision.State != vad.Silent || res.PCM != nil {
		t.Fatalf("silent frame: state=%v pcm=%d bytes", res.Decision.State, len(res.PCM))
	}

	loud := tone(256, 0.5)
	res = p.Process(frameAt(16, loud))
	if res.Decision.State != vad.VoiceDetected || res.PCM != nil {
		t.Fatalf("onset: state=%v pcm=%d bytes", res.Decision.State, len(res.PCM))
	}
	if res.Activity.Instant < 30 {
		t.Errorf("instant activity = %v, want about 35", res.Activity.Instant)
	}

	res = p.Process(frameAt(80, loud))
	if res.Decision.State != vad.Recording {
		t.Fatalf("after 64ms: state=%v, want recording", res.Decision.State)
	}
	if len(res.PCM) != 512 {
		t.Errorf("PCM = %d bytes, want 512", len(res.PCM))
	}
	if len(res.Bins) != 128 {
		t.Errorf("bins = %d, want 128", len(res.Bins))
	}
}

func TestProcessSpectrumSource(t *testing.T) {
	p, err := NewProcessor(Config{Source: SourceSpectrum, FFTSize: 2048, VAD: vad.DefaultConfig()})
	if err != nil {
		t.Fatal(err)
	}
	res := p.Process(frameAt(0, make([]float32, 4096)))
	if res.Activity.Instant != 0 {
		t.Errorf("silence activity = %v, want 0", res.Activity.Instant)
	}
	res = p.Process(frameAt(256, tone(4096, 0.8)))
	if res.Activity.Instant <= 0 {
		t.Errorf("tone activity = %v, want > 0", res.Activity.Instant)
	}
}
