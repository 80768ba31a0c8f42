package display

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"github.com/corona10/goimagehash"

	"github.com/GriffinCanCode/voicegate/internal/vad"
)

// Frame is one visualization snapshot.
type Frame struct {
	SessionID string
	Bins      []uint8
	Capture   vad.State
	Level     float64
	Voice     bool
	Timestamp time.Time
}

// Source provides the latest snapshot with its version, reporting false
// when nothing newer than seen exists.
type Source interface {
	DisplayFrame(seen uint64) (Frame, uint64, bool)
}

// Sink receives frames. PushDisplay must not block; it returns false when busy.
type Sink interface {
	PushDisplay(Frame) bool
}

// Processor samples a Source at a fixed rate and forwards changed frames.
type Processor struct {
	src  Source
	sink Sink

	mu        sync.Mutex
	lastHash  *goimagehash.ImageHash
	lastState vad.State
	seen      uint64
	pushed    int
	skipped   int
}

// NewProcessor creates a display processor.
func NewProcessor(src Source, sink Sink) *Processor {
	return &Processor{src: src, sink: sink}
}

// Run pushes frames at rate Hz until ctx is done or stopCh closes.
func (p *Processor) Run(ctx context.Context, rate float64, stopCh <-chan struct{}) {
	if rate <= 0 {
		rate = DefaultRate
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()
	defer func() {
		pushed, skipped := p.Stats()
		slog.Debug("display stopped", "pushed", pushed, "skipped", skipped)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Tick forwards the current frame if it differs from the last one pushed.
func (p *Processor) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	frame, version, ok := p.src.DisplayFrame(p.seen)
	if !ok {
		return false
	}

	hash, err := goimagehash.DifferenceHash(renderSpectrum(frame.Bins))
	if err != nil {
		slog.Debug("spectrum hash failed", "error", err)
		hash = nil
	}
	if p.isDuplicate(hash, frame.Capture) {
		p.seen = version
		p.skipped++
		return false
	}

	if !p.sink.PushDisplay(frame) {
		p.skipped++
		return false
	}
	p.lastHash = hash
	p.lastState = frame.Capture
	p.seen = version
	p.pushed++
	return true
}

func (p *Processor) isDuplicate(hash *goimagehash.ImageHash, state vad.State) bool {
	if p.lastHash == nil || hash == nil || p.pushed == 0 || state != p.lastState {
		return false
	}
	dist, err := p.lastHash.Distance(hash)
	if err != nil {
		return false
	}
	return dist <= MaxHashDistance
}

// Stats returns pushed and skipped frame counts.
func (p *Processor) Stats() (pushed, skipped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pushed, p.skipped
}

// renderSpectrum draws bins as a bar chart for perceptual hashing.
func renderSpectrum(bins []uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, RenderWidth, RenderHeight))
	if len(bins) == 0 {
		return img
	}
	per := max(len(bins)/RenderWidth, 1)
	for x := 0; x < RenderWidth; x++ {
		start := x * len(bins) / RenderWidth
		end := min(start+per, len(bins))
		var sum int
		for _, b := range bins[start:end] {
			sum += int(b)
		}
		n := max(end-start, 1)
		bar := sum / n * RenderHeight / 255
		for y := RenderHeight - bar; y < RenderHeight; y++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return img
}
