// Package audio handles microphone capture, spectrum analysis and PCM encoding.
package audio

import "time"

// Capture defaults.
const (
	DefaultSampleRate = 16000
	DefaultFrameSize  = 4096
	DefaultFFTSize    = 2048
	Channels          = 1
)

// Frame is one block of mono samples normalized to [-1,1].
// Frames are immutable once delivered.
type Frame struct {
	Samples   []float32
	Seq       uint64
	Timestamp time.Time
}
