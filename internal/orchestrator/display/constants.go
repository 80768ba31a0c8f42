// Package display pushes spectrum snapshots to visualization clients.
package display

// Display processing constants
const (
	// Spectrum render size used for perceptual hashing.
	RenderWidth  = 64
	RenderHeight = 32

	// Frames whose hash distance is at or below this are duplicates.
	MaxHashDistance = 0

	DefaultRate = 30.0 // Hz
)
