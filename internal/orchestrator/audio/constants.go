// Package audio runs captured frames through activity estimation and the voice gate.
package audio

// Activity input sources.
const (
	SourceSpectrum = "spectrum"
	SourceSamples  = "samples"
)
