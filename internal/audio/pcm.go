package audio

import "encoding/binary"

// SampleToPCM16 converts a normalized sample to signed 16-bit PCM.
// Input is clamped to [-1,1]; negatives scale by 32768, positives by 32767.
func SampleToPCM16(s float32) int16 {
	switch {
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// EncodePCM16 encodes samples as little-endian 16-bit PCM.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(SampleToPCM16(s)))
	}
	return out
}
