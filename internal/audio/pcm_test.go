package audio

import (
	"encoding/binary"
	"testing"
)

func TestSampleToPCM16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{1.0, 32767},
		{-1.0, -32768},
		{0, 0},
		{1.5, 32767},
		{-2, -32768},
		{0.5, 16383},
		{-0.5, -16384},
	}
	for _, tt := range tests {
		if got := SampleToPCM16(tt.in); got != tt.want {
			t.Errorf("SampleToPCM16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEncodePCM16LittleEndian(t *testing.T) {
	got := EncodePCM16([]float32{1, -1, 0})
	if len(got) != 6 {
		t.Fatalf("len = %d, want 6", len(got))
	}
	want := []int16{32767, -32768, 0}
	for i, w := range want {
		if v := int16(binary.LittleEndian.Uint16(got[i*2:])); v != w {
			t.Errorf("sample %d = %d, want %d", i, v, w)
		}
	}
	if got[0] != 0xFF || got[1] != 0x7F {
		t.Errorf("first sample bytes = %x %x, want ff 7f", got[0], got[1])
	}
}
