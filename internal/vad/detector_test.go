package vad

import (
	"testing"
	"time"
)

const (
	loud  = 10.0
	quiet = 0.0
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

// drive feeds frames every step ms from start to end inclusive.
func drive(d *Detector, level float64, start, end, step int) Decision {
	var last Decision
	for ms := start; ms <= end; ms += step {
		last = d.Update(level, level, at(ms))
	}
	return last
}

func TestVoiceCondition(t *testing.T) {
	d := New(DefaultConfig())
	tests := []struct {
		avg, peak float64
		want      bool
	}{
		{2.5, 3.5, true},
		{2.0, 10, false},
		{5, 3.0, false},
		{5, 3.01, true},
		{0, 0, false},
	}
	for _, tt := range tests {
		if got := d.IsVoice(tt.avg, tt.peak); got != tt.want {
			t.Errorf("IsVoice(%v, %v) = %v, want %v", tt.avg, tt.peak, got, tt.want)
		}
	}
}

func TestRecordingAfterMinActivity(t *testing.T) {
	d := New(DefaultConfig())

	dec := d.Update(loud, loud, at(0))
	if dec.State != VoiceDetected || dec.Transmit {
		t.Fatalf("onset: state=%v transmit=%v, want voice_detected/false", dec.State, dec.Transmit)
	}
	dec = d.Update(loud, loud, at(40))
	if dec.State != VoiceDetected {
		t.Fatalf("at 40ms: state=%v, want voice_detected", dec.State)
	}
	dec = d.Update(loud, loud, at(50))
	if dec.State != Recording || !dec.Transmit || !dec.Changed() {
		t.Fatalf("at 50ms: %+v, want recording transition", dec)
	}
}

func TestStickyDebounce(t *testing.T) {
	d := New(DefaultConfig())
	d.Update(loud, loud, at(0))
	d.Update(quiet, quiet, at(20))
	if d.State() != Silent {
		t.Fatalf("state = %v, want silent", d.State())
	}
	// Onset timer survives the gap, so the next voice frame records at once.
	dec := d.Update(loud, loud, at(500))
	if dec.State != Recording {
		t.Errorf("state = %v, want recording", dec.State)
	}
}

func TestPauseAfterSilence(t *testing.T) {
	d := New(DefaultConfig())
	drive(d, loud, 0, 1000, 16)

	dec := d.Update(quiet, quiet, at(1100))
	if dec.State != Recording || !dec.Transmit {
		t.Fatalf("silence grace: %+v, want still recording", dec)
	}
	if !dec.SilenceStart.Equal(at(1100)) {
		t.Fatalf("SilenceStart = %v, want %v", dec.SilenceStart, at(1100))
	}

	dec = d.Update(quiet, quiet, at(3099))
	if dec.State != Recording {
		t.Fatalf("at 1999ms silence: state=%v, want recording", dec.State)
	}
	dec = d.Update(quiet, quiet, at(3100))
	if dec.State != SilencePending || dec.Transmit || dec.Disconnect {
		t.Fatalf("at 2000ms silence: %+v, want silence_pending", dec)
	}
	// Timer is not re-armed by continued silence.
	if !dec.SilenceStart.Equal(at(1100)) {
		t.Errorf("silence timer moved to %v", dec.SilenceStart)
	}
}

func TestVoiceResumesAfterPauseNeedsDebounce(t *testing.T) {
	d := New(DefaultConfig())
	drive(d, loud, 0, 100, 10)
	drive(d, quiet, 200, 2300, 100)
	if d.State() != SilencePending {
		t.Fatalf("state = %v, want silence_pending", d.State())
	}

	dec := d.Update(loud, loud, at(2400))
	if dec.State != VoiceDetected {
		t.Fatalf("state = %v, want voice_detected", dec.State)
	}
	dec = d.Update(loud, loud, at(2450))
	if dec.State != Recording {
		t.Fatalf("state = %v, want recording", dec.State)
	}
	if !dec.SilenceStart.IsZero() {
		t.Errorf("SilenceStart = %v, want cleared on recording", dec.SilenceStart)
	}
}

func TestDisconnectAfterProlongedSilence(t *testing.T) {
	d := New(DefaultConfig())
	drive(d, loud, 0, 100, 10)

	dec := drive(d, quiet, 200, 5200, 100)
	if dec.Disconnect {
		t.Fatalf("disconnected at exactly 5000ms: %+v", dec)
	}
	dec = d.Update(quiet, quiet, at(5201))
	if !dec.Disconnect || dec.State != Disconnected {
		t.Fatalf("after 5000ms: %+v, want disconnect", dec)
	}
	// Terminal.
	dec = d.Update(loud, loud, at(5300))
	if !dec.Disconnect || dec.Transmit {
		t.Errorf("after disconnect: %+v, want terminal", dec)
	}
}

func TestSilenceNeverRecordedDoesNotDisconnect(t *testing.T) {
	d := New(DefaultConfig())
	dec := drive(d, quiet, 0, 20000, 100)
	if dec.Disconnect || dec.State != Silent {
		t.Errorf("silence without speech: %+v, want silent", dec)
	}
}

func TestTransmitOnlyWhileRecording(t *testing.T) {
	d := New(DefaultConfig())
	levels := []float64{0, 5, 5, 5, 5, 5, 0, 0, 5, 0}
	for i, lvl := range levels {
		dec := d.Update(lvl, lvl, at(i*16))
		if dec.Transmit != (dec.State == Recording) {
			t.Errorf("frame %d: transmit=%v state=%v", i, dec.Transmit, dec.State)
		}
	}
}
