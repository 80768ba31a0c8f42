// Package vad gates transmission on sustained voice activity.
//
// The detector is a pure state machine driven by per-frame activity
// readings and the frame timestamp; it never reads the wall clock.
package vad

import "time"

// Defaults for Config.
const (
	DefaultSilenceThreshold = 2.0
	DefaultVoicePeakFactor  = 1.5
	DefaultMinActivity      = 50 * time.Millisecond
	DefaultPauseAfter       = 2 * time.Second
	DefaultDisconnectAfter  = 5 * time.Second
)

// State is the capture state derived from activity.
type State int

const (
	Silent State = iota
	VoiceDetected
	Recording
	SilencePending
	Disconnected
)

func (s State) String() string {
	switch s {
	case Silent:
		return "silent"
	case VoiceDetected:
		return "voice_detected"
	case Recording:
		return "recording"
	case SilencePending:
		return "silence_pending"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Config holds detector thresholds.
type Config struct {
	SilenceThreshold float64
	VoicePeakFactor  float64
	MinActivity      time.Duration
	PauseAfter       time.Duration
	DisconnectAfter  time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold: DefaultSilenceThreshold,
		VoicePeakFactor:  DefaultVoicePeakFactor,
		MinActivity:      DefaultMinActivity,
		PauseAfter:       DefaultPauseAfter,
		DisconnectAfter:  DefaultDisconnectAfter,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = d.SilenceThreshold
	}
	if c.VoicePeakFactor <= 0 {
		c.VoicePeakFactor = d.VoicePeakFactor
	}
	if c.MinActivity < 0 {
		c.MinActivity = d.MinActivity
	}
	if c.PauseAfter <= 0 {
		c.PauseAfter = d.PauseAfter
	}
	if c.DisconnectAfter <= 0 {
		c.DisconnectAfter = d.DisconnectAfter
	}
	return c
}

// Decision is the detector verdict for one frame.
type Decision struct {
	Previous   State
	State      State
	Voice      bool // voice condition held for this frame
	Transmit   bool // frame audio should be sent
	Disconnect bool // prolonged silence, session must end

	SilenceStart time.Time // start of the pending silence run, zero if none
}

// Changed reports whether the frame caused a state transition.
func (d Decision) Changed() bool { return d.Previous != d.State }

// Detector tracks the recording gate across frames.
type Detector struct {
	cfg            Config
	state          State
	recording      bool
	recordingStart time.Time
	silenceStart   time.Time
}

// New creates a detector in the Silent state.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Config returns the effective thresholds.
func (d *Detector) Config() Config { return d.cfg }

// State returns the current capture state.
func (d *Detector) State() State { return d.state }

// IsVoice reports whether avg and peak satisfy the voice condition.
func (d *Detector) IsVoice(avg, peak float64) bool {
	return avg > d.cfg.SilenceThreshold && peak > d.cfg.SilenceThreshold*d.cfg.VoicePeakFactor
}

// Update advances the state machine with one frame of activity.
//
// The debounce timer is not cleared when voice drops before MinActivity,
// so a later onset may enter Recording immediately. It is cleared on pause.
// The silence timer starts on the first silent frame after recording and
// is never re-armed while silence continues.
func (d *Detector) Update(avg, peak float64, now time.Time) Decision {
	prev := d.state
	if prev == Disconnected {
		return Decision{Previous: prev, State: prev, Disconnect: true}
	}

	voice := d.IsVoice(avg, peak)
	wasRecording := d.recording

	if voice {
		if !wasRecording && d.recordingStart.IsZero() {
			d.recordingStart = now
		}
		if wasRecording || now.Sub(d.recordingStart) >= d.cfg.MinActivity {
			d.recording = true
			d.silenceStart = time.Time{}
		}
	} else {
		if wasRecording && d.silenceStart.IsZero() {
			d.silenceStart = now
		}
		if d.recording && !d.silenceStart.IsZero() && now.Sub(d.silenceStart) >= d.cfg.PauseAfter {
			d.recording = false
			d.recordingStart = time.Time{}
		}
	}

	if !d.recording && !d.silenceStart.IsZero() && now.Sub(d.silenceStart) > d.cfg.DisconnectAfter {
		d.state = Disconnected
		return Decision{Previous: prev, State: Disconnected, Voice: voice, Disconnect: true, SilenceStart: d.silenceStart}
	}

	switch {
	case d.recording:
		d.state = Recording
	case voice:
		d.state = VoiceDetected
	case !d.silenceStart.IsZero():
		d.state = SilencePending
	default:
		d.state = Silent
	}

	return Decision{
		Previous: prev,
		State:    d.state,
		Voice:    voice,
		Transmit: d.recording,

		SilenceStart: d.silenceStart,
	}
}
