package audio

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/voicegate/internal/errors"
)

// streamCloseWait bounds how long Close waits for the reader to notice an aborted stream.
const streamCloseWait = time.Second

// CaptureConfig selects and shapes the microphone stream.
type CaptureConfig struct {
	SampleRate      int
	FrameSize       int
	Device          string   // substring match; empty picks the best microphone
	ExcludedDevices []string // substring matches never opened
	Buffer          int      // frames allowed in flight
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = DefaultFrameSize
	}
	if c.Buffer <= 0 {
		c.Buffer = 1
	}
	return c
}

// Capturer acquires microphone streams through PortAudio.
type Capturer struct {
	cfg CaptureConfig
}

// NewCapturer creates a capturer; no device is touched until Open.
func NewCapturer(cfg CaptureConfig) *Capturer {
	return &Capturer{cfg: cfg.withDefaults()}
}

// Stream is an open microphone delivering frames until closed.
type Stream struct {
	device string
	stream *portaudio.Stream
	buf    []float32
	frames chan Frame
	done   chan struct{}
	exited chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Open acquires the configured microphone and starts streaming.
// Every failure path releases whatever was acquired.
func (c *Capturer) Open(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Cancelled, "device acquisition cancelled")
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, classifyOpenError(err, "initialize audio subsystem")
	}
	released := false
	release := func() {
		if !released {
			released = true
			_ = portaudio.Terminate()
		}
	}

	devices, err := portaudio.Devices()
	if err != nil {
		release()
		return nil, classifyOpenError(err, "enumerate devices")
	}
	dev, err := selectDevice(devices, c.cfg.Device, c.cfg.ExcludedDevices)
	if err != nil {
		release()
		return nil, err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.cfg.SampleRate),
		FramesPerBuffer: c.cfg.FrameSize,
	}

	buf := make([]float32, c.cfg.FrameSize)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		release()
		return nil, classifyOpenError(err, "open "+dev.Name)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return nil, classifyOpenError(err, "start "+dev.Name)
	}

	s := &Stream{
		device: dev.Name,
		stream: stream,
		buf:    buf,
		frames: make(chan Frame, c.cfg.Buffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	// Stop may have been requested while the device was opening.
	if err := ctx.Err(); err != nil {
		close(s.exited)
		s.release()
		return nil, apperrors.Wrap(err, apperrors.Cancelled, "device acquisition cancelled")
	}

	go s.readLoop()
	slog.Info("started audio capture", "device", dev.Name, "sample_rate", c.cfg.SampleRate, "frame_size", c.cfg.FrameSize)
	return s, nil
}

// Device returns the name of the opened device.
func (s *Stream) Device() string { return s.device }

// Frames returns the frame channel; it is closed when the stream ends.
func (s *Stream) Frames() <-chan Frame { return s.frames }

// Err returns the read error that ended the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream and releases the device exactly once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.stream.Abort()
		select {
		case <-s.exited:
		case <-time.After(streamCloseWait):
			slog.Warn("audio reader did not exit", "device", s.device)
		}
		s.release()
		slog.Info("released audio device", "device", s.device)
	})
	return nil
}

func (s *Stream) release() {
	_ = s.stream.Close()
	_ = portaudio.Terminate()
}

func (s *Stream) readLoop() {
	defer close(s.exited)
	defer close(s.frames)

	for seq := uint64(0); ; {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				slog.Debug("audio input overflowed", "device", s.device)
				continue
			}
			select {
			case <-s.done:
			default:
				s.mu.Lock()
				s.err = apperrors.Wrap(err, apperrors.DeviceUnavailable, "audio device lost")
				s.mu.Unlock()
				slog.Warn("audio read error", "device", s.device, "error", err)
			}
			return
		}

		frame := Frame{
			Samples:   append([]float32(nil), s.buf...),
			Seq:       seq,
			Timestamp: time.Now(),
		}
		seq++

		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

// selectDevice picks an input device, skipping loopback and excluded devices.
func selectDevice(devices []*portaudio.DeviceInfo, preferred string, excluded []string) (*portaudio.DeviceInfo, error) {
	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev == nil || dev.MaxInputChannels < 1 || isExcluded(dev.Name, excluded) {
			continue
		}
		if classifyDevice(dev.Name) == sourceLoopback {
			continue
		}
		if preferred != "" {
			if containsFold(dev.Name, preferred) {
				return dev, nil
			}
			continue
		}
		if best == nil || preferDevice(dev.Name, best.Name) {
			best = dev
		}
	}
	if best == nil {
		if preferred != "" {
			return nil, apperrors.Newf(apperrors.DeviceUnavailable, "no input device matching %q", preferred)
		}
		return nil, apperrors.New(apperrors.DeviceUnavailable, "no microphone available")
	}
	return best, nil
}

const (
	sourceLoopback   = "loopback"
	sourceMicrophone = "microphone"
)

func classifyDevice(name string) string {
	for _, kw := range []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"} {
		if containsFold(name, kw) {
			return sourceLoopback
		}
	}
	for _, kw := range []string{"microphone", "input", "mic", "built-in", "headset"} {
		if containsFold(name, kw) {
			return sourceMicrophone
		}
	}
	return ""
}

func isExcluded(name string, excluded []string) bool {
	for _, ex := range excluded {
		if ex != "" && containsFold(name, ex) {
			return true
		}
	}
	return false
}

// preferDevice ranks named microphones over unknown inputs, built-in over external.
func preferDevice(name, current string) bool {
	nameMic := classifyDevice(name) == sourceMicrophone
	currMic := classifyDevice(current) == sourceMicrophone
	if nameMic != currMic {
		return nameMic
	}
	for _, p := range []string{"macbook", "built-in"} {
		if containsFold(name, p) && !containsFold(current, p) {
			return true
		}
	}
	return false
}

func classifyOpenError(err error, op string) *apperrors.AppError {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not permitted") || strings.Contains(msg, "denied") {
		return apperrors.Wrap(err, apperrors.DevicePermissionDenied, op+": permission denied")
	}
	return apperrors.Wrap(err, apperrors.DeviceUnavailable, op)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
