package orchestrator

import (
	"bytes"
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	audiocap "github.com/GriffinCanCode/voicegate/internal/audio"
	apperrors "github.com/GriffinCanCode/voicegate/internal/errors"
	"github.com/GriffinCanCode/voicegate/internal/observe"
	"github.com/GriffinCanCode/voicegate/internal/orchestrator/audio"
	"github.com/GriffinCanCode/voicegate/internal/orchestrator/display"
	"github.com/GriffinCanCode/voicegate/internal/transport"
	"github.com/GriffinCanCode/voicegate/internal/vad"
)

const frameSize = 256

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeDevice is a microphone fed by the test.
type fakeDevice struct {
	frames chan audiocap.Frame
	closes atomic.Int32
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{frames: make(chan audiocap.Frame)}
}

func (d *fakeDevice) Frames() <-chan audiocap.Frame { return d.frames }

func (d *fakeDevice) Close() error {
	d.closes.Add(1)
	return nil
}

// feed delivers a frame at ms, reporting false if nobody is reading.
func (d *fakeDevice) feed(ms int, samples []float32) bool {
	f := audiocap.Frame{Samples: samples, Timestamp: t0.Add(time.Duration(ms) * time.Millisecond)}
	select {
	case d.frames <- f:
		return true
	case <-time.After(time.Second):
		return false
	}
}

// fakeTransport records what the session sends.
type fakeTransport struct {
	mu          sync.Mutex
	sent        [][]byte
	closeCalls  int
	closeCode   websocket.StatusCode
	closeReason string
	info        transport.CloseInfo

	events   chan transport.Event
	done     chan struct{}
	shutdown sync.Once

	// onSend runs before a send is recorded, without the lock held.
	onSend func()
	// inflight is the context of the latest send; inflightErr is its
	// error at the moment Close was first called.
	inflight    context.Context
	inflightErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan transport.Event, 4),
		done:   make(chan struct{}),
	}
}

func (f *fakeTransport) Send(ctx context.Context, pcm []byte) (int, error) {
	f.mu.Lock()
	f.inflight = ctx
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), pcm...))
	return len(pcm), nil
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }
func (f *fakeTransport) Done() <-chan struct{}          { return f.done }

func (f *fakeTransport) CloseInfo() transport.CloseInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info
}

func (f *fakeTransport) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	f.closeCalls++
	if f.closeCalls == 1 {
		f.closeCode, f.closeReason = code, reason
		if f.inflight != nil {
			f.inflightErr = f.inflight.Err()
		}
		if !f.info.Remote {
			f.info = transport.CloseInfo{Code: code, Reason: reason}
		}
	}
	f.mu.Unlock()
	f.end()
	return nil
}

func (f *fakeTransport) remoteClose(code websocket.StatusCode, reason string) {
	f.mu.Lock()
	f.info = transport.CloseInfo{Code: code, Reason: reason, Remote: true}
	f.mu.Unlock()
	f.end()
}

func (f *fakeTransport) end() {
	f.shutdown.Do(func() {
		close(f.events)
		close(f.done)
	})
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) closed() (int, websocket.StatusCode, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls, f.closeCode, f.closeReason
}

type fixture struct {
	m      *Manager
	dev    *fakeDevice
	conn   *fakeTransport
	dials  atomic.Int32
	opens  atomic.Int32
	opener DeviceOpener
	dialer Dialer
}

func testOptions() Options {
	return Options{Processor: audio.Config{
		Source:    audio.SourceSamples,
		FFTSize:   frameSize,
		DecayRate: 0.01,
		VAD:       vad.DefaultConfig(),
	}}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dev: newFakeDevice(), conn: newFakeTransport()}
	f.opener = OpenerFunc(func(ctx context.Context) (Device, error) {
		f.opens.Add(1)
		return f.dev, nil
	})
	f.dialer = DialerFunc(func(ctx context.Context) (Transport, error) {
		f.dials.Add(1)
		return f.conn, nil
	})
	f.m = New(OpenerFunc(func(ctx context.Context) (Device, error) { return f.opener.Open(ctx) }),
		DialerFunc(func(ctx context.Context) (Transport, error) { return f.dialer.Dial(ctx) }),
		testOptions())
	t.Cleanup(func() { f.m.Stop(StopManual) })
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func tone(amp float64) []float32 {
	out := make([]float32, frameSize)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func silence() []float32 { return make([]float32, frameSize) }

// speechFrames returns n loud frames that all encode differently.
func speechFrames(n int) [][]float32 {
	frames := make([][]float32, n)
	for i := range frames {
		frames[i] = tone(0.3 + 0.004*float64(i))
	}
	return frames
}

// frameSpacing spaces speechFrames so 50 of them span more than 3s.
const frameSpacing = 64

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		s    SessionState
		want string
	}{
		{Idle, "idle"},
		{Connecting, "connecting"},
		{Listening, "listening"},
		{Terminated, "terminated"},
		{SessionState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("SessionState(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestStopReasonMessage(t *testing.T) {
	tests := []struct {
		reason StopReason
		cause  error
		want   string
	}{
		{StopManual, nil, MsgStopped},
		{StopProlongedSilence, nil, MsgSilence},
		{StopRemoteClose, nil, MsgRemoteClosed},
		{StopConnectError, apperrors.New(apperrors.ConnectTimeout, "x"), MsgConnectError},
		{StopDeviceError, apperrors.New(apperrors.DevicePermissionDenied, "Permission denied"), "Mic Error: Permission denied."},
		{StopDeviceError, nil, "Mic Error: microphone unavailable."},
		{StopShutdown, nil, MsgShutdown},
	}
	for _, tt := range tests {
		if got := tt.reason.Message(tt.cause); got != tt.want {
			t.Errorf("%v.Message() = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestNewManagerIdle(t *testing.T) {
	f := newFixture(t)
	st := f.m.Status()
	if st.State != Idle || st.Message != MsgIdle || st.Capture != vad.Silent {
		t.Errorf("initial status = %+v", st)
	}
}

func TestStartListening(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	st := f.m.Status()
	if st.State != Listening {
		t.Errorf("State = %v, want listening", st.State)
	}
	if st.Message != MsgListening {
		t.Errorf("Message = %q, want %q", st.Message, MsgListening)
	}
	if st.SessionID == "" {
		t.Error("SessionID is empty")
	}
	if f.opens.Load() != 1 || f.dials.Load() != 1 {
		t.Errorf("opens=%d dials=%d, want 1 each", f.opens.Load(), f.dials.Load())
	}
}

func TestStartWhileActive(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	err := f.m.Start(context.Background())
	if !apperrors.IsCode(err, apperrors.SessionBusy) {
		t.Errorf("second Start() error = %v, want SESSION_BUSY", err)
	}
	if f.opens.Load() != 1 {
		t.Errorf("opens = %d, want 1", f.opens.Load())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.m.Stop(StopManual)
	f.m.Stop(StopManual)

	if got := f.dev.closes.Load(); got != 1 {
		t.Errorf("device closes = %d, want 1", got)
	}
	calls, code, reason := f.conn.closed()
	if calls != 1 {
		t.Errorf("transport closes = %d, want 1", calls)
	}
	if code != websocket.StatusNormalClosure || reason != transport.StopReason {
		t.Errorf("close = %d %q, want 1000 %q", code, reason, transport.StopReason)
	}

	st := f.m.Status()
	if st.State != Idle || st.StopReason != StopManual || st.Message != MsgStopped {
		t.Errorf("status after stop = %+v", st)
	}
}

func TestStopWhenIdle(t *testing.T) {
	f := newFixture(t)
	f.m.Stop(StopManual)
	if st := f.m.Status(); st.State != Idle || st.StopReason != StopNone {
		t.Errorf("status = %+v, want untouched idle", st)
	}
}

func TestRestartAfterStop(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	first := f.m.Status().SessionID
	f.m.Stop(StopManual)

	f.dev = newFakeDevice()
	f.conn = newFakeTransport()
	f.start(t)

	if id := f.m.Status().SessionID; id == first {
		t.Errorf("restarted session reused id %s", id)
	}
	if f.m.State() != Listening {
		t.Errorf("State() = %v, want listening", f.m.State())
	}
}

func TestStopDuringDeviceOpen(t *testing.T) {
	f := newFixture(t)
	opening := make(chan struct{})
	f.opener = OpenerFunc(func(ctx context.Context) (Device, error) {
		close(opening)
		<-ctx.Done()
		return nil, apperrors.Wrap(ctx.Err(), apperrors.Cancelled, "device open cancelled")
	})

	errCh := make(chan error, 1)
	go func() { errCh <- f.m.Start(context.Background()) }()
	<-opening
	f.m.Stop(StopManual)

	if err := <-errCh; err == nil {
		t.Fatal("Start() error = nil after stop during open")
	}
	st := f.m.Status()
	if st.State != Idle || st.StopReason != StopManual {
		t.Errorf("status = %+v, want idle after manual stop", st)
	}
	if f.dials.Load() != 0 {
		t.Errorf("dials = %d, want 0", f.dials.Load())
	}
}

func TestStopDuringDial(t *testing.T) {
	f := newFixture(t)
	dialing := make(chan struct{})
	f.dialer = DialerFunc(func(ctx context.Context) (Transport, error) {
		close(dialing)
		<-ctx.Done()
		return nil, apperrors.Wrap(ctx.Err(), apperrors.Cancelled, "dial cancelled")
	})

	errCh := make(chan error, 1)
	go func() { errCh <- f.m.Start(context.Background()) }()
	<-dialing
	f.m.Stop(StopManual)

	if err := <-errCh; err == nil {
		t.Fatal("Start() error = nil after stop during dial")
	}
	if got := f.dev.closes.Load(); got != 1 {
		t.Errorf("device closes = %d, want 1", got)
	}
	if st := f.m.Status(); st.State != Idle || st.StopReason != StopManual {
		t.Errorf("status = %+v", st)
	}
}

func TestDialSucceedsAfterStop(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.dialer = DialerFunc(func(ctx context.Context) (Transport, error) {
		<-release
		return f.conn, nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- f.m.Start(context.Background()) }()
	waitFor(t, "connecting", func() bool { return f.m.Status().Message == MsgConnecting })
	f.m.Stop(StopManual)
	close(release)

	if err := <-errCh; !apperrors.IsCode(err, apperrors.Cancelled) {
		t.Errorf("Start() error = %v, want CANCELLED", err)
	}
	calls, code, _ := f.conn.closed()
	if calls != 1 || code != websocket.StatusNormalClosure {
		t.Errorf("late connection closes=%d code=%d, want one normal close", calls, code)
	}
	if f.m.State() != Idle {
		t.Errorf("State() = %v, want idle", f.m.State())
	}
}

func TestDeviceOpenError(t *testing.T) {
	f := newFixture(t)
	f.opener = OpenerFunc(func(ctx context.Context) (Device, error) {
		return nil, apperrors.New(apperrors.DevicePermissionDenied, "Permission denied")
	})

	err := f.m.Start(context.Background())
	if !apperrors.IsCode(err, apperrors.DevicePermissionDenied) {
		t.Fatalf("Start() error = %v, want DEVICE_PERMISSION_DENIED", err)
	}
	st := f.m.Status()
	if st.State != Idle || st.StopReason != StopDeviceError {
		t.Errorf("status = %+v", st)
	}
	if st.Message != "Mic Error: Permission denied." {
		t.Errorf("Message = %q", st.Message)
	}
	if f.dials.Load() != 0 {
		t.Errorf("dials = %d, want 0", f.dials.Load())
	}
}

func TestConnectError(t *testing.T) {
	f := newFixture(t)
	f.dialer = DialerFunc(func(ctx context.Context) (Transport, error) {
		return nil, apperrors.New(apperrors.ConnectFailed, "connection refused")
	})

	err := f.m.Start(context.Background())
	if !apperrors.IsCode(err, apperrors.ConnectFailed) {
		t.Fatalf("Start() error = %v, want CONNECT_FAILED", err)
	}
	if got := f.dev.closes.Load(); got != 1 {
		t.Errorf("device closes = %d, want 1", got)
	}
	st := f.m.Status()
	if st.State != Idle || st.StopReason != StopConnectError || st.Message != MsgConnectError {
		t.Errorf("status = %+v", st)
	}
	if st.Error == "" {
		t.Error("status Error is empty")
	}
}

func TestTransmitOnlyWhileRecording(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	loud := tone(0.5)
	if !f.dev.feed(0, silence()) {
		t.Fatal("feed blocked")
	}
	// Voice from 16ms; recording starts once it has lasted 50ms.
	for _, ms := range []int{16, 32, 48, 64, 80} {
		if !f.dev.feed(ms, loud) {
			t.Fatalf("feed at %dms blocked", ms)
		}
	}
	waitFor(t, "first transmission", func() bool { return f.conn.sentCount() > 0 })

	if got := f.conn.sentCount(); got != 1 {
		t.Errorf("sent frames = %d, want 1", got)
	}
	f.conn.mu.Lock()
	size := len(f.conn.sent[0])
	f.conn.mu.Unlock()
	if size != frameSize*2 {
		t.Errorf("sent %d bytes, want %d", size, frameSize*2)
	}
	waitFor(t, "recording status", func() bool { return f.m.Status().Capture == vad.Recording })
}

func TestTransmitsRecordingFramesInOrder(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	// Frame 0 is the onset; recording starts at frame 1, 64ms later.
	frames := speechFrames(50)
	for i, samples := range frames {
		if !f.dev.feed(i*frameSpacing, samples) {
			t.Fatalf("feed of frame %d blocked", i)
		}
	}
	waitFor(t, "recorded frames", func() bool { return f.conn.sentCount() == len(frames)-1 })

	f.conn.mu.Lock()
	sent := append([][]byte(nil), f.conn.sent...)
	f.conn.mu.Unlock()
	for i, got := range sent {
		if want := audiocap.EncodePCM16(frames[i+1]); !bytes.Equal(got, want) {
			t.Fatalf("sent[%d] is not the PCM of frame %d", i, i+1)
		}
	}
}

func TestStopLetsInFlightSendFinish(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	f.conn.onSend = func() {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}
	f.start(t)

	loud := tone(0.5)
	f.dev.feed(0, loud)
	f.dev.feed(64, loud)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("no send started")
	}

	f.m.Stop(StopManual)

	calls, code, _ := f.conn.closed()
	if calls != 1 || code != websocket.StatusNormalClosure {
		t.Fatalf("close calls=%d code=%d, want 1 and 1000", calls, code)
	}
	f.conn.mu.Lock()
	err := f.conn.inflightErr
	f.conn.mu.Unlock()
	if err != nil {
		t.Errorf("in-flight send context was %v when the connection closed", err)
	}
}

// gapCounter stands in for the active sessions gauge. Its first increment
// starts a concurrent stop and lingers before taking effect.
type gapCounter struct {
	metric.Int64UpDownCounter

	mu      sync.Mutex
	sum     int64
	low     int64
	onFirst func()
	fired   bool
}

func (g *gapCounter) Add(_ context.Context, incr int64, _ ...metric.AddOption) {
	g.mu.Lock()
	first := incr > 0 && !g.fired
	g.fired = g.fired || first
	g.mu.Unlock()
	if first {
		go g.onFirst()
		time.Sleep(20 * time.Millisecond)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sum += incr
	g.low = min(g.low, g.sum)
}

func (g *gapCounter) values() (sum, low int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sum, g.low
}

func TestActiveSessionsNeverNegative(t *testing.T) {
	f := newFixture(t)
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	gauge := &gapCounter{Int64UpDownCounter: metrics.ActiveSessions}
	metrics.ActiveSessions = gauge

	opts := testOptions()
	opts.Metrics = metrics
	f.m = New(f.opener, f.dialer, opts)
	t.Cleanup(func() { f.m.Stop(StopManual) })
	gauge.onFirst = func() { f.m.Stop(StopManual) }

	if err := f.m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "idle", func() bool { return f.m.State() == Idle })
	waitFor(t, "gauge settled", func() bool { sum, _ := gauge.values(); return sum == 0 })

	if _, low := gauge.values(); low < 0 {
		t.Errorf("active sessions dipped to %d", low)
	}
}

func TestProlongedSilenceEndsSession(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	loud := tone(0.5)
	for _, ms := range []int{0, 60, 120} {
		f.dev.feed(ms, loud)
	}
	// The history window holds the loud frames until ten silent ones arrive.
	for i := 0; i < 10; i++ {
		f.dev.feed(200+10*i, silence())
	}
	f.dev.feed(2300, silence()) // silent since 290ms, paused
	waitFor(t, "silence pending", func() bool { return f.m.Status().Capture == vad.SilencePending })
	if f.m.State() != Listening {
		t.Fatalf("State() = %v before disconnect, want listening", f.m.State())
	}

	sent := f.conn.sentCount()
	f.dev.feed(5300, silence())

	waitFor(t, "idle", func() bool { return f.m.State() == Idle })
	st := f.m.Status()
	if st.StopReason != StopProlongedSilence || st.Message != MsgSilence {
		t.Errorf("status = %+v", st)
	}
	if got := f.dev.closes.Load(); got != 1 {
		t.Errorf("device closes = %d, want 1", got)
	}
	calls, code, reason := f.conn.closed()
	if calls != 1 || code != websocket.StatusNormalClosure || reason != transport.StopReason {
		t.Errorf("close = %d calls, %d %q", calls, code, reason)
	}
	if f.conn.sentCount() != sent {
		t.Errorf("frames sent after pause: %d -> %d", sent, f.conn.sentCount())
	}
}

func TestRemoteCloseEndsSession(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.conn.remoteClose(websocket.StatusInternalError, "overloaded")

	waitFor(t, "idle", func() bool { return f.m.State() == Idle })
	st := f.m.Status()
	if st.StopReason != StopRemoteClose || st.Message != MsgRemoteClosed {
		t.Errorf("status = %+v", st)
	}
	if got := f.dev.closes.Load(); got != 1 {
		t.Errorf("device closes = %d, want 1", got)
	}
}

func TestDeviceStreamEnd(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	close(f.dev.frames)

	waitFor(t, "idle", func() bool { return f.m.State() == Idle })
	st := f.m.Status()
	if st.StopReason != StopDeviceError || st.Message != "Mic Error: audio stream ended." {
		t.Errorf("status = %+v", st)
	}
	if calls, _, _ := f.conn.closed(); calls != 1 {
		t.Errorf("transport closes = %d, want 1", calls)
	}
}

func TestTranscriptUpdatesStatus(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	id := f.m.Status().SessionID

	f.conn.events <- transport.Event{Text: "hello", ReceivedAt: time.Now()}

	select {
	case ev := <-f.m.TranscriptEvents():
		if ev.Text != "hello" || ev.SessionID != id || ev.Source != TranscriptSource {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no transcript event")
	}
	waitFor(t, "transcript status", func() bool { return f.m.Status().Transcript == "hello" })
	if got := f.m.GetRecentTranscript(time.Minute); got != "hello" {
		t.Errorf("GetRecentTranscript() = %q, want hello", got)
	}
}

func TestTerminate(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.m.Terminate()

	if f.m.State() != Terminated {
		t.Errorf("State() = %v, want terminated", f.m.State())
	}
	if st := f.m.Status(); st.StopReason != StopShutdown {
		t.Errorf("StopReason = %v, want shutdown", st.StopReason)
	}
	err := f.m.Start(context.Background())
	if !apperrors.IsCode(err, apperrors.SessionTerminated) {
		t.Errorf("Start() after Terminate error = %v, want SESSION_TERMINATED", err)
	}
	f.m.Terminate()
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.m.Subscribe()
	defer cancel()

	if st := <-ch; st.State != Idle {
		t.Errorf("initial = %v, want idle", st.State)
	}

	f.start(t)
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-ch:
			if st.State == Listening {
				return
			}
		case <-deadline:
			t.Fatal("never saw listening")
		}
	}
}

type chanSink chan display.Frame

func (s chanSink) PushDisplay(f display.Frame) bool {
	select {
	case s <- f:
		return true
	default:
		return false
	}
}

func TestDisplayFrames(t *testing.T) {
	f := newFixture(t)
	sink := make(chanSink, 8)
	opts := testOptions()
	opts.DisplaySink = sink
	opts.DisplayRate = 100
	f.m = New(f.opener, f.dialer, opts)
	t.Cleanup(func() { f.m.Stop(StopManual) })
	f.start(t)

	if _, _, ok := f.m.DisplayFrame(0); ok {
		t.Error("DisplayFrame(0) ok before any audio")
	}
	f.dev.feed(0, tone(0.5))

	select {
	case fr := <-sink:
		if len(fr.Bins) != frameSize/2 {
			t.Errorf("bins = %d, want %d", len(fr.Bins), frameSize/2)
		}
		if fr.SessionID != f.m.Status().SessionID {
			t.Errorf("SessionID = %q", fr.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no display frame")
	}
}
