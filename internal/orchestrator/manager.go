package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric/noop"

	audiocap "github.com/GriffinCanCode/voicegate/internal/audio"
	apperrors "github.com/GriffinCanCode/voicegate/internal/errors"
	"github.com/GriffinCanCode/voicegate/internal/observe"
	"github.com/GriffinCanCode/voicegate/internal/orchestrator/audio"
	"github.com/GriffinCanCode/voicegate/internal/orchestrator/display"
	"github.com/GriffinCanCode/voicegate/internal/orchestrator/transcript"
	"github.com/GriffinCanCode/voicegate/internal/syncx"
	"github.com/GriffinCanCode/voicegate/internal/trace"
	"github.com/GriffinCanCode/voicegate/internal/transport"
	"github.com/GriffinCanCode/voicegate/internal/vad"
)

// TranscriptEvent re-exported for API compatibility
type TranscriptEvent = transcript.Event

// Options configures a Manager.
type Options struct {
	Processor audio.Config

	// DisplaySink receives spectrum frames at DisplayRate Hz while a session
	// is listening. Nil disables visualization.
	DisplaySink display.Sink
	DisplayRate float64

	Metrics     *observe.Metrics
	Transcripts *transcript.MemoryStore
}

// Manager runs at most one session at a time.
type Manager struct {
	opener DeviceOpener
	dialer Dialer
	opts   Options

	metrics     *observe.Metrics
	transcripts *transcript.MemoryStore

	pubMu   sync.Mutex
	status  *syncx.Latest[Status]
	hub     *statusHub
	display *syncx.Latest[display.Frame]

	mu          sync.Mutex
	state       SessionState
	terminating bool
	run         *session

	now func() time.Time
}

// session is the per-run state. Fields under mu are written during startup
// and read once by teardown.
type session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	span   *trace.Span
	proc   *audio.Processor

	// sendCtx outlives cancel so an in-flight write finishes before the
	// close handshake. Writes are bounded by the transport write timeout.
	sendCtx context.Context

	mu        sync.Mutex
	device    Device
	conn      Transport
	stopped   bool
	listening bool

	// stopping gates transmission as soon as teardown begins.
	stopping atomic.Bool
	done     chan struct{}
}

// New creates a manager in the Idle state.
func New(opener DeviceOpener, dialer Dialer, opts Options) *Manager {
	if opts.Metrics == nil {
		opts.Metrics, _ = observe.NewMetrics(noop.NewMeterProvider())
	}
	if opts.Transcripts == nil {
		opts.Transcripts = transcript.NewStore(TranscriptMaxEntries, TranscriptEventBuffer)
	}
	m := &Manager{
		opener:      opener,
		dialer:      dialer,
		opts:        opts,
		metrics:     opts.Metrics,
		transcripts: opts.Transcripts,
		hub:         newStatusHub(),
		display:     syncx.NewLatest(display.Frame{}),
		now:         time.Now,
	}
	m.status = syncx.NewLatest(Status{State: Idle, Capture: vad.Silent, Message: MsgIdle, UpdatedAt: m.now()})
	return m
}

// Start opens the microphone, connects to the speech service and begins
// streaming. It returns once the session is listening or has failed. The
// session outlives ctx; use Stop to end it.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.state == Terminated || m.terminating:
		m.mu.Unlock()
		return apperrors.New(apperrors.SessionTerminated, "manager has been terminated")
	case m.run != nil:
		m.mu.Unlock()
		return apperrors.New(apperrors.SessionBusy, "a session is already active")
	}

	proc, err := audio.NewProcessor(m.opts.Processor)
	if err != nil {
		m.mu.Unlock()
		return apperrors.Wrap(err, apperrors.ConfigInvalid, "invalid frame processor config")
	}

	id := uuid.NewString()
	sctx := trace.WithSession(context.WithoutCancel(ctx), id)
	sctx, span := trace.StartSpan(sctx, "session_start")
	sctx, cancel := context.WithCancel(sctx)
	s := &session{
		id:      id,
		ctx:     sctx,
		cancel:  cancel,
		span:    span,
		proc:    proc,
		sendCtx: context.WithoutCancel(sctx),
		done:    make(chan struct{}),
	}
	m.run = s
	m.state = Connecting
	m.mu.Unlock()

	log := trace.Logger(sctx)
	log.Info("session starting")
	m.publish(func(st *Status) {
		*st = Status{SessionID: id, State: Connecting, Capture: vad.Silent, Message: MsgInitializing}
	})

	dev, err := m.opener.Open(sctx)
	if err != nil {
		m.finish(s, StopDeviceError, err)
		return err
	}
	if !s.attachDevice(dev) {
		_ = dev.Close()
		return apperrors.New(apperrors.Cancelled, "session stopped during startup")
	}

	m.publish(func(st *Status) { st.Message = MsgConnecting })

	start := time.Now()
	conn, err := m.dialer.Dial(sctx)
	m.metrics.RecordConnect(sctx, time.Since(start), err)
	if err != nil {
		m.finish(s, StopConnectError, err)
		return err
	}
	if !s.attachConn(conn) {
		_ = conn.Close(websocket.StatusNormalClosure, transport.StopReason)
		return apperrors.New(apperrors.Cancelled, "session stopped during startup")
	}

	m.mu.Lock()
	if m.run != s {
		m.mu.Unlock()
		return apperrors.New(apperrors.Cancelled, "session stopped during startup")
	}
	m.state = Listening
	s.mu.Lock()
	s.listening = true
	s.mu.Unlock()
	m.metrics.ActiveSessions.Add(sctx, 1)
	m.mu.Unlock()

	m.publish(func(st *Status) {
		st.State = Listening
		st.Message = MsgListening
	})
	log.Info("session listening")

	go m.loop(s)
	if m.opts.DisplaySink != nil {
		go display.NewProcessor(m, m.opts.DisplaySink).Run(sctx, m.opts.DisplayRate, s.done)
	}
	return nil
}

// Stop ends the active session and returns the manager to Idle. Safe to call
// at any time, including during startup and repeatedly.
func (m *Manager) Stop(reason StopReason) {
	m.mu.Lock()
	s := m.run
	m.mu.Unlock()
	if s == nil {
		return
	}
	m.finish(s, reason, nil)
}

// Terminate ends any session and refuses further starts.
func (m *Manager) Terminate() {
	m.mu.Lock()
	m.terminating = true
	s := m.run
	if s == nil {
		already := m.state == Terminated
		m.state = Terminated
		m.mu.Unlock()
		if !already {
			m.publish(func(st *Status) {
				st.State = Terminated
				st.Capture = vad.Silent
				st.Message = MsgShutdown
				st.StopReason = StopShutdown
			})
		}
		return
	}
	m.mu.Unlock()
	m.finish(s, StopShutdown, nil)
}

// Wait blocks until the current session's loop exits or ctx is done.
func (m *Manager) Wait(ctx context.Context) {
	m.mu.Lock()
	s := m.run
	m.mu.Unlock()
	if s == nil {
		return
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}
}

// finish tears a session down exactly once: gate transmission, cancel pending
// work, release the microphone, then close the connection.
func (m *Manager) finish(s *session, reason StopReason, cause error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	dev, conn, listening := s.device, s.conn, s.listening
	s.mu.Unlock()

	s.stopping.Store(true)
	s.cancel()

	log := trace.Logger(s.ctx)
	if dev != nil {
		if err := dev.Close(); err != nil {
			log.Warn("device close failed", "error", err)
		}
	}
	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, transport.StopReason); err != nil {
			log.Debug("transport close", "error", err)
		}
	}

	m.mu.Lock()
	if m.run == s {
		m.run = nil
		if m.terminating {
			m.state = Terminated
		} else {
			m.state = Idle
		}
	}
	state := m.state
	m.mu.Unlock()

	ctx := context.WithoutCancel(s.ctx)
	if listening {
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	m.metrics.RecordStop(ctx, reason.String())

	s.span.SetAttr("reason", reason.String())
	if cause != nil {
		s.span.SetAttr("error", cause.Error())
	}
	s.span.End()
	if cause != nil {
		log.Warn("session ended", "reason", reason.String(), "error", cause, "span", s.span)
	} else {
		log.Info("session ended", "reason", reason.String(), "span", s.span)
	}

	m.publish(func(st *Status) {
		st.SessionID = s.id
		st.State = state
		st.Capture = vad.Silent
		st.Message = reason.Message(cause)
		st.StopReason = reason
		st.Error = ""
		if cause != nil {
			st.Error = cause.Error()
		}
	})
}

func (s *session) attachDevice(d Device) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.device = d
	return true
}

func (s *session) attachConn(c Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conn = c
	return true
}

func (m *Manager) loop(s *session) {
	defer close(s.done)

	frames := s.device.Frames()
	events := s.conn.Events()
	closed := s.conn.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case frame, ok := <-frames:
			if !ok {
				m.finish(s, StopDeviceError, deviceErr(s.device))
				return
			}
			if m.handleFrame(s, frame) {
				m.finish(s, StopProlongedSilence, nil)
				return
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.handleTranscript(s, ev)

		case <-closed:
			// events is closed before done; deliver what was read.
			if events != nil {
				for ev := range events {
					m.handleTranscript(s, ev)
				}
			}
			info := s.conn.CloseInfo()
			if info.Remote {
				m.finish(s, StopRemoteClose, info.Err)
			}
			return
		}
	}
}

// handleFrame gates one frame and reports whether the session should end.
func (m *Manager) handleFrame(s *session, frame audiocap.Frame) bool {
	res := s.proc.Process(frame)
	d := res.Decision

	if d.Changed() {
		m.metrics.RecordTransition(s.ctx, d.State.String())
		log := trace.Logger(s.ctx)
		if d.SilenceStart.IsZero() {
			log.Debug("capture state", "from", d.Previous.String(), "to", d.State.String())
		} else {
			log.Debug("capture state", "from", d.Previous.String(), "to", d.State.String(),
				"silent_for", frame.Timestamp.Sub(d.SilenceStart))
		}
		m.publish(func(st *Status) { st.Capture = d.State })
	}
	if d.Disconnect {
		return true
	}

	sent := 0
	if len(res.PCM) > 0 && !s.stopping.Load() {
		n, err := s.conn.Send(s.sendCtx, res.PCM)
		if err != nil {
			trace.Logger(s.ctx).Debug("send failed", "error", err)
		}
		sent = n
	}
	m.metrics.RecordFrame(s.ctx, sent)

	m.display.Set(display.Frame{
		SessionID: s.id,
		Bins:      res.Bins,
		Capture:   d.State,
		Level:     res.Activity.Level,
		Voice:     d.Voice,
		Timestamp: frame.Timestamp,
	})
	return false
}

func (m *Manager) handleTranscript(s *session, ev transport.Event) {
	entry := m.transcripts.Add(s.id, ev.Text, TranscriptSource)
	m.transcripts.Emit(TranscriptEvent{SessionID: s.id, Text: entry.Text, Source: entry.Source})
	m.metrics.Transcriptions.Add(s.ctx, 1)
	trace.Logger(s.ctx).Info("transcribed", "text", entry.Text)
	if latest, ok := m.transcripts.Latest(); ok {
		m.publish(func(st *Status) { st.Transcript = latest.Text })
	}
}

func deviceErr(d Device) error {
	if e, ok := d.(interface{ Err() error }); ok {
		if err := e.Err(); err != nil {
			return err
		}
	}
	return apperrors.New(apperrors.DeviceUnavailable, "audio stream ended")
}

// publish applies fn to the status and fans the result out to subscribers.
func (m *Manager) publish(fn func(*Status)) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	st := m.status.Update(func(st *Status) {
		fn(st)
		st.UpdatedAt = m.now()
	})
	m.hub.broadcast(st)
}

// Status returns the current status.
func (m *Manager) Status() Status { return m.status.Value() }

// State returns the session lifecycle state.
func (m *Manager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe returns a channel of status updates and a cancel func. Slow
// subscribers only see the latest status.
func (m *Manager) Subscribe() (<-chan Status, func()) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	return m.hub.subscribe(m.Status())
}

// TranscriptEvents returns channel for transcript events
func (m *Manager) TranscriptEvents() <-chan TranscriptEvent {
	return m.transcripts.Events()
}

// GetRecentTranscript returns transcript text from the last d.
func (m *Manager) GetRecentTranscript(d time.Duration) string {
	return m.transcripts.GetRecent(d)
}

// DisplayFrame implements display.Source.
func (m *Manager) DisplayFrame(seen uint64) (display.Frame, uint64, bool) {
	return m.display.Since(seen)
}

// Run starts a session when autoStart is set, then terminates the manager
// when ctx is done.
func (m *Manager) Run(ctx context.Context, autoStart bool) error {
	if autoStart {
		if err := m.Start(ctx); err != nil {
			trace.Logger(ctx).Warn("auto start failed", "error", err)
		}
	}
	<-ctx.Done()
	m.Terminate()
	return nil
}
