// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/GriffinCanCode/voicegate/internal/errors"
	"github.com/GriffinCanCode/voicegate/internal/orchestrator"
	"github.com/GriffinCanCode/voicegate/internal/orchestrator/display"
	"github.com/GriffinCanCode/voicegate/internal/trace"
)

// Controller is the session surface the server drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(reason orchestrator.StopReason)
	Status() orchestrator.Status
	Subscribe() (<-chan orchestrator.Status, func())
	TranscriptEvents() <-chan orchestrator.TranscriptEvent
	GetRecentTranscript(d time.Duration) string
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

type StatusMessage struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id,omitempty"`
	State      string    `json:"state"`
	Capture    string    `json:"capture"`
	Message    string    `json:"message"`
	Transcript string    `json:"transcript,omitempty"`
	StopReason string    `json:"stop_reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type TranscriptMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Source    string `json:"source"`
}

type RecentTranscriptMessage struct {
	Type   string `json:"type"`
	Window string `json:"window"`
	Text   string `json:"text"`
}

type DisplayMessage struct {
	Type    string  `json:"type"`
	Bins    []int   `json:"bins"`
	Capture string  `json:"capture"`
	Level   float64 `json:"level"`
	Voice   bool    `json:"voice"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func newStatusMessage(st orchestrator.Status) StatusMessage {
	msg := StatusMessage{
		Type:       "status",
		SessionID:  st.SessionID,
		State:      st.State.String(),
		Capture:    st.Capture.String(),
		Message:    st.Message,
		Transcript: st.Transcript,
		Error:      st.Error,
		UpdatedAt:  st.UpdatedAt,
	}
	if st.StopReason != orchestrator.StopNone {
		msg.StopReason = st.StopReason.String()
	}
	return msg
}

func newDisplayMessage(f display.Frame) DisplayMessage {
	bins := make([]int, len(f.Bins))
	for i, b := range f.Bins {
		bins[i] = int(b)
	}
	return DisplayMessage{Type: "display", Bins: bins, Capture: f.Capture.String(), Level: f.Level, Voice: f.Voice}
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
	now        func() time.Time
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if r.now != nil {
		now = r.now()
	}
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctrl       Controller
	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
	display    chan display.Frame
	metrics    http.Handler
}

// New creates a new server. Call Start to begin broadcasting.
func New(ctrl Controller) *Server {
	return &Server{
		ctrl:       ctrl,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
		display:    make(chan display.Frame, DisplayBuffer),
		metrics:    promhttp.Handler(),
	}
}

// Start runs the broadcasters until ctx is done.
func (s *Server) Start(ctx context.Context) {
	go s.broadcastStatus(ctx)
	go s.broadcastTranscripts(ctx)
	go s.broadcastDisplay(ctx)
}

// PushDisplay implements display.Sink. It drops the frame when the
// broadcaster is behind.
func (s *Server) PushDisplay(f display.Frame) bool {
	select {
	case s.display <- f:
		return true
	default:
		return false
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("POST /api/session/start", s.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", s.handleSessionStop)
	mux.HandleFunc("GET /api/session/status", s.handleSessionStatus)
	mux.HandleFunc("GET /api/transcript", s.handleRecentTranscript)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	// Get trace context from HTTP upgrade request
	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	// Greet with the current status so the client does not wait for a change.
	s.write(baseCtx, conn, newStatusMessage(s.ctrl.Status()))

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			s.write(baseCtx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "start":
			ctx, _ := trace.EnsureContext(context.WithoutCancel(baseCtx))
			go s.startFromSocket(ctx, conn)
		case "stop":
			s.ctrl.Stop(orchestrator.StopManual)
		}
	}
}

func (s *Server) startFromSocket(ctx context.Context, conn *websocket.Conn) {
	ctx, span := trace.StartSpan(ctx, "ws_session_start")
	defer span.End()

	if err := s.ctrl.Start(ctx); err != nil {
		span.SetAttr("error", err.Error())
		trace.Logger(ctx).Warn("session start failed", "error", err)
		s.write(ctx, conn, ErrorMessage{Type: "error", Code: string(apperrors.CodeOf(err)), Message: err.Error()})
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, msg any) {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	_ = wsjson.Write(ctx, conn, msg)
}

func (s *Server) broadcast(msg any) {
	s.mu.RLock()
	for conn := range s.conns {
		go s.write(context.Background(), conn, msg)
	}
	s.mu.RUnlock()
}

func (s *Server) broadcastStatus(ctx context.Context) {
	updates, cancel := s.ctrl.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-updates:
			s.broadcast(newStatusMessage(st))
		}
	}
}

func (s *Server) broadcastTranscripts(ctx context.Context) {
	events := s.ctrl.TranscriptEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.broadcast(TranscriptMessage{
				Type:      "transcript",
				SessionID: evt.SessionID,
				Text:      evt.Text,
				Source:    evt.Source,
			})
		}
	}
}

func (s *Server) broadcastDisplay(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.display:
			s.broadcast(newDisplayMessage(f))
		}
	}
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(r.Context()); err != nil {
		trace.Logger(r.Context()).Warn("session start failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatusMessage(s.ctrl.Status()))
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Stop(orchestrator.StopManual)
	writeJSON(w, http.StatusOK, newStatusMessage(s.ctrl.Status()))
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStatusMessage(s.ctrl.Status()))
}

func (s *Server) handleRecentTranscript(w http.ResponseWriter, r *http.Request) {
	window := DefaultTranscriptWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorMessage{Type: "error", Code: "INVALID_WINDOW", Message: "window must be a positive duration"})
			return
		}
		window = d
	}
	writeJSON(w, http.StatusOK, RecentTranscriptMessage{
		Type:   "recent_transcript",
		Window: window.String(),
		Text:   s.ctrl.GetRecentTranscript(window),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	writeJSON(w, httpStatus(code), ErrorMessage{Type: "error", Code: string(code), Message: err.Error()})
}

// httpStatus maps error codes to HTTP status codes.
func httpStatus(code apperrors.Code) int {
	switch code {
	case apperrors.SessionBusy, apperrors.Cancelled:
		return http.StatusConflict
	case apperrors.SessionTerminated, apperrors.ConnectRejected, apperrors.DeviceUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.DevicePermissionDenied:
		return http.StatusForbidden
	case apperrors.ConnectTimeout:
		return http.StatusGatewayTimeout
	case apperrors.ConnectFailed, apperrors.RemoteClosedBeforeOpen:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
