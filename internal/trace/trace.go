// Package trace correlates logs across a voice session: the control request
// that started it, the session loop and the speech service connection.
//
// IDs use W3C Trace Context sizes and travel as a traceparent header, so the
// speech service can join its own logs to ours.
package trace

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Propagation keys for gRPC metadata and HTTP headers.
const (
	TraceparentKey = "traceparent"
	SessionIDKey   = "x-session-id"
)

const traceparentVersion = "00"

type ctxKey struct{}

// Context identifies the current span and, once a session exists, the
// session it belongs to.
type Context struct {
	TraceID      string // 32 hex chars
	SpanID       string // 16 hex chars
	ParentSpanID string
	SessionID    string
}

// New creates a root context with fresh IDs.
func New() Context {
	return Context{TraceID: newTraceID(), SpanID: newSpanID()}
}

// Child continues c's trace under a new span.
func (c Context) Child() Context {
	if c.TraceID == "" {
		return New()
	}
	return Context{TraceID: c.TraceID, SpanID: newSpanID(), ParentSpanID: c.SpanID, SessionID: c.SessionID}
}

// FromContext extracts trace context from context.Context.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext injects trace context into context.Context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// EnsureContext returns existing trace context or creates a new one.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// WithSession binds ctx to a session. A trace is started if ctx has none.
func WithSession(ctx context.Context, sessionID string) context.Context {
	ctx, tc := EnsureContext(ctx)
	tc.SessionID = sessionID
	return WithContext(ctx, tc)
}

// SessionID returns the session ctx belongs to, if any.
func SessionID(ctx context.Context) string {
	tc, _ := FromContext(ctx)
	return tc.SessionID
}

func newTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func newSpanID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

// Traceparent renders c as a W3C traceparent value.
func (c Context) Traceparent() string {
	return fmt.Sprintf("%s-%s-%s-01", traceparentVersion, c.TraceID, c.SpanID)
}

// ParseTraceparent reads a traceparent value. The caller's span becomes the
// parent of a new span.
func ParseTraceparent(v string) (Context, bool) {
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) != 4 || parts[0] != traceparentVersion {
		return Context{}, false
	}
	traceID, spanID := parts[1], parts[2]
	if !isHex(traceID, 32) || !isHex(spanID, 16) || strings.Trim(traceID, "0") == "" {
		return Context{}, false
	}
	return Context{TraceID: traceID, SpanID: newSpanID(), ParentSpanID: spanID}, true
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Fields exports c for metadata or headers.
func (c Context) Fields() map[string]string {
	m := map[string]string{TraceparentKey: c.Traceparent()}
	if c.SessionID != "" {
		m[SessionIDKey] = c.SessionID
	}
	return m
}

// FromFields continues the trace carried by fields, or starts a new one.
func FromFields(get func(key string) string) Context {
	tc, ok := ParseTraceparent(get(TraceparentKey))
	if !ok {
		tc = New()
	}
	tc.SessionID = get(SessionIDKey)
	return tc
}

func (c Context) logArgs() []any {
	args := make([]any, 0, 8)
	if c.TraceID != "" {
		args = append(args, "trace_id", c.TraceID, "span_id", c.SpanID)
	}
	if c.ParentSpanID != "" {
		args = append(args, "parent_span_id", c.ParentSpanID)
	}
	if c.SessionID != "" {
		args = append(args, "session_id", c.SessionID)
	}
	return args
}

// Span times one operation. It is owned by one goroutine.
type Span struct {
	Name  string
	Ctx   Context
	Started time.Time
	Ended  time.Time
	attrs []slog.Attr
}

// StartSpan begins a child span of the one in ctx.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := FromContext(ctx)
	tc := parent.Child()
	return WithContext(ctx, tc), &Span{Name: name, Ctx: tc, Started: time.Now()}
}

// End marks the span as complete. Later calls keep the first end time.
func (s *Span) End() {
	if s.Ended.IsZero() {
		s.Ended = time.Now()
	}
}

// SetAttr records an attribute, replacing an earlier value for key.
func (s *Span) SetAttr(key string, val any) {
	for i := range s.attrs {
		if s.attrs[i].Key == key {
			s.attrs[i].Value = slog.AnyValue(val)
			return
		}
	}
	s.attrs = append(s.attrs, slog.Any(key, val))
}

// Duration returns the span duration, or 0 while it is running.
func (s *Span) Duration() time.Duration {
	if s.Ended.IsZero() {
		return 0
	}
	return s.Ended.Sub(s.Started)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := append([]slog.Attr{
		slog.String("name", s.Name),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	}, s.attrs...)
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger annotated with ctx's trace and session.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	return slog.Default().With(tc.logArgs()...)
}
