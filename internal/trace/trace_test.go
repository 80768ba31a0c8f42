package trace

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/grpc/metadata"
)

func TestNewContext(t *testing.T) {
	tc := New()
	if len(tc.TraceID) != 32 {
		t.Errorf("trace ID length = %d, want 32", len(tc.TraceID))
	}
	if len(tc.SpanID) != 16 {
		t.Errorf("span ID length = %d, want 16", len(tc.SpanID))
	}
	if tc.ParentSpanID != "" || tc.SessionID != "" {
		t.Errorf("New() = %+v, want no parent or session", tc)
	}
}

func TestIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tc := New()
		if seen[tc.TraceID] || seen[tc.SpanID] {
			t.Fatal("generated duplicate ID")
		}
		seen[tc.TraceID], seen[tc.SpanID] = true, true
	}
}

func TestChild(t *testing.T) {
	parent := New()
	parent.SessionID = "s1"
	child := parent.Child()

	if child.TraceID != parent.TraceID {
		t.Errorf("child TraceID = %s, want %s", child.TraceID, parent.TraceID)
	}
	if child.SpanID == parent.SpanID {
		t.Error("child reused the parent span ID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Errorf("child ParentSpanID = %s, want %s", child.ParentSpanID, parent.SpanID)
	}
	if child.SessionID != "s1" {
		t.Errorf("child SessionID = %q, want s1", child.SessionID)
	}

	if root := (Context{}).Child(); root.TraceID == "" || root.ParentSpanID != "" {
		t.Errorf("Child() of empty context = %+v, want a new root", root)
	}
}

func TestEnsureContext(t *testing.T) {
	ctx, tc := EnsureContext(context.Background())
	if tc.TraceID == "" {
		t.Fatal("EnsureContext() created no trace")
	}
	_, again := EnsureContext(ctx)
	if again != tc {
		t.Errorf("EnsureContext() = %+v, want existing %+v", again, tc)
	}
}

func TestWithSession(t *testing.T) {
	ctx := context.Background()
	if id := SessionID(ctx); id != "" {
		t.Errorf("SessionID() = %q, want empty", id)
	}

	tc := New()
	ctx = WithSession(WithContext(ctx, tc), "sess-1")
	if id := SessionID(ctx); id != "sess-1" {
		t.Errorf("SessionID() = %q, want sess-1", id)
	}
	got, _ := FromContext(ctx)
	if got.TraceID != tc.TraceID {
		t.Errorf("WithSession replaced the trace: %s, want %s", got.TraceID, tc.TraceID)
	}
}

func TestTraceparent(t *testing.T) {
	tc := New()
	v := tc.Traceparent()
	if !strings.HasPrefix(v, "00-"+tc.TraceID+"-"+tc.SpanID) {
		t.Errorf("Traceparent() = %q", v)
	}

	got, ok := ParseTraceparent(v)
	if !ok {
		t.Fatalf("ParseTraceparent(%q) failed", v)
	}
	if got.TraceID != tc.TraceID || got.ParentSpanID != tc.SpanID || got.SpanID == tc.SpanID {
		t.Errorf("ParseTraceparent() = %+v", got)
	}
}

func TestParseTraceparentInvalid(t *testing.T) {
	tests := []string{
		"",
		"garbage",
		"01-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
		"00-0af7651916cd43dd8448eb211c80319c-b7ad6b71692033-01",
		"00-00000000000000000000000000000000-b7ad6b7169203331-01",
		"00-zzf7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
	}
	for _, v := range tests {
		if _, ok := ParseTraceparent(v); ok {
			t.Errorf("ParseTraceparent(%q) ok, want rejected", v)
		}
	}
}

func TestFieldsRoundTrip(t *testing.T) {
	tc := New()
	tc.SessionID = "s9"
	fields := tc.Fields()

	got := FromFields(func(k string) string { return fields[k] })
	if got.TraceID != tc.TraceID || got.ParentSpanID != tc.SpanID || got.SessionID != "s9" {
		t.Errorf("FromFields() = %+v", got)
	}

	fresh := FromFields(func(string) string { return "" })
	if fresh.TraceID == "" || fresh.ParentSpanID != "" {
		t.Errorf("FromFields() without input = %+v, want a new root", fresh)
	}
}

func TestStartSpan(t *testing.T) {
	root := New()
	ctx, span := StartSpan(WithContext(context.Background(), root), "session_start")

	if span.Ctx.TraceID != root.TraceID || span.Ctx.ParentSpanID != root.SpanID {
		t.Errorf("span context = %+v, want child of %+v", span.Ctx, root)
	}
	if tc, _ := FromContext(ctx); tc != span.Ctx {
		t.Errorf("ctx carries %+v, want span context", tc)
	}
	if span.Duration() != 0 {
		t.Error("running span has a duration")
	}

	span.SetAttr("reason", "manual")
	span.SetAttr("reason", "shutdown")
	span.End()
	first := span.Ended
	span.End()
	if span.Ended != first {
		t.Error("second End() moved the end time")
	}

	out := span.LogValue().String()
	if !strings.Contains(out, "shutdown") || strings.Contains(out, "manual") {
		t.Errorf("LogValue() = %s, want the replaced attribute only", out)
	}
}

func TestLoggerCarriesSession(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	tc := New()
	ctx := WithSession(WithContext(context.Background(), tc), "sess-42")
	Logger(ctx).Info("listening")

	out := buf.String()
	for _, want := range []string{"session_id=sess-42", "trace_id=" + tc.TraceID} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestInjectHeaders(t *testing.T) {
	h := http.Header{}
	InjectHeaders(context.Background(), h)
	if len(h) != 0 {
		t.Errorf("headers = %v, want none without trace", h)
	}

	ctx := WithSession(context.Background(), "s1")
	tc, _ := FromContext(ctx)
	InjectHeaders(ctx, h)
	if got := h.Get(TraceparentKey); got != tc.Traceparent() {
		t.Errorf("%s = %q, want %q", TraceparentKey, got, tc.Traceparent())
	}
	if got := h.Get(SessionIDKey); got != "s1" {
		t.Errorf("%s = %q, want s1", SessionIDKey, got)
	}
}

func TestMiddleware(t *testing.T) {
	caller := New()
	var seen Context
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(TraceparentKey, caller.Traceparent())
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen.TraceID != caller.TraceID || seen.ParentSpanID != caller.SpanID {
		t.Errorf("handler context = %+v, want child of %+v", seen, caller)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	tc := New()
	tc.SessionID = "s7"
	ctx := outgoing(WithContext(context.Background(), tc))
	md, _ := metadata.FromOutgoingContext(ctx)

	in := incoming(metadata.NewIncomingContext(context.Background(), md))
	got, _ := FromContext(in)
	if got.TraceID != tc.TraceID || got.ParentSpanID != tc.SpanID || got.SessionID != "s7" {
		t.Errorf("server context = %+v, want child of %+v", got, tc)
	}
}

func TestIncomingWithoutMetadata(t *testing.T) {
	got, ok := FromContext(incoming(context.Background()))
	if !ok || got.TraceID == "" {
		t.Errorf("incoming() = %+v, want a fresh trace", got)
	}
}
