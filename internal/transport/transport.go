// Package transport streams PCM audio to the speech-to-text websocket service
// and surfaces its transcription messages.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	apperrors "github.com/GriffinCanCode/voicegate/internal/errors"
	"github.com/GriffinCanCode/voicegate/internal/resilience"
	"github.com/GriffinCanCode/voicegate/internal/trace"
)

const (
	defaultLanguage       = "ar-EG"
	defaultSampleRate     = 16000
	defaultEncoding       = "LINEAR16"
	defaultConnectTimeout = 5 * time.Second
	defaultWriteTimeout   = 2 * time.Second
	eventBuffer           = 16

	// StopReason is the close reason sent when the client ends a session.
	StopReason = "Client stopping session."

	messageTypeTranscription = "transcription"
)

// State is the connection lifecycle.
type State int32

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a transcription received from the service.
type Event struct {
	Text       string
	ReceivedAt time.Time
}

// CloseInfo describes how a connection ended.
type CloseInfo struct {
	Code   websocket.StatusCode
	Reason string
	Remote bool  // the service ended the connection
	Err    error // read error when the connection dropped without a close frame
}

// Option configures a Dialer.
type Option func(*Dialer)

// WithLanguage sets the language query parameter.
func WithLanguage(language string) Option {
	return func(d *Dialer) { d.language = language }
}

// WithSampleRate sets the sample_rate query parameter.
func WithSampleRate(rate int) Option {
	return func(d *Dialer) { d.sampleRate = rate }
}

// WithEncoding sets the encoding query parameter.
func WithEncoding(encoding string) Option {
	return func(d *Dialer) { d.encoding = encoding }
}

// WithConnectTimeout bounds the handshake.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(d *Dialer) { d.connectTimeout = timeout }
}

// WithBreaker guards dials with a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(d *Dialer) { d.breaker = b }
}

// WithHeader adds a header to the upgrade request.
func WithHeader(key, value string) Option {
	return func(d *Dialer) { d.header.Add(key, value) }
}

// Dialer opens sessions to one speech service endpoint.
type Dialer struct {
	endpoint       string
	language       string
	sampleRate     int
	encoding       string
	connectTimeout time.Duration
	header         http.Header
	breaker        *resilience.Breaker
}

// NewDialer creates a dialer for endpoint (ws:// or wss://).
func NewDialer(endpoint string, opts ...Option) (*Dialer, error) {
	if endpoint == "" {
		return nil, apperrors.New(apperrors.ConfigInvalid, "speech service URL must not be empty")
	}
	d := &Dialer{
		endpoint:       endpoint,
		language:       defaultLanguage,
		sampleRate:     defaultSampleRate,
		encoding:       defaultEncoding,
		connectTimeout: defaultConnectTimeout,
		header:         http.Header{},
	}
	for _, o := range opts {
		o(d)
	}
	if _, err := d.URL(); err != nil {
		return nil, err
	}
	return d, nil
}

// URL returns the endpoint with the session query parameters.
func (d *Dialer) URL() (string, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ConfigInvalid, "parse speech service URL")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", apperrors.Newf(apperrors.ConfigInvalid, "speech service URL scheme %q must be ws or wss", u.Scheme)
	}

	q := u.Query()
	q.Set("language", d.language)
	q.Set("sample_rate", strconv.Itoa(d.sampleRate))
	q.Set("encoding", d.encoding)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens a session, failing if the handshake does not finish within the
// connect timeout or the server refuses the upgrade. It never retries.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	wsURL, err := d.URL()
	if err != nil {
		return nil, err
	}
	if d.breaker != nil {
		if err := d.breaker.Allow(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ConnectRejected, "speech service temporarily unavailable")
		}
	}

	header := d.header.Clone()
	trace.InjectHeaders(ctx, header)

	dialCtx, cancel := context.WithTimeout(ctx, d.connectTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		appErr := d.classifyDialError(ctx, dialCtx, resp, err)
		if d.breaker != nil {
			if appErr.Code == apperrors.Cancelled {
				d.breaker.Release()
			} else {
				d.breaker.Failure()
			}
		}
		return nil, appErr
	}
	if d.breaker != nil {
		d.breaker.Success()
	}

	return newSession(ctx, conn), nil
}

func (d *Dialer) classifyDialError(parent, dialCtx context.Context, resp *http.Response, err error) *apperrors.AppError {
	switch {
	case parent.Err() != nil:
		return apperrors.Wrap(err, apperrors.Cancelled, "connect cancelled")
	case errors.Is(dialCtx.Err(), context.DeadlineExceeded):
		return apperrors.Wrapf(err, apperrors.ConnectTimeout, "no answer from speech service within %v", d.connectTimeout)
	case resp != nil && resp.StatusCode != http.StatusSwitchingProtocols:
		return apperrors.Wrap(err, apperrors.RemoteClosedBeforeOpen, "speech service refused connection").
			WithMetadata("http_status", strconv.Itoa(resp.StatusCode))
	default:
		return apperrors.Wrap(err, apperrors.ConnectFailed, "connect to speech service")
	}
}

// Session is one open connection to the speech service.
type Session struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	state   atomic.Int32
	closing atomic.Bool
	events  chan Event
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	info      CloseInfo
}

func newSession(ctx context.Context, conn *websocket.Conn) *Session {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		conn:   conn,
		ctx:    sctx,
		cancel: cancel,
		log:    trace.Logger(ctx).With("component", "transport"),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	s.state.Store(int32(Open))
	go s.readLoop()
	return s
}

// State returns the connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// Events returns transcriptions; closed when the connection ends.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed once the connection has ended for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// CloseInfo reports how the connection ended. Valid after Done is closed.
func (s *Session) CloseInfo() CloseInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Send writes one binary audio message. It is a silent no-op unless the
// connection is open, and returns the number of bytes written.
func (s *Session) Send(ctx context.Context, pcm []byte) (int, error) {
	if s.State() != Open || len(pcm) == 0 {
		return 0, nil
	}
	wctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()
	if err := s.conn.Write(wctx, websocket.MessageBinary, pcm); err != nil {
		if s.State() != Open {
			return 0, nil
		}
		return 0, fmt.Errorf("write audio: %w", err)
	}
	return len(pcm), nil
}

// Close ends the connection with code and reason. Safe to call repeatedly
// and after the service has already closed.
func (s *Session) Close(code websocket.StatusCode, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		prev := State(s.state.Swap(int32(Closed)))
		if prev == Open {
			err = s.conn.Close(code, reason)
			var ce websocket.CloseError
			if errors.As(err, &ce) || errors.Is(err, context.Canceled) {
				err = nil
			}
		}
		s.cancel()
		<-s.done
		s.mu.Lock()
		if !s.info.Remote {
			s.info = CloseInfo{Code: code, Reason: reason}
		}
		s.mu.Unlock()
	})
	return err
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.finish(err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		ev, ok := parseMessage(data)
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.ctx.Done():
			s.finish(s.ctx.Err())
			return
		}
	}
}

func (s *Session) finish(err error) {
	s.state.Store(int32(Closed))
	if s.closing.Load() {
		return
	}

	info := CloseInfo{Remote: true, Code: websocket.CloseStatus(err)}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		info.Reason = ce.Reason
	} else {
		info.Err = err
	}
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	s.log.Info("speech service closed connection", "code", info.Code, "reason", info.Reason, "error", info.Err)
}

type message struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// parseMessage accepts transcription messages with non-blank text.
func parseMessage(data []byte) (Event, bool) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, false
	}
	if msg.Type != messageTypeTranscription {
		return Event{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return Event{}, false
	}
	return Event{Text: text, ReceivedAt: time.Now()}, true
}
