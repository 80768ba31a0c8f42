package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"

	audiocap "github.com/GriffinCanCode/voicegate/internal/audio"
	apperrors "github.com/GriffinCanCode/voicegate/internal/errors"
	"github.com/GriffinCanCode/voicegate/internal/transport"
	"github.com/GriffinCanCode/voicegate/internal/vad"
)

// SessionState is the lifecycle of the single session a Manager runs.
type SessionState int

const (
	Idle SessionState = iota
	Connecting
	Listening
	Terminated
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Listening:
		return "listening"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StopReason records why a session ended.
type StopReason int

const (
	StopNone StopReason = iota
	StopManual
	StopProlongedSilence
	StopRemoteClose
	StopDeviceError
	StopConnectError
	StopShutdown
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopManual:
		return "manual"
	case StopProlongedSilence:
		return "prolonged_silence"
	case StopRemoteClose:
		return "remote_close"
	case StopDeviceError:
		return "device_error"
	case StopConnectError:
		return "connect_error"
	case StopShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Message returns the user-facing status text for the reason.
func (r StopReason) Message(cause error) string {
	switch r {
	case StopProlongedSilence:
		return MsgSilence
	case StopRemoteClose:
		return MsgRemoteClosed
	case StopDeviceError:
		return fmt.Sprintf(msgDeviceErrorFmt, deviceErrorText(cause))
	case StopConnectError:
		return MsgConnectError
	case StopShutdown:
		return MsgShutdown
	default:
		return MsgStopped
	}
}

func deviceErrorText(err error) string {
	var appErr *apperrors.AppError
	switch {
	case err == nil:
		return msgDeviceErrGeneric
	case errors.As(err, &appErr):
		return strings.TrimSuffix(appErr.Message, ".")
	default:
		return strings.TrimSuffix(err.Error(), ".")
	}
}

// Status is a point-in-time view of the manager.
type Status struct {
	SessionID  string
	State      SessionState
	Capture    vad.State
	Message    string
	Transcript string // latest transcription of the current or last session
	StopReason StopReason
	Error      string
	UpdatedAt  time.Time
}

// Device is an open microphone.
type Device interface {
	Frames() <-chan audiocap.Frame
	Close() error
}

// DeviceOpener acquires the microphone. Open must honor ctx cancellation.
type DeviceOpener interface {
	Open(ctx context.Context) (Device, error)
}

// OpenerFunc adapts a function to DeviceOpener.
type OpenerFunc func(ctx context.Context) (Device, error)

func (f OpenerFunc) Open(ctx context.Context) (Device, error) { return f(ctx) }

// Transport is an open speech service connection.
type Transport interface {
	Send(ctx context.Context, pcm []byte) (int, error)
	Events() <-chan transport.Event
	Done() <-chan struct{}
	CloseInfo() transport.CloseInfo
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens speech service connections.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) { return f(ctx) }

// CaptureOpener adapts the PortAudio capturer.
func CaptureOpener(c *audiocap.Capturer) DeviceOpener {
	return OpenerFunc(func(ctx context.Context) (Device, error) {
		s, err := c.Open(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// TransportDialer adapts the websocket dialer.
func TransportDialer(d *transport.Dialer) Dialer {
	return DialerFunc(func(ctx context.Context) (Transport, error) {
		s, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
