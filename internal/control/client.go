package control

import (
	"context"
	"errors"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/GriffinCanCode/voicegate/internal/errors"
	"github.com/GriffinCanCode/voicegate/internal/resilience"
	"github.com/GriffinCanCode/voicegate/internal/trace"
)

// StatusView is the client-side form of a session status.
type StatusView struct {
	SessionID  string
	State      string
	Capture    string
	Message    string
	Transcript string
	StopReason string
	Error      string
	UpdatedAt  time.Time
}

// Client talks to a running voicegate daemon.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	retry  resilience.Policy
}

// New creates a control client. Extra options are appended after the defaults.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			Timeout:             DefaultKeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
		grpc.WithChainStreamInterceptor(trace.StreamClientInterceptor()),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "invalid control address")
	}
	return &Client{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		retry:  resilience.ControlPolicy(),
	}, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Start asks the daemon to start a session. It is not retried: a second
// attempt could race the first one's device acquisition.
func (c *Client) Start(ctx context.Context) (StatusView, error) {
	return c.invoke(ctx, methodStart)
}

// Stop asks the daemon to stop the active session.
func (c *Client) Stop(ctx context.Context) (StatusView, error) {
	return c.invokeRetry(ctx, methodStop)
}

// Status fetches the current status.
func (c *Client) Status(ctx context.Context) (StatusView, error) {
	return c.invokeRetry(ctx, methodStatus)
}

// Watch streams status updates to fn until ctx is done or the daemon exits.
func (c *Client) Watch(ctx context.Context, fn func(StatusView)) error {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], methodWatch)
	if err != nil {
		return appError(err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return appError(err)
	}
	if err := stream.CloseSend(); err != nil {
		return appError(err)
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return appError(err)
		}
		fn(viewFromStruct(out))
	}
}

// Healthy reports whether a session is currently listening.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, appError(err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func (c *Client) invoke(ctx context.Context, method string) (StatusView, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, &emptypb.Empty{}, out); err != nil {
		return StatusView{}, appError(err)
	}
	return viewFromStruct(out), nil
}

// invokeRetry retries transport failures on the raw gRPC error, before it is
// converted for the caller.
func (c *Client) invokeRetry(ctx context.Context, method string) (StatusView, error) {
	out := new(structpb.Struct)
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		return c.conn.Invoke(ctx, method, &emptypb.Empty{}, out)
	})
	if err != nil {
		return StatusView{}, appError(err)
	}
	return viewFromStruct(out), nil
}

func appError(err error) error {
	return apperrors.FromGRPCError(err)
}

func viewFromStruct(s *structpb.Struct) StatusView {
	f := s.GetFields()
	str := func(k string) string { return f[k].GetStringValue() }
	v := StatusView{
		SessionID:  str("session_id"),
		State:      str("state"),
		Capture:    str("capture"),
		Message:    str("message"),
		Transcript: str("transcript"),
		StopReason: str("stop_reason"),
		Error:      str("error"),
	}
	if ts, err := time.Parse(time.RFC3339Nano, str("updated_at")); err == nil {
		v.UpdatedAt = ts
	}
	return v
}
