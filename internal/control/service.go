package control

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/GriffinCanCode/voicegate/internal/errors"
	"github.com/GriffinCanCode/voicegate/internal/orchestrator"
	"github.com/GriffinCanCode/voicegate/internal/trace"
)

// Handler is the session surface the service exposes.
type Handler interface {
	Start(ctx context.Context) error
	Stop(reason orchestrator.StopReason)
	Status() orchestrator.Status
	Subscribe() (<-chan orchestrator.Status, func())
}

// SessionControlServer is the server API for the SessionControl service.
type SessionControlServer interface {
	Start(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Watch(*emptypb.Empty, grpc.ServerStream) error
}

// ServiceDesc describes SessionControl. Messages are protobuf well-known
// types, so no generated code is needed.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Start", Handler: unaryHandler(methodStart, SessionControlServer.Start)},
		{MethodName: "Stop", Handler: unaryHandler(methodStop, SessionControlServer.Stop)},
		{MethodName: "Status", Handler: unaryHandler(methodStatus, SessionControlServer.Status)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
}

type unaryCall func(SessionControlServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SessionControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(SessionControlServer), ctx, req.(*emptypb.Empty))
		})
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SessionControlServer).Watch(in, stream)
}

// Service implements SessionControlServer on top of a Handler.
type Service struct {
	h      Handler
	health *health.Server
}

// NewService creates the control service.
func NewService(h Handler) *Service {
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Service{h: h, health: hs}
}

// NewGRPCServer creates a gRPC server with tracing and the service registered.
func NewGRPCServer(svc *Service, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
	)
	s := grpc.NewServer(opts...)
	s.RegisterService(&ServiceDesc, svc)
	healthpb.RegisterHealthServer(s, svc.health)
	return s
}

// Run mirrors session state into the health service until ctx is done.
func (s *Service) Run(ctx context.Context) {
	updates, cancel := s.h.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case st := <-updates:
			s.health.SetServingStatus(ServiceName, servingStatus(st.State))
		}
	}
}

func servingStatus(state orchestrator.SessionState) healthpb.HealthCheckResponse_ServingStatus {
	if state == orchestrator.Listening {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

func (s *Service) Start(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.h.Start(ctx); err != nil {
		return nil, grpcError(err)
	}
	return statusStruct(s.h.Status())
}

func (s *Service) Stop(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.h.Stop(orchestrator.StopManual)
	return statusStruct(s.h.Status())
}

func (s *Service) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return statusStruct(s.h.Status())
}

func (s *Service) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	updates, cancel := s.h.Subscribe()
	defer cancel()
	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-updates:
			msg, err := statusStruct(st)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func grpcError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.GRPCStatus().Err()
	}
	return apperrors.Wrap(err, apperrors.Internal, err.Error()).GRPCStatus().Err()
}

func statusStruct(st orchestrator.Status) (*structpb.Struct, error) {
	fields := map[string]any{
		"session_id": st.SessionID,
		"state":      st.State.String(),
		"capture":    st.Capture.String(),
		"message":    st.Message,
		"transcript": st.Transcript,
		"error":      st.Error,
		"updated_at": st.UpdatedAt.Format(time.RFC3339Nano),
	}
	if st.StopReason != orchestrator.StopNone {
		fields["stop_reason"] = st.StopReason.String()
	}
	return structpb.NewStruct(fields)
}
