// Package errors provides unified error handling for voicegate.
// Codes are stable strings shared by the HTTP API, the gRPC control plane and logs.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain is reported in ErrorInfo details on gRPC errors.
const Domain = "voicegate"

// Code identifies a failure class.
type Code string

const (
	Unknown                Code = "UNKNOWN"
	Internal               Code = "INTERNAL"
	Cancelled              Code = "CANCELLED"
	ConfigInvalid          Code = "CONFIG_INVALID"
	DeviceUnavailable      Code = "DEVICE_UNAVAILABLE"
	DevicePermissionDenied Code = "DEVICE_PERMISSION_DENIED"
	ConnectTimeout         Code = "CONNECT_TIMEOUT"
	ConnectFailed          Code = "CONNECT_FAILED"
	ConnectRejected        Code = "CONNECT_REJECTED"
	RemoteClosedBeforeOpen Code = "REMOTE_CLOSED_BEFORE_OPEN"
	SessionBusy            Code = "SESSION_BUSY"
	SessionNotActive       Code = "SESSION_NOT_ACTIVE"
	SessionTerminated      Code = "SESSION_TERMINATED"
)

// grpcCodeMap maps Code to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	Unknown:                codes.Unknown,
	Internal:               codes.Internal,
	Cancelled:              codes.Canceled,
	ConfigInvalid:          codes.InvalidArgument,
	DeviceUnavailable:      codes.Unavailable,
	DevicePermissionDenied: codes.PermissionDenied,
	ConnectTimeout:         codes.DeadlineExceeded,
	ConnectFailed:          codes.Unavailable,
	ConnectRejected:        codes.Unavailable,
	RemoteClosedBeforeOpen: codes.Unavailable,
	SessionBusy:            codes.FailedPrecondition,
	SessionNotActive:       codes.FailedPrecondition,
	SessionTerminated:      codes.FailedPrecondition,
}

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// ToProto converts to an ErrorInfo detail message.
func (e *AppError) ToProto() *errdetails.ErrorInfo {
	info := &errdetails.ErrorInfo{Reason: string(e.Code), Domain: Domain}
	if len(e.Metadata) > 0 {
		info.Metadata = e.Metadata
	}
	return info
}

// GRPCStatus returns a gRPC status with the ErrorInfo attached.
// grpc-go uses this method when an AppError is returned from a handler.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Message)
	if withDetails, err := st.WithDetails(e.ToProto()); err == nil {
		return withDetails
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError extracts an AppError from a gRPC error if present.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
	}

	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == Domain {
			return &AppError{
				Code:     Code(info.GetReason()),
				Message:  st.Message(),
				Metadata: info.GetMetadata(),
			}
		}
	}

	return &AppError{Code: grpcToCode(st.Code()), Message: st.Message()}
}

// grpcToCode maps gRPC codes back to our codes (best effort).
func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return ConfigInvalid
	case codes.Unavailable:
		return ConnectFailed
	case codes.DeadlineExceeded:
		return ConnectTimeout
	case codes.Canceled:
		return Cancelled
	case codes.PermissionDenied:
		return DevicePermissionDenied
	case codes.FailedPrecondition:
		return SessionBusy
	case codes.Internal:
		return Internal
	default:
		return Unknown
	}
}

// CodeOf returns the code of the first AppError in err's chain, or Unknown.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// IsCode checks if an error chain carries a specific code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable reports whether a caller may reasonably try again later.
// The session itself never retries; this is used by control clients.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ConnectTimeout, ConnectFailed, ConnectRejected:
		return true
	default:
		return false
	}
}
