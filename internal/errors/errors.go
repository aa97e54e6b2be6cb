// Package errors provides unified error handling with a small closed set of
// error codes. Codes travel across the comparator gRPC boundary as a
// structpb detail so both sides can recover the original AppError.
package errors

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Code classifies an AppError.
type Code int

const (
	Unknown Code = iota
	Internal
	InvalidArgument
	NotFound
	Unavailable
	Timeout
	Cancelled
	// OriginUnreachable means the scrollable surface could not be driven back
	// to (0, 0) before stitching.
	OriginUnreachable
	DriverOperation
	ComparatorFailed
	BaselineMissing
	ConfigInvalid
)

var codeNames = map[Code]string{
	Unknown:           "UNKNOWN",
	Internal:          "INTERNAL",
	InvalidArgument:   "INVALID_ARGUMENT",
	NotFound:          "NOT_FOUND",
	Unavailable:       "UNAVAILABLE",
	Timeout:           "TIMEOUT",
	Cancelled:         "CANCELLED",
	OriginUnreachable: "ORIGIN_UNREACHABLE",
	DriverOperation:   "DRIVER_OPERATION",
	ComparatorFailed:  "COMPARATOR_FAILED",
	BaselineMissing:   "BASELINE_MISSING",
	ConfigInvalid:     "CONFIG_INVALID",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

func codeFromString(s string) Code {
	for c, name := range codeNames {
		if name == s {
			return c
		}
	}
	return Unknown
}

// grpcCodeMap maps Code to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	Unknown:           codes.Unknown,
	Internal:          codes.Internal,
	InvalidArgument:   codes.InvalidArgument,
	NotFound:          codes.NotFound,
	Unavailable:       codes.Unavailable,
	Timeout:           codes.DeadlineExceeded,
	Cancelled:         codes.Canceled,
	OriginUnreachable: codes.FailedPrecondition,
	DriverOperation:   codes.Internal,
	ComparatorFailed:  codes.Internal,
	BaselineMissing:   codes.NotFound,
	ConfigInvalid:     codes.InvalidArgument,
}

// AppError is the base error type with structured error code and metadata.
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

// ToProto converts to a structpb detail message.
func (e *AppError) ToProto() *structpb.Struct {
	meta := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		meta[k] = v
	}
	detail, _ := structpb.NewStruct(map[string]any{
		"code":     e.Code.String(),
		"message":  e.Message,
		"metadata": meta,
	})
	return detail
}

// GRPCStatus returns a gRPC status with the error detail attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	// WithDetails packs the struct into an Any itself
	if withDetail, err := st.WithDetails(e.ToProto()); err == nil {
		return withDetail
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

// FromGRPCError extracts AppError from a gRPC error if present.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
	}

	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *structpb.Struct:
			return fromDetail(d)
		case *anypb.Any:
			s := &structpb.Struct{}
			if d.UnmarshalTo(s) == nil {
				return fromDetail(s)
			}
		}
	}

	// Fallback: map gRPC code to our error code
	return &AppError{Code: grpcToErrorCode(st.Code()), Message: st.Message()}
}

func fromDetail(s *structpb.Struct) *AppError {
	fields := s.GetFields()
	e := &AppError{
		Code:    codeFromString(fields["code"].GetStringValue()),
		Message: fields["message"].GetStringValue(),
	}
	if meta := fields["metadata"].GetStructValue(); meta != nil && len(meta.GetFields()) > 0 {
		e.Metadata = make(map[string]string, len(meta.GetFields()))
		for k, v := range meta.GetFields() {
			e.Metadata[k] = v.GetStringValue()
		}
	}
	return e
}

// grpcToErrorCode maps gRPC codes back to our error codes (best effort).
func grpcToErrorCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.NotFound:
		return NotFound
	case codes.Unavailable:
		return Unavailable
	case codes.DeadlineExceeded:
		return Timeout
	case codes.Canceled:
		return Cancelled
	case codes.Internal:
		return Internal
	case codes.FailedPrecondition:
		return OriginUnreachable
	default:
		return Unknown
	}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	switch appErr.Code {
	case Unavailable, Timeout:
		return true
	default:
		return false
	}
}
