package session

import (
	"errors"
	"fmt"

	"github.com/avelasco/hydrolink/internal/transport"
)

// Code classifies session-level failures.
type Code string

const (
	CodePermissionDenied     Code = "permission_denied"
	CodeTransportUnavailable Code = "transport_unavailable"
	CodeConnectTimeout       Code = "connect_timeout"
	CodeConnectFailed        Code = "connect_failed"
	CodeDiscoveryFailed      Code = "discovery_failed"
	CodeNotConnected         Code = "not_connected"
	CodeReadFailed           Code = "read_failed"
	CodeSubscribeFailed      Code = "subscribe_failed"
	CodeMalformedMessage     Code = "malformed_message"
	CodeBusy                 Code = "busy"
)

// Error is a typed session failure wrapping the underlying transport error.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to match session errors by code.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinel values for errors.Is comparisons.
var (
	ErrPermissionDenied     = &Error{Code: CodePermissionDenied}
	ErrTransportUnavailable = &Error{Code: CodeTransportUnavailable}
	ErrConnectTimeout       = &Error{Code: CodeConnectTimeout}
	ErrConnectFailed        = &Error{Code: CodeConnectFailed}
	ErrDiscoveryFailed      = &Error{Code: CodeDiscoveryFailed}
	ErrNotConnected         = &Error{Code: CodeNotConnected}
	ErrReadFailed           = &Error{Code: CodeReadFailed}
	ErrSubscribeFailed      = &Error{Code: CodeSubscribeFailed}
	ErrMalformedMessage     = &Error{Code: CodeMalformedMessage}
	ErrBusy                 = &Error{Code: CodeBusy}
)

func newError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// classifyTransportError maps transport sentinels to session codes, falling
// back to the given default for unrecognized failures.
func classifyTransportError(err error, fallback Code) *Error {
	switch {
	case errors.Is(err, transport.ErrPermissionDenied):
		return newError(CodePermissionDenied, err)
	case errors.Is(err, transport.ErrUnavailable):
		return newError(CodeTransportUnavailable, err)
	case errors.Is(err, transport.ErrServiceNotFound),
		errors.Is(err, transport.ErrCharacteristicNotFound):
		return newError(CodeDiscoveryFailed, err)
	case errors.Is(err, transport.ErrNotConnected):
		return newError(CodeNotConnected, err)
	default:
		return newError(fallback, err)
	}
}
