// Package errors provides the protocol error kinds raised by connections,
// the RPC correlator and the orchestration layer.
// All error types support unwrapping via errors.As() and errors.Is(), and
// each one matches its kind sentinel through errors.Is.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/reglet-dev/extrunner/domain/entities"
)

// Kind sentinels. Use errors.Is(err, ErrConnectionClosed) and friends to
// classify an error without caring about its concrete type.
var (
	ErrHandshakeTimeout   = stdErrors.New("handshake timeout")
	ErrUnauthorized       = stdErrors.New("unauthorized")
	ErrChannel            = stdErrors.New("channel error")
	ErrOperationNotFound  = stdErrors.New("operation not found")
	ErrOperationExecution = stdErrors.New("operation execution error")
	ErrInvalidState       = stdErrors.New("invalid state")
	ErrConnectionClosed   = stdErrors.New("connection closed")
	ErrNotReady           = stdErrors.New("connection not ready")
	ErrTimeout            = stdErrors.New("timeout")
	ErrNotFound           = stdErrors.New("not found")
)

// Wire codes used in operation error replies.
const (
	CodeNotFound       = "NOT_FOUND"
	CodeExecutionError = "EXECUTION_ERROR"
)

// ErrorDetail is an alias to entities.ErrorDetail for convenience.
type ErrorDetail = entities.ErrorDetail

// DetailedError is implemented by error types that can convert themselves to
// a structured ErrorDetail. New error kinds only implement this interface,
// ToErrorDetail needs no change.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// ToErrorDetail converts a Go error to the structured ErrorDetail.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	if e, ok := err.(*entities.ErrorDetail); ok {
		return e
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	return &entities.ErrorDetail{
		Message: err.Error(),
		Type:    "internal",
	}
}

// FromErrorDetail rebuilds the typed error a peer reported in an
// operation:error reply.
func FromErrorDetail(operation string, d *entities.ErrorDetail) error {
	if d == nil {
		return &OperationExecutionError{Operation: operation, Err: stdErrors.New("unknown remote error")}
	}
	if d.Code == CodeNotFound {
		return &OperationNotFoundError{Operation: operation}
	}
	return &OperationExecutionError{Operation: operation, Err: d}
}

// HandshakeTimeoutError is raised when a peer never answers ready.
type HandshakeTimeoutError struct {
	// Cause is set when the peer reported why it could not start.
	Cause    error
	Ref      string
	Duration time.Duration
}

func (e *HandshakeTimeoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("handshake with %s failed: %v", e.Ref, e.Cause)
	}
	return fmt.Sprintf("handshake with %s timed out after %v", e.Ref, e.Duration)
}

func (e *HandshakeTimeoutError) Unwrap() error { return e.Cause }

func (e *HandshakeTimeoutError) Is(target error) bool { return target == ErrHandshakeTimeout }

func (e *HandshakeTimeoutError) Timeout() bool { return e.Cause == nil }

// ToErrorDetail implements DetailedError.
func (e *HandshakeTimeoutError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "lifecycle", Code: "handshake_timeout", IsTimeout: e.Timeout()}
}

// UnauthorizedError reports an envelope whose origin or token did not match.
type UnauthorizedError struct {
	Ref    string
	Origin string
	Reason string
}

func (e *UnauthorizedError) Error() string {
	if e.Origin != "" {
		return fmt.Sprintf("unauthorized envelope for %s from %q: %s", e.Ref, e.Origin, e.Reason)
	}
	return fmt.Sprintf("unauthorized envelope for %s: %s", e.Ref, e.Reason)
}

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// ToErrorDetail implements DetailedError.
func (e *UnauthorizedError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "auth", Code: "unauthorized"}
}

// ChannelError reports a failure of the channel itself, as opposed to an
// application-level operation failure. ReplyTo names the reply channel when
// the failure concerns one call.
type ChannelError struct {
	Err     error
	ReplyTo string
}

func (e *ChannelError) Error() string {
	if e.ReplyTo != "" {
		return fmt.Sprintf("channel error on reply %s: %v", e.ReplyTo, e.Err)
	}
	return fmt.Sprintf("channel error: %v", e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

func (e *ChannelError) Is(target error) bool { return target == ErrChannel }

// ToErrorDetail implements DetailedError.
func (e *ChannelError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "channel", Code: "channel_error"}
}

// OperationNotFoundError reports an operation name absent from the
// receiver's registry. It means "unsupported", not "failed".
type OperationNotFoundError struct {
	Operation string
}

func (e *OperationNotFoundError) Error() string {
	return fmt.Sprintf("operation '%s' not found", e.Operation)
}

func (e *OperationNotFoundError) Is(target error) bool { return target == ErrOperationNotFound }

// ToErrorDetail implements DetailedError.
func (e *OperationNotFoundError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "operation", Code: CodeNotFound, IsNotFound: true}
}

// OperationExecutionError reports that an operation handler failed.
type OperationExecutionError struct {
	Err       error
	Operation string
}

func (e *OperationExecutionError) Error() string {
	return fmt.Sprintf("operation '%s' failed: %v", e.Operation, e.Err)
}

func (e *OperationExecutionError) Unwrap() error { return e.Err }

func (e *OperationExecutionError) Is(target error) bool { return target == ErrOperationExecution }

// ToErrorDetail implements DetailedError.
func (e *OperationExecutionError) ToErrorDetail() *entities.ErrorDetail {
	detail := &entities.ErrorDetail{Message: e.Error(), Type: "operation", Code: CodeExecutionError}
	if e.Err != nil {
		detail.Wrapped = ToErrorDetail(e.Err)
	}
	return detail
}

// InvalidStateError reports a malformed state envelope.
type InvalidStateError struct {
	Ref    string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state received from %s: %s", e.Ref, e.Reason)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// ToErrorDetail implements DetailedError.
func (e *InvalidStateError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "state", Code: "invalid_state"}
}

// ConnectionClosedError reports an operation attempted or pending on a
// destroyed connection.
type ConnectionClosedError struct {
	Ref       string
	Operation string
}

func (e *ConnectionClosedError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("connection %s closed (operation '%s')", e.Ref, e.Operation)
	}
	return fmt.Sprintf("connection %s closed", e.Ref)
}

func (e *ConnectionClosedError) Is(target error) bool { return target == ErrConnectionClosed }

// ToErrorDetail implements DetailedError.
func (e *ConnectionClosedError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "lifecycle", Code: "connection_closed"}
}

// NotReadyError reports a call made before the handshake completed.
type NotReadyError struct {
	Ref   string
	State entities.LifecycleState
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("connection %s not ready (state %s)", e.Ref, e.State)
}

func (e *NotReadyError) Is(target error) bool { return target == ErrNotReady }

// ToErrorDetail implements DetailedError.
func (e *NotReadyError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "lifecycle", Code: "not_ready"}
}

// TimeoutError represents a deadline elapsing on a suspending operation.
type TimeoutError struct {
	Operation string
	Target    string
	Duration  time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s timeout after %v (target: %s)", e.Operation, e.Duration, e.Target)
	}
	return fmt.Sprintf("%s timeout after %v", e.Operation, e.Duration)
}

func (e *TimeoutError) Timeout() bool { return true }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ToErrorDetail implements DetailedError.
func (e *TimeoutError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "timeout", Code: e.Operation, IsTimeout: true}
}

// LoadError reports a failed file or entry-point retrieval. Response holds
// the raw response for diagnostics when the server answered non-2xx.
type LoadError struct {
	Err        error
	Response   *http.Response
	URL        string
	StatusCode int
}

func (e *LoadError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("failed to load file %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("failed to load file %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is matches ErrNotFound for non-2xx responses.
func (e *LoadError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode > 0
}

// ToErrorDetail implements DetailedError.
func (e *LoadError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{
		Message:    e.Error(),
		Type:       "load",
		Code:       fmt.Sprintf("http_%d", e.StatusCode),
		IsNotFound: e.StatusCode > 0,
	}
}
