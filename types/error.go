package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Graph construction error codes
const (
	ErrGraphInvalid ErrorCode = "GRAPH_INVALID"
	ErrCodec        ErrorCode = "CODEC"
)

// Execution error codes
const (
	ErrInputUnresolved   ErrorCode = "INPUT_UNRESOLVED"
	ErrStepFailed        ErrorCode = "STEP_FAILED"
	ErrRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrInvocationLimit   ErrorCode = "INVOCATION_LIMIT"
	ErrNoRoute           ErrorCode = "NO_ROUTE"
	ErrInstanceState     ErrorCode = "INSTANCE_STATE"
	ErrInternalError     ErrorCode = "INTERNAL_ERROR"
	ErrTaskCancelled     ErrorCode = "TASK_CANCELLED"
	ErrSuspensionInvalid ErrorCode = "SUSPENSION_MISMATCH"
	ErrNotFound          ErrorCode = "NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	StepID    string    `json:"step_id,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.StepID != "" {
		prefix = fmt.Sprintf("[%s] step %s:", e.Code, e.StepID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStep records the step the error originated from.
func (e *Error) WithStep(stepID string) *Error {
	e.StepID = stepID
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts a *Error from anywhere in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is marked retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
