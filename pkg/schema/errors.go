package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeStore      = "STORE_ERROR"
	ErrCodeRender     = "RENDER_ERROR"
	ErrCodeQuery      = "QUERY_ERROR"
	ErrCodeConfig     = "CONFIG_ERROR"
)

// TraceError is the structured error type returned by calltrace's own
// infrastructure (archive, queries, rendering, configuration). Errors raised by
// traced functions are never wrapped in it.
type TraceError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *TraceError) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("[%s] trace %s: %s", e.Code, e.TraceID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *TraceError) Unwrap() error {
	return e.Cause
}

// NewError creates a new TraceError.
func NewError(code, message string) *TraceError {
	return &TraceError{Code: code, Message: message}
}

// NewErrorf creates a new TraceError with a formatted message.
func NewErrorf(code, format string, args ...any) *TraceError {
	return &TraceError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithTrace attaches a trace ID to the error.
func (e *TraceError) WithTrace(traceID string) *TraceError {
	e.TraceID = traceID
	return e
}

// WithCause attaches an underlying cause.
func (e *TraceError) WithCause(err error) *TraceError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *TraceError) WithDetails(details map[string]any) *TraceError {
	e.Details = details
	return e
}

// IsCode reports whether err, or any error it wraps, is a *TraceError
// carrying code.
func IsCode(err error, code string) bool {
	var te *TraceError
	return errors.As(err, &te) && te.Code == code
}
