package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Validation and request error codes
const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrInvalidPayload    ErrorCode = "INVALID_PAYLOAD"
)

// Lookup error codes
const (
	ErrHandoffNotFound ErrorCode = "HANDOFF_NOT_FOUND"
	ErrAgentNotFound   ErrorCode = "AGENT_NOT_FOUND"
	ErrThreadNotFound  ErrorCode = "THREAD_NOT_FOUND"
)

// Permission error codes
const (
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
)

// Integration error codes. These are degraded-mode failures: the caller
// logs them and continues, they never abort routing.
const (
	ErrBroadcastFailed    ErrorCode = "BROADCAST_FAILED"
	ErrTemplateRender     ErrorCode = "TEMPLATE_RENDER"
	ErrAttachmentUpload   ErrorCode = "ATTACHMENT_UPLOAD"
	ErrWebhookUnavailable ErrorCode = "WEBHOOK_UNAVAILABLE"
)

// Internal error codes
const (
	ErrNoAgentsAvailable ErrorCode = "NO_AGENTS_AVAILABLE"
	ErrConflict          ErrorCode = "CONFLICT"
	ErrInternalError     ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NewTransitionError builds the validation error raised for an illegal
// status transition, naming the attempted (from, to) pair.
func NewTransitionError(from, to string) *Error {
	return NewError(ErrInvalidTransition,
		fmt.Sprintf("illegal handoff transition: %s -> %s", from, to))
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether the error carries a not-found code.
func IsNotFound(err error) bool {
	switch GetErrorCode(err) {
	case ErrHandoffNotFound, ErrAgentNotFound, ErrThreadNotFound:
		return true
	}
	return false
}

// IsValidation reports whether the error is a validation failure.
func IsValidation(err error) bool {
	switch GetErrorCode(err) {
	case ErrInvalidRequest, ErrInvalidTransition, ErrInvalidPayload:
		return true
	}
	return false
}

// IsConflict reports whether the error is a guarded-write conflict.
func IsConflict(err error) bool {
	return GetErrorCode(err) == ErrConflict
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
