// Package apperror defines the domain error taxonomy shared by every layer.
//
// Services return these errors; only the HTTP handlers translate them into
// status codes (see handler/response.go). Each constructor wraps one sentinel
// so callers can branch with errors.Is no matter how deeply the error has
// been wrapped with fmt.Errorf("...: %w").
package apperror

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUpstreamAuth means the OAuth provider rejected an authorization code.
	ErrUpstreamAuth = errors.New("upstream auth failure")
	// ErrRateLimited means the caller's review quota is exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrUpstream means the AI provider failed, timed out or was unreachable.
	ErrUpstream = errors.New("upstream error")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error

	// RetryAfter is set on rate-limit errors; handlers send it as the
	// Retry-After header.
	RetryAfter time.Duration
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a uniqueness violation, e.g. an email that is already
// registered.
func Conflict(resource, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict: %s", resource, message),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized covers bad local credentials and missing, invalid or expired
// sessions. The message must not reveal which of those happened.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// UpstreamAuthFailure reports a rejected OAuth code exchange.
func UpstreamAuthFailure(message string) *AppError {
	return &AppError{
		Err:     ErrUpstreamAuth,
		Message: message,
	}
}

// RateLimited reports an exhausted review quota.
func RateLimited(message string) *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: message,
	}
}

// WithRetryAfter records how long the caller should wait and returns e.
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

// Upstream reports an AI provider failure. The message is shown to clients,
// so keep transport details in the wrapped log line instead.
func Upstream(message string) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: message,
	}
}
