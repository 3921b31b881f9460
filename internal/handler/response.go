package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "validation_error", "message": "code is required"}
//
// Quota rejections add a "type" the editor switches on:
//   {"type": "RATE_LIMIT", "error": "rate_limit_exceeded", "message": "..."}

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/sakif/code-reviewer/internal/apperror"
	"github.com/sakif/code-reviewer/internal/observability"
)

// RateLimitType is the "type" of a quota rejection body.
const RateLimitType = "RATE_LIMIT"

const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Type    string `json:"type,omitempty"` // Set only for quota rejections
	Error   string `json:"error"`          // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`        // Human-readable description
	Field   string `json:"field,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
//
// Headers and status must be set BEFORE the body: once Encode writes, any
// header change is silently ignored.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// decodeJSON reads a JSON body of at most 1 MiB into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "Invalid JSON in request body")
	}
	return nil
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
// This is the only place domain errors become HTTP. errors.Is walks the
// whole chain, so a service may wrap an AppError as deeply as it likes:
//
//	service returns: fmt.Errorf("%w: %w", apperror.Upstream("..."), cause)
//	errors.Is walks: outer error → AppError → ErrUpstream ✓ match!
//
// 5xx responses are reported to Sentry; 4xx are the client's problem.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// NEVER expose internal error details to the client.
		observability.CaptureError(r, err)
		slog.Error("unhandled error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	resp := ErrorResponse{Error: "internal_error", Message: appErr.Message, Field: appErr.Field}

	switch {
	case errors.Is(err, apperror.ErrValidation):
		status = http.StatusBadRequest
		resp.Error = "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		status = http.StatusUnauthorized
		resp.Error = "unauthorized"
	case errors.Is(err, apperror.ErrUpstreamAuth):
		status = http.StatusUnauthorized
		resp.Error = "upstream_auth_failure"
	case errors.Is(err, apperror.ErrForbidden):
		status = http.StatusForbidden
		resp.Error = "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		status = http.StatusNotFound
		resp.Error = "not_found"
	case errors.Is(err, apperror.ErrConflict):
		status = http.StatusConflict
		resp.Error = "conflict"
	case errors.Is(err, apperror.ErrRateLimited):
		status = http.StatusTooManyRequests
		resp.Type = RateLimitType
		resp.Error = "rate_limit_exceeded"
		if appErr.RetryAfter > 0 {
			secs := int(math.Ceil(appErr.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	case errors.Is(err, apperror.ErrUpstream):
		status = http.StatusBadGateway
		resp.Error = "upstream_error"
	}

	if status >= http.StatusInternalServerError {
		observability.CaptureError(r, err)
	}
	writeJSON(w, status, resp)
}
