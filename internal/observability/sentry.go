// Package observability reports errors and recovered panics to Sentry.
//
// Sentry is optional: with an empty DSN the client is never initialised and
// every Capture call is a no-op.
package observability

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const flushTimeout = 2 * time.Second

// InitSentry initialises the global Sentry client. It does nothing when dsn
// is empty.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

// Flush waits briefly for buffered events to be sent. Call it before exit.
func Flush() {
	sentry.Flush(flushTimeout)
}

// CaptureError reports err with the request's method, path and request id
// attached.
func CaptureError(r *http.Request, err error) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("method", r.Method)
		scope.SetTag("path", r.URL.Path)
		if id := chimiddleware.GetReqID(r.Context()); id != "" {
			scope.SetTag("request_id", id)
		}
		sentry.CaptureException(err)
	})
}

// Recoverer turns a panic into a 500 JSON response, logs it and reports it to
// Sentry. http.ErrAbortHandler is re-panicked so net/http can abort the
// connection.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				stack := string(debug.Stack())
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("method", r.Method)
					scope.SetTag("path", r.URL.Path)
					scope.SetExtra("panic", rec)
					scope.SetExtra("stack", stack)
					sentry.CaptureMessage("panic in request")
				})

				logger.Error("panic recovered",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
					slog.String("request_id", chimiddleware.GetReqID(r.Context())),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "internal_error",
					"message": "An internal error occurred",
				})
			}()

			next.ServeHTTP(w, r)
		})
	}
}
