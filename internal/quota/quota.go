// Package quota meters code-review requests per identity with a fixed
// window counter.
package quota

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sakif/code-reviewer/internal/apperror"
	"github.com/sakif/code-reviewer/internal/metrics"
	"github.com/sakif/code-reviewer/internal/repository"
)

const (
	// DefaultLimit is the number of reviews allowed per window.
	DefaultLimit = 10
	// DefaultWindow is the length of one quota window.
	DefaultWindow = 24 * time.Hour
)

// Decision is the outcome of one admission check.
type Decision struct {
	Admitted  bool      `json:"admitted"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"resetAt"`
}

// RetryAfter is how long a rejected caller should wait, rounded up to whole
// seconds and never less than one.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	secs := int64(math.Ceil(d.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Meter enforces the per-identity review quota.
type Meter struct {
	store   repository.QuotaRepository
	limit   int
	window  time.Duration
	now     func() time.Time
	metrics metrics.Recorder
}

// Option configures a Meter.
type Option func(*Meter)

// WithLimit sets the number of admissions per window.
func WithLimit(n int) Option {
	return func(m *Meter) {
		if n > 0 {
			m.limit = n
		}
	}
}

// WithWindow sets the window length.
func WithWindow(d time.Duration) Option {
	return func(m *Meter) {
		if d > 0 {
			m.window = d
		}
	}
}

// WithClock replaces time.Now. Tests use it to cross window boundaries.
func WithClock(now func() time.Time) Option {
	return func(m *Meter) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMetrics reports each decision to r.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Meter) {
		if r != nil {
			m.metrics = r
		}
	}
}

// NewMeter creates a Meter over store with the default 10 per 24h policy
// unless overridden.
func NewMeter(store repository.QuotaRepository, opts ...Option) *Meter {
	m := &Meter{
		store:   store,
		limit:   DefaultLimit,
		window:  DefaultWindow,
		now:     time.Now,
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limit returns the configured admissions per window.
func (m *Meter) Limit() int { return m.limit }

// Window returns the configured window length.
func (m *Meter) Window() time.Duration { return m.window }

// TryAdmit consumes one slot for key if any is left.
//
// key is the authenticated identity id. Anonymous callers are not metered,
// they are refused: an empty key is apperror.ErrUnauthorized. A rejection
// is a normal Decision with Admitted=false, not an error; the caller decides
// how to surface it.
func (m *Meter) TryAdmit(ctx context.Context, key string) (Decision, error) {
	if key == "" {
		return Decision{}, apperror.Unauthorized("sign in to request a code review")
	}

	rec, admitted, err := m.store.Admit(ctx, key, m.limit, m.window, m.now().UTC())
	if err != nil {
		return Decision{}, fmt.Errorf("quota: admitting %s: %w", key, err)
	}
	m.metrics.RecordQuotaDecision(admitted)

	return Decision{
		Admitted:  admitted,
		Remaining: rec.Remaining(),
		Limit:     rec.Limit,
		ResetAt:   rec.ResetAt(m.window),
	}, nil
}

// Status reports the quota for key without consuming a slot. Admitted
// says whether the next TryAdmit would succeed.
func (m *Meter) Status(ctx context.Context, key string) (Decision, error) {
	if key == "" {
		return Decision{}, apperror.Unauthorized("sign in to view your quota")
	}

	rec, err := m.store.Peek(ctx, key, m.limit, m.window, m.now().UTC())
	if err != nil {
		return Decision{}, fmt.Errorf("quota: reading %s: %w", key, err)
	}

	return Decision{
		Admitted:  rec.Remaining() > 0,
		Remaining: rec.Remaining(),
		Limit:     rec.Limit,
		ResetAt:   rec.ResetAt(m.window),
	}, nil
}
