// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Review outcomes recorded by RecordReview.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeUpstream    = "upstream_error"
	OutcomeInvalid     = "invalid"
)

// Recorder is what the services and middleware report to.
// Collector is the Prometheus implementation; Nop discards everything.
type Recorder interface {
	RecordReview(outcome string)
	RecordQuotaDecision(admitted bool)
	RecordAuth(method, outcome string)
	RecordExtraction(found bool)
	RecordProviderLatency(d time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	reviews         *prometheus.CounterVec
	quotaDecisions  *prometheus.CounterVec
	authEvents      *prometheus.CounterVec
	extractions     *prometheus.CounterVec
	providerLatency prometheus.Histogram
	httpStatus      *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codereviewer_reviews_total",
			Help: "Code review requests by outcome.",
		}, []string{"outcome"}),
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codereviewer_quota_decisions_total",
			Help: "Quota admission decisions.",
		}, []string{"decision"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codereviewer_auth_events_total",
			Help: "Authentication attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codereviewer_improved_code_extractions_total",
			Help: "Improved-code extraction attempts by result.",
		}, []string{"result"}),
		providerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "codereviewer_provider_latency_seconds",
			Help:    "Latency of AI provider calls in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codereviewer_http_responses_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.reviews,
		c.quotaDecisions,
		c.authEvents,
		c.extractions,
		c.providerLatency,
		c.httpStatus,
	)

	return c
}

// RecordReview counts one review request by outcome.
func (c *Collector) RecordReview(outcome string) {
	c.reviews.WithLabelValues(outcome).Inc()
}

// RecordQuotaDecision counts one quota admission decision.
func (c *Collector) RecordQuotaDecision(admitted bool) {
	decision := "rejected"
	if admitted {
		decision = "admitted"
	}
	c.quotaDecisions.WithLabelValues(decision).Inc()
}

// RecordAuth counts one authentication attempt, e.g. ("local", "ok").
func (c *Collector) RecordAuth(method, outcome string) {
	c.authEvents.WithLabelValues(method, outcome).Inc()
}

// RecordExtraction counts one improved-code extraction.
func (c *Collector) RecordExtraction(found bool) {
	result := "absent"
	if found {
		result = "found"
	}
	c.extractions.WithLabelValues(result).Inc()
}

// RecordProviderLatency observes one AI provider call.
func (c *Collector) RecordProviderLatency(d time.Duration) {
	c.providerLatency.Observe(d.Seconds())
}

// RecordHTTPStatus counts one HTTP response.
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop is a Recorder that records nothing.
type Nop struct{}

func (Nop) RecordReview(string)                 {}
func (Nop) RecordQuotaDecision(bool)            {}
func (Nop) RecordAuth(string, string)           {}
func (Nop) RecordExtraction(bool)               {}
func (Nop) RecordProviderLatency(time.Duration) {}
func (Nop) RecordHTTPStatus(int)                {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
