package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lessonforge_provider_request_duration_seconds",
			Help:    "Provider request duration in seconds by backend",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"backend", "status"},
	)

	rateLimiterWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lessonforge_rate_limiter_wait_duration_seconds",
			Help:    "Rate limiter wait duration in seconds by backend",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"backend"},
	)

	unitAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonforge_unit_attempts_total",
			Help: "Total unit generation attempts by outcome",
		},
		[]string{"outcome"}, // "success", "retryable", "fatal"
	)

	unitsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lessonforge_units_generated_total",
			Help: "Total units reaching a terminal state",
		},
		[]string{"status"}, // "completed", "error"
	)

	unitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lessonforge_unit_duration_seconds",
			Help:    "Wall-clock duration to reach a terminal unit state, retries included",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~2000s
		},
	)
)

// Collector provides convenience methods for recording metrics.
type Collector struct{}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordProviderRequest records a provider call duration.
func (c *Collector) RecordProviderRequest(backend string, duration time.Duration, success bool) {
	if c == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	providerRequestDuration.WithLabelValues(backend, status).Observe(duration.Seconds())
}

// RecordRateLimiterWait records rate limiter wait time.
func (c *Collector) RecordRateLimiterWait(backend string, duration time.Duration) {
	if c == nil {
		return
	}
	rateLimiterWaitDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordUnitAttempt records the outcome of one generation attempt.
func (c *Collector) RecordUnitAttempt(outcome string) {
	if c == nil {
		return
	}
	unitAttempts.WithLabelValues(outcome).Inc()
}

// RecordUnitDone records a unit reaching a terminal state.
func (c *Collector) RecordUnitDone(status string, duration time.Duration) {
	if c == nil {
		return
	}
	unitsGenerated.WithLabelValues(status).Inc()
	unitDuration.Observe(duration.Seconds())
}
