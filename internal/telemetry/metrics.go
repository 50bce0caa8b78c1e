package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsAccepted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "image_jobs_accepted_total", Help: "Jobs accepted by the API"})
	JobsCompleted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "image_jobs_completed_total", Help: "Jobs that reached a completed outcome"})
	JobsFailed         = prometheus.NewCounter(prometheus.CounterOpts{Name: "image_jobs_failed_total", Help: "Jobs that reached a failed outcome"})
	FallbackApplied    = prometheus.NewCounter(prometheus.CounterOpts{Name: "image_fallback_applied_total", Help: "Local fallback transforms applied"})
	CallbackAttempts   = prometheus.NewCounter(prometheus.CounterOpts{Name: "image_callback_attempts_total", Help: "Callback HTTP attempts"})
	CallbacksDelivered = prometheus.NewCounter(prometheus.CounterOpts{Name: "image_callbacks_delivered_total", Help: "Callbacks delivered successfully"})
	CallbacksFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "image_callbacks_failed_total", Help: "Callbacks abandoned after exhausting retries"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "image_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	InFlightGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "image_jobs_inflight", Help: "Jobs currently holding an admission slot"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsAccepted,
			JobsCompleted,
			JobsFailed,
			FallbackApplied,
			CallbackAttempts,
			CallbacksDelivered,
			CallbacksFailed,
			RateLimitRejects,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
