package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestMetrics tracks requests flowing through the pipeline.
//
// Metrics:
//   - mitmgate_requests_total: requests by method, upstream host, status, intercepted
//   - mitmgate_request_duration_seconds: pipeline duration by method
//   - mitmgate_pipeline_errors_total: failed pipeline runs by kind
//   - mitmgate_blocked_requests_total: requests rejected by the host filter
//   - mitmgate_rate_limited_requests_total: requests rejected by a client limit
type RequestMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pipelineErrors  *prometheus.CounterVec
	blockedTotal    prometheus.Counter
	limitedTotal    *prometheus.CounterVec
}

// NewRequestMetrics creates and registers request metrics.
func NewRequestMetrics(namespace string, registry *prometheus.Registry) *RequestMetrics {
	rm := &RequestMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of proxied requests",
			},
			[]string{"method", "host", "status", "intercepted"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time spent in the middleware pipeline in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method"},
		),

		pipelineErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_errors_total",
				Help:      "Total number of pipeline runs that returned an error",
			},
			[]string{"kind"},
		),

		blockedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocked_requests_total",
				Help:      "Total number of requests rejected by the host filter",
			},
		),

		limitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Total number of requests rejected by a per-client limit",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		rm.requestsTotal,
		rm.requestDuration,
		rm.pipelineErrors,
		rm.blockedTotal,
		rm.limitedTotal,
	)

	return rm
}

// RecordRequest records one completed pipeline run.
func (rm *RequestMetrics) RecordRequest(method, host, status string, intercepted bool, duration time.Duration) {
	rm.requestsTotal.WithLabelValues(method, host, status, strconv.FormatBool(intercepted)).Inc()
	rm.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}
