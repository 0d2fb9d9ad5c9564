package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTP records request metrics for the serve command.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
	panics   prometheus.Counter
}

// NewHTTP creates and registers HTTP metrics.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	h := &HTTP{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "endpoint", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "errors_total",
				Help:      "Error responses by error code and status",
			},
			[]string{"error_code", "http_status"},
		),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "panics_total",
			Help:      "Recovered handler panics",
		}),
	}
	if reg != nil {
		reg.MustRegister(h.requests, h.duration, h.errors, h.panics)
	}
	return h
}

// ObserveRequest records one finished request. endpoint must be a route
// pattern, not a raw path.
func (h *HTTP) ObserveRequest(method, endpoint string, status int, d time.Duration) {
	if h == nil {
		return
	}
	h.requests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	h.duration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// RecordError records an error response with code and status.
func (h *HTTP) RecordError(errorCode string, httpStatus int) {
	if h == nil {
		return
	}
	h.errors.WithLabelValues(errorCode, strconv.Itoa(httpStatus)).Inc()
}

// RecordPanic records a panic recovery.
func (h *HTTP) RecordPanic() {
	if h == nil {
		return
	}
	h.panics.Inc()
}
