package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novelcondense/novelcondense/internal/core"
)

// Dispatch records dispatcher events. It satisfies engine.Observer.
type Dispatch struct {
	attempts        *prometheus.CounterVec
	requests        *prometheus.CounterVec
	cooldowns       *prometheus.CounterVec
	requestDuration prometheus.Histogram
	requestAttempts prometheus.Histogram
	outputRatio     prometheus.Histogram
}

// NewDispatch creates and registers dispatch metrics.
func NewDispatch(reg prometheus.Registerer) *Dispatch {
	d := &Dispatch{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "provider_attempts_total",
				Help:      "Provider calls by credential and result",
			},
			[]string{"credential", "status", "kind"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "dispatch_requests_total",
				Help:      "Finished dispatch requests by final status",
			},
			[]string{"status", "kind"},
		),
		cooldowns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "credential_cooldowns_total",
				Help:      "Cooldowns started per credential and failure kind",
			},
			[]string{"credential", "kind"},
		),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "dispatch_request_duration_seconds",
			Help:      "Wall time from submit to final outcome, including waits",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120, 240},
		}),
		requestAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "dispatch_request_attempts",
			Help:      "Provider attempts per dispatch request",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		}),
		outputRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "condense_output_ratio_percent",
			Help:      "Output length as a percentage of input for successful requests",
			Buckets:   prometheus.LinearBuckets(10, 10, 9),
		}),
	}
	if reg != nil {
		reg.MustRegister(d.attempts, d.requests, d.cooldowns, d.requestDuration, d.requestAttempts, d.outputRatio)
	}
	return d
}

// AttemptFinished counts one provider call.
func (d *Dispatch) AttemptFinished(cred core.Credential, outcome core.DispatchOutcome) {
	d.attempts.WithLabelValues(cred.ID(), string(outcome.Status), kindLabel(outcome.Kind)).Inc()
}

// RequestFinished records the final outcome of a request.
func (d *Dispatch) RequestFinished(outcome core.DispatchOutcome) {
	d.requests.WithLabelValues(string(outcome.Status), kindLabel(outcome.Kind)).Inc()
	d.requestDuration.Observe(outcome.Duration.Seconds())
	if outcome.Attempts > 0 {
		d.requestAttempts.Observe(float64(outcome.Attempts))
	}
	if outcome.Succeeded() && outcome.InputChars > 0 {
		d.outputRatio.Observe(core.Ratio(outcome.InputChars, outcome.OutputChars))
	}
}

// CooldownStarted counts a credential entering cooldown.
func (d *Dispatch) CooldownStarted(cred core.Credential, kind core.FailureKind, _ time.Duration) {
	d.cooldowns.WithLabelValues(cred.ID(), kindLabel(kind)).Inc()
}

func kindLabel(kind core.FailureKind) string {
	if kind == core.FailureNone {
		return "none"
	}
	return string(kind)
}
