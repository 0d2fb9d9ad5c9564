package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novelcondense/novelcondense/internal/core"
)

// StateSource reports live credential state, typically the dispatcher.
type StateSource interface {
	States() []core.ProviderState
}

// GlobalSource reports the aggregate window, typically the rate tracker.
type GlobalSource interface {
	GlobalOccupancy() int
}

// CredentialCollector reads credential windows at scrape time.
type CredentialCollector struct {
	states    StateSource
	global    GlobalSource
	globalMax int

	inWindow *prometheus.Desc
	limit    *prometheus.Desc
	cooling  *prometheus.Desc
	invalid  *prometheus.Desc
	window   *prometheus.Desc
	maxRPM   *prometheus.Desc
}

// NewCredentialCollector builds a collector over states and the global window.
func NewCredentialCollector(states StateSource, global GlobalSource, globalMax int) *CredentialCollector {
	labels := []string{"credential", "kind", "model"}
	return &CredentialCollector{
		states:    states,
		global:    global,
		globalMax: globalMax,
		inWindow: prometheus.NewDesc(prometheus.BuildFQName(Namespace, "credential", "window_requests"),
			"Requests admitted in the trailing 60s window", labels, nil),
		limit: prometheus.NewDesc(prometheus.BuildFQName(Namespace, "credential", "rpm_limit"),
			"Configured requests per minute", labels, nil),
		cooling: prometheus.NewDesc(prometheus.BuildFQName(Namespace, "credential", "cooling"),
			"1 while the credential is in cooldown", labels, nil),
		invalid: prometheus.NewDesc(prometheus.BuildFQName(Namespace, "credential", "invalid"),
			"1 once the credential has been removed from the pool", labels, nil),
		window: prometheus.NewDesc(prometheus.BuildFQName(Namespace, "global", "window_requests"),
			"Requests admitted across all credentials in the trailing 60s window", nil, nil),
		maxRPM: prometheus.NewDesc(prometheus.BuildFQName(Namespace, "global", "rpm_limit"),
			"Configured global requests per minute", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *CredentialCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inWindow
	ch <- c.limit
	ch <- c.cooling
	ch <- c.invalid
	ch <- c.window
	ch <- c.maxRPM
}

// Collect implements prometheus.Collector.
func (c *CredentialCollector) Collect(ch chan<- prometheus.Metric) {
	if c.states != nil {
		now := time.Now()
		for _, st := range c.states.States() {
			labels := []string{st.Credential, st.Kind, st.Model}
			ch <- prometheus.MustNewConstMetric(c.inWindow, prometheus.GaugeValue, float64(st.InWindow), labels...)
			ch <- prometheus.MustNewConstMetric(c.limit, prometheus.GaugeValue, float64(st.RPM), labels...)
			ch <- prometheus.MustNewConstMetric(c.cooling, prometheus.GaugeValue, boolValue(st.CoolingUntil != nil && st.CoolingUntil.After(now)), labels...)
			ch <- prometheus.MustNewConstMetric(c.invalid, prometheus.GaugeValue, boolValue(st.Invalid), labels...)
		}
	}
	if c.global != nil {
		ch <- prometheus.MustNewConstMetric(c.window, prometheus.GaugeValue, float64(c.global.GlobalOccupancy()))
	}
	if c.globalMax > 0 {
		ch <- prometheus.MustNewConstMetric(c.maxRPM, prometheus.GaugeValue, float64(c.globalMax))
	}
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
