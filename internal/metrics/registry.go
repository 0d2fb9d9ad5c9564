package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "novelcondense"

// Registry bundles the process collectors with the application's own.
type Registry struct {
	reg *prometheus.Registry

	Dispatch *Dispatch
	HTTP     *HTTP
}

// New creates a registry with Go runtime and process collectors attached.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:      reg,
		Dispatch: NewDispatch(reg),
		HTTP:     NewHTTP(reg),
	}
}

// Register adds a custom collector, such as a CredentialCollector.
func (r *Registry) Register(c prometheus.Collector) error {
	return r.reg.Register(c)
}

// Gatherer exposes the underlying registry for tests and exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
