// Package metric owns the Prometheus registry and the HTTP server exposing
// it. The bridge registers its provisioning counters here; Go runtime and
// process collectors come along for free.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry wraps a dedicated Prometheus registry so the bridge never
// collides with the default global one.
type Registry struct {
	prom *prometheus.Registry
}

// NewRegistry creates a registry preloaded with Go runtime and process
// collectors.
func NewRegistry() *Registry {
	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{prom: prom}
}

// Prometheus returns the underlying registry for registering collectors.
func (r *Registry) Prometheus() *prometheus.Registry { return r.prom }
