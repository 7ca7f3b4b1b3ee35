package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/opcbridge/point"
)

// Metrics holds the provisioning counters exposed by a manager. All fields
// are optional at the manager level: a nil Metrics disables instrumentation.
type Metrics struct {
	LoadsTotal      prometheus.Counter
	PointsLoaded    prometheus.Counter
	RowsRejected    *prometheus.CounterVec // reason: skipped|duplicate|error
	ResolvesTotal   prometheus.Counter
	NodesResolved   prometheus.Counter
	ResolveRejected *prometheus.CounterVec // reason: duplicate|error
	StartAttempts   prometheus.Counter
	LifecycleState  prometheus.Gauge // 0=absent 1=created 2=started
	ExportsTotal    prometheus.Counter
}

// NewMetrics creates and registers the manager metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opcbridge_definition_loads_total",
			Help: "Number of definition load passes",
		}),
		PointsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opcbridge_points_loaded_total",
			Help: "Point definitions accepted across all loads",
		}),
		RowsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opcbridge_rows_rejected_total",
			Help: "Definition rows not loaded, by reason",
		}, []string{"reason"}),
		ResolvesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opcbridge_resolve_passes_total",
			Help: "Number of node resolution passes",
		}),
		NodesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opcbridge_nodes_resolved_total",
			Help: "Variable nodes created across all resolution passes",
		}),
		ResolveRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opcbridge_resolve_rejected_total",
			Help: "Points not resolved, by reason",
		}, []string{"reason"}),
		StartAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opcbridge_start_attempts_total",
			Help: "Underlying endpoint start attempts, including retries",
		}),
		LifecycleState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opcbridge_lifecycle_state",
			Help: "Current lifecycle state (0=absent, 1=created, 2=started)",
		}),
		ExportsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opcbridge_alias_exports_total",
			Help: "Completed alias-map exports",
		}),
	}

	reg.MustRegister(
		m.LoadsTotal, m.PointsLoaded, m.RowsRejected,
		m.ResolvesTotal, m.NodesResolved, m.ResolveRejected,
		m.StartAttempts, m.LifecycleState, m.ExportsTotal,
	)

	return m
}

func (m *Metrics) recordLoad(stats point.LoadStats) {
	if m == nil {
		return
	}
	m.LoadsTotal.Inc()
	m.PointsLoaded.Add(float64(stats.Loaded))
	m.RowsRejected.WithLabelValues("skipped").Add(float64(stats.Skipped))
	m.RowsRejected.WithLabelValues("duplicate").Add(float64(stats.Duplicates))
	m.RowsRejected.WithLabelValues("error").Add(float64(stats.Errors))
}

func (m *Metrics) recordResolve(stats ResolveStats) {
	if m == nil {
		return
	}
	m.ResolvesTotal.Inc()
	m.NodesResolved.Add(float64(stats.Resolved))
	m.ResolveRejected.WithLabelValues("duplicate").Add(float64(stats.Duplicates))
	m.ResolveRejected.WithLabelValues("error").Add(float64(stats.Errors))
}

func (m *Metrics) recordState(s State) {
	if m == nil {
		return
	}
	m.LifecycleState.Set(float64(s))
}

func (m *Metrics) recordStartAttempt() {
	if m == nil {
		return
	}
	m.StartAttempts.Inc()
}

func (m *Metrics) recordExport() {
	if m == nil {
		return
	}
	m.ExportsTotal.Inc()
}
