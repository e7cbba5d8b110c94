// Package metrics exposes counters about one bindgraph run. The registry is
// private to the run; the CLI can dump it as a node_exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of one run. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	recordsScanned  prometheus.Counter
	recordsIgnored  *prometheus.CounterVec
	graphsResolved  *prometheus.CounterVec
	nodesResolved   prometheus.Counter
	diagnostics     *prometheus.CounterVec
	resolveDuration prometheus.Histogram
}

// New returns collectors registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		recordsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bindgraph_records_scanned_total",
			Help: "Number of aggregation records read from all sources.",
		}),
		recordsIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bindgraph_records_ignored_total",
			Help: "Number of aggregation records skipped, by reason.",
		}, []string{"reason"}),
		graphsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bindgraph_graphs_resolved_total",
			Help: "Number of component graphs resolved, by graph variant.",
		}, []string{"variant"}),
		nodesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bindgraph_nodes_resolved_total",
			Help: "Number of binding nodes in resolved pruned graphs.",
		}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bindgraph_diagnostics_total",
			Help: "Number of diagnostics reported, by kind.",
		}, []string{"kind"}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bindgraph_root_resolution_duration_seconds",
			Help:    "Time taken to resolve and validate one root.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.recordsScanned,
		m.recordsIgnored,
		m.graphsResolved,
		m.nodesResolved,
		m.diagnostics,
		m.resolveDuration,
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordScanned() {
	if m != nil {
		m.recordsScanned.Inc()
	}
}

func (m *Metrics) RecordIgnored(reason string) {
	if m != nil {
		m.recordsIgnored.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) GraphResolved(full bool, nodes int) {
	if m == nil {
		return
	}
	variant := "pruned"
	if full {
		variant = "full"
	}
	m.graphsResolved.WithLabelValues(variant).Inc()
	if !full {
		m.nodesResolved.Add(float64(nodes))
	}
}

func (m *Metrics) Diagnostic(kind string) {
	if m != nil {
		m.diagnostics.WithLabelValues(kind).Inc()
	}
}

// DeclareDiagnosticKinds exports a zero series for every kind.
func (m *Metrics) DeclareDiagnosticKinds(kinds ...string) {
	if m == nil {
		return
	}
	for _, k := range kinds {
		m.diagnostics.WithLabelValues(k)
	}
}

func (m *Metrics) ObserveResolution(d time.Duration) {
	if m != nil {
		m.resolveDuration.Observe(d.Seconds())
	}
}

// WriteTextfile writes the registry in the text exposition format to path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
