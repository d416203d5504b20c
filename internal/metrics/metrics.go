// Package metrics exposes Prometheus instrumentation for hierarchy operations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	DepthRepairs      prometheus.Histogram
	TreeNodes         prometheus.Histogram

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planline_hierarchy_operations_total",
				Help: "Hierarchy operations by operation and outcome code.",
			},
			[]string{"operation", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planline_hierarchy_operation_duration_seconds",
				Help:    "Hierarchy operation latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		DepthRepairs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planline_hierarchy_depth_repairs",
			Help:    "Descendant depths rewritten per mutation.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500},
		}),
		TreeNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planline_tree_nodes",
			Help:    "Nodes materialized per tree query.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		registry: reg,
	}
	reg.MustRegister(m.OperationsTotal, m.OperationDuration, m.DepthRepairs, m.TreeNodes)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOperation counts one operation. outcome is "ok" or an error code.
func (m *Metrics) RecordOperation(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) ObserveRepairs(n int) {
	if m == nil {
		return
	}
	m.DepthRepairs.Observe(float64(n))
}

func (m *Metrics) ObserveTree(nodes int) {
	if m == nil {
		return
	}
	m.TreeNodes.Observe(float64(nodes))
}
