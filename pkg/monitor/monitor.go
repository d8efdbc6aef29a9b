// Package monitor holds the Prometheus counters of a pod.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pods"

// Metrics are registered on a private registry so that several pods can be
// opened in one process.
type Metrics struct {
	registry *prometheus.Registry

	KVReads  prometheus.Counter
	KVWrites prometheus.Counter

	Commits             prometheus.Counter
	Pushes              prometheus.Counter
	Merges              *prometheus.CounterVec
	CollaboratorCalls   prometheus.Counter
	DeltaLogFailures    prometheus.Counter
	MaterializeFailures prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		KVReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "kv", Name: "reads_total",
			Help: "Key value store read operations.",
		}),
		KVWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "kv", Name: "writes_total",
			Help: "Key value store write operations.",
		}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "commits_total",
			Help: "Revisions sealed by commit.",
		}),
		Pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pushes_total",
			Help: "Versions created by push.",
		}),
		Merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "merges_total",
			Help: "State file set merges by mode.",
		}, []string{"mode"}),
		CollaboratorCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "merge_collaborator_calls_total",
			Help: "Calls into the object state merge collaborator.",
		}),
		DeltaLogFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "delta_log_failures_total",
			Help: "Delta logs that degraded to an empty log.",
		}),
		MaterializeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "materialize_failures_total",
			Help: "State files that could not be written during materialization.",
		}),
	}

	m.registry.MustRegister(
		m.KVReads,
		m.KVWrites,
		m.Commits,
		m.Pushes,
		m.Merges,
		m.CollaboratorCalls,
		m.DeltaLogFailures,
		m.MaterializeFailures,
	)

	return m
}

// Registry exposes the counters, e.g. to a promhttp handler of the embedding service.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// OrNew returns m, or fresh counters when m is nil.
func OrNew(m *Metrics) *Metrics {
	if m == nil {
		return New()
	}
	return m
}
