package provisioning

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects counters for deployment runs. Each run gets its own
// registry so parallel stack deployments never share metric state.
type Metrics struct {
	registry *prometheus.Registry

	StepExecutions     *prometheus.CounterVec
	StepDuration       *prometheus.HistogramVec
	PropagationRetries prometheus.Counter
	RollbackResources  *prometheus.CounterVec
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		StepExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stacktier",
			Name:      "step_executions_total",
			Help:      "Workflow step executions by result",
		}, []string{"step", "result"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stacktier",
			Name:      "step_duration_seconds",
			Help:      "Workflow step duration",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"step"}),
		PropagationRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stacktier",
			Name:      "propagation_retries_total",
			Help:      "Compute launches retried on identity propagation delay",
		}),
		RollbackResources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stacktier",
			Name:      "rollback_resources_total",
			Help:      "Resources processed during rollback by outcome",
		}, []string{"family", "outcome"}),
	}

	reg.MustRegister(m.StepExecutions, m.StepDuration, m.PropagationRetries, m.RollbackResources)
	return m
}

// Registry exposes the underlying registry for gathering in tests and for
// optional push-style export.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
