// Package metrics exposes Prometheus collectors for workflow engine outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeRejected  = "rejected"
	OutcomeNotFound  = "not_found"
	OutcomeConflict  = "conflict"
	OutcomeIntegrity = "integrity"
	OutcomeError     = "error"
)

// Recorder collects engine metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	definitions *prometheus.CounterVec
	instances   *prometheus.CounterVec
	actions     *prometheus.CounterVec
	completed   prometheus.Counter
	duration    *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		definitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_definitions_created_total",
				Help: "Definition create requests by outcome",
			},
			[]string{"outcome"},
		),
		instances: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_instances_started_total",
				Help: "Instance start requests by outcome",
			},
			[]string{"outcome"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_actions_executed_total",
				Help: "Action execution requests by outcome and rejection code",
			},
			[]string{"outcome", "code"},
		),
		completed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "workflow_instances_completed_total",
				Help: "Instances that reached a final state",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_operation_duration_seconds",
				Help:    "Duration of engine operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
	if reg != nil {
		reg.MustRegister(r.definitions, r.instances, r.actions, r.completed, r.duration)
	}
	return r
}

// DefinitionCreated counts a CreateDefinition outcome.
func (r *Recorder) DefinitionCreated(outcome string) {
	if r == nil {
		return
	}
	r.definitions.WithLabelValues(outcome).Inc()
}

// InstanceStarted counts a StartInstance outcome.
func (r *Recorder) InstanceStarted(outcome string) {
	if r == nil {
		return
	}
	r.instances.WithLabelValues(outcome).Inc()
}

// ActionExecuted counts an ExecuteAction outcome. code is the rejection code
// for rejected requests and empty otherwise.
func (r *Recorder) ActionExecuted(outcome, code string) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(outcome, code).Inc()
}

// InstanceCompleted counts an instance entering a final state.
func (r *Recorder) InstanceCompleted() {
	if r == nil {
		return
	}
	r.completed.Inc()
}

// ObserveDuration records how long operation took since start.
func (r *Recorder) ObserveDuration(operation string, start time.Time) {
	if r == nil {
		return
	}
	r.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
