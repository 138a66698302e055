package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventMutationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planner_service",
		Subsystem: "events",
		Name:      "mutations_total",
		Help:      "Number of committed event mutations, labeled by kind.",
	}, []string{"kind"})

	lastMutationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "planner_service",
		Subsystem: "events",
		Name:      "last_mutation_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed event mutation.",
	})

	conflictCheckCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planner_service",
		Subsystem: "conflicts",
		Name:      "checks_total",
		Help:      "Number of conflict checks, labeled by outcome.",
	}, []string{"outcome"})

	workflowTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planner_service",
		Subsystem: "reschedule",
		Name:      "workflow_transitions_total",
		Help:      "Reschedule workflow transitions, labeled by source and target state.",
	}, []string{"from", "to"})
)

func init() {
	prometheus.MustRegister(eventMutationCounter, lastMutationGauge, conflictCheckCounter, workflowTransitionCounter)
}

// RecordEventMutation counts a committed mutation and updates the watermark gauge.
func RecordEventMutation(kind string, ts time.Time) {
	eventMutationCounter.WithLabelValues(kind).Inc()
	if ts.IsZero() {
		return
	}
	lastMutationGauge.Set(float64(ts.Unix()))
}

// RecordConflictCheck counts a conflict check by outcome.
func RecordConflictCheck(conflict bool) {
	outcome := "clear"
	if conflict {
		outcome = "conflict"
	}
	conflictCheckCounter.WithLabelValues(outcome).Inc()
}

// RecordWorkflowTransition counts a reschedule workflow state change.
func RecordWorkflowTransition(from, to string) {
	workflowTransitionCounter.WithLabelValues(from, to).Inc()
}

// MutationCounter exposes the per-kind counter for tests.
func MutationCounter(kind string) prometheus.Counter {
	return eventMutationCounter.WithLabelValues(kind)
}
