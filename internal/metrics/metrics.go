// Package metrics exposes Prometheus instrumentation for the rule engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesProcessed counts messages run through the pipeline, by outcome.
	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailflow_messages_processed_total",
		Help: "Messages processed by the rule engine, partitioned by outcome.",
	}, []string{"outcome"})

	// RuleExecutions counts executed-rule records by final status.
	RuleExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailflow_rule_executions_total",
		Help: "Rule execution records created, partitioned by status.",
	}, []string{"status"})

	// ChooserCalls counts language-model rule selection round-trips.
	ChooserCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailflow_chooser_calls_total",
		Help: "AI rule chooser calls, partitioned by result.",
	}, []string{"result"})

	// ScheduledActionsProcessed counts scheduler outcomes per sweep.
	ScheduledActionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailflow_scheduled_actions_processed_total",
		Help: "Scheduled actions finalized by the sweep loop, partitioned by status.",
	}, []string{"status"})

	// SweepDuration observes how long each scheduler sweep takes.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mailflow_sweep_duration_seconds",
		Help:    "Duration of scheduled action sweeps.",
		Buckets: prometheus.DefBuckets,
	})

	// ProviderErrors counts normalized provider failures by kind.
	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailflow_provider_errors_total",
		Help: "Provider call failures, partitioned by error kind.",
	}, []string{"kind"})
)
