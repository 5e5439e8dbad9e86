// Package metrics exposes Prometheus instrumentation for the orchestration core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsRouted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "router",
		Name:      "events_routed_total",
		Help:      "Normalized events routed to pipelines.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "router",
		Name:      "events_dropped_total",
		Help:      "Raw events dropped for schema violations.",
	})

	RuleMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "router",
		Name:      "rule_matches_total",
		Help:      "Routing rule matches by rule name.",
	}, []string{"rule"})

	ActionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "kernel",
		Name:      "actions_dispatched_total",
		Help:      "Actions dispatched to subsystem handlers, by final status.",
	}, []string{"status"})

	PolicyVetoes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "kernel",
		Name:      "policy_vetoes_total",
		Help:      "Actions vetoed by blocking guardrail failures.",
	})

	AllocationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "kernel",
		Name:      "allocation_retries_total",
		Help:      "Actions requeued while waiting for a resource.",
	})

	ActionsShed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "kernel",
		Name:      "actions_shed_total",
		Help:      "Actions shed under queue overload.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "kernel",
		Name:      "queue_depth",
		Help:      "Actions currently waiting on the priority queue.",
	})

	ActiveExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "workflow",
		Name:      "active_executions",
		Help:      "Workflow executions currently pending or running.",
	})

	GuardrailChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "policy",
		Name:      "guardrail_checks_total",
		Help:      "Guardrail checks evaluated, by severity and verdict.",
	}, []string{"severity", "verdict"})

	AllocatedResources = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "resources",
		Name:      "allocated",
		Help:      "Resources currently under an active allocation.",
	})
)
