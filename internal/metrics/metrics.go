// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished workflow runs by outcome (completed, failed).
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fluxus",
		Name:      "runs_total",
		Help:      "Finished workflow runs by outcome.",
	}, []string{"outcome"})

	// ActiveRuns tracks workflow runs currently executing.
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fluxus",
		Name:      "active_runs",
		Help:      "Workflow runs currently in flight.",
	})

	// NodeExecutions counts node executions by node type and terminal status.
	NodeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fluxus",
		Name:      "node_executions_total",
		Help:      "Node executions by type and terminal status.",
	}, []string{"type", "status"})

	// NodeDuration observes wall time per node execution.
	NodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fluxus",
		Name:      "node_duration_seconds",
		Help:      "Node execution wall time.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"type"})

	// RetriesTotal counts retry attempts by node type.
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fluxus",
		Name:      "retries_total",
		Help:      "Retry attempts by node type.",
	}, []string{"type"})

	// EventsDropped counts stream events shed by overloaded session queues.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fluxus",
		Name:      "events_dropped_total",
		Help:      "Events shed from session backlogs under pressure.",
	})

	// AgentIterations counts agent loop iterations per session outcome.
	AgentIterations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fluxus",
		Name:      "agent_iterations_total",
		Help:      "Agent reasoning iterations by outcome.",
	}, []string{"outcome"})
)
