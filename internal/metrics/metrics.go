// Package metrics provides Prometheus metrics for plexflow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "plexflow"

var (
	// FlowRunsTotal counts flow runs by final status (success, partial, failed).
	FlowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_runs_total",
			Help:      "Total number of flow runs",
		},
		[]string{"flow", "status"},
	)

	// StepsTotal counts executed steps by connector and status.
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of executed steps",
		},
		[]string{"connector", "status"},
	)

	// PipelexRequestsTotal counts pipeline execution items by outcome
	// (success, invalid_params, invalid_inputs, request_error).
	PipelexRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelex_items_total",
			Help:      "Total number of items processed by the pipelex connector",
		},
		[]string{"outcome"},
	)

	// PipelexRequestDuration tracks pipeline execution request latency.
	PipelexRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipelex_request_duration_seconds",
			Help:      "Duration of pipeline execution requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
