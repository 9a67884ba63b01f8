package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsIssued tracks agent.Command() calls by action.
	CommandsIssued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "commands_issued_total",
			Help:      "Total number of agent commands issued",
		},
		[]string{"action", "status"}, // trust.request/..., ok/error/rejected
	)

	// QueueDepth tracks the per-engine serial command queue length.
	QueueDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "command_queue_depth",
			Help:      "Current number of commands queued behind an in-flight command",
		},
	)

	// ProcessMessageDuration tracks ProcessMessage verification+decrypt latency.
	ProcessMessageDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "process_message_duration_seconds",
			Help:      "process_message duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
	)

	// DocumentSize tracks transporter/agent artifact document sizes.
	DocumentSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "document_size_bytes",
			Help:      "Size of artifact documents in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		},
	)
)
