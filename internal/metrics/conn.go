package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectAttempts tracks connect() calls by outcome.
	ConnectAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "connect_attempts_total",
			Help:      "Total number of Connection Engine connect attempts",
		},
		[]string{"outcome"}, // attempted, connected, failed
	)

	// Retries tracks retry decisions by whether a retry was scheduled.
	Retries = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "retries_total",
			Help:      "Total number of retry decisions made after an error or peer-initiated end",
		},
		[]string{"will_retry"}, // true, false
	)

	// MessagesSent tracks frames written to the wire.
	MessagesSent = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "messages_sent_total",
			Help:      "Total number of line-delimited JSON frames written",
		},
	)

	// MessagesReceived tracks frames decoded from the wire.
	MessagesReceived = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "messages_received_total",
			Help:      "Total number of line-delimited JSON frames decoded",
		},
	)

	// BackpressureQueueDepth tracks the current backpressure queue length.
	BackpressureQueueDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "backpressure_queue_depth",
			Help:      "Current number of frames buffered while draining",
		},
	)

	// MessageLatency tracks round-trip time from command send to resolution.
	MessageLatency = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "message_latency_seconds",
			Help:      "Time from command send to response resolution",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)
)
