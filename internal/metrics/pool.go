package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsRegistered tracks pool register_connection calls.
	ConnectionsRegistered = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "registered_total",
			Help:      "Total number of connections registered with the transporter pool",
		},
		[]string{"status"}, // success, already_exists, max_connections
	)

	// ConnectionsActive tracks currently connected pool entries.
	ConnectionsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "active",
			Help:      "Number of pool entries whose engine is currently connected",
		},
	)

	// ConnectionsTotal tracks total pool entries regardless of connect state.
	ConnectionsTotal = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "total",
			Help:      "Total number of entries currently held by the transporter pool",
		},
	)

	// ConnectionsEvicted tracks TTL-driven evictions.
	ConnectionsEvicted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "evicted_total",
			Help:      "Total number of pool entries removed by TTL expiry",
		},
	)

	// ConnectionsDestroyed tracks every deregistration, including TTL eviction.
	ConnectionsDestroyed = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "destroyed_total",
			Help:      "Total number of pool entries deregistered, including TTL evictions",
		},
	)

	// TransportDuration tracks transport()/transport_batch() call latency.
	TransportDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "transport_duration_seconds",
			Help:      "transport() call duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
		[]string{"status"}, // response, error
	)
)
