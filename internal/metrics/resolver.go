package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolverLookups tracks DNS TXT lookups by kind and outcome.
	ResolverLookups = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "lookups_total",
			Help:      "Total number of identity resolver DNS lookups",
		},
		[]string{"kind", "outcome"}, // host/key, ok/not_found/incomplete/error
	)

	// ResolverCacheHits tracks cache hits that avoided a DNS round trip.
	ResolverCacheHits = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "cache_hits_total",
			Help:      "Total number of resolver lookups served from cache",
		},
	)

	// LookupDuration tracks DNS round-trip latency.
	LookupDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "lookup_duration_seconds",
			Help:      "DNS TXT lookup duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"kind"},
	)
)
