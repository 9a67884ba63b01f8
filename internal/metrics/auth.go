package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthTokensIssued tracks generate_auth_token calls.
	AuthTokensIssued = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "tokens_issued_total",
			Help:      "Total number of auth tokens issued",
		},
	)

	// RefreshTokensIssued tracks agent registration / reissue calls.
	RefreshTokensIssued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refresh_tokens_issued_total",
			Help:      "Total number of refresh tokens issued",
		},
		[]string{"reason"}, // register, reissue
	)

	// TokenValidations tracks validate_auth_token outcomes.
	TokenValidations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "validations_total",
			Help:      "Total number of auth token validations",
		},
		[]string{"outcome"}, // valid, invalid
	)
)
