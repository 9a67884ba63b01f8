// Package metrics exposes Prometheus instrumentation for every BTPS
// component: identity resolution, the connection engine, the transporter
// pool, the envelope codec, and authentication.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "btps"

// Registry is the process-wide registry every metric in this package is
// registered against. Callers that want an isolated registry for tests can
// construct their own collectors directly; package-level metrics always use
// this one.
var Registry = prometheus.NewRegistry()
