// Package metrics holds the relay's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session metrics
var (
	// ActiveSessions tracks sessions currently in the SessionSet.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alertrelay_active_sessions",
			Help: "Number of client sessions currently relaying",
		},
	)

	// SessionsTotal counts sessions by how they ended.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertrelay_sessions_total",
			Help: "Client sessions by close reason",
		},
		[]string{"reason"},
	)

	// SessionsRejected counts upgrades refused by connection limits.
	SessionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertrelay_sessions_rejected_total",
			Help: "Client connections rejected before upgrade by limit",
		},
		[]string{"limit"},
	)

	// SessionDuration observes how long sessions live.
	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alertrelay_session_duration_seconds",
			Help:    "Lifetime of client sessions in seconds",
			Buckets: []float64{1, 10, 60, 300, 1800, 3600, 21600, 86400},
		},
	)
)

// Traffic metrics
var (
	// LinesForwarded counts upstream lines delivered to clients by severity.
	LinesForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertrelay_lines_forwarded_total",
			Help: "Upstream lines forwarded to clients, by alert severity",
		},
		[]string{"severity"},
	)

	// UpstreamDialErrors counts failed connection attempts to the alert source.
	UpstreamDialErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertrelay_upstream_dial_errors_total",
			Help: "Failed connection attempts to the alert source",
		},
	)

	// TransportErrors counts I/O failures during active relay by side.
	TransportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertrelay_transport_errors_total",
			Help: "I/O failures during relay by side (client/upstream)",
		},
		[]string{"side"},
	)

	// SlowConsumersEvicted counts shared-mode subscribers dropped for a full queue.
	SlowConsumersEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alertrelay_slow_consumers_evicted_total",
			Help: "Shared-mode subscribers disconnected because their queue was full",
		},
	)
)
