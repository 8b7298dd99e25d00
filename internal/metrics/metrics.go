// Package metrics exposes Prometheus metrics for the meeting bot core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetbot_sessions_started_total",
			Help: "Total number of bot sessions started",
		},
		[]string{"platform"},
	)

	SessionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetbot_sessions_ended_total",
			Help: "Total number of bot sessions that reached ENDED",
		},
		[]string{"platform", "leave_reason"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meetbot_active_sessions",
			Help: "Number of live bot sessions",
		},
	)

	SessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meetbot_session_duration_seconds",
			Help:    "In-meeting uptime of ended sessions in seconds",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
		[]string{"platform"},
	)

	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetbot_events_processed_total",
			Help: "Canonical events consumed by session state machines",
		},
		[]string{"kind"},
	)

	AnomaliesObserved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meetbot_anomalies_observed_total",
			Help: "Recoverable platform anomalies absorbed by sessions",
		},
	)
)

// Register registers all metrics with the default registry. Call once at
// startup.
func Register() {
	prometheus.MustRegister(
		SessionsStarted,
		SessionsEnded,
		ActiveSessions,
		SessionDuration,
		EventsProcessed,
		AnomaliesObserved,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
