package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciler metrics
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_ticks_total",
			Help: "Total number of reconciliation ticks",
		},
	)

	TicksSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_ticks_skipped_total",
			Help: "Ticks skipped because a previous tick was still running",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paddock_tick_duration_seconds",
			Help:    "Duration of a full reconciliation tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paddock_sweep_duration_seconds",
			Help:    "Duration of individual sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	SweepErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_sweep_errors_total",
			Help: "Total number of sweep failures by sweep name",
		},
		[]string{"sweep"},
	)

	// Deferred action metrics
	ActionsRequested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_actions_requested_total",
			Help: "Provider actions requested by action name",
		},
		[]string{"action"},
	)

	ActionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_action_transitions_total",
			Help: "Deferred action transitions by outcome",
		},
		[]string{"outcome"},
	)

	// Sweep outcome metrics
	AppsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_apps_expired_total",
			Help: "Apps marked expired by the expiration sweep",
		},
	)

	LogsEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_logs_evicted_total",
			Help: "Log entries deleted by the retention sweep, by kind",
		},
		[]string{"kind"},
	)

	// Notification metrics
	NotificationsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_notifications_dispatched_total",
			Help: "Channel dispatch attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// Authorization metrics
	AuthorizationsDenied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_authorizations_denied_total",
			Help: "Permission checks that evaluated to deny",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		TicksSkipped,
		TickDuration,
		SweepDuration,
		SweepErrors,
		ActionsRequested,
		ActionTransitions,
		AppsExpired,
		LogsEvicted,
		NotificationsDispatched,
		AuthorizationsDenied,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
