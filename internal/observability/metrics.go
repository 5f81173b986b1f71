// README: Prometheus collectors for order transitions, cleanup sweeps, notifications and HTTP.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dropoff"

var (
	FeeQuotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "fee_quotes_total", Help: "Fee computations by order type and outcome"},
		[]string{"type", "outcome"},
	)

	OrderTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "order_transitions_total", Help: "Applied order status transitions"},
		[]string{"from", "to"},
	)
	OrderConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "order_conflicts_total", Help: "Order saves rejected by a version mismatch"})

	PointsAwardedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rider_points_awarded_total", Help: "Incentive points awarded to riders"})
	TierUpgradesTotal  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rider_tier_upgrades_total", Help: "Rider tier upgrades by new tier"},
		[]string{"tier"},
	)

	CleanupRunsTotal      = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "cleanup_runs_total", Help: "Unpaid order sweeps executed"})
	CleanupCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "cleanup_cancelled_total", Help: "Orders cancelled by the unpaid order sweep"})
	CleanupFailedTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "cleanup_failed_total", Help: "Per-order failures during the unpaid order sweep"})
	CleanupDuration       = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "cleanup_duration_seconds", Help: "Unpaid order sweep latency"})

	NotificationsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "notifications_dropped_total", Help: "Notifications dropped because the queue was full"})
	NotificationErrorsTotal   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notification_errors_total", Help: "Notification delivery failures by sink"},
		[]string{"sink"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
