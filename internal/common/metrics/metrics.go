// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notification emails accepted by the transport",
		},
		[]string{"transport"},
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Total number of notification emails the transport rejected",
		},
		[]string{"transport"},
	)

	NotificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_send_duration_seconds",
			Help:    "Duration of a single transport send in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	ScheduledRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduled_runs_total",
			Help: "Total number of scheduled notification runs",
		},
	)

	ScheduledNotificationsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_notifications_skipped_total",
			Help: "Due notifications skipped during a scheduled run, by reason",
		},
		[]string{"reason"},
	)
)
