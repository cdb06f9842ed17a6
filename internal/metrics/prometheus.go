package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ReadingsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aquaguard_readings_processed_total",
		Help: "Readings handled by the evaluation engine, by outcome",
	}, []string{"outcome"}) // outcome: ok, duplicate, invalid, error

	AlertsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aquaguard_alerts_created_total",
		Help: "Alerts persisted by the alert factory",
	}, []string{"parameter", "alert_type", "severity"})

	AlertsSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aquaguard_alerts_suppressed_total",
		Help: "Alerts skipped because an active alert already holds the same slot",
	}, []string{"parameter", "alert_type"})

	NotificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aquaguard_notifications_total",
		Help: "Notification dispatch attempts, by result",
	}, []string{"result"}) // result: sent, failed

	StaleAlerts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aquaguard_stale_critical_alerts",
		Help: "Active critical alerts older than the staleness window at the last sweep",
	})

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aquaguard_sweep_duration_seconds",
		Help:    "Wall time of stale-alert sweeps",
		Buckets: prometheus.DefBuckets,
	})

	HealthScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aquaguard_health_score",
		Help: "Last computed overall health score (0-100)",
	})
)

func init() {
	prometheus.MustRegister(
		ReadingsProcessed,
		AlertsCreated, AlertsSuppressed,
		NotificationsSent,
		StaleAlerts, SweepDuration,
		HealthScore,
	)
}
