package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for lifecycle checker runs.
type Metrics struct {
	Runs                  prometheus.Counter
	RunsSkipped           prometheus.Counter
	RunDuration           prometheus.Histogram
	TenantsExpired        *prometheus.CounterVec
	NotificationsEnqueued *prometheus.CounterVec
	TenantErrors          prometheus.Counter
	LastRunUnix           prometheus.Gauge
}

// New registers and returns lifecycle metrics collectors.
func New() *Metrics {
	return &Metrics{
		Runs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "calniq_lifecycle_runs_total",
			Help: "Total number of completed lifecycle checker runs",
		}),
		RunsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "calniq_lifecycle_runs_skipped_total",
			Help: "Total number of runs skipped because a run was already in progress",
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "calniq_lifecycle_run_duration_seconds",
			Help:    "Duration of lifecycle checker runs in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
		TenantsExpired: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "calniq_lifecycle_tenants_expired_total",
			Help: "Total number of tenants transitioned to expired, by prior status",
		}, []string{"from"}),
		NotificationsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "calniq_lifecycle_notifications_enqueued_total",
			Help: "Total number of notifications appended to the outbox, by kind",
		}, []string{"kind"}),
		TenantErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "calniq_lifecycle_tenant_errors_total",
			Help: "Total number of per-tenant failures isolated during runs",
		}),
		LastRunUnix: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "calniq_lifecycle_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last completed run",
		}),
	}
}
