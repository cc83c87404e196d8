package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for notification delivery.
type Metrics struct {
	Sent         *prometheus.CounterVec
	SendFailures prometheus.Counter
	PendingDepth prometheus.Gauge
	BatchSize    prometheus.Histogram
	SendDuration prometheus.Histogram
}

// New registers and returns notification metrics collectors.
func New() *Metrics {
	return &Metrics{
		Sent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "calniq_notifications_sent_total",
			Help: "Total number of notifications delivered, by kind",
		}, []string{"kind"}),
		SendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "calniq_notification_send_failures_total",
			Help: "Total number of failed delivery attempts",
		}),
		PendingDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "calniq_notification_outbox_pending",
			Help: "Number of undelivered notifications in the outbox",
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "calniq_notification_batch_size",
			Help:    "Number of notifications fetched per outbox poll",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		}),
		SendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "calniq_notification_send_duration_seconds",
			Help:    "Duration of mail provider calls in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// IncSent increments the delivered counter for a notification kind.
func (m *Metrics) IncSent(kind string) {
	m.Sent.WithLabelValues(kind).Inc()
}
