package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the session guard.
type Metrics struct {
	Claims    prometheus.Counter
	Matches   prometheus.Counter
	Takeovers prometheus.Counter
}

// New registers and returns session guard collectors.
func New() *Metrics {
	return &Metrics{
		Claims: promauto.NewCounter(prometheus.CounterOpts{
			Name: "calniq_session_guard_claims_total",
			Help: "Total number of sessions that claimed the authoritative token",
		}),
		Matches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "calniq_session_guard_matches_total",
			Help: "Total number of requests whose session token matched the stored token",
		}),
		Takeovers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "calniq_session_guard_takeovers_total",
			Help: "Total number of sessions forcibly terminated after being superseded",
		}),
	}
}
