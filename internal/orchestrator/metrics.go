package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mhubd",
			Subsystem: "jobs",
			Name:      "terminal_total",
			Help:      "Jobs reaching a terminal state, by state",
		},
		[]string{"state"},
	)

	jobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mhubd",
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Jobs currently in a non-terminal state",
		},
	)

	pullsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mhubd",
			Subsystem: "images",
			Name:      "pulls_total",
			Help:      "Image pulls, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal, jobsActive, pullsTotal)
}
