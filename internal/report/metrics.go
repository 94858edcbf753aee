package report

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the CWM-wide Prometheus collectors, registered once per
// process and exposed via internal/httpapi's /metrics endpoint.
type Metrics struct {
	IssuesTotal     *prometheus.CounterVec
	FixesAppliedTotal *prometheus.CounterVec
	IterationsTotal prometheus.Counter
	PassStreak      prometheus.Gauge
}

// NewMetrics constructs and registers the CWM metrics against registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		IssuesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cwm_issues_total",
			Help: "Total classified issues observed, by kind.",
		}, []string{"kind"}),
		FixesAppliedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cwm_fixes_applied_total",
			Help: "Total fixes successfully applied (kind label is always \"applied\").",
		}, []string{"kind"}),
		IterationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cwm_iterations_total",
			Help: "Total orchestrator ticks executed.",
		}),
		PassStreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cwm_pass_streak",
			Help: "Consecutive all-green tick count (not updated by the orchestrator; reads 0).",
		}),
	}
	registry.MustRegister(m.IssuesTotal, m.FixesAppliedTotal, m.IterationsTotal, m.PassStreak)
	return m
}
