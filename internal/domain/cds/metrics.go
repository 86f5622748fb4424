package cds

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine counters. A nil *Metrics records nothing.
type Metrics struct {
	AlertsRaised       *prometheus.CounterVec
	AlertsResolved     *prometheus.CounterVec
	SignRequests       *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	EvaluationFailures prometheus.Counter
}

// NewMetrics creates the engine metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdss_alerts_raised_total",
			Help: "Alerts created by the evaluator",
		}, []string{"type", "severity"}),
		AlertsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdss_alerts_resolved_total",
			Help: "Clinician alert actions",
		}, []string{"action"}),
		SignRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdss_sign_requests_total",
			Help: "Note signing attempts by outcome",
		}, []string{"outcome"}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cdss_evaluation_duration_seconds",
			Help:    "Time to evaluate and store one trigger event",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
		EvaluationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdss_evaluation_failures_total",
			Help: "Evaluations that failed open because the store was unavailable",
		}),
	}
	reg.MustRegister(
		m.AlertsRaised,
		m.AlertsResolved,
		m.SignRequests,
		m.EvaluationDuration,
		m.EvaluationFailures,
	)
	return m
}

func (m *Metrics) raised(a *Alert) {
	if m == nil {
		return
	}
	m.AlertsRaised.WithLabelValues(string(a.Type), a.Severity.String()).Inc()
}

func (m *Metrics) resolved(action Action) {
	if m == nil {
		return
	}
	m.AlertsResolved.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) sign(outcome string) {
	if m == nil {
		return
	}
	m.SignRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observe(seconds float64) {
	if m == nil {
		return
	}
	m.EvaluationDuration.Observe(seconds)
}

func (m *Metrics) failed() {
	if m == nil {
		return
	}
	m.EvaluationFailures.Inc()
}
