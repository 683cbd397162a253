package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		validationsTotal,
		sessionConflictsTotal,
		forceEvictionsTotal,
	)
}

var (
	validationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_validations_total",
			Help: "Validation attempts by outcome.",
		},
		[]string{"outcome"}, // 'success', 'failure', 'selection_required', 'session_limit_exceeded', 'error'
	)

	sessionConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "license_session_conflicts_total",
			Help: "Validations rejected because the concurrent session cap was reached.",
		},
	)

	forceEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "license_force_evictions_total",
			Help: "Sessions evicted by force-validate requests.",
		},
	)
)

func IncValidation(outcome string) {
	validationsTotal.WithLabelValues(norm(outcome)).Inc()
	if norm(outcome) == "session_limit_exceeded" {
		sessionConflictsTotal.Inc()
	}
}

func AddForceEvictions(count int) {
	forceEvictionsTotal.Add(float64(count))
}
