package metrics

import (
	"bulc-license-server/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		licensesIssuedTotal,
		licensesRevokedTotal,
		licensesTotal,
		activationsExpiredTotal,
		activationsStaleTotal,
	)
}

var (
	licensesIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "licenses_issued_total",
			Help: "Licenses issued, labeled by license type.",
		},
		[]string{"type"}, // 'SUBSCRIPTION', 'PERPETUAL', 'TRIAL'
	)

	licensesRevokedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "licenses_revoked_total",
			Help: "Licenses permanently revoked.",
		},
	)

	licensesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "licenses_total",
			Help: "Current number of licenses by stored status.",
		},
		[]string{"status"}, // 'PENDING', 'ACTIVE', 'SUSPENDED', 'REVOKED'
	)

	activationsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activations_expired_total",
			Help: "Activations expired by the lifecycle worker.",
		},
	)

	activationsStaleTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activations_marked_stale_total",
			Help: "Activations flipped to STALE by the lifecycle worker.",
		},
	)
)

func IncLicensesIssued(licenseType string) {
	licensesIssuedTotal.WithLabelValues(licenseType).Inc()
}

func IncLicensesRevoked() {
	licensesRevokedTotal.Inc()
}

func AddActivationsExpired(count int) {
	activationsExpiredTotal.Add(float64(count))
}

func AddActivationsMarkedStale(count int64) {
	activationsStaleTotal.Add(float64(count))
}

func SetLicensesTotal(counts map[model.LicenseStatus]int) {
	statuses := []model.LicenseStatus{
		model.LicenseStatusPending,
		model.LicenseStatusActive,
		model.LicenseStatusSuspended,
		model.LicenseStatusRevoked,
	}
	for _, status := range statuses {
		if count, ok := counts[status]; ok {
			licensesTotal.WithLabelValues(string(status)).Set(float64(count))
		}
	}
}
