package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bulc-license-server/internal/infra/metrics"
	"bulc-license-server/internal/usecase"
)

// StatsWorker refreshes the license population gauges.
type StatsWorker struct {
	interval time.Duration
	licUC    *usecase.LicenseUseCase
	log      *zerolog.Logger
}

func NewStatsWorker(interval time.Duration, licUC *usecase.LicenseUseCase, logger *zerolog.Logger) *StatsWorker {
	l := logger.With().Str("component", "StatsWorker").Logger()
	return &StatsWorker{interval: interval, licUC: licUC, log: &l}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			counts, err := w.licUC.CountByStatus(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("stats worker error")
				continue
			}
			metrics.SetLicensesTotal(counts)
		}
	}
}
