package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bulc-license-server/internal/infra/metrics"
	"bulc-license-server/internal/usecase"
)

// StaleWorker flips long-silent ACTIVE activations to STALE so support can
// tell a held device slot from a live one. STALE devices keep their slot.
type StaleWorker struct {
	interval  time.Duration
	afterDays int
	licUC     *usecase.LicenseUseCase
	log       *zerolog.Logger
}

func NewStaleWorker(interval time.Duration, afterDays int, licUC *usecase.LicenseUseCase, logger *zerolog.Logger) *StaleWorker {
	l := logger.With().Str("component", "StaleWorker").Logger()
	return &StaleWorker{
		interval:  interval,
		afterDays: afterDays,
		licUC:     licUC,
		log:       &l,
	}
}

func (w *StaleWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting stale worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping stale worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.licUC.MarkStaleActivations(ctx, w.afterDays)
			if err != nil {
				w.log.Error().Err(err).Msg("stale worker error")
			}
			if n > 0 {
				metrics.AddActivationsMarkedStale(n)
				w.log.Info().Int64("count", n).Msg("activations marked stale")
			}
		}
	}
}
