package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bulc-license-server/internal/infra/metrics"
	"bulc-license-server/internal/usecase"
)

// ExpiryWorker periodically expires the activations of licenses whose grace
// window ended. Effective status stays computed on read; this only reclaims
// device slots and invalidates offline tokens.
type ExpiryWorker struct {
	interval  time.Duration
	batchSize int
	licUC     *usecase.LicenseUseCase
	log       *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, batchSize int, licUC *usecase.LicenseUseCase, logger *zerolog.Logger) *ExpiryWorker {
	l := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval:  interval,
		batchSize: batchSize,
		licUC:     licUC,
		log:       &l,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.licUC.ExpireHardExpired(ctx, w.batchSize)
			if err != nil {
				w.log.Error().Err(err).Msg("expiry worker error")
			}
			if n > 0 {
				metrics.AddActivationsExpired(n)
				w.log.Info().Int("count", n).Msg("hard-expired licenses processed")
			}
		}
	}
}
