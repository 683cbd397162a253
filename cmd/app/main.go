package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"bulc-license-server/internal/config"
	pg "bulc-license-server/internal/infra/db/postgres"
	"bulc-license-server/internal/infra/logging"
	"bulc-license-server/internal/infra/metrics"
	red "bulc-license-server/internal/infra/redis"
	"bulc-license-server/internal/infra/sched"
	"bulc-license-server/internal/infra/token"
	"bulc-license-server/internal/infra/web"
	"bulc-license-server/internal/usecase"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, int32(cfg.Database.MaxConns))
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Repositories ----
	licenseRepo := pg.NewLicenseRepo(pool)
	activationRepo := pg.NewActivationRepo(pool)
	planRepo := pg.NewPlanRepoCacheDecorator(pg.NewPlanRepo(pool), redisClient)
	productRepo := pg.NewProductRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Token signers ----
	offlineSigner, err := token.NewOfflineSigner(cfg.Token.OfflineSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("offline signer")
	}
	sessionSigner, err := token.NewSessionSigner(cfg.Token.SessionKeyPath, cfg.Token.SessionTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("session signer")
	}
	if !sessionSigner.Enabled() {
		logger.Warn().Msg("session signing key not configured; session tokens disabled")
	}

	// ---- Use cases ----
	validationUC := usecase.NewValidationUseCase(licenseRepo, planRepo, productRepo, txManager, offlineSigner, sessionSigner)
	licenseUC := usecase.NewLicenseUseCase(licenseRepo, activationRepo, planRepo, txManager, txManager)
	planUC := usecase.NewPlanUseCase(planRepo)

	// ---- HTTP server ----
	auth := web.NewAuthManager(cfg.Server.AuthSecret, time.Hour)
	srv := web.NewServer(validationUC, licenseUC, planUC, auth, rateLimiter, cfg.RateLimit.ValidatePerMinute, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	// ---- Background workers ----
	expiryWorker := sched.NewExpiryWorker(cfg.Worker.ExpiryInterval, cfg.Worker.ExpiryBatchSize, licenseUC, logger)
	go func() { _ = expiryWorker.Run(ctx) }()

	staleWorker := sched.NewStaleWorker(cfg.Worker.StaleCheckInterval, cfg.Worker.StaleAfterDays, licenseUC, logger)
	go func() { _ = staleWorker.Run(ctx) }()

	statsWorker := sched.NewStatsWorker(time.Minute, licenseUC, logger)
	go func() { _ = statsWorker.Run(ctx) }()

	go reportPoolStats(ctx, pool)

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := pool.Stat()
			metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
		}
	}
}
