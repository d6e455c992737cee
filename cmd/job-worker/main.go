package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/clinic-booking-engine/internal/booking"
	"github.com/hackgods/clinic-booking-engine/internal/config"
	"github.com/hackgods/clinic-booking-engine/internal/db"
	"github.com/hackgods/clinic-booking-engine/internal/jobs"
	"github.com/hackgods/clinic-booking-engine/internal/leads"
	"github.com/hackgods/clinic-booking-engine/internal/notify"
	"github.com/hackgods/clinic-booking-engine/internal/observability/metrics"
	"github.com/hackgods/clinic-booking-engine/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New("info", "prod")
		l.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "job-worker").Logger()
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.JobPollInterval).
		Dur("lease", cfg.JobLease).
		Msg("job-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 5)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	sender := notify.NewEmailSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
	handlers := notify.NewHandlers(
		sender,
		booking.NewPgRepository(pgPool),
		leads.NewPgRepository(pgPool),
		cfg.StaffInboxEmail,
		logger,
	)

	registry, err := buildRegistry(handlers)
	if err != nil {
		logger.Fatal().Err(err).Msg("job registry incomplete")
	}

	runner := jobs.NewRunner(jobs.NewStore(pgPool), registry, metrics.NewBookingMetrics(prometheus.DefaultRegisterer), logger).
		WithInterval(cfg.JobPollInterval).
		WithLease(cfg.JobLease)

	runner.Start(rootCtx)
	logger.Info().Msg("job-worker stopped")
}

// buildRegistry registers every handler and refuses to start with a job type
// nobody handles.
func buildRegistry(handlers *notify.Handlers) (*jobs.Registry, error) {
	registry := jobs.NewRegistry()
	if err := handlers.Register(registry); err != nil {
		return nil, err
	}
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}
