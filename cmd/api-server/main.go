package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/clinic-booking-engine/internal/api"
	"github.com/hackgods/clinic-booking-engine/internal/booking"
	"github.com/hackgods/clinic-booking-engine/internal/config"
	"github.com/hackgods/clinic-booking-engine/internal/db"
	"github.com/hackgods/clinic-booking-engine/internal/idempotency"
	"github.com/hackgods/clinic-booking-engine/internal/jobs"
	"github.com/hackgods/clinic-booking-engine/internal/leads"
	"github.com/hackgods/clinic-booking-engine/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-booking-engine/internal/redis"
	"github.com/hackgods/clinic-booking-engine/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New("info", "prod")
		l.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "api-server").Logger()
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 20)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	// Redis is optional at runtime but expected at startup.
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	m := metrics.NewBookingMetrics(prometheus.DefaultRegisterer)
	jobStore := jobs.NewStore(pgPool)

	repo := booking.NewPgRepository(pgPool)
	bookings := booking.NewService(
		repo,
		idempotency.NewStore(pgPool),
		repo,
		redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL),
		jobStore,
		m,
		logger,
		booking.Options{DefaultClinicID: cfg.DefaultClinicID, ClaimTimeout: cfg.ClaimTimeout},
	)
	leadSvc := leads.NewService(
		leads.NewPgRepository(pgPool),
		leads.NewRedisDeduper(rdb, cfg.LeadDedupTTL),
		jobStore,
		m,
		logger,
	)

	router := api.NewRouter(api.RouterConfig{
		Bookings:        bookings,
		Leads:           leadSvc,
		Postgres:        pgPool,
		Redis:           rdb,
		Logger:          logger,
		DefaultClinicID: cfg.DefaultClinicID,
		Env:             cfg.Env,
		Version:         version,
	})

	srv := newHTTPServer(cfg.HTTPPort, router)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server failed")
		stop()
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}

func newHTTPServer(port string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
