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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hackgods/dna-testing-scheduling/internal/api"
	"github.com/hackgods/dna-testing-scheduling/internal/app/bootstrap"
	"github.com/hackgods/dna-testing-scheduling/internal/config"
	"github.com/hackgods/dna-testing-scheduling/internal/db"
	"github.com/hackgods/dna-testing-scheduling/internal/logging"
	redisclient "github.com/hackgods/dna-testing-scheduling/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "dev")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "api-server").Logger()
	logger.Info().Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	if err := db.ApplySchema(rootCtx, pgPool); err != nil {
		logger.Fatal().Err(err).Msg("schema migration failed")
	}
	logger.Info().Msg("connected to Postgres")

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

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svcs := bootstrap.BuildServices(cfg, pgPool, rdb, reg, logger)
	defer svcs.Dispatcher.Wait()

	handler := api.NewRouter(api.RouterConfig{
		Slots:              svcs.Slots,
		Reservations:       svcs.Reservations,
		Appointments:       svcs.Appointments,
		Payments:           svcs.Payments,
		Kits:               svcs.Kits,
		Postgres:           pgPool,
		Redis:              api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		Gatherer:           reg,
		Limiter:            rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		Logger:             logger,
		JWTSecret:          cfg.JWTSecret,
		GatewayChecksumKey: cfg.Gateway.ChecksumKey,
		Env:                cfg.Env,
		Version:            version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down api-server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.EmbeddedSweeper {
		sweeper := bootstrap.BuildSweeper(cfg, svcs, logger)
		g.Go(func() error {
			return sweeper.Start(ctx, cfg.WorkerSchedule)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api-server stopped with error")
		svcs.Dispatcher.Wait()
		os.Exit(1)
	}
	logger.Info().Msg("api-server stopped")
}
