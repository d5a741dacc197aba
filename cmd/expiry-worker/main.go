package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/dna-testing-scheduling/internal/app/bootstrap"
	"github.com/hackgods/dna-testing-scheduling/internal/config"
	"github.com/hackgods/dna-testing-scheduling/internal/db"
	"github.com/hackgods/dna-testing-scheduling/internal/logging"
	redisclient "github.com/hackgods/dna-testing-scheduling/internal/redis"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "dev")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "expiry-worker").Logger()
	logger.Info().Str("schedule", cfg.WorkerSchedule).Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()

	svcs := bootstrap.BuildServices(cfg, pgPool, rdb, nil, logger)
	defer svcs.Dispatcher.Wait()
	sweeper := bootstrap.BuildSweeper(cfg, svcs, logger)

	if *once {
		rep, err := sweeper.RunOnce(rootCtx)
		if err != nil {
			logger.Error().Err(err).Msg("sweep failed")
			return
		}
		logger.Info().
			Int("reservations", rep.Reservations).
			Int("appointments", rep.Appointments).
			Int("released_leftover", rep.ReleasedLeftover).
			Int("reconciled", rep.Reconciled).
			Msg("sweep complete")
		return
	}

	if err := sweeper.Start(rootCtx, cfg.WorkerSchedule); err != nil {
		logger.Error().Err(err).Msg("expiry worker stopped with error")
		return
	}
	logger.Info().Msg("shutdown signal received, expiry worker stopped")
}
