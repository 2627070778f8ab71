package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenloop/pickup-coordinator/internal/config"
	"github.com/greenloop/pickup-coordinator/internal/db"
	"github.com/greenloop/pickup-coordinator/internal/notify"
	"github.com/greenloop/pickup-coordinator/internal/pickup"
	redisclient "github.com/greenloop/pickup-coordinator/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "expiry-worker").Logger()
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	repo := pickup.NewPgRepository(pgPool)
	locker := redisclient.NewRedisRequestLocker(rdb, cfg.LockTTL)
	store := notify.NewPgStore(pgPool)
	resolver := notify.NewRepoResolver(repo)

	// The worker has no websocket clients; stale-claim cancellations
	// still land in the persistent notification log.
	dispatcher := notify.NewDispatcher(store, nil, resolver, cfg.NotificationTTL, log)
	svc := pickup.NewService(repo, locker, dispatcher, cfg, log)

	// Run once at startup
	runOnce(rootCtx, svc, store, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, store, log)
		}
	}
}

func runOnce(ctx context.Context, svc *pickup.Service, store notify.Store, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	cancelled, err := svc.CancelStalePending(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("stale claim run error")
		return
	}

	purged, err := store.PurgeExpired(runCtx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("notification purge error")
		return
	}

	log.Info().
		Int("claims_cancelled", cancelled).
		Int64("notifications_purged", purged).
		Dur("took", time.Since(start)).
		Msg("expiry run complete")
}
