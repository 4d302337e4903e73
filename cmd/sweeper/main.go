package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"clinicore/internal/audit"
	"clinicore/internal/entity"
	"clinicore/internal/platform/config"
	"clinicore/internal/platform/lock"
	"clinicore/internal/platform/logger"
	"clinicore/internal/platform/postgres"
	redisclient "clinicore/internal/platform/redis"
	"clinicore/internal/subscription"
	subscriptionmetrics "clinicore/internal/subscription/metrics"
	"clinicore/pkg/requestcontext"
)

// The sweeper moves lapsed subscriptions to expired on a fixed interval. It
// runs alongside the server; per-account locks and guarded updates make
// concurrent sweeps safe.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if cfg.PostgresDSN == "" {
		log.Error("POSTGRES_DSN is required, an in-memory sweeper has nothing to sweep")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Error("audit db open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var locker lock.Locker = lock.NewKeyedMutex()
	rc, err := redisclient.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	if rc != nil {
		defer rc.Close()
		locker = lock.NewRedisLocker(rc.Client, cfg.LockTTL)
	}

	publisher := audit.NewPublisher(audit.NewPostgresStore(db))
	subs := subscription.NewService(
		subscription.NewPostgresStore(pool),
		entity.NewPostgres(pool),
		locker,
		publisher,
		log,
		subscriptionmetrics.New(),
	)

	log.Info("starting sweeper", "interval", cfg.SweepInterval, "env", cfg.Env)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("sweeper shutting down")
			return
		case <-ticker.C:
			tickCtx := requestcontext.WithTime(ctx, time.Now())
			expired, err := subs.ExpireSweep(tickCtx)
			if err != nil {
				log.Error("expire sweep failed", "error", err)
				continue
			}
			if expired > 0 {
				log.Info("expire sweep completed", "expired", expired)
			}
		}
	}
}
