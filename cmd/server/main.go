package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"clinicore/internal/audit"
	"clinicore/internal/entity"
	"clinicore/internal/integrity/enforcer"
	"clinicore/internal/integrity/reconciler"
	reconcilermetrics "clinicore/internal/integrity/reconciler/metrics"
	"clinicore/internal/migrate"
	"clinicore/internal/platform/config"
	"clinicore/internal/platform/httpserver"
	"clinicore/internal/platform/lock"
	"clinicore/internal/platform/logger"
	"clinicore/internal/platform/postgres"
	redisclient "clinicore/internal/platform/redis"
	"clinicore/internal/subscription"
	subscriptionmetrics "clinicore/internal/subscription/metrics"
	httptransport "clinicore/internal/transport/http"
)

// startupMigrations is the additive schema set applied before anything else
// touches the store. Safe to re-run on every boot.
var startupMigrations = []migrate.Migration{
	{Kind: entity.KindPatient, Field: "insurance_code", Type: "text", Default: ""},
	{Kind: entity.KindAppointment, Field: "room", Type: "text"},
	{Kind: entity.KindPayment, Field: "tax_minor", Type: "bigint", Default: int64(0)},
}

// main wires high-level dependencies, runs migrations, exposes the admin
// router, and keeps the server lifecycle small. Business logic lives in the
// internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		entityStore entity.Store
		subStore    subscription.Store
		schemaStore migrate.SchemaStore
		auditStore  audit.Store
		auditDB     *sql.DB
	)

	if cfg.PostgresDSN != "" {
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pgEntities := entity.NewPostgres(pool)
		pgSchema := migrate.NewPostgresSchema(pool)
		pgSubs := subscription.NewPostgresStore(pool)

		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("audit db open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pgAudit := audit.NewPostgresStore(db)

		for name, ensure := range map[string]func(context.Context) error{
			"entity":       pgEntities.EnsureSchema,
			"migrations":   pgSchema.EnsureSchema,
			"subscription": pgSubs.EnsureSchema,
			"audit":        pgAudit.EnsureSchema,
		} {
			if err := ensure(ctx); err != nil {
				log.Error("schema bootstrap failed", "schema", name, "error", err)
				os.Exit(1)
			}
		}

		entityStore, subStore, schemaStore, auditStore, auditDB = pgEntities, pgSubs, pgSchema, pgAudit, db
	} else {
		log.Info("no POSTGRES_DSN set, using in-memory stores")
		entityStore = entity.NewInMemory()
		subStore = subscription.NewInMemoryStore()
		schemaStore = migrate.NewInMemorySchema()
		auditStore = audit.NewInMemoryStore()
	}

	// Migrations run to completion before any request is served.
	runner := migrate.NewRunner(migrate.New(schemaStore, log))
	if err := runner.Run(ctx, startupMigrations); err != nil {
		log.Error("startup migrations failed", "error", err)
		os.Exit(1)
	}

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

	publisher := audit.NewPublisher(auditStore)
	scanner := enforcer.NewScanner(entityStore)
	rec := reconciler.New(entityStore, publisher, log, reconcilermetrics.New())
	subs := subscription.NewService(subStore, entityStore, locker, publisher, log, subscriptionmetrics.New())

	handler := httptransport.NewHandler(scanner, rec, subs, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	group, ctx := errgroup.WithContext(ctx)

	if cfg.KafkaBrokers != "" && auditDB != nil {
		kafkaClient, err := kgo.NewClient(
			kgo.SeedBrokers(strings.Split(cfg.KafkaBrokers, ",")...),
			kgo.DefaultProduceTopic(cfg.AuditTopic),
		)
		if err != nil {
			log.Error("kafka connect failed", "error", err)
			os.Exit(1)
		}
		defer kafkaClient.Close()

		relay := audit.NewKafkaRelay(auditDB, kafkaClient, cfg.AuditTopic, 0, log)
		group.Go(func() error {
			err := relay.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		log.Info("starting clinicore", "addr", cfg.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
