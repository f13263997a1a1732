// cmd/circulation/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"lendingcore/internal/circulation"
	"lendingcore/internal/clients"
	"lendingcore/internal/config"
	"lendingcore/internal/events"
	"lendingcore/internal/eventstore"
	"lendingcore/internal/httpx"
	"lendingcore/internal/logger"
	"lendingcore/internal/server"
	"lendingcore/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "circulation:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Mode, "circulation")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := server.SignalContext(context.Background())
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, log, "circulation", cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	var (
		store   circulation.LoanStore
		sinks   events.Multi
		history circulation.HistoryReader
		relay   *eventstore.Relay
	)

	var pub *events.RedisPublisher
	if cfg.Redis.Addr != "" {
		pub, err = events.NewRedisPublisher(ctx, log, cfg.Redis.Addr, cfg.Redis.Channel)
		if err != nil {
			return err
		}
		defer pub.Close()
	}

	if cfg.DatabaseURL != "" {
		db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		pg := circulation.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		es := eventstore.NewStore(db)
		if err := es.Migrate(ctx); err != nil {
			return err
		}
		store, history = pg, es
		sinks = append(sinks, eventstore.NewSink(es, log, "circulation"))
		if pub != nil {
			relay = eventstore.NewRelay(es, pub, log, "lending-redis", 100)
		}
	} else {
		log.Warn("DATABASE_URL not set, loans are kept in memory")
		store = circulation.NewMemoryStore()
		if pub != nil {
			sinks = append(sinks, pub)
		}
	}

	fines, err := circulation.NewFineCalculator(cfg.Circulation.DailyFineRate, cfg.Circulation.Currency)
	if err != nil {
		return err
	}

	svc := circulation.NewService(
		store,
		clients.NewMembershipClient(cfg.Membership, nil, log),
		clients.NewInventoryClient(cfg.Inventory, nil, log),
		sinks,
		log,
		circulation.WithFineCalculator(fines),
		circulation.WithLoanPeriod(cfg.Circulation.LoanDays),
		circulation.WithLocation(cfg.Location()),
		circulation.WithReconcileLimits(
			cfg.Circulation.ReconcileBatch,
			cfg.Circulation.ReconcileParallelism,
			cfg.Circulation.MaxSyncAttempts,
		),
	)

	sched := circulation.NewScheduler(log, cfg.Location())
	if err := sched.AddCirculation(svc, cfg.Circulation.SweepSchedule, cfg.Circulation.ReconcileSchedule); err != nil {
		return err
	}
	if relay != nil {
		if err := sched.Add("event-relay", cfg.Circulation.RelaySchedule, func(ctx context.Context) error {
			_, err := relay.RunOnce(ctx)
			return err
		}); err != nil {
			return err
		}
	}
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			log.Warn("scheduler did not stop cleanly", zap.Error(err))
		}
	}()

	r := httpx.NewRouter(log)
	h := circulation.NewHandler(svc, log)
	if history != nil {
		h.WithHistory(history)
	}
	h.Register(r)

	return server.Run(ctx, log, cfg.ListenAddr("8082"), r)
}
