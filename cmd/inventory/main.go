// cmd/inventory/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"lendingcore/internal/clients"
	"lendingcore/internal/config"
	"lendingcore/internal/events"
	"lendingcore/internal/eventstore"
	"lendingcore/internal/httpx"
	"lendingcore/internal/inventory"
	"lendingcore/internal/logger"
	"lendingcore/internal/server"
	"lendingcore/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "inventory:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Mode, "inventory")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := server.SignalContext(context.Background())
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, log, "inventory", cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	var (
		store inventory.CopyStore
		sinks events.Multi
	)
	if cfg.DatabaseURL != "" {
		db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		pg := inventory.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		es := eventstore.NewStore(db)
		if err := es.Migrate(ctx); err != nil {
			return err
		}
		store = pg
		sinks = append(sinks, eventstore.NewSink(es, log, "inventory"))
	} else {
		log.Warn("DATABASE_URL not set, copies are kept in memory")
		store = inventory.NewMemoryStore()
	}

	// With a database the circulation relay forwards the shared log to Redis.
	if cfg.DatabaseURL == "" && cfg.Redis.Addr != "" {
		pub, err := events.NewRedisPublisher(ctx, log, cfg.Redis.Addr, cfg.Redis.Channel)
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	var opts []inventory.Option
	if cfg.Catalog.BaseURL != "" {
		opts = append(opts, inventory.WithItemLookup(clients.NewCatalogClient(cfg.Catalog, nil, log)))
	}
	svc := inventory.NewService(store, sinks, log, opts...)

	r := httpx.NewRouter(log)
	inventory.NewHandler(svc, log).Register(r)

	return server.Run(ctx, log, cfg.ListenAddr("8081"), r)
}
