// cmd/api/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"lendingcore/internal/config"
	"lendingcore/internal/gateway"
	"lendingcore/internal/logger"
	"lendingcore/internal/server"
	"lendingcore/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "api:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Mode, "api-gateway")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := server.SignalContext(context.Background())
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, log, "api-gateway", cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	h, err := gateway.New(cfg.Gateway, log)
	if err != nil {
		return err
	}
	return server.Run(ctx, log, cfg.ListenAddr("8080"), h)
}
