// cmd/chaos/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"lendingcore/internal/chaos"
	"lendingcore/internal/config"
	"lendingcore/internal/logger"
	"lendingcore/internal/server"
)

func main() {
	out := flag.String("out", "", "write results as JSON to this file")
	pause := flag.Duration("pause", time.Second, "quiet time between experiments")
	flag.Parse()

	os.Exit(run(*out, *pause))
}

func run(out string, pause time.Duration) int {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "chaos:", err)
		return 2
	}
	log, err := logger.New(cfg.Mode, "chaos")
	if err != nil {
		fmt.Fprintln(os.Stderr, "chaos:", err)
		return 2
	}
	defer log.Sync()

	ctx, stop := server.SignalContext(context.Background())
	defer stop()

	lab, err := chaos.NewLab(chaos.DefaultLabConfig(), log)
	if err != nil {
		log.Error("lab setup failed", zap.Error(err))
		return 2
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lab.Close(closeCtx)
	}()

	engine := chaos.NewEngine(log).SampleEvery(250 * time.Millisecond)
	chaos.RegisterAll(engine, lab)

	results, err := engine.RunGameDay(ctx, chaos.GameDay{
		Name:      "Lending game day " + time.Now().Format(time.DateOnly),
		Scenarios: engine.Experiments(),
		Pause:     pause,
	})
	if err != nil {
		log.Error("game day interrupted", zap.Error(err))
		return 2
	}

	if out != "" {
		raw, err := json.MarshalIndent(results, "", "  ")
		if err == nil {
			err = os.WriteFile(out, raw, 0o644)
		}
		if err != nil {
			log.Error("write results", zap.String("path", out), zap.Error(err))
		}
	}

	failed := len(engine.Experiments()) - len(results)
	for _, r := range results {
		if !r.HypothesisHeld {
			failed++
		}
	}
	if failed > 0 {
		log.Error("hypotheses did not hold", zap.Int("failed", failed), zap.Int("ran", len(results)))
		return 1
	}
	log.Info("all hypotheses held", zap.Int("ran", len(results)))
	return 0
}
