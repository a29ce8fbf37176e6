// Package main runs every enabled source through the pipeline once and
// exits. Useful for smoke-testing a config before running the full server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"dealscout/internal/bootstrap"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to YAML config (empty uses built-in defaults)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	flag.Parse()

	logger := log.New(os.Stdout, "[scrape] ", log.LstdFlags)

	cfg, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("Interrupted, cancelling")
		cancel()
	}()

	stores, cleanup, err := bootstrap.CreateStores(ctx, cfg, *useMemory)
	if err != nil {
		logger.Fatalf("Create stores: %v", err)
	}
	defer cleanup()

	app, err := bootstrap.BuildApp(ctx, cfg, stores, true)
	if err != nil {
		logger.Fatalf("Build components: %v", err)
	}

	adapters, err := bootstrap.BuildAdapters(cfg)
	if err != nil {
		logger.Fatalf("Build sources: %v", err)
	}
	if len(adapters) == 0 {
		logger.Fatal("No sources enabled; check the sources section of the config")
	}

	failed := 0
	for _, entry := range adapters {
		a := entry.Adapter
		cycleCtx, cycleCancel := context.WithTimeout(ctx, cfg.Scheduler.CycleBudget.Std())
		stats, err := app.Pipeline.Run(cycleCtx, a)
		cycleCancel()
		if err != nil {
			logger.Printf("%s: cycle failed: %v", a.Platform(), err)
			failed++
			continue
		}
		logger.Printf("%s: fetched=%d normalized=%d dropped=%d rejected=%d unmatched=%d recorded=%d created=%d unscored=%d",
			a.Platform(), stats.Fetched, stats.Normalized, stats.Dropped, stats.Rejected,
			stats.Unmatched, stats.Recorded, stats.Created, stats.Unscored)
	}

	if failed == len(adapters) {
		logger.Fatal("All sources failed")
	}
}
