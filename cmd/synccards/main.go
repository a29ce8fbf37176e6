// Package main syncs card reference data and market prices from the
// catalog service, then exits.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"dealscout/internal/bootstrap"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to YAML config (empty uses built-in defaults)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	sets := flag.String("sets", "", "Comma-separated set IDs to sync (overrides config)")
	flag.Parse()

	logger := log.New(os.Stdout, "[synccards] ", log.LstdFlags)

	cfg, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}

	setIDs := cfg.Catalog.Sets
	if *sets != "" {
		setIDs = nil
		for _, s := range strings.Split(*sets, ",") {
			if s = strings.TrimSpace(s); s != "" {
				setIDs = append(setIDs, s)
			}
		}
	}
	if len(setIDs) == 0 {
		logger.Fatal("No sets to sync. Use --sets or the catalog.sets config key")
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

	app, err := bootstrap.BuildApp(ctx, cfg, stores, false)
	if err != nil {
		logger.Fatalf("Build components: %v", err)
	}

	logger.Printf("Syncing %d sets from %s", len(setIDs), cfg.Catalog.BaseURL)
	stats := app.Sync.SyncSets(ctx, setIDs)
	logger.Printf("Done: %d sets, %d cards, %d price samples",
		stats.SetsSynced, stats.CardsSynced, stats.SamplesFed)
}
