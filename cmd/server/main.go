// Package main runs the full deal-scouting service: marketplace sources on
// their cadences, the listing pipeline, the deal sweeper, catalog sync and
// the HTTP query API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dealscout/internal/api"
	"dealscout/internal/bootstrap"
	"dealscout/internal/catalog"
	"dealscout/internal/config"
	"dealscout/internal/dealtracker"
	"dealscout/internal/orchestrator"
	"dealscout/internal/publish"
)

func main() {
	// .env is optional; system env wins over file values either way.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to YAML config (empty uses built-in defaults)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	verbose := flag.Bool("verbose", false, "Log per-cycle pipeline stats")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags)

	cfg, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := bootstrap.CreateStores(ctx, cfg, *useMemory)
	if err != nil {
		logger.Fatalf("Create stores: %v", err)
	}
	defer cleanup()

	app, err := bootstrap.BuildApp(ctx, cfg, stores, *verbose)
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

	sched := cfg.Scheduler
	sources := make([]orchestrator.SourceConfig, 0, len(adapters))
	for _, entry := range adapters {
		sources = append(sources, orchestrator.SourceConfig{
			Adapter:      entry.Adapter,
			Cadence:      entry.Cadence,
			FetchTimeout: sched.FetchTimeout.Std(),
			CycleBudget:  sched.CycleBudget.Std(),
		})
		logger.Printf("Source %s enabled, cadence %s", entry.Adapter.Platform(), entry.Cadence)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Runner:           app.Pipeline,
		Sources:          sources,
		CircuitThreshold: sched.CircuitThreshold,
		CircuitCooldown:  sched.CircuitCooldown.Std(),
		BackoffBase:      sched.BackoffBase.Std(),
		BackoffMax:       sched.BackoffMax.Std(),
		Verbose:          *verbose,
	})
	if err != nil {
		logger.Fatalf("Create orchestrator: %v", err)
	}

	server, err := api.NewServer(api.Options{
		Deals:     stores.Deals,
		Cards:     stores.Cards,
		Cache:     stores.Cache,
		Publisher: app.Publisher,
		Refresher: orch,
	})
	if err != nil {
		logger.Fatalf("Create API server: %v", err)
	}

	// Warm the cache from the durable store before traffic arrives.
	if stores.Cache != nil {
		if n, err := app.Publisher.RebuildCache(ctx); err != nil {
			logger.Printf("Cache rebuild failed: %v", err)
		} else {
			logger.Printf("Cache rebuilt with %d active deals", n)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: server}
	httpErr := make(chan error, 1)
	go func() {
		logger.Printf("HTTP API listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	orch.Start(ctx)
	go runSweeper(ctx, app.Tracker, app.Publisher, sched.SweepInterval.Std(), logger)
	go runCatalogSync(ctx, app.Sync, app.Matcher, cfg.Catalog, logger)

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, shutting down", sig)
	case err := <-httpErr:
		logger.Printf("HTTP server error: %v, shutting down", err)
	}

	cancel()

	// A second signal forces immediate exit.
	go func() {
		<-sigCh
		logger.Println("Second signal, forcing exit")
		os.Exit(1)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown: %v", err)
	}
	orch.Wait()
	logger.Println("Shutdown complete")
}

// runSweeper periodically marks deals not re-sighted within the staleness
// window inactive and evicts them from the live cache.
func runSweeper(ctx context.Context, tracker *dealtracker.Tracker, publisher *publish.Publisher, interval time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := tracker.Sweep(ctx)
			if err != nil {
				logger.Printf("Sweep failed: %v", err)
				continue
			}
			for _, dealID := range swept {
				publisher.Evict(ctx, dealID)
			}
			if len(swept) > 0 {
				logger.Printf("Swept %d stale deals", len(swept))
			}
		}
	}
}

// runCatalogSync refreshes card reference data on the configured interval.
// The first sync runs at startup so matching works from the first cycle.
// Each sync rebuilds the matcher index so new cards match immediately.
func runCatalogSync(ctx context.Context, sync *catalog.SyncClient, matcher *catalog.Matcher, cfg config.CatalogConfig, logger *log.Logger) {
	if len(cfg.Sets) == 0 {
		logger.Println("No catalog sets configured, card matching runs on existing data only")
		return
	}
	syncOnce := func() {
		stats := sync.SyncSets(ctx, cfg.Sets)
		if err := matcher.Refresh(ctx); err != nil {
			logger.Printf("Matcher refresh failed: %v", err)
		}
		logger.Printf("Catalog sync: %d sets, %d cards, %d price samples, %d cards indexed",
			stats.SetsSynced, stats.CardsSynced, stats.SamplesFed, matcher.Size())
	}
	syncOnce()

	ticker := time.NewTicker(cfg.SyncInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			syncOnce()
		}
	}
}
