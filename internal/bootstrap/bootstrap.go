// Package bootstrap wires configuration into running components. All three
// binaries build the same stack; only their run loops differ.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"dealscout/internal/blacklist"
	"dealscout/internal/catalog"
	"dealscout/internal/condition"
	"dealscout/internal/config"
	"dealscout/internal/dealtracker"
	"dealscout/internal/domain"
	"dealscout/internal/marketvalue"
	"dealscout/internal/normalize"
	"dealscout/internal/observability"
	"dealscout/internal/pipeline"
	"dealscout/internal/proxy"
	"dealscout/internal/publish"
	"dealscout/internal/scoring"
	"dealscout/internal/source"
	"dealscout/internal/source/cardmarket"
	"dealscout/internal/source/ebay"
	"dealscout/internal/source/retail"
	"dealscout/internal/source/vinted"
	"dealscout/internal/storage"
	chstore "dealscout/internal/storage/clickhouse"
	"dealscout/internal/storage/memory"
	"dealscout/internal/storage/migrations"
	pgstore "dealscout/internal/storage/postgres"
	redisstore "dealscout/internal/storage/redis"
)

// Stores bundles the storage implementations the service runs on.
type Stores struct {
	Deals   storage.DealStore
	Cards   storage.CardStore
	Values  storage.MarketValueStore
	Samples storage.PriceSampleStore
	Cache   storage.DealCache // nil disables caching
}

// CreateStores connects the configured backends and runs migrations.
// ClickHouse and Redis are optional; their absence falls back to memory
// samples and no cache. The returned cleanup closes every connection.
func CreateStores(ctx context.Context, cfg *config.Config, useMemory bool) (*Stores, func(), error) {
	if useMemory {
		stores := &Stores{
			Deals:   memory.NewDealStore(),
			Cards:   memory.NewCardStore(),
			Values:  memory.NewMarketValueStore(),
			Samples: memory.NewPriceSampleStore(),
			Cache:   memory.NewDealCache(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	stores := &Stores{
		Deals:   pgstore.NewDealStore(pool),
		Cards:   pgstore.NewCardStore(pool),
		Values:  pgstore.NewMarketValueStore(pool),
		Samples: memory.NewPriceSampleStore(),
	}
	cleanup := func() { pool.Close() }

	if cfg.ClickHouse.DSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		stores.Samples = chstore.NewPriceSampleStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
	}

	if cfg.Redis.Addr != "" {
		cache, err := redisstore.NewDealCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		stores.Cache = cache
		prev := cleanup
		cleanup = func() {
			cache.Close()
			prev()
		}
	}

	return stores, cleanup, nil
}

// App bundles the pipeline and its long-running collaborators.
type App struct {
	Pipeline  *pipeline.Pipeline
	Tracker   *dealtracker.Tracker
	Publisher *publish.Publisher
	Matcher   *catalog.Matcher
	Sync      *catalog.SyncClient
}

// BuildApp assembles the pipeline stages from config. The matcher index is
// loaded from the card store before the app is returned; callers that sync
// the catalog afterwards must call Matcher.Refresh again.
func BuildApp(ctx context.Context, cfg *config.Config, stores *Stores, verbose bool) (*App, error) {
	var rates map[string]float64
	if len(cfg.Scoring.PenceRates) > 0 {
		rates = make(map[string]float64, len(cfg.Scoring.PenceRates))
		for k, v := range cfg.Scoring.PenceRates {
			rates[k] = float64(v)
		}
	}
	normalizer := normalize.New(normalize.Options{Rates: rates})

	filter := blacklist.NewDefault()
	if cfg.Blacklist.RulesFile != "" {
		extra, err := blacklist.LoadRulesFile(cfg.Blacklist.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("blacklist rules: %w", err)
		}
		filter = blacklist.New(blacklist.DefaultRules().Merge(extra))
	}

	resolver, err := marketvalue.New(marketvalue.Options{
		Values:   stores.Values,
		Samples:  stores.Samples,
		OutlierK: cfg.Scoring.OutlierK,
	})
	if err != nil {
		return nil, err
	}

	fees := scoring.DefaultFeeSchedule()
	if len(cfg.Scoring.FeeRates) > 0 || len(cfg.Scoring.DefaultShippingPence) > 0 {
		fees = scoring.NewFeeSchedule(cfg.FeeRates(), cfg.DefaultShipping())
	}

	tracker, err := dealtracker.New(dealtracker.Options{
		Deals:     stores.Deals,
		Staleness: cfg.Scheduler.Staleness.Std(),
	})
	if err != nil {
		return nil, err
	}

	publisher, err := publish.New(publish.Options{
		Deals: stores.Deals,
		Cache: stores.Cache,
		TTL:   cfg.Redis.DealTTL.Std(),
	})
	if err != nil {
		return nil, err
	}

	matcher := catalog.NewMatcher(stores.Cards)
	if err := matcher.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("load matcher index: %w", err)
	}

	pipe, err := pipeline.New(pipeline.Options{
		Normalizer: normalizer,
		Classifier: condition.New(),
		Filter:     filter,
		Matcher:    matcher,
		Resolver:   resolver,
		Calculator: scoring.NewCalculator(fees),
		Tracker:    tracker,
		Publisher:  publisher,
		Verbose:    verbose,
	})
	if err != nil {
		return nil, err
	}

	sync, err := catalog.NewSyncClient(catalog.SyncOptions{
		BaseURL: cfg.Catalog.BaseURL,
		APIKey:  cfg.Catalog.APIKey,
		Cards:   stores.Cards,
		Sink:    resolver,
	})
	if err != nil {
		return nil, err
	}

	return &App{Pipeline: pipe, Tracker: tracker, Publisher: publisher, Matcher: matcher, Sync: sync}, nil
}

// SourceEntry pairs an adapter with its configured cadence.
type SourceEntry struct {
	Adapter source.Adapter
	Cadence time.Duration
}

// BuildAdapters constructs one adapter per enabled source.
func BuildAdapters(cfg *config.Config) ([]SourceEntry, error) {
	var entries []SourceEntry

	if cfg.Sources.Ebay.Enabled {
		a, err := ebay.New(ebay.Options{
			AppID:         cfg.Sources.Ebay.AppID,
			CertID:        cfg.Sources.Ebay.CertID,
			Queries:       cfg.Sources.Ebay.Queries,
			PerQueryLimit: cfg.Sources.Ebay.PerQueryLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("ebay source: %w", err)
		}
		entries = append(entries, SourceEntry{Adapter: a, Cadence: cfg.Sources.Ebay.Cadence.Std()})
	}

	// The browser-driven sources share one proxy pool so a proxy burnt on
	// one site is quarantined for both.
	var pool *proxy.Pool
	proxyPool := func() *proxy.Pool {
		if len(cfg.Proxies) == 0 {
			return nil
		}
		if pool == nil {
			pool = proxy.NewPool(proxy.Options{
				URLs: cfg.Proxies,
				OnHealthChange: func(available, dead int) {
					observability.DefaultMetrics.ProxiesInPool.Set(float64(available))
					observability.DefaultMetrics.ProxiesQuarantine.Set(float64(dead))
				},
			})
		}
		return pool
	}

	if cfg.Sources.Vinted.Enabled {
		var p *proxy.Pool
		if cfg.Sources.Vinted.UseProxies {
			p = proxyPool()
		}
		a, err := vinted.New(vinted.Options{
			Queries:    cfg.Sources.Vinted.Queries,
			PerQuery:   cfg.Sources.Vinted.PerQuery,
			Proxies:    p,
			ChromePath: cfg.Sources.Vinted.ChromePath,
		})
		if err != nil {
			return nil, fmt.Errorf("vinted source: %w", err)
		}
		entries = append(entries, SourceEntry{Adapter: a, Cadence: cfg.Sources.Vinted.Cadence.Std()})
	}

	if cfg.Sources.Cardmarket.Enabled {
		var p *proxy.Pool
		if cfg.Sources.Cardmarket.UseProxies {
			p = proxyPool()
		}
		a, err := cardmarket.New(cardmarket.Options{
			Queries:     cfg.Sources.Cardmarket.Queries,
			PerQuery:    cfg.Sources.Cardmarket.PerQuery,
			MinPriceEUR: cfg.Sources.Cardmarket.MinPriceEUR,
			MaxPriceEUR: cfg.Sources.Cardmarket.MaxPriceEUR,
			Proxies:     p,
			ChromePath:  cfg.Sources.Cardmarket.ChromePath,
		})
		if err != nil {
			return nil, fmt.Errorf("cardmarket source: %w", err)
		}
		entries = append(entries, SourceEntry{Adapter: a, Cadence: cfg.Sources.Cardmarket.Cadence.Std()})
	}

	for _, shop := range cfg.Sources.Shops {
		a, err := retail.New(retail.Options{
			Platform: domain.Platform(shop.Platform),
			BaseURL:  shop.BaseURL,
			ListPath: shop.ListPath,
			MaxPages: shop.MaxPages,
		})
		if err != nil {
			return nil, fmt.Errorf("shop source %s: %w", shop.Platform, err)
		}
		entries = append(entries, SourceEntry{Adapter: a, Cadence: shop.Cadence.Std()})
	}

	return entries, nil
}

// LoadConfig reads the YAML file, or returns the built-in defaults when no
// path is given.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
