// Package publish fans recorded deals out to consumers: the durable store
// already holds them, the cache serves them fast, and subscribers get a
// live tick. Cache and subscriber delivery are best effort.
package publish

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"dealscout/internal/domain"
	"dealscout/internal/observability"
	"dealscout/internal/storage"
)

// DefaultTTL is how long a cached deal snapshot lives without re-sighting.
const DefaultTTL = 30 * time.Minute

// Options configures a Publisher.
type Options struct {
	Deals storage.DealStore
	Cache storage.DealCache // nil disables caching

	// TTL for cached deals. Zero uses DefaultTTL.
	TTL time.Duration
}

// Publisher pushes recorded deals into the cache and to live subscribers.
// The durable write has already happened by the time Publish is called; a
// cache failure is counted and logged, never escalated.
type Publisher struct {
	deals storage.DealStore
	cache storage.DealCache
	ttl   time.Duration

	mu   sync.Mutex
	subs map[chan *domain.Deal]struct{}
}

// New creates a Publisher.
func New(opts Options) (*Publisher, error) {
	if opts.Deals == nil {
		return nil, fmt.Errorf("publish: deal store is required")
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Publisher{
		deals: opts.Deals,
		cache: opts.Cache,
		ttl:   ttl,
		subs:  make(map[chan *domain.Deal]struct{}),
	}, nil
}

// Publish distributes one recorded deal. Always succeeds; cache errors are
// absorbed here.
func (p *Publisher) Publish(ctx context.Context, d *domain.Deal) {
	if p.cache != nil {
		if err := p.cache.PublishDeal(ctx, d, p.ttl); err != nil {
			observability.DefaultMetrics.CacheErrors.WithLabelValues("publish").Inc()
			log.Printf("publish: cache write for deal %s failed: %v", d.DealID, err)
		}
	}
	p.broadcast(d)
}

// Evict removes a swept deal from the cache.
func (p *Publisher) Evict(ctx context.Context, dealID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.RemoveDeal(ctx, dealID); err != nil {
		observability.DefaultMetrics.CacheErrors.WithLabelValues("evict").Inc()
		log.Printf("publish: cache evict for deal %s failed: %v", dealID, err)
	}
}

// RebuildCache flushes the cache and repopulates it from the durable store.
// Used on cold start; the store remains the source of truth.
func (p *Publisher) RebuildCache(ctx context.Context) (int, error) {
	if p.cache == nil {
		return 0, nil
	}
	if err := p.cache.Flush(ctx); err != nil {
		return 0, fmt.Errorf("rebuild cache: flush: %w", err)
	}
	deals, err := p.deals.Query(ctx, storage.DealFilter{ActiveOnly: true})
	if err != nil {
		return 0, fmt.Errorf("rebuild cache: load active deals: %w", err)
	}
	n := 0
	for _, d := range deals {
		if err := p.cache.PublishDeal(ctx, d, p.ttl); err != nil {
			observability.DefaultMetrics.CacheErrors.WithLabelValues("rebuild").Inc()
			log.Printf("publish: rebuild write for deal %s failed: %v", d.DealID, err)
			continue
		}
		n++
	}
	return n, nil
}

// Subscribe registers a live deal feed. The returned channel drops ticks
// when the subscriber falls behind; cancel must be called when done.
func (p *Publisher) Subscribe() (<-chan *domain.Deal, func()) {
	ch := make(chan *domain.Deal, 64)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	n := len(p.subs)
	p.mu.Unlock()
	observability.DefaultMetrics.WSSubscribers.Set(float64(n))

	cancel := func() {
		p.mu.Lock()
		if _, ok := p.subs[ch]; ok {
			delete(p.subs, ch)
			close(ch)
		}
		n := len(p.subs)
		p.mu.Unlock()
		observability.DefaultMetrics.WSSubscribers.Set(float64(n))
	}
	return ch, cancel
}

func (p *Publisher) broadcast(d *domain.Deal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- d:
		default:
			// Slow subscriber; drop the tick rather than block a cycle.
		}
	}
}
