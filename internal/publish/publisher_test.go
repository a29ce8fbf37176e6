package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"dealscout/internal/dealtracker"
	"dealscout/internal/domain"
	"dealscout/internal/storage"
	"dealscout/internal/storage/memory"
)

func f64(v float64) *float64 { return &v }

func deal(id string, score float64) *domain.Deal {
	return &domain.Deal{
		DealID:     id,
		ExternalID: id,
		Platform:   domain.PlatformEbay,
		Title:      "Charizard VMAX",
		PriceP:     4000,
		Score:      f64(score),
		IsActive:   true,
		FoundAt:    time.Now().UnixMilli(),
		LastSeenAt: time.Now().UnixMilli(),
	}
}

// failingCache rejects every write.
type failingCache struct{}

func (failingCache) PublishDeal(context.Context, *domain.Deal, time.Duration) error {
	return errors.New("cache down")
}
func (failingCache) RemoveDeal(context.Context, string) error { return errors.New("cache down") }
func (failingCache) TopActive(context.Context, int) ([]string, error) {
	return nil, errors.New("cache down")
}
func (failingCache) RecentSince(context.Context, int64, int) ([]string, error) {
	return nil, errors.New("cache down")
}
func (failingCache) GetDeal(context.Context, string) (*domain.Deal, error) {
	return nil, errors.New("cache down")
}
func (failingCache) Flush(context.Context) error { return errors.New("cache down") }

var _ storage.DealCache = failingCache{}

func TestPublishCachesAndBroadcasts(t *testing.T) {
	cache := memory.NewDealCache()
	p, err := New(Options{Deals: memory.NewDealStore(), Cache: cache})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	feed, cancel := p.Subscribe()
	defer cancel()

	d := deal("d1", 21.67)
	p.Publish(ctx, d)

	ids, err := cache.TopActive(ctx, 10)
	if err != nil {
		t.Fatalf("TopActive failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "d1" {
		t.Errorf("expected d1 cached, got %v", ids)
	}

	select {
	case got := <-feed:
		if got.DealID != "d1" {
			t.Errorf("expected d1 on feed, got %s", got.DealID)
		}
	case <-time.After(time.Second):
		t.Fatal("no live tick received")
	}
}

func TestPublishSurvivesCacheFailure(t *testing.T) {
	p, err := New(Options{Deals: memory.NewDealStore(), Cache: failingCache{}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	feed, cancel := p.Subscribe()
	defer cancel()

	// Must not panic or block; subscribers still get the tick.
	p.Publish(context.Background(), deal("d1", 10))
	select {
	case <-feed:
	case <-time.After(time.Second):
		t.Fatal("cache failure must not suppress the live tick")
	}
}

func TestRebuildCache(t *testing.T) {
	store := memory.NewDealStore()
	cache := memory.NewDealCache()
	ctx := context.Background()

	for _, d := range []*domain.Deal{deal("d1", 30), deal("d2", 10)} {
		if _, err := store.UpsertSighting(ctx, d); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}
	stale := deal("d3", 5)
	stale.IsActive = false
	if _, err := store.UpsertSighting(ctx, stale); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	p, err := New(Options{Deals: store, Cache: cache})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	n, err := p.RebuildCache(ctx)
	if err != nil {
		t.Fatalf("RebuildCache failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 active deals rebuilt, got %d", n)
	}
	ids, err := cache.TopActive(ctx, 10)
	if err != nil {
		t.Fatalf("TopActive failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "d1" {
		t.Errorf("expected [d1 d2] by score, got %v", ids)
	}
}

func TestRebuildCacheFlushesStaleEntries(t *testing.T) {
	store := memory.NewDealStore()
	cache := memory.NewDealCache()
	ctx := context.Background()

	// A deal that expired out of the store but still lingers in the cache.
	if err := cache.PublishDeal(ctx, deal("ghost", 99), time.Hour); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	if _, err := store.UpsertSighting(ctx, deal("d1", 30)); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	p, err := New(Options{Deals: store, Cache: cache})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := p.RebuildCache(ctx); err != nil {
		t.Fatalf("RebuildCache failed: %v", err)
	}

	ids, err := cache.TopActive(ctx, 10)
	if err != nil {
		t.Fatalf("TopActive failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "d1" {
		t.Errorf("rebuild must drop entries absent from the store, got %v", ids)
	}
}

func TestSweptDealsEvictedFromCache(t *testing.T) {
	store := memory.NewDealStore()
	cache := memory.NewDealCache()
	ctx := context.Background()

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr, err := dealtracker.New(dealtracker.Options{
		Deals:     store,
		Staleness: 15 * time.Minute,
		Now:       func() time.Time { return clock },
	})
	if err != nil {
		t.Fatalf("dealtracker.New failed: %v", err)
	}
	p, err := New(Options{Deals: store, Cache: cache})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	d := &domain.Deal{
		ExternalID: "123456",
		Platform:   domain.PlatformEbay,
		Title:      "Charizard VMAX",
		PriceP:     4000,
		Score:      f64(20),
	}
	if _, err := tr.Record(ctx, d); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	p.Publish(ctx, d)

	clock = clock.Add(20 * time.Minute)
	swept, err := tr.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if len(swept) != 1 {
		t.Fatalf("expected 1 swept deal, got %d", len(swept))
	}
	for _, id := range swept {
		p.Evict(ctx, id)
	}

	ids, err := cache.TopActive(ctx, 10)
	if err != nil {
		t.Fatalf("TopActive failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("swept deal must leave the active ranking, got %v", ids)
	}
	recent, err := cache.RecentSince(ctx, 0, 10)
	if err != nil {
		t.Fatalf("RecentSince failed: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("swept deal must leave the recent ranking, got %v", recent)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	p, err := New(Options{Deals: memory.NewDealStore()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, cancel := p.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Overflow the subscriber buffer; Publish must never block.
		for i := 0; i < 200; i++ {
			p.Publish(context.Background(), deal("d1", 1))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestCancelSubscriptionTwice(t *testing.T) {
	p, err := New(Options{Deals: memory.NewDealStore()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, cancel := p.Subscribe()
	cancel()
	cancel() // second cancel is a no-op, not a double close
}
