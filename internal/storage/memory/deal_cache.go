package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
)

type cacheEntry struct {
	deal      *domain.Deal
	score     float64
	scored    bool
	foundAt   int64
	expiresAt time.Time
}

// DealCache is an in-memory implementation of storage.DealCache, used in
// tests and in -use-memory mode where no Redis is available.
type DealCache struct {
	mu   sync.Mutex
	data map[string]*cacheEntry // keyed by deal_id
	now  func() time.Time
}

// NewDealCache creates a new in-memory deal cache.
func NewDealCache() *DealCache {
	return &DealCache{
		data: make(map[string]*cacheEntry),
		now:  time.Now,
	}
}

// Compile-time interface check.
var _ storage.DealCache = (*DealCache)(nil)

// PublishDeal caches a deal snapshot with the given TTL.
func (c *DealCache) PublishDeal(_ context.Context, d *domain.Deal, ttl time.Duration) error {
	if d == nil || d.DealID == "" {
		return storage.ErrInvalidInput
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := *d
	entry := &cacheEntry{
		deal:      &snapshot,
		foundAt:   d.FoundAt,
		expiresAt: c.now().Add(ttl),
	}
	if d.Score != nil {
		entry.score = *d.Score
		entry.scored = true
	}
	c.data[d.DealID] = entry
	return nil
}

// RemoveDeal evicts a deal from the cache.
func (c *DealCache) RemoveDeal(_ context.Context, dealID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, dealID)
	return nil
}

// TopActive returns up to limit unexpired deal IDs ranked by score descending.
func (c *DealCache) TopActive(_ context.Context, limit int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()

	type ranked struct {
		id     string
		score  float64
		scored bool
	}
	var entries []ranked
	for id, e := range c.data {
		entries = append(entries, ranked{id, e.score, e.scored})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].scored != entries[j].scored {
			return entries[i].scored
		}
		return entries[i].score > entries[j].score
	})

	var ids []string
	for _, e := range entries {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, e.id)
	}
	return ids, nil
}

// RecentSince returns up to limit unexpired deal IDs first seen at or after
// sinceMs, most recent first.
func (c *DealCache) RecentSince(_ context.Context, sinceMs int64, limit int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()

	type recent struct {
		id      string
		foundAt int64
	}
	var entries []recent
	for id, e := range c.data {
		if e.foundAt >= sinceMs {
			entries = append(entries, recent{id, e.foundAt})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].foundAt > entries[j].foundAt
	})

	var ids []string
	for _, e := range entries {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, e.id)
	}
	return ids, nil
}

// GetDeal retrieves a cached deal snapshot, or nil if expired/missing.
func (c *DealCache) GetDeal(_ context.Context, dealID string) (*domain.Deal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()

	entry, ok := c.data[dealID]
	if !ok {
		return nil, nil
	}
	snapshot := *entry.deal
	return &snapshot, nil
}

// Flush drops all cached deals and rankings.
func (c *DealCache) Flush(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]*cacheEntry)
	return nil
}

// expireLocked drops entries past their TTL. Caller holds the lock.
func (c *DealCache) expireLocked() {
	now := c.now()
	for id, e := range c.data {
		if now.After(e.expiresAt) {
			delete(c.data, id)
		}
	}
}
