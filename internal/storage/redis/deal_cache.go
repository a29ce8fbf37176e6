// Package redis implements the fast short-TTL deal cache on Redis.
// The cache is best-effort: it can always be rebuilt from the durable store.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
)

// Key layout.
const (
	dealKeyPrefix = "deal:"        // deal:<deal_id> -> JSON snapshot, TTL-bound
	activeSetKey  = "deals:active" // sorted set, score = deal score
	recentSetKey  = "deals:recent" // sorted set, score = found_at (unix ms)
)

// DealCache implements storage.DealCache using Redis sorted sets.
type DealCache struct {
	client *redis.Client
}

// NewDealCache connects to Redis and verifies the connection.
func NewDealCache(addr, password string, db int) (*DealCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &DealCache{client: client}, nil
}

// Compile-time interface check.
var _ storage.DealCache = (*DealCache)(nil)

// PublishDeal caches a deal snapshot with the given TTL and indexes it in
// the active and recent rankings.
func (c *DealCache) PublishDeal(ctx context.Context, d *domain.Deal, ttl time.Duration) error {
	if d == nil || d.DealID == "" {
		return storage.ErrInvalidInput
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal deal: %w", err)
	}

	if err := c.client.Set(ctx, dealKeyPrefix+d.DealID, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache deal: %w", err)
	}

	// Unscored deals rank below every scored one.
	score := math.Inf(-1)
	if d.Score != nil {
		score = *d.Score
	}
	if err := c.client.ZAdd(ctx, activeSetKey, redis.Z{Score: score, Member: d.DealID}).Err(); err != nil {
		return fmt.Errorf("index deal in active set: %w", err)
	}
	if err := c.client.ZAdd(ctx, recentSetKey, redis.Z{Score: float64(d.FoundAt), Member: d.DealID}).Err(); err != nil {
		return fmt.Errorf("index deal in recent set: %w", err)
	}
	return nil
}

// RemoveDeal evicts a deal from the cache and its rankings.
func (c *DealCache) RemoveDeal(ctx context.Context, dealID string) error {
	if err := c.client.Del(ctx, dealKeyPrefix+dealID).Err(); err != nil {
		return fmt.Errorf("delete cached deal: %w", err)
	}
	if err := c.client.ZRem(ctx, activeSetKey, dealID).Err(); err != nil {
		return fmt.Errorf("remove deal from active set: %w", err)
	}
	if err := c.client.ZRem(ctx, recentSetKey, dealID).Err(); err != nil {
		return fmt.Errorf("remove deal from recent set: %w", err)
	}
	return nil
}

// TopActive returns up to limit deal IDs ranked by score descending.
func (c *DealCache) TopActive(ctx context.Context, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := c.client.ZRevRange(ctx, activeSetKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read active set: %w", err)
	}
	return ids, nil
}

// RecentSince returns up to limit deal IDs first seen at or after sinceMs,
// most recent first.
func (c *DealCache) RecentSince(ctx context.Context, sinceMs int64, limit int) ([]string, error) {
	opt := &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", sinceMs),
		Max: "+inf",
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ids, err := c.client.ZRevRangeByScore(ctx, recentSetKey, opt).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent set: %w", err)
	}
	return ids, nil
}

// GetDeal retrieves a cached deal snapshot, or nil if expired/missing.
func (c *DealCache) GetDeal(ctx context.Context, dealID string) (*domain.Deal, error) {
	data, err := c.client.Get(ctx, dealKeyPrefix+dealID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached deal: %w", err)
	}

	var d domain.Deal
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal cached deal: %w", err)
	}
	return &d, nil
}

// Flush drops all cached deals and rankings. Used before a rebuild from the
// durable store.
func (c *DealCache) Flush(ctx context.Context) error {
	if err := c.client.Del(ctx, activeSetKey, recentSetKey).Err(); err != nil {
		return fmt.Errorf("flush ranking sets: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *DealCache) Close() error {
	return c.client.Close()
}
