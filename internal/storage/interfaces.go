package storage

import (
	"context"
	"time"

	"dealscout/internal/domain"
)

// DealFilter selects deals for queries. Nil fields are not applied.
type DealFilter struct {
	Platform  *domain.Platform
	Condition *domain.Condition
	CardIDs   []string // restrict to these cards (era filters resolve to card IDs)
	MinPriceP *int64
	MaxPriceP *int64
	// MinScore is only satisfied by scored deals; deals with an unknown
	// score never match a minimum-score filter.
	MinScore   *float64
	ActiveOnly bool
	Limit      int // 0 means no limit
}

// DealStore provides access to durable deal storage. It is the source of
// truth for deal state; the fast cache is derived from it.
type DealStore interface {
	// UpsertSighting records a sighting. If no deal exists for the deal's
	// (platform, external_id) key, it is inserted as given and created=true
	// is returned. Otherwise the existing deal's mutable fields (pricing,
	// score, condition, card match, last_seen_at, is_active) are updated in
	// place, found_at is preserved and written back onto d, and
	// created=false is returned.
	UpsertSighting(ctx context.Context, d *domain.Deal) (created bool, err error)

	// GetByKey retrieves a deal by its (platform, external_id) key.
	// Returns ErrNotFound if not exists.
	GetByKey(ctx context.Context, platform domain.Platform, externalID string) (*domain.Deal, error)

	// Query retrieves deals matching the filter, sorted by score descending
	// with unscored deals last, then by found_at descending.
	Query(ctx context.Context, f DealFilter) ([]*domain.Deal, error)

	// RecentWithin retrieves active deals first seen at or after sinceMs,
	// sorted by found_at descending.
	RecentWithin(ctx context.Context, sinceMs int64) ([]*domain.Deal, error)

	// MarkInactiveBefore marks active deals with last_seen_at strictly
	// before cutoffMs as inactive and returns their deal IDs, so callers
	// can evict them from the cache.
	MarkInactiveBefore(ctx context.Context, cutoffMs int64) ([]string, error)
}

// CardStore provides access to the reference card catalog snapshot.
type CardStore interface {
	// Upsert inserts or refreshes a card.
	Upsert(ctx context.Context, c *domain.Card) error

	// GetByID retrieves a card. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Card, error)

	// GetBySetNames retrieves all cards belonging to any of the given sets.
	GetBySetNames(ctx context.Context, setNames []string) ([]*domain.Card, error)

	// All retrieves every card, for building in-memory match indexes.
	All(ctx context.Context) ([]*domain.Card, error)
}

// MarketValueStore provides access to resolved (card, condition) values.
// Writes go through the market value resolver only.
type MarketValueStore interface {
	// Get retrieves the value for (cardID, condition).
	// Returns ErrNotFound if no value has been resolved yet.
	Get(ctx context.Context, cardID string, cond domain.Condition) (*domain.MarketValue, error)

	// GetByCard retrieves all conditions' values for a card.
	GetByCard(ctx context.Context, cardID string) ([]*domain.MarketValue, error)

	// Put inserts or replaces the value for its (card, condition) key.
	Put(ctx context.Context, mv *domain.MarketValue) error
}

// PriceSampleStore archives accepted price samples for history and
// aggregation audits.
type PriceSampleStore interface {
	// Insert appends a sample.
	Insert(ctx context.Context, s *domain.PriceSample) error

	// GetByCard retrieves all samples for a card, ordered by observed_at ASC.
	GetByCard(ctx context.Context, cardID string) ([]*domain.PriceSample, error)
}

// DealCache is the fast short-TTL view of recently published deals.
// It is best-effort: losing it must be recoverable from the DealStore.
type DealCache interface {
	// PublishDeal caches a deal snapshot with the given TTL and indexes it
	// in the active (by score) and recent (by found_at) rankings.
	PublishDeal(ctx context.Context, d *domain.Deal, ttl time.Duration) error

	// RemoveDeal evicts a deal from the cache and its rankings.
	RemoveDeal(ctx context.Context, dealID string) error

	// TopActive returns up to limit deal IDs ranked by score descending.
	TopActive(ctx context.Context, limit int) ([]string, error)

	// RecentSince returns up to limit deal IDs first seen at or after
	// sinceMs, most recent first.
	RecentSince(ctx context.Context, sinceMs int64, limit int) ([]string, error)

	// GetDeal retrieves a cached deal snapshot. A nil deal with a nil
	// error means the snapshot is missing or expired.
	GetDeal(ctx context.Context, dealID string) (*domain.Deal, error)

	// Flush drops all cached deals and rankings, ahead of a rebuild from
	// the durable store.
	Flush(ctx context.Context) error
}
