package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
)

// DealStore implements storage.DealStore using PostgreSQL.
type DealStore struct {
	pool *Pool
}

// NewDealStore creates a new DealStore.
func NewDealStore(pool *Pool) *DealStore {
	return &DealStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DealStore = (*DealStore)(nil)

const dealColumns = `
	deal_id, external_id, platform, url, title, card_id, condition,
	price_p, shipping_p, fee_p, total_cost_p, market_value_p, score,
	fallback_valuation, seller_name, image_url, buy_now, is_active,
	found_at, last_seen_at
`

// UpsertSighting records a sighting, inserting or updating in place.
// found_at is only written on insert; re-sightings keep the original, and the
// stored found_at is written back onto d.
func (s *DealStore) UpsertSighting(ctx context.Context, d *domain.Deal) (bool, error) {
	if d == nil || d.DealID == "" || d.ExternalID == "" || !d.Platform.IsValid() {
		return false, storage.ErrInvalidInput
	}

	// xmax = 0 distinguishes a fresh insert from a conflict update.
	query := `
		INSERT INTO deals (` + dealColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (platform, external_id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			card_id = EXCLUDED.card_id,
			condition = EXCLUDED.condition,
			price_p = EXCLUDED.price_p,
			shipping_p = EXCLUDED.shipping_p,
			fee_p = EXCLUDED.fee_p,
			total_cost_p = EXCLUDED.total_cost_p,
			market_value_p = EXCLUDED.market_value_p,
			score = EXCLUDED.score,
			fallback_valuation = EXCLUDED.fallback_valuation,
			seller_name = EXCLUDED.seller_name,
			image_url = EXCLUDED.image_url,
			buy_now = EXCLUDED.buy_now,
			is_active = TRUE,
			last_seen_at = EXCLUDED.last_seen_at
		RETURNING (xmax = 0), found_at
	`

	var created bool
	err := s.pool.QueryRow(ctx, query,
		d.DealID,
		d.ExternalID,
		string(d.Platform),
		d.URL,
		d.Title,
		d.CardID,
		string(d.Condition),
		d.PriceP,
		d.ShippingP,
		d.FeeP,
		d.TotalCostP,
		d.MarketValueP,
		d.Score,
		d.FallbackValuation,
		d.SellerName,
		d.ImageURL,
		d.BuyNow,
		d.IsActive,
		d.FoundAt,
		d.LastSeenAt,
	).Scan(&created, &d.FoundAt)
	if err != nil {
		return false, fmt.Errorf("upsert deal sighting: %w", err)
	}
	return created, nil
}

// GetByKey retrieves a deal by its (platform, external_id) key.
func (s *DealStore) GetByKey(ctx context.Context, platform domain.Platform, externalID string) (*domain.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE platform = $1 AND external_id = $2`

	row := s.pool.QueryRow(ctx, query, string(platform), externalID)
	d, err := scanDeal(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get deal by key: %w", err)
	}
	return d, nil
}

// Query retrieves deals matching the filter, best score first, unscored last.
func (s *DealStore) Query(ctx context.Context, f storage.DealFilter) ([]*domain.Deal, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.ActiveOnly {
		where = append(where, "is_active = TRUE")
	}
	if f.Platform != nil {
		where = append(where, "platform = "+arg(string(*f.Platform)))
	}
	if f.Condition != nil {
		where = append(where, "condition = "+arg(string(*f.Condition)))
	}
	if len(f.CardIDs) > 0 {
		where = append(where, "card_id = ANY("+arg(f.CardIDs)+")")
	}
	if f.MinPriceP != nil {
		where = append(where, "price_p >= "+arg(*f.MinPriceP))
	}
	if f.MaxPriceP != nil {
		where = append(where, "price_p <= "+arg(*f.MaxPriceP))
	}
	if f.MinScore != nil {
		// NULL scores never satisfy a minimum-score filter.
		where = append(where, "score IS NOT NULL AND score >= "+arg(*f.MinScore))
	}

	query := `SELECT ` + dealColumns + ` FROM deals`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY score DESC NULLS LAST, found_at DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	return scanDeals(rows)
}

// RecentWithin retrieves active deals first seen at or after sinceMs.
func (s *DealStore) RecentWithin(ctx context.Context, sinceMs int64) ([]*domain.Deal, error) {
	query := `
		SELECT ` + dealColumns + `
		FROM deals
		WHERE is_active = TRUE AND found_at >= $1
		ORDER BY found_at DESC
	`

	rows, err := s.pool.Query(ctx, query, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("query recent deals: %w", err)
	}
	defer rows.Close()

	return scanDeals(rows)
}

// MarkInactiveBefore marks active deals not seen since cutoffMs as inactive
// and returns the IDs of the deals it deactivated.
func (s *DealStore) MarkInactiveBefore(ctx context.Context, cutoffMs int64) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE deals SET is_active = FALSE
		 WHERE is_active = TRUE AND last_seen_at < $1
		 RETURNING deal_id`,
		cutoffMs,
	)
	if err != nil {
		return nil, fmt.Errorf("mark deals inactive: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan swept deal id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swept deal ids: %w", err)
	}
	return ids, nil
}

// scanDeal scans a single deal row.
func scanDeal(row pgx.Row) (*domain.Deal, error) {
	var (
		d        domain.Deal
		platform string
		cond     string
	)
	err := row.Scan(
		&d.DealID,
		&d.ExternalID,
		&platform,
		&d.URL,
		&d.Title,
		&d.CardID,
		&cond,
		&d.PriceP,
		&d.ShippingP,
		&d.FeeP,
		&d.TotalCostP,
		&d.MarketValueP,
		&d.Score,
		&d.FallbackValuation,
		&d.SellerName,
		&d.ImageURL,
		&d.BuyNow,
		&d.IsActive,
		&d.FoundAt,
		&d.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	d.Platform = domain.Platform(platform)
	d.Condition = domain.Condition(cond)
	return &d, nil
}

// scanDeals scans all deal rows.
func scanDeals(rows pgx.Rows) ([]*domain.Deal, error) {
	var result []*domain.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal row: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deal rows: %w", err)
	}
	return result, nil
}
