package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
)

// MarketValueStore implements storage.MarketValueStore using PostgreSQL.
type MarketValueStore struct {
	pool *Pool
}

// NewMarketValueStore creates a new MarketValueStore.
func NewMarketValueStore(pool *Pool) *MarketValueStore {
	return &MarketValueStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MarketValueStore = (*MarketValueStore)(nil)

const marketValueColumns = `card_id, condition, value_p, confidence, sample_count, updated_at`

// Get retrieves the value for (cardID, condition).
func (s *MarketValueStore) Get(ctx context.Context, cardID string, cond domain.Condition) (*domain.MarketValue, error) {
	query := `SELECT ` + marketValueColumns + ` FROM market_values WHERE card_id = $1 AND condition = $2`

	row := s.pool.QueryRow(ctx, query, cardID, string(cond))
	mv, err := scanMarketValue(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get market value: %w", err)
	}
	return mv, nil
}

// GetByCard retrieves all conditions' values for a card.
func (s *MarketValueStore) GetByCard(ctx context.Context, cardID string) ([]*domain.MarketValue, error) {
	query := `SELECT ` + marketValueColumns + ` FROM market_values WHERE card_id = $1`

	rows, err := s.pool.Query(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("get market values by card: %w", err)
	}
	defer rows.Close()

	var result []*domain.MarketValue
	for rows.Next() {
		mv, err := scanMarketValue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan market value row: %w", err)
		}
		result = append(result, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate market value rows: %w", err)
	}
	return result, nil
}

// Put inserts or replaces the value for its (card, condition) key.
func (s *MarketValueStore) Put(ctx context.Context, mv *domain.MarketValue) error {
	if mv == nil || mv.CardID == "" || !mv.Condition.IsValid() || mv.ValueP < 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO market_values (` + marketValueColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (card_id, condition) DO UPDATE SET
			value_p = EXCLUDED.value_p,
			confidence = EXCLUDED.confidence,
			sample_count = EXCLUDED.sample_count,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		mv.CardID, string(mv.Condition), mv.ValueP,
		mv.Confidence, mv.SampleCount, mv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put market value: %w", err)
	}
	return nil
}

func scanMarketValue(row pgx.Row) (*domain.MarketValue, error) {
	var (
		mv   domain.MarketValue
		cond string
	)
	err := row.Scan(&mv.CardID, &cond, &mv.ValueP, &mv.Confidence, &mv.SampleCount, &mv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	mv.Condition = domain.Condition(cond)
	return &mv, nil
}
