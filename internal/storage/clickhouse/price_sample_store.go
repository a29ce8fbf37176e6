package clickhouse

import (
	"context"
	"fmt"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
)

// PriceSampleStore implements storage.PriceSampleStore using ClickHouse.
// Samples are append-only; the table is the long-horizon archive behind the
// market value resolver's in-flight aggregation.
type PriceSampleStore struct {
	conn *Conn
}

// NewPriceSampleStore creates a new PriceSampleStore.
func NewPriceSampleStore(conn *Conn) *PriceSampleStore {
	return &PriceSampleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceSampleStore = (*PriceSampleStore)(nil)

// Insert appends a sample.
func (s *PriceSampleStore) Insert(ctx context.Context, sample *domain.PriceSample) error {
	if sample == nil || sample.CardID == "" || sample.ValueP < 0 {
		return storage.ErrInvalidInput
	}

	err := s.conn.Exec(ctx, `
		INSERT INTO price_samples (card_id, condition, source, value_p, currency, observed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		sample.CardID,
		string(sample.Condition),
		string(sample.Source),
		sample.ValueP,
		sample.Currency,
		uint64(sample.ObservedAt),
	)
	if err != nil {
		return fmt.Errorf("insert price sample: %w", err)
	}
	return nil
}

// InsertBulk appends multiple samples in one batch.
func (s *PriceSampleStore) InsertBulk(ctx context.Context, samples []*domain.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_samples (card_id, condition, source, value_p, currency, observed_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, sample := range samples {
		err = batch.Append(
			sample.CardID,
			string(sample.Condition),
			string(sample.Source),
			sample.ValueP,
			sample.Currency,
			uint64(sample.ObservedAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByCard retrieves all samples for a card, ordered by observed_at ASC.
func (s *PriceSampleStore) GetByCard(ctx context.Context, cardID string) ([]*domain.PriceSample, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT card_id, condition, source, value_p, currency, observed_at
		FROM price_samples
		WHERE card_id = ?
		ORDER BY observed_at ASC
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("query price samples: %w", err)
	}
	defer rows.Close()

	var result []*domain.PriceSample
	for rows.Next() {
		var (
			sample     domain.PriceSample
			cond       string
			source     string
			observedAt uint64
		)
		if err := rows.Scan(&sample.CardID, &cond, &source, &sample.ValueP, &sample.Currency, &observedAt); err != nil {
			return nil, fmt.Errorf("scan price sample row: %w", err)
		}
		sample.Condition = domain.Condition(cond)
		sample.Source = domain.PriceSource(source)
		sample.ObservedAt = int64(observedAt)
		result = append(result, &sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price sample rows: %w", err)
	}
	return result, nil
}
