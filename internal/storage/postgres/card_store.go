package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
)

// CardStore implements storage.CardStore using PostgreSQL.
type CardStore struct {
	pool *Pool
}

// NewCardStore creates a new CardStore.
func NewCardStore(pool *Pool) *CardStore {
	return &CardStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CardStore = (*CardStore)(nil)

const cardColumns = `id, name, set_id, set_name, number, rarity, image_small, image_large, updated_at`

// Upsert inserts or refreshes a card.
func (s *CardStore) Upsert(ctx context.Context, c *domain.Card) error {
	if c == nil || c.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO cards (` + cardColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			set_id = EXCLUDED.set_id,
			set_name = EXCLUDED.set_name,
			number = EXCLUDED.number,
			rarity = EXCLUDED.rarity,
			image_small = EXCLUDED.image_small,
			image_large = EXCLUDED.image_large,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		c.ID, c.Name, c.SetID, c.SetName, c.Number, c.Rarity,
		c.ImageSmall, c.ImageLarge, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert card: %w", err)
	}
	return nil
}

// GetByID retrieves a card. Returns ErrNotFound if not exists.
func (s *CardStore) GetByID(ctx context.Context, id string) (*domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	c, err := scanCard(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get card by id: %w", err)
	}
	return c, nil
}

// GetBySetNames retrieves all cards belonging to any of the given sets.
func (s *CardStore) GetBySetNames(ctx context.Context, setNames []string) ([]*domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE set_name = ANY($1) ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, setNames)
	if err != nil {
		return nil, fmt.Errorf("get cards by set names: %w", err)
	}
	defer rows.Close()

	return scanCards(rows)
}

// All retrieves every card sorted by ID.
func (s *CardStore) All(ctx context.Context) ([]*domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all cards: %w", err)
	}
	defer rows.Close()

	return scanCards(rows)
}

func scanCard(row pgx.Row) (*domain.Card, error) {
	var c domain.Card
	err := row.Scan(
		&c.ID, &c.Name, &c.SetID, &c.SetName, &c.Number, &c.Rarity,
		&c.ImageSmall, &c.ImageLarge, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCards(rows pgx.Rows) ([]*domain.Card, error) {
	var result []*domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card row: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate card rows: %w", err)
	}
	return result, nil
}
