package memory

import (
	"context"
	"sort"
	"sync"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
)

// CardStore is an in-memory implementation of storage.CardStore.
type CardStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Card // keyed by card ID
}

// NewCardStore creates a new in-memory card store.
func NewCardStore() *CardStore {
	return &CardStore{
		data: make(map[string]*domain.Card),
	}
}

// Compile-time interface check.
var _ storage.CardStore = (*CardStore)(nil)

// Upsert inserts or refreshes a card.
func (s *CardStore) Upsert(_ context.Context, c *domain.Card) error {
	if c == nil || c.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cardCopy := *c
	s.data[c.ID] = &cardCopy
	return nil
}

// GetByID retrieves a card. Returns ErrNotFound if not exists.
func (s *CardStore) GetByID(_ context.Context, id string) (*domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cardCopy := *c
	return &cardCopy, nil
}

// GetBySetNames retrieves all cards belonging to any of the given sets.
func (s *CardStore) GetBySetNames(_ context.Context, setNames []string) ([]*domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]bool, len(setNames))
	for _, name := range setNames {
		wanted[name] = true
	}

	var result []*domain.Card
	for _, c := range s.data {
		if wanted[c.SetName] {
			cardCopy := *c
			result = append(result, &cardCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// All retrieves every card sorted by ID.
func (s *CardStore) All(_ context.Context) ([]*domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Card, 0, len(s.data))
	for _, c := range s.data {
		cardCopy := *c
		result = append(result, &cardCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}
