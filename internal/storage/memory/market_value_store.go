package memory

import (
	"context"
	"sort"
	"sync"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
)

type mvKey struct {
	cardID string
	cond   domain.Condition
}

// MarketValueStore is an in-memory implementation of storage.MarketValueStore.
type MarketValueStore struct {
	mu   sync.RWMutex
	data map[mvKey]*domain.MarketValue
}

// NewMarketValueStore creates a new in-memory market value store.
func NewMarketValueStore() *MarketValueStore {
	return &MarketValueStore{
		data: make(map[mvKey]*domain.MarketValue),
	}
}

// Compile-time interface check.
var _ storage.MarketValueStore = (*MarketValueStore)(nil)

// Get retrieves the value for (cardID, condition).
func (s *MarketValueStore) Get(_ context.Context, cardID string, cond domain.Condition) (*domain.MarketValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mv, ok := s.data[mvKey{cardID, cond}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	mvCopy := *mv
	return &mvCopy, nil
}

// GetByCard retrieves all conditions' values for a card, best grade first.
func (s *MarketValueStore) GetByCard(_ context.Context, cardID string) ([]*domain.MarketValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MarketValue
	for key, mv := range s.data {
		if key.cardID == cardID {
			mvCopy := *mv
			result = append(result, &mvCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Condition.Rank() < result[j].Condition.Rank()
	})
	return result, nil
}

// Put inserts or replaces the value for its (card, condition) key.
func (s *MarketValueStore) Put(_ context.Context, mv *domain.MarketValue) error {
	if mv == nil || mv.CardID == "" || !mv.Condition.IsValid() || mv.ValueP < 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mvCopy := *mv
	s.data[mvKey{mv.CardID, mv.Condition}] = &mvCopy
	return nil
}
