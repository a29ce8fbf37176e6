package memory

import (
	"context"
	"sort"
	"sync"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
)

// PriceSampleStore is an in-memory implementation of storage.PriceSampleStore.
type PriceSampleStore struct {
	mu   sync.RWMutex
	data []*domain.PriceSample
}

// NewPriceSampleStore creates a new in-memory price sample store.
func NewPriceSampleStore() *PriceSampleStore {
	return &PriceSampleStore{}
}

// Compile-time interface check.
var _ storage.PriceSampleStore = (*PriceSampleStore)(nil)

// Insert appends a sample.
func (s *PriceSampleStore) Insert(_ context.Context, sample *domain.PriceSample) error {
	if sample == nil || sample.CardID == "" || sample.ValueP < 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sampleCopy := *sample
	s.data = append(s.data, &sampleCopy)
	return nil
}

// GetByCard retrieves all samples for a card, ordered by observed_at ASC.
func (s *PriceSampleStore) GetByCard(_ context.Context, cardID string) ([]*domain.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceSample
	for _, sample := range s.data {
		if sample.CardID == cardID {
			sampleCopy := *sample
			result = append(result, &sampleCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ObservedAt < result[j].ObservedAt
	})
	return result, nil
}
