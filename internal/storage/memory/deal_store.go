package memory

import (
	"context"
	"sort"
	"sync"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
)

// DealStore is an in-memory implementation of storage.DealStore.
type DealStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Deal // keyed by deal_id
}

// NewDealStore creates a new in-memory deal store.
func NewDealStore() *DealStore {
	return &DealStore{
		data: make(map[string]*domain.Deal),
	}
}

// Compile-time interface check.
var _ storage.DealStore = (*DealStore)(nil)

// UpsertSighting records a sighting, inserting or updating in place.
func (s *DealStore) UpsertSighting(_ context.Context, d *domain.Deal) (bool, error) {
	if d == nil || d.DealID == "" || d.ExternalID == "" || !d.Platform.IsValid() {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data[d.DealID]
	if !ok {
		dealCopy := *d
		s.data[d.DealID] = &dealCopy
		return true, nil
	}

	// Update mutable fields in place; found_at never moves. The stored
	// found_at is written back onto d so callers publish the original one.
	d.FoundAt = existing.FoundAt
	existing.URL = d.URL
	existing.Title = d.Title
	existing.CardID = d.CardID
	existing.Condition = d.Condition
	existing.PriceP = d.PriceP
	existing.ShippingP = d.ShippingP
	existing.FeeP = d.FeeP
	existing.TotalCostP = d.TotalCostP
	existing.MarketValueP = copyInt64(d.MarketValueP)
	existing.Score = copyFloat64(d.Score)
	existing.FallbackValuation = d.FallbackValuation
	existing.SellerName = d.SellerName
	existing.ImageURL = d.ImageURL
	existing.BuyNow = d.BuyNow
	existing.IsActive = true
	existing.LastSeenAt = d.LastSeenAt
	return false, nil
}

// GetByKey retrieves a deal by its (platform, external_id) key.
func (s *DealStore) GetByKey(_ context.Context, platform domain.Platform, externalID string) (*domain.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.data {
		if d.Platform == platform && d.ExternalID == externalID {
			return copyDeal(d), nil
		}
	}
	return nil, storage.ErrNotFound
}

// Query retrieves deals matching the filter, best score first.
func (s *DealStore) Query(_ context.Context, f storage.DealFilter) ([]*domain.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cardSet := make(map[string]bool, len(f.CardIDs))
	for _, id := range f.CardIDs {
		cardSet[id] = true
	}

	var result []*domain.Deal
	for _, d := range s.data {
		if f.ActiveOnly && !d.IsActive {
			continue
		}
		if f.Platform != nil && d.Platform != *f.Platform {
			continue
		}
		if f.Condition != nil && d.Condition != *f.Condition {
			continue
		}
		if len(cardSet) > 0 && !cardSet[d.CardID] {
			continue
		}
		if f.MinPriceP != nil && d.PriceP < *f.MinPriceP {
			continue
		}
		if f.MaxPriceP != nil && d.PriceP > *f.MaxPriceP {
			continue
		}
		if f.MinScore != nil && (d.Score == nil || *d.Score < *f.MinScore) {
			continue
		}
		result = append(result, copyDeal(d))
	}

	sortDeals(result)

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// RecentWithin retrieves active deals first seen at or after sinceMs.
func (s *DealStore) RecentWithin(_ context.Context, sinceMs int64) ([]*domain.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Deal
	for _, d := range s.data {
		if d.IsActive && d.FoundAt >= sinceMs {
			result = append(result, copyDeal(d))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FoundAt > result[j].FoundAt
	})
	return result, nil
}

// MarkInactiveBefore marks active deals not seen since cutoffMs as inactive
// and returns the IDs of the deals it deactivated.
func (s *DealStore) MarkInactiveBefore(_ context.Context, cutoffMs int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, d := range s.data {
		if d.IsActive && d.LastSeenAt < cutoffMs {
			d.IsActive = false
			ids = append(ids, d.DealID)
		}
	}
	return ids, nil
}

// sortDeals orders by score descending, unscored last, then found_at descending.
func sortDeals(deals []*domain.Deal) {
	sort.Slice(deals, func(i, j int) bool {
		si, sj := deals[i].Score, deals[j].Score
		switch {
		case si != nil && sj != nil && *si != *sj:
			return *si > *sj
		case si != nil && sj == nil:
			return true
		case si == nil && sj != nil:
			return false
		}
		return deals[i].FoundAt > deals[j].FoundAt
	})
}

func copyDeal(d *domain.Deal) *domain.Deal {
	dealCopy := *d
	dealCopy.MarketValueP = copyInt64(d.MarketValueP)
	dealCopy.Score = copyFloat64(d.Score)
	return &dealCopy
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyFloat64(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
