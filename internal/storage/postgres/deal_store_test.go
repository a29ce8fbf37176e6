package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
)

func baseDeal(dealID, externalID string) *domain.Deal {
	return &domain.Deal{
		DealID:     dealID,
		ExternalID: externalID,
		Platform:   domain.PlatformEbay,
		URL:        "https://ebay.test/itm/" + externalID,
		Title:      "Charizard Base Set 4/102 Holo",
		CardID:     "base1-4",
		Condition:  domain.ConditionNM,
		PriceP:     4000,
		ShippingP:  300,
		FeeP:       512,
		TotalCostP: 4812,
		BuyNow:     true,
		IsActive:   true,
		FoundAt:    1700000000000,
		LastSeenAt: 1700000000000,
	}
}

func TestDealStore_UpsertAndGetByKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewDealStore(pool)
	ctx := context.Background()

	d := baseDeal("deal-001", "ext-001")
	d.MarketValueP = ptr(int64(6000))
	d.Score = ptr(21.67)

	created, err := store.UpsertSighting(ctx, d)
	require.NoError(t, err)
	assert.True(t, created)

	got, err := store.GetByKey(ctx, domain.PlatformEbay, "ext-001")
	require.NoError(t, err)

	assert.Equal(t, d.DealID, got.DealID)
	assert.Equal(t, d.Platform, got.Platform)
	assert.Equal(t, d.Condition, got.Condition)
	assert.Equal(t, d.PriceP, got.PriceP)
	assert.Equal(t, d.TotalCostP, got.TotalCostP)
	require.NotNil(t, got.Score)
	assert.InDelta(t, 21.67, *got.Score, 1e-9)
	require.NotNil(t, got.MarketValueP)
	assert.Equal(t, int64(6000), *got.MarketValueP)
}

func TestDealStore_ResightingPreservesFoundAt(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewDealStore(pool)
	ctx := context.Background()

	first := baseDeal("deal-001", "ext-001")
	created, err := store.UpsertSighting(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	second := baseDeal("deal-001", "ext-001")
	second.PriceP = 3500
	second.TotalCostP = 4312
	second.FoundAt = 1700000060000
	second.LastSeenAt = 1700000060000

	created, err = store.UpsertSighting(ctx, second)
	require.NoError(t, err)
	assert.False(t, created, "re-sighting must not create a second row")

	assert.Equal(t, int64(1700000000000), second.FoundAt, "stored found_at written back onto the sighting")

	got, err := store.GetByKey(ctx, domain.PlatformEbay, "ext-001")
	require.NoError(t, err)
	assert.Equal(t, int64(3500), got.PriceP)
	assert.Equal(t, int64(1700000000000), got.FoundAt, "found_at fixed at first sighting")
	assert.Equal(t, int64(1700000060000), got.LastSeenAt)

	deals, err := store.Query(ctx, storage.DealFilter{})
	require.NoError(t, err)
	assert.Len(t, deals, 1)
}

func TestDealStore_GetByKeyNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewDealStore(pool)

	_, err := store.GetByKey(context.Background(), domain.PlatformEbay, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDealStore_QueryMinScoreAndOrdering(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewDealStore(pool)
	ctx := context.Background()

	high := baseDeal("deal-high", "ext-high")
	high.Score = ptr(42.0)

	low := baseDeal("deal-low", "ext-low")
	low.Score = ptr(-5.0)

	unscored := baseDeal("deal-unscored", "ext-unscored")

	for _, d := range []*domain.Deal{unscored, low, high} {
		_, err := store.UpsertSighting(ctx, d)
		require.NoError(t, err)
	}

	all, err := store.Query(ctx, storage.DealFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "deal-high", all[0].DealID)
	assert.Equal(t, "deal-low", all[1].DealID)
	assert.Equal(t, "deal-unscored", all[2].DealID, "unscored sorts last")

	filtered, err := store.Query(ctx, storage.DealFilter{MinScore: ptr(0.0)})
	require.NoError(t, err)
	require.Len(t, filtered, 1, "unscored and negative deals must not match min score 0")
	assert.Equal(t, "deal-high", filtered[0].DealID)
}

func TestDealStore_MarkInactiveBefore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewDealStore(pool)
	ctx := context.Background()

	stale := baseDeal("deal-stale", "ext-stale")
	stale.LastSeenAt = 1700000000000

	fresh := baseDeal("deal-fresh", "ext-fresh")
	fresh.LastSeenAt = 1700000900000

	for _, d := range []*domain.Deal{stale, fresh} {
		_, err := store.UpsertSighting(ctx, d)
		require.NoError(t, err)
	}

	swept, err := store.MarkInactiveBefore(ctx, 1700000600000)
	require.NoError(t, err)
	assert.Equal(t, []string{"deal-stale"}, swept)

	active, err := store.Query(ctx, storage.DealFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "deal-fresh", active[0].DealID)

	// History keeps the stale deal.
	all, err := store.Query(ctx, storage.DealFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	recent, err := store.RecentWithin(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "deal-fresh", recent[0].DealID)
}

func TestDealStore_QueryByCardAndPlatform(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewDealStore(pool)
	ctx := context.Background()

	ebay := baseDeal("deal-ebay", "ext-1")

	vinted := baseDeal("deal-vinted", "ext-2")
	vinted.Platform = domain.PlatformVinted
	vinted.CardID = "swsh12-160"

	for _, d := range []*domain.Deal{ebay, vinted} {
		_, err := store.UpsertSighting(ctx, d)
		require.NoError(t, err)
	}

	byPlatform, err := store.Query(ctx, storage.DealFilter{Platform: ptr(domain.PlatformVinted)})
	require.NoError(t, err)
	require.Len(t, byPlatform, 1)
	assert.Equal(t, "deal-vinted", byPlatform[0].DealID)

	byCard, err := store.Query(ctx, storage.DealFilter{CardIDs: []string{"base1-4"}})
	require.NoError(t, err)
	require.Len(t, byCard, 1)
	assert.Equal(t, "deal-ebay", byCard[0].DealID)
}
