package bootstrap

import (
	"context"
	"testing"

	"dealscout/internal/domain"
	"dealscout/internal/source"
	"dealscout/internal/source/fixture"
	"dealscout/internal/storage"
)

// A freshly built app must match listings against cards that were already
// in the store, without waiting for a catalog sync.
func TestBuildAppLoadsMatcherIndex(t *testing.T) {
	ctx := context.Background()

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	stores, cleanup, err := CreateStores(ctx, cfg, true)
	if err != nil {
		t.Fatalf("CreateStores failed: %v", err)
	}
	defer cleanup()

	card := &domain.Card{
		ID:      "swsh3-20",
		Name:    "Charizard VMAX",
		SetID:   "swsh3",
		SetName: "Darkness Ablaze",
		Number:  "020",
	}
	if err := stores.Cards.Upsert(ctx, card); err != nil {
		t.Fatalf("seed card: %v", err)
	}

	app, err := BuildApp(ctx, cfg, stores, false)
	if err != nil {
		t.Fatalf("BuildApp failed: %v", err)
	}
	if app.Matcher.Size() == 0 {
		t.Fatal("matcher index should be loaded from the card store")
	}

	adapter := fixture.New(domain.PlatformEbay, source.RawListing{
		ExternalID: "123456",
		Platform:   domain.PlatformEbay,
		URL:        "https://www.ebay.co.uk/itm/123456",
		Title:      "Charizard VMAX 020/189 Darkness Ablaze Holo",
		Price:      40.00,
		Currency:   "GBP",
		BuyNow:     true,
	})
	stats, err := app.Pipeline.Run(ctx, adapter)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Recorded != 1 {
		t.Fatalf("expected 1 recorded deal, got %+v", stats)
	}

	deals, err := stores.Deals.Query(ctx, storage.DealFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(deals) != 1 || deals[0].CardID != "swsh3-20" {
		t.Fatalf("expected the listing matched to swsh3-20, got %+v", deals)
	}
}
