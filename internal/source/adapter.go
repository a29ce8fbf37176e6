// Package source contains marketplace adapters. Each adapter isolates one
// marketplace's protocol and anti-bot handling and produces a finite batch
// of raw listings per cycle.
package source

import (
	"context"

	"dealscout/internal/domain"
)

// RawListing is listing data as seen on a marketplace, before normalization.
// Prices are still in the source's representation.
type RawListing struct {
	ExternalID   string
	Platform     domain.Platform
	URL          string
	Title        string
	Description  string
	Price        float64  // major units of Currency
	Currency     string   // "GBP", "EUR", "USD"; "" is treated as GBP
	Shipping     *float64 // nil when the source did not state shipping
	SellerName   string
	ImageURL     string
	RawCondition string
	BuyNow       bool
}

// Adapter produces one cycle's worth of raw listings for a marketplace.
//
// Fetch must not mutate shared state beyond returning its result; failures
// are reported as SourceError values so the orchestrator can choose retry,
// backoff or circuit-open behavior.
type Adapter interface {
	// Platform identifies the marketplace this adapter covers.
	Platform() domain.Platform

	// Fetch retrieves the current batch of raw listings.
	Fetch(ctx context.Context) ([]RawListing, error)
}
