// Package fixture provides a deterministic in-memory source adapter for
// tests and dry runs.
package fixture

import (
	"context"
	"sync"

	"dealscout/internal/domain"
	"dealscout/internal/source"
)

// Adapter returns canned listings, or a canned error, per Fetch call.
type Adapter struct {
	platform domain.Platform

	mu       sync.Mutex
	listings []source.RawListing
	err      error
	fetches  int
}

var _ source.Adapter = (*Adapter)(nil)

// New creates a fixture adapter for the given platform.
func New(platform domain.Platform, listings ...source.RawListing) *Adapter {
	return &Adapter{platform: platform, listings: listings}
}

// Platform identifies this adapter.
func (a *Adapter) Platform() domain.Platform { return a.platform }

// Fetch returns a copy of the current listings, or the configured error.
func (a *Adapter) Fetch(ctx context.Context) ([]source.RawListing, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches++
	if a.err != nil {
		return nil, a.err
	}
	out := make([]source.RawListing, len(a.listings))
	copy(out, a.listings)
	return out, nil
}

// SetListings replaces the canned listings and clears any canned error.
func (a *Adapter) SetListings(listings ...source.RawListing) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listings = listings
	a.err = nil
}

// SetError makes subsequent Fetch calls fail with err.
func (a *Adapter) SetError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// Fetches reports how many times Fetch has been called.
func (a *Adapter) Fetches() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetches
}
