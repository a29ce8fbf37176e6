// Package normalize converts raw marketplace listings into canonical
// listings with all money amounts in pence sterling.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"dealscout/internal/domain"
	"dealscout/internal/source"
)

// ErrInvalidListing marks raw listings that cannot be normalized. A listing
// that fails normalization is dropped, never stored half-formed.
var ErrInvalidListing = errors.New("invalid listing")

// DefaultRates covers the currencies the supported marketplaces quote in.
// Values are pence sterling per one major unit of the currency.
var DefaultRates = map[string]float64{
	"GBP": 100,
	"EUR": 85,
	"USD": 78,
}

// Normalizer converts source.RawListing values into domain.Listing values.
type Normalizer struct {
	rates map[string]float64
	now   func() time.Time
}

// Options configures a Normalizer.
type Options struct {
	// Rates maps currency code to pence per major unit. Nil uses
	// DefaultRates.
	Rates map[string]float64

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	rates := opts.Rates
	if rates == nil {
		rates = DefaultRates
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Normalizer{rates: rates, now: now}
}

// Normalize converts a raw listing to its canonical form. It fails closed:
// any missing identity field, non-positive price or unknown currency yields
// an error wrapping ErrInvalidListing and no listing. Identity here covers
// the URL and title as well as the external ID and platform: a deal without
// a link or a matchable title is useless downstream, so both are required.
func (n *Normalizer) Normalize(raw source.RawListing) (*domain.Listing, error) {
	if raw.ExternalID == "" {
		return nil, fmt.Errorf("%w: missing external id", ErrInvalidListing)
	}
	if !raw.Platform.IsValid() {
		return nil, fmt.Errorf("%w: unknown platform %q", ErrInvalidListing, raw.Platform)
	}
	if raw.URL == "" {
		return nil, fmt.Errorf("%w: missing url (platform=%s id=%s)", ErrInvalidListing, raw.Platform, raw.ExternalID)
	}
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: missing title (platform=%s id=%s)", ErrInvalidListing, raw.Platform, raw.ExternalID)
	}

	priceP, err := n.toPence(raw.Price, raw.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: price: %v (platform=%s id=%s)", ErrInvalidListing, err, raw.Platform, raw.ExternalID)
	}
	if priceP <= 0 {
		return nil, fmt.Errorf("%w: non-positive price %d (platform=%s id=%s)", ErrInvalidListing, priceP, raw.Platform, raw.ExternalID)
	}

	var shippingP int64
	if raw.Shipping != nil {
		shippingP, err = n.toPence(*raw.Shipping, raw.Currency)
		if err != nil {
			return nil, fmt.Errorf("%w: shipping: %v (platform=%s id=%s)", ErrInvalidListing, err, raw.Platform, raw.ExternalID)
		}
		if shippingP < 0 {
			return nil, fmt.Errorf("%w: negative shipping %d (platform=%s id=%s)", ErrInvalidListing, shippingP, raw.Platform, raw.ExternalID)
		}
	}

	return &domain.Listing{
		ExternalID:   raw.ExternalID,
		Platform:     raw.Platform,
		URL:          raw.URL,
		Title:        title,
		Description:  strings.TrimSpace(raw.Description),
		PriceP:       priceP,
		ShippingP:    shippingP,
		SellerName:   strings.TrimSpace(raw.SellerName),
		ImageURL:     raw.ImageURL,
		RawCondition: strings.TrimSpace(raw.RawCondition),
		BuyNow:       raw.BuyNow,
		ObservedAt:   n.now().UnixMilli(),
	}, nil
}

// toPence converts a major-unit amount in the given currency to pence.
// Rounding is half away from zero.
func (n *Normalizer) toPence(amount float64, currency string) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, fmt.Errorf("non-finite amount")
	}
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = "GBP"
	}
	rate, ok := n.rates[code]
	if !ok {
		return 0, fmt.Errorf("unknown currency %q", code)
	}
	return int64(math.Round(amount * rate)), nil
}
