package domain

// Deal is a scored, deduplicated sighting of a listing. Keyed by
// (platform, external_id); updated in place while active, retained in the
// durable store after going inactive.
type Deal struct {
	DealID     string // deterministic hash of platform|external_id
	ExternalID string
	Platform   Platform
	URL        string
	Title      string

	CardID    string    // "" when the listing did not match a catalog card
	Condition Condition // ConditionUnknown when unclassified

	// Pricing, all in pence.
	PriceP     int64
	ShippingP  int64
	FeeP       int64 // computed platform fee
	TotalCostP int64 // PriceP + ShippingP + FeeP

	// Market comparison. MarketValueP is nil when no value could be
	// resolved; Score is nil in the same case ("unknown", never zero).
	MarketValueP *int64
	Score        *float64
	// FallbackValuation marks that MarketValueP came from the lower-grade
	// fallback because no condition-specific value existed.
	FallbackValuation bool

	SellerName string
	ImageURL   string
	BuyNow     bool

	IsActive   bool
	FoundAt    int64 // Unix ms, first sighting; fixed for the deal's lifetime
	LastSeenAt int64 // Unix ms, most recent sighting
}

// Scored reports whether the deal has a resolved score.
func (d *Deal) Scored() bool {
	return d.Score != nil
}
