package domain

// PriceSource identifies where a price sample came from.
type PriceSource string

const (
	SourceEbaySold        PriceSource = "ebay_sold"
	SourceCardmarketLow   PriceSource = "cardmarket_low"
	SourceCardmarketTrend PriceSource = "cardmarket_trend"
	SourceTCGPlayerMarket PriceSource = "tcgplayer_market"
	SourceTCGPlayerLow    PriceSource = "tcgplayer_low"
	SourceManual          PriceSource = "manual"
)

// PriceSample is a single timestamped price observation for a card at a
// condition, supplied either by the reference price API or by aggregated
// marketplace signals.
type PriceSample struct {
	CardID     string
	Condition  Condition
	Source     PriceSource
	ValueP     int64  // observed value in pence
	Currency   string // original currency before conversion, informational
	ObservedAt int64  // Unix timestamp in milliseconds
}

// MarketValue is the resolved reference price for a card at a condition.
// One row per (card, condition). Mutated only by the market value resolver.
type MarketValue struct {
	CardID      string
	Condition   Condition
	ValueP      int64   // resolved value in pence, never negative
	Confidence  float64 // 0..1, derived from sample count and source quality
	SampleCount int     // contributing samples
	UpdatedAt   int64   // Unix timestamp in milliseconds of the newest sample
}
