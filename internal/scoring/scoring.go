// Package scoring computes deal scores. All money is in pence sterling.
//
// DealScore = (MarketValue - TotalCost) / MarketValue * 100 where
// TotalCost = price + shipping + platform fee. A score of 20 means a 20%
// margin after all costs.
package scoring

import (
	"math"

	"dealscout/internal/domain"
)

// FeeSchedule holds per-platform fee rates and fallback shipping costs.
type FeeSchedule struct {
	rates            map[domain.Platform]float64
	defaultShippingP map[domain.Platform]int64
}

// NewFeeSchedule builds a schedule from explicit tables. Platforms absent
// from rates pay no fee; platforms absent from shipping default to zero.
func NewFeeSchedule(rates map[domain.Platform]float64, defaultShippingP map[domain.Platform]int64) FeeSchedule {
	if rates == nil {
		rates = map[domain.Platform]float64{}
	}
	if defaultShippingP == nil {
		defaultShippingP = map[domain.Platform]int64{}
	}
	return FeeSchedule{rates: rates, defaultShippingP: defaultShippingP}
}

// DefaultFeeSchedule returns the UK marketplace fee table. Retail shops
// carry no reseller fee; facebook assumes local pickup.
func DefaultFeeSchedule() FeeSchedule {
	return NewFeeSchedule(
		map[domain.Platform]float64{
			domain.PlatformEbay:       0.128, // final value fee
			domain.PlatformCardmarket: 0.05,
			domain.PlatformVinted:     0.05, // buyer protection
		},
		map[domain.Platform]int64{
			domain.PlatformEbay:          150,
			domain.PlatformCardmarket:    120,
			domain.PlatformVinted:        250,
			domain.PlatformMagicMadhouse: 199,
			domain.PlatformChaosCards:    149,
		},
	)
}

// Rate returns the fee rate for a platform.
func (s FeeSchedule) Rate(p domain.Platform) float64 {
	return s.rates[p]
}

// FeeP computes the platform fee on a price, rounded half away from zero.
func (s FeeSchedule) FeeP(p domain.Platform, priceP int64) int64 {
	return int64(math.Round(float64(priceP) * s.rates[p]))
}

// DefaultShippingP returns the fallback shipping cost used when a listing
// does not state one.
func (s FeeSchedule) DefaultShippingP(p domain.Platform) int64 {
	return s.defaultShippingP[p]
}

// ConditionMultipliers scale a Near Mint market value down to the value of
// a lower grade. Unknown is absent on purpose; callers handle it via the
// fallback valuation path.
var ConditionMultipliers = map[domain.Condition]float64{
	domain.ConditionNM:  1.0,
	domain.ConditionLP:  0.85,
	domain.ConditionMP:  0.70,
	domain.ConditionHP:  0.50,
	domain.ConditionDMG: 0.30,
}

// EstimateValueP scales an NM value to the given condition. Conditions
// without a multiplier (unknown) return the NM value unchanged; the caller
// must flag such valuations as fallbacks.
func EstimateValueP(nmValueP int64, cond domain.Condition) int64 {
	mult, ok := ConditionMultipliers[cond]
	if !ok {
		return nmValueP
	}
	return int64(math.Round(float64(nmValueP) * mult))
}

// Input describes one listing to score.
type Input struct {
	Platform domain.Platform
	PriceP   int64

	// ShippingP is nil when the listing did not state shipping; the
	// schedule default applies.
	ShippingP *int64

	// MarketValueP is nil when no market value could be resolved; the
	// calculation then carries cost fields only.
	MarketValueP *int64
}

// Calculation is a fully worked deal score.
type Calculation struct {
	PriceP       int64
	ShippingP    int64
	FeeP         int64
	TotalCostP   int64
	MarketValueP *int64
	ProfitP      *int64
	Score        *float64
	Profitable   bool
}

// Calculator scores listings against a fee schedule.
type Calculator struct {
	fees FeeSchedule
}

// NewCalculator creates a Calculator.
func NewCalculator(fees FeeSchedule) *Calculator {
	return &Calculator{fees: fees}
}

// Calculate computes cost and score for one listing. With no market value
// the score fields stay nil and the deal is recorded unscored.
func (c *Calculator) Calculate(in Input) Calculation {
	shippingP := c.fees.DefaultShippingP(in.Platform)
	if in.ShippingP != nil {
		shippingP = *in.ShippingP
	}
	feeP := c.fees.FeeP(in.Platform, in.PriceP)
	totalP := in.PriceP + shippingP + feeP

	out := Calculation{
		PriceP:     in.PriceP,
		ShippingP:  shippingP,
		FeeP:       feeP,
		TotalCostP: totalP,
	}
	if in.MarketValueP == nil || *in.MarketValueP <= 0 {
		return out
	}

	mv := *in.MarketValueP
	profit := mv - totalP
	score := float64(profit) / float64(mv) * 100

	out.MarketValueP = &mv
	out.ProfitP = &profit
	out.Score = &score
	out.Profitable = profit > 0
	return out
}

// MaxBuyPriceP works backwards from a market value to the highest price
// that still clears the target margin on the given platform.
func (c *Calculator) MaxBuyPriceP(marketValueP int64, p domain.Platform, shippingP *int64, targetMargin float64) int64 {
	ship := c.fees.DefaultShippingP(p)
	if shippingP != nil {
		ship = *shippingP
	}
	targetTotal := float64(marketValueP) * (1 - targetMargin)
	maxPrice := (targetTotal - float64(ship)) / (1 + c.fees.Rate(p))
	if maxPrice < 0 {
		return 0
	}
	return int64(math.Floor(maxPrice))
}
