package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealscout/internal/domain"
)

func i64(v int64) *int64 { return &v }

func TestCalculateReferenceScenario(t *testing.T) {
	// £40 price + £3 shipping + £4 fee (10% of price) against a £60
	// market value yields a 21.67 score.
	calc := NewCalculator(NewFeeSchedule(
		map[domain.Platform]float64{domain.PlatformEbay: 0.10},
		nil,
	))

	out := calc.Calculate(Input{
		Platform:     domain.PlatformEbay,
		PriceP:       4000,
		ShippingP:    i64(300),
		MarketValueP: i64(6000),
	})

	assert.Equal(t, int64(400), out.FeeP)
	assert.Equal(t, int64(4700), out.TotalCostP)
	require.NotNil(t, out.Score)
	assert.InDelta(t, 21.67, *out.Score, 0.005)
	require.NotNil(t, out.ProfitP)
	assert.Equal(t, int64(1300), *out.ProfitP)
	assert.True(t, out.Profitable)
}

func TestCalculateEbayFee(t *testing.T) {
	calc := NewCalculator(DefaultFeeSchedule())

	out := calc.Calculate(Input{
		Platform:     domain.PlatformEbay,
		PriceP:       10000,
		ShippingP:    i64(0),
		MarketValueP: i64(15000),
	})

	assert.Equal(t, int64(1280), out.FeeP)
	assert.Equal(t, int64(11280), out.TotalCostP)
}

func TestCalculateRetailNoFee(t *testing.T) {
	calc := NewCalculator(DefaultFeeSchedule())

	out := calc.Calculate(Input{
		Platform:     domain.PlatformMagicMadhouse,
		PriceP:       2500,
		ShippingP:    i64(0),
		MarketValueP: i64(4000),
	})

	assert.Equal(t, int64(0), out.FeeP)
	assert.Equal(t, int64(2500), out.TotalCostP)
}

func TestCalculateDefaultShipping(t *testing.T) {
	calc := NewCalculator(DefaultFeeSchedule())

	out := calc.Calculate(Input{
		Platform: domain.PlatformVinted,
		PriceP:   1000,
	})

	// Unstated shipping falls back to the schedule default.
	assert.Equal(t, int64(250), out.ShippingP)
}

func TestCalculateNoMarketValue(t *testing.T) {
	calc := NewCalculator(DefaultFeeSchedule())

	out := calc.Calculate(Input{
		Platform:  domain.PlatformEbay,
		PriceP:    4000,
		ShippingP: i64(300),
	})

	assert.Nil(t, out.Score)
	assert.Nil(t, out.ProfitP)
	assert.Nil(t, out.MarketValueP)
	assert.False(t, out.Profitable)
	// Cost fields are still populated for storage.
	assert.Equal(t, int64(4812), out.TotalCostP)
}

func TestCalculateNegativeScore(t *testing.T) {
	calc := NewCalculator(DefaultFeeSchedule())

	out := calc.Calculate(Input{
		Platform:     domain.PlatformEbay,
		PriceP:       6000,
		ShippingP:    i64(300),
		MarketValueP: i64(5000),
	})

	require.NotNil(t, out.Score)
	assert.Less(t, *out.Score, 0.0)
	assert.False(t, out.Profitable)
}

func TestEstimateValueP(t *testing.T) {
	assert.Equal(t, int64(10000), EstimateValueP(10000, domain.ConditionNM))
	assert.Equal(t, int64(8500), EstimateValueP(10000, domain.ConditionLP))
	assert.Equal(t, int64(7000), EstimateValueP(10000, domain.ConditionMP))
	assert.Equal(t, int64(5000), EstimateValueP(10000, domain.ConditionHP))
	assert.Equal(t, int64(3000), EstimateValueP(10000, domain.ConditionDMG))
	// Unknown passes through; the caller flags the valuation instead.
	assert.Equal(t, int64(10000), EstimateValueP(10000, domain.ConditionUnknown))
}

func TestMaxBuyPriceP(t *testing.T) {
	calc := NewCalculator(DefaultFeeSchedule())

	// Break even on ebay for a £100 card with £1.50 shipping:
	// (10000 - 150) / 1.128 = 8732.2 -> 8732.
	got := calc.MaxBuyPriceP(10000, domain.PlatformEbay, nil, 0)
	assert.Equal(t, int64(8732), got)

	// A 15% target margin lowers the ceiling.
	withMargin := calc.MaxBuyPriceP(10000, domain.PlatformEbay, nil, 0.15)
	assert.Less(t, withMargin, got)

	// Never negative.
	assert.Equal(t, int64(0), calc.MaxBuyPriceP(100, domain.PlatformVinted, nil, 0))
}
