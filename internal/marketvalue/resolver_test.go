package marketvalue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
	"dealscout/internal/storage/memory"
)

var testClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestResolver(t *testing.T) (*Resolver, storage.MarketValueStore, storage.PriceSampleStore) {
	t.Helper()
	values := memory.NewMarketValueStore()
	samples := memory.NewPriceSampleStore()
	r, err := New(Options{
		Values:  values,
		Samples: samples,
		Now:     func() time.Time { return testClock },
	})
	require.NoError(t, err)
	return r, values, samples
}

func sampleAt(ts time.Time, valueP int64) domain.PriceSample {
	return domain.PriceSample{
		CardID:     "swsh3-20",
		Condition:  domain.ConditionNM,
		Source:     domain.SourceEbaySold,
		ValueP:     valueP,
		Currency:   "GBP",
		ObservedAt: ts.UnixMilli(),
	}
}

func TestObserveFirstSample(t *testing.T) {
	r, values, samples := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, r.Observe(ctx, sampleAt(testClock, 6000)))

	mv, err := values.Get(ctx, "swsh3-20", domain.ConditionNM)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), mv.ValueP)
	assert.Equal(t, 1, mv.SampleCount)
	assert.Greater(t, mv.Confidence, 0.0)

	archived, err := samples.GetByCard(ctx, "swsh3-20")
	require.NoError(t, err)
	assert.Len(t, archived, 1)
}

func TestObserveBlendsTowardNewSamples(t *testing.T) {
	r, values, _ := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, r.Observe(ctx, sampleAt(testClock.Add(-2*time.Hour), 6000)))
	require.NoError(t, r.Observe(ctx, sampleAt(testClock.Add(-time.Hour), 7000)))

	mv, err := values.Get(ctx, "swsh3-20", domain.ConditionNM)
	require.NoError(t, err)
	assert.Greater(t, mv.ValueP, int64(6000))
	assert.Less(t, mv.ValueP, int64(7000))
	assert.Equal(t, 2, mv.SampleCount)
}

func TestObserveRejectsStrictlyOlder(t *testing.T) {
	r, values, _ := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, r.Observe(ctx, sampleAt(testClock, 6000)))

	err := r.Observe(ctx, sampleAt(testClock.Add(-time.Hour), 9000))
	require.ErrorIs(t, err, ErrStaleSample)

	mv, err := values.Get(ctx, "swsh3-20", domain.ConditionNM)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), mv.ValueP)
	assert.Equal(t, 1, mv.SampleCount)
}

func TestObserveRejectsOutlier(t *testing.T) {
	r, _, samples := newTestResolver(t)
	ctx := context.Background()

	base := testClock.Add(-time.Hour)
	for i := 0; i < 6; i++ {
		s := sampleAt(base.Add(time.Duration(i)*time.Minute), 6000+int64(i*10))
		require.NoError(t, r.Observe(ctx, s))
	}

	// A 10x spike is far beyond k * MAD of the tight window.
	err := r.Observe(ctx, sampleAt(testClock, 60000))
	require.ErrorIs(t, err, ErrOutlier)

	// Rejected samples are not archived.
	archived, err := samples.GetByCard(ctx, "swsh3-20")
	require.NoError(t, err)
	assert.Len(t, archived, 6)
}

func TestObserveValidation(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	s := sampleAt(testClock, 6000)
	s.CardID = ""
	assert.ErrorIs(t, r.Observe(ctx, s), ErrInvalidSample)

	s = sampleAt(testClock, 0)
	assert.ErrorIs(t, r.Observe(ctx, s), ErrInvalidSample)

	s = sampleAt(testClock, 6000)
	s.Condition = domain.ConditionUnknown
	assert.ErrorIs(t, r.Observe(ctx, s), ErrInvalidSample)
}

func TestResolveExact(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, r.Observe(ctx, sampleAt(testClock, 6000)))

	v, err := r.Resolve(ctx, "swsh3-20", domain.ConditionNM)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), v.ValueP)
	assert.False(t, v.Fallback)
}

func TestResolveScalesFromNM(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, r.Observe(ctx, sampleAt(testClock, 10000)))

	v, err := r.Resolve(ctx, "swsh3-20", domain.ConditionMP)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), v.ValueP)
	assert.True(t, v.Fallback)
	assert.Equal(t, domain.ConditionMP, v.Condition)
}

func TestResolveUnknownUsesWorstGrade(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	nm := sampleAt(testClock.Add(-time.Minute), 10000)
	require.NoError(t, r.Observe(ctx, nm))
	hp := sampleAt(testClock, 4000)
	hp.Condition = domain.ConditionHP
	require.NoError(t, r.Observe(ctx, hp))

	v, err := r.Resolve(ctx, "swsh3-20", domain.ConditionUnknown)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), v.ValueP)
	assert.Equal(t, domain.ConditionHP, v.Condition)
	assert.True(t, v.Fallback)
}

func TestResolveUnvaluedCard(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "missing-card", domain.ConditionNM)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = r.Resolve(ctx, "missing-card", domain.ConditionUnknown)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestValueNeverNegative(t *testing.T) {
	r, values, _ := newTestResolver(t)
	ctx := context.Background()

	require.NoError(t, r.Observe(ctx, sampleAt(testClock, 1)))
	mv, err := values.Get(ctx, "swsh3-20", domain.ConditionNM)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, mv.ValueP, int64(0))
}
