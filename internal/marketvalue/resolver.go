// Package marketvalue owns the (card, condition) -> market value mapping.
// The resolver is the single writer for every key; readers go through
// Resolve and never see a half-applied update.
package marketvalue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"dealscout/internal/domain"
	"dealscout/internal/observability"
	"dealscout/internal/storage"
)

var (
	// ErrStaleSample marks a sample older than the value it would update.
	ErrStaleSample = errors.New("sample older than current value")

	// ErrOutlier marks a sample rejected by the MAD gate.
	ErrOutlier = errors.New("sample rejected as outlier")

	// ErrInvalidSample marks samples that fail basic validation.
	ErrInvalidSample = errors.New("invalid price sample")
)

const (
	shardCount = 64

	// windowSize bounds the per-key sample window used for the MAD gate.
	windowSize = 32

	// minWindowForOutlier is the number of samples required before the
	// MAD gate activates. Below it every sample is accepted.
	minWindowForOutlier = 5

	// ageDecayPerDay reduces a sample's weight by 2% per day of age,
	// floored at 10%.
	ageDecayPerDay = 0.02
	minAgeFactor   = 0.1
)

// sourceWeights rank price sources by reliability for the UK market.
var sourceWeights = map[domain.PriceSource]float64{
	domain.SourceEbaySold:        1.0,
	domain.SourceCardmarketTrend: 0.9,
	domain.SourceCardmarketLow:   0.7,
	domain.SourceTCGPlayerMarket: 0.6,
	domain.SourceTCGPlayerLow:    0.5,
	domain.SourceManual:          0.3,
}

// Valuation is the outcome of resolving a market value for scoring.
type Valuation struct {
	ValueP     int64
	Condition  domain.Condition // condition the value is for
	Confidence float64

	// Fallback is set when the value was not an exact (card, condition)
	// hit: either scaled from the NM value or borrowed from another
	// grade for an unknown condition. Deals scored from a fallback
	// valuation carry the flag.
	Fallback bool
}

// keyState is guarded by the key's shard mutex.
type keyState struct {
	window    []int64 // recent accepted sample values, oldest first
	cumWeight float64
}

// Options configures a Resolver.
type Options struct {
	Values  storage.MarketValueStore
	Samples storage.PriceSampleStore

	// OutlierK scales the MAD gate. Zero uses the default of 4.
	OutlierK float64

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Resolver maintains market values from incoming price samples and answers
// valuation queries. Safe for concurrent use.
type Resolver struct {
	values   storage.MarketValueStore
	samples  storage.PriceSampleStore
	outlierK float64
	now      func() time.Time

	mu    sync.Mutex
	state map[string]*keyState

	shards [shardCount]sync.Mutex
}

// New creates a Resolver.
func New(opts Options) (*Resolver, error) {
	if opts.Values == nil {
		return nil, fmt.Errorf("marketvalue: value store is required")
	}
	k := opts.OutlierK
	if k == 0 {
		k = 4
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		values:   opts.Values,
		samples:  opts.Samples,
		outlierK: k,
		now:      now,
		state:    make(map[string]*keyState),
	}, nil
}

func key(cardID string, cond domain.Condition) string {
	return cardID + "|" + string(cond)
}

func (r *Resolver) shardFor(k string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(k))
	return &r.shards[h.Sum32()%shardCount]
}

func (r *Resolver) stateFor(k string) *keyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.state[k]
	if !ok {
		st = &keyState{}
		r.state[k] = st
	}
	return st
}

// Observe applies one price sample. Strictly older samples and MAD outliers
// are rejected with sentinel errors; accepted samples update the stored
// value and are archived to the sample store.
func (r *Resolver) Observe(ctx context.Context, sample domain.PriceSample) error {
	if sample.CardID == "" {
		return fmt.Errorf("%w: missing card id", ErrInvalidSample)
	}
	if !sample.Condition.IsValid() {
		return fmt.Errorf("%w: condition %q", ErrInvalidSample, sample.Condition)
	}
	if sample.ValueP <= 0 {
		return fmt.Errorf("%w: non-positive value %d", ErrInvalidSample, sample.ValueP)
	}
	if sample.ObservedAt == 0 {
		sample.ObservedAt = r.now().UnixMilli()
	}

	k := key(sample.CardID, sample.Condition)
	shard := r.shardFor(k)
	shard.Lock()
	defer shard.Unlock()

	current, err := r.values.Get(ctx, sample.CardID, sample.Condition)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		current = nil
	default:
		return fmt.Errorf("load market value: %w", err)
	}

	if current != nil && sample.ObservedAt < current.UpdatedAt {
		observability.DefaultMetrics.SamplesRejected.WithLabelValues("stale").Inc()
		return fmt.Errorf("%w: sample at %d, value at %d", ErrStaleSample, sample.ObservedAt, current.UpdatedAt)
	}

	st := r.stateFor(k)

	if current != nil && len(st.window) >= minWindowForOutlier {
		med, mad := medianAndMAD(st.window)
		// With a degenerate window (mad 0) fall back to a relative gate.
		gate := r.outlierK * mad
		if gate == 0 {
			gate = math.Abs(med) * 0.5
		}
		if math.Abs(float64(sample.ValueP)-float64(current.ValueP)) > gate {
			observability.DefaultMetrics.SamplesRejected.WithLabelValues("outlier").Inc()
			return fmt.Errorf("%w: value %d vs current %d (gate %.0f)", ErrOutlier, sample.ValueP, current.ValueP, gate)
		}
	}

	weight := r.sampleWeight(sample)

	var next domain.MarketValue
	if current == nil {
		next = domain.MarketValue{
			CardID:      sample.CardID,
			Condition:   sample.Condition,
			ValueP:      sample.ValueP,
			SampleCount: 1,
			UpdatedAt:   sample.ObservedAt,
		}
		st.cumWeight = weight
	} else {
		total := st.cumWeight + weight
		if total <= 0 {
			total = weight
		}
		blended := (float64(current.ValueP)*st.cumWeight + float64(sample.ValueP)*weight) / total
		next = *current
		next.ValueP = int64(math.Round(blended))
		next.SampleCount = current.SampleCount + 1
		next.UpdatedAt = sample.ObservedAt
		st.cumWeight = total
	}
	if next.ValueP < 0 {
		next.ValueP = 0
	}
	next.Confidence = confidence(next.SampleCount, st.cumWeight)

	if err := r.values.Put(ctx, &next); err != nil {
		return fmt.Errorf("store market value: %w", err)
	}
	observability.DefaultMetrics.SamplesAccepted.Inc()

	st.window = append(st.window, sample.ValueP)
	if len(st.window) > windowSize {
		st.window = st.window[len(st.window)-windowSize:]
	}

	if r.samples != nil {
		if err := r.samples.Insert(ctx, &sample); err != nil {
			// The value update already landed; archival is best effort.
			return fmt.Errorf("archive sample: %w", err)
		}
	}
	return nil
}

// Resolve returns the valuation to score a listing against.
//
// A known condition resolves to its exact value when one exists, otherwise
// to the NM value scaled by the condition multiplier, flagged as fallback.
// ConditionUnknown resolves conservatively: the worst grade with a value
// wins, always flagged as fallback. storage.ErrNotFound means the card
// cannot be valued and the deal stays unscored.
func (r *Resolver) Resolve(ctx context.Context, cardID string, cond domain.Condition) (*Valuation, error) {
	if cond.IsValid() {
		mv, err := r.values.Get(ctx, cardID, cond)
		if err == nil {
			return &Valuation{ValueP: mv.ValueP, Condition: cond, Confidence: mv.Confidence}, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		nm, err := r.values.Get(ctx, cardID, domain.ConditionNM)
		if err != nil {
			return nil, err
		}
		return &Valuation{
			ValueP:     scaleFromNM(nm.ValueP, cond),
			Condition:  cond,
			Confidence: nm.Confidence * 0.8,
			Fallback:   true,
		}, nil
	}

	// Unknown condition: walk worst grade first so the valuation never
	// flatters the listing.
	for i := len(domain.ConditionOrder) - 1; i >= 0; i-- {
		grade := domain.ConditionOrder[i]
		mv, err := r.values.Get(ctx, cardID, grade)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &Valuation{
			ValueP:     mv.ValueP,
			Condition:  grade,
			Confidence: mv.Confidence * 0.7,
			Fallback:   true,
		}, nil
	}
	return nil, storage.ErrNotFound
}

func (r *Resolver) sampleWeight(sample domain.PriceSample) float64 {
	base, ok := sourceWeights[sample.Source]
	if !ok {
		base = 0.5
	}
	ageDays := float64(r.now().UnixMilli()-sample.ObservedAt) / float64(24*time.Hour/time.Millisecond)
	if ageDays <= 0 {
		return base
	}
	factor := 1.0 - ageDays*ageDecayPerDay
	if factor < minAgeFactor {
		factor = minAgeFactor
	}
	return base * factor
}

// conditionMultipliers mirror the scoring package's grade scale.
var conditionMultipliers = map[domain.Condition]float64{
	domain.ConditionNM:  1.0,
	domain.ConditionLP:  0.85,
	domain.ConditionMP:  0.70,
	domain.ConditionHP:  0.50,
	domain.ConditionDMG: 0.30,
}

func scaleFromNM(nmValueP int64, cond domain.Condition) int64 {
	mult, ok := conditionMultipliers[cond]
	if !ok {
		return nmValueP
	}
	return int64(math.Round(float64(nmValueP) * mult))
}

func confidence(sampleCount int, cumWeight float64) float64 {
	countPart := float64(sampleCount) * 0.25
	if countPart > 1 {
		countPart = 1
	}
	weightPart := cumWeight / float64(sampleCount)
	if weightPart > 1 {
		weightPart = 1
	}
	c := (countPart + weightPart) / 2
	if c > 1 {
		c = 1
	}
	return c
}

func medianAndMAD(values []int64) (median, mad float64) {
	sorted := make([]float64, len(values))
	for i, v := range values {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)
	median = quantileMid(sorted)

	devs := make([]float64, len(sorted))
	for i, v := range sorted {
		devs[i] = math.Abs(v - median)
	}
	sort.Float64s(devs)
	mad = quantileMid(devs)
	return median, mad
}

func quantileMid(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
