// Package pipeline runs the per-source processing cycle:
// fetch → normalize → classify → blacklist → catalog match → value → score →
// record → publish. One listing failing never aborts the cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"dealscout/internal/blacklist"
	"dealscout/internal/catalog"
	"dealscout/internal/condition"
	"dealscout/internal/dealtracker"
	"dealscout/internal/domain"
	"dealscout/internal/marketvalue"
	"dealscout/internal/normalize"
	"dealscout/internal/observability"
	"dealscout/internal/publish"
	"dealscout/internal/scoring"
	"dealscout/internal/source"
	"dealscout/internal/storage"
)

// Stats summarizes one cycle.
type Stats struct {
	Fetched    int
	Normalized int
	Dropped    int // failed normalization
	Rejected   int // blacklisted
	Unmatched  int // recorded without a catalog card
	Recorded   int
	Created    int // subset of Recorded that were first sightings
	Unscored   int // subset of Recorded with no market value
}

// Pipeline wires the processing stages together.
type Pipeline struct {
	normalizer *normalize.Normalizer
	classifier *condition.Classifier
	filter     *blacklist.Filter
	matcher    *catalog.Matcher
	resolver   *marketvalue.Resolver
	calculator *scoring.Calculator
	tracker    *dealtracker.Tracker
	publisher  *publish.Publisher
	verbose    bool
}

// Options for creating a Pipeline. All stages are required.
type Options struct {
	Normalizer *normalize.Normalizer
	Classifier *condition.Classifier
	Filter     *blacklist.Filter
	Matcher    *catalog.Matcher
	Resolver   *marketvalue.Resolver
	Calculator *scoring.Calculator
	Tracker    *dealtracker.Tracker
	Publisher  *publish.Publisher
	Verbose    bool
}

// New creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Normalizer == nil:
		return nil, errors.New("pipeline: normalizer is required")
	case opts.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case opts.Filter == nil:
		return nil, errors.New("pipeline: blacklist filter is required")
	case opts.Matcher == nil:
		return nil, errors.New("pipeline: catalog matcher is required")
	case opts.Resolver == nil:
		return nil, errors.New("pipeline: market value resolver is required")
	case opts.Calculator == nil:
		return nil, errors.New("pipeline: calculator is required")
	case opts.Tracker == nil:
		return nil, errors.New("pipeline: deal tracker is required")
	case opts.Publisher == nil:
		return nil, errors.New("pipeline: publisher is required")
	}
	return &Pipeline{
		normalizer: opts.Normalizer,
		classifier: opts.Classifier,
		filter:     opts.Filter,
		matcher:    opts.Matcher,
		resolver:   opts.Resolver,
		calculator: opts.Calculator,
		tracker:    opts.Tracker,
		publisher:  opts.Publisher,
		verbose:    opts.Verbose,
	}, nil
}

// Run fetches from the adapter and processes everything it returns. A fetch
// error is the cycle's error; processing errors are counted, not returned.
func (p *Pipeline) Run(ctx context.Context, adapter source.Adapter) (Stats, error) {
	src := string(adapter.Platform())
	start := time.Now()

	raws, err := adapter.Fetch(ctx)
	if err != nil {
		observability.RecordFetch(src, "error", time.Since(start).Seconds())
		observability.RecordFetchError(src, source.KindLabel(err))
		return Stats{}, fmt.Errorf("fetch %s: %w", src, err)
	}
	observability.RecordFetch(src, "ok", time.Since(start).Seconds())
	observability.DefaultMetrics.ListingsFetched.WithLabelValues(src).Add(float64(len(raws)))

	// Once fetched, the batch is processed to completion: shutdown cancels
	// new fetches, not writes already in flight. The cycle deadline still
	// bounds processing.
	writeCtx := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithDeadline(writeCtx, deadline)
		defer cancel()
	}

	stats := p.Process(writeCtx, raws)
	stats.Fetched = len(raws)

	p.log("[pipeline] %s: fetched=%d normalized=%d dropped=%d rejected=%d unmatched=%d recorded=%d (%d new, %d unscored)",
		src, stats.Fetched, stats.Normalized, stats.Dropped, stats.Rejected,
		stats.Unmatched, stats.Recorded, stats.Created, stats.Unscored)
	return stats, nil
}

// Process runs the stages over already-fetched raw listings.
func (p *Pipeline) Process(ctx context.Context, raws []source.RawListing) Stats {
	var stats Stats
	for _, raw := range raws {
		if ctx.Err() != nil {
			break
		}
		p.processOne(ctx, raw, &stats)
	}
	return stats
}

func (p *Pipeline) processOne(ctx context.Context, raw source.RawListing, stats *Stats) {
	src := string(raw.Platform)

	listing, err := p.normalizer.Normalize(raw)
	if err != nil {
		stats.Dropped++
		observability.DefaultMetrics.NormalizationFailures.WithLabelValues(src).Inc()
		p.log("[pipeline] drop: %v", err)
		return
	}
	stats.Normalized++
	observability.DefaultMetrics.ListingsNormalized.WithLabelValues(src).Inc()

	verdict := p.filter.Check(listing.Title, listing.Description)
	if !verdict.Allowed {
		stats.Rejected++
		observability.RecordBlacklistRejection(string(verdict.Category))
		return
	}

	cond := p.classify(listing)
	observability.DefaultMetrics.ConditionsClassified.WithLabelValues(condLabel(cond)).Inc()

	// Unmatched listings are still recorded: the deal carries no card and
	// no score, but stays visible for manual review and later re-matching.
	cardID, matched := p.matcher.Match(listing.Title)
	if !matched {
		stats.Unmatched++
		observability.DefaultMetrics.ListingsUnmatched.WithLabelValues(string(listing.Platform)).Inc()
	}

	calc, fallback := p.score(ctx, listing, raw.Shipping != nil, cardID, cond)

	deal := &domain.Deal{
		ExternalID:        listing.ExternalID,
		Platform:          listing.Platform,
		URL:               listing.URL,
		Title:             listing.Title,
		CardID:            cardID,
		Condition:         cond,
		PriceP:            calc.PriceP,
		ShippingP:         calc.ShippingP,
		FeeP:              calc.FeeP,
		TotalCostP:        calc.TotalCostP,
		MarketValueP:      calc.MarketValueP,
		Score:             calc.Score,
		FallbackValuation: fallback,
		SellerName:        listing.SellerName,
		ImageURL:          listing.ImageURL,
		BuyNow:            listing.BuyNow,
	}

	created, err := p.tracker.Record(ctx, deal)
	if err != nil {
		log.Printf("[pipeline] record %s/%s: %v", src, listing.ExternalID, err)
		return
	}
	stats.Recorded++
	if created {
		stats.Created++
	}
	observability.RecordDealRecorded(src, created)
	if deal.MarketValueP == nil {
		stats.Unscored++
		observability.DefaultMetrics.DealsUnscored.WithLabelValues(src).Inc()
	}
	if fallback {
		observability.DefaultMetrics.FallbackValuations.WithLabelValues(src).Inc()
	}

	p.publisher.Publish(ctx, deal)
}

// classify prefers the source's stated condition field over text inference.
// A stated field the mapping table doesn't know still counts as text
// evidence for the pattern classifier.
func (p *Pipeline) classify(l *domain.Listing) domain.Condition {
	if l.RawCondition != "" {
		if cond := p.classifier.Normalize(l.RawCondition); cond != domain.ConditionUnknown {
			return cond
		}
	}
	text := l.Description
	if l.RawCondition != "" {
		text += " " + l.RawCondition
	}
	return p.classifier.Classify(l.Title, text).Condition
}

// score resolves a market value for the matched card and prices the listing.
// A missing value, or no matched card at all, is not an error; the deal
// stays unscored.
func (p *Pipeline) score(ctx context.Context, l *domain.Listing, shippingStated bool, cardID string, cond domain.Condition) (scoring.Calculation, bool) {
	var marketValueP *int64
	fallback := false

	if cardID != "" {
		valuation, err := p.resolver.Resolve(ctx, cardID, cond)
		switch {
		case err == nil:
			marketValueP = &valuation.ValueP
			fallback = valuation.Fallback
		case errors.Is(err, storage.ErrNotFound):
			// no value for this card yet
		default:
			log.Printf("[pipeline] resolve %s/%s: %v", cardID, condLabel(cond), err)
		}
	}

	// Only a stated shipping cost overrides the schedule default.
	var shippingP *int64
	if shippingStated {
		shippingP = &l.ShippingP
	}

	return p.calculator.Calculate(scoring.Input{
		Platform:     l.Platform,
		PriceP:       l.PriceP,
		ShippingP:    shippingP,
		MarketValueP: marketValueP,
	}), fallback
}

func condLabel(c domain.Condition) string {
	if c == domain.ConditionUnknown {
		return "unknown"
	}
	return string(c)
}

func (p *Pipeline) log(format string, args ...interface{}) {
	if p.verbose {
		log.Printf(format, args...)
	}
}
