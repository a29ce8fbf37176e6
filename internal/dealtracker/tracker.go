// Package dealtracker owns deal identity and lifecycle: one Deal per
// (platform, external_id), updated in place on re-sighting, swept to
// inactive after the staleness window.
package dealtracker

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"dealscout/internal/domain"
	"dealscout/internal/idhash"
	"dealscout/internal/observability"
	"dealscout/internal/storage"
)

const shardCount = 64

// DefaultStaleness is the default re-sighting window before a deal is
// marked inactive. It must exceed the worst single-source outage the
// orchestrator tolerates before opening the circuit.
const DefaultStaleness = 15 * time.Minute

// Options configures a Tracker.
type Options struct {
	Deals storage.DealStore

	// Staleness window for Sweep. Zero uses DefaultStaleness.
	Staleness time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Tracker records deal sightings and sweeps stale deals. Concurrent
// sightings of the same key serialize on a shard lock, so last write wins
// whole, never interleaved.
type Tracker struct {
	deals     storage.DealStore
	staleness time.Duration
	now       func() time.Time
	shards    [shardCount]sync.Mutex
}

// New creates a Tracker.
func New(opts Options) (*Tracker, error) {
	if opts.Deals == nil {
		return nil, fmt.Errorf("dealtracker: deal store is required")
	}
	staleness := opts.Staleness
	if staleness == 0 {
		staleness = DefaultStaleness
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{deals: opts.Deals, staleness: staleness, now: now}, nil
}

// Staleness returns the configured staleness window.
func (t *Tracker) Staleness() time.Duration { return t.staleness }

// Record upserts one sighting. The deal's identity fields must be set; the
// tracker assigns DealID, stamps LastSeenAt and marks the deal active.
// After Record returns, d.FoundAt holds the authoritative first-sighting
// time, whether this sighting inserted or updated. Returns true when a new
// Deal row was created.
func (t *Tracker) Record(ctx context.Context, d *domain.Deal) (bool, error) {
	if d == nil || d.ExternalID == "" || !d.Platform.IsValid() {
		return false, storage.ErrInvalidInput
	}

	d.DealID = idhash.ComputeDealID(d.Platform, d.ExternalID)
	nowMs := t.now().UnixMilli()
	d.LastSeenAt = nowMs
	if d.FoundAt == 0 {
		d.FoundAt = nowMs
	}
	d.IsActive = true

	shard := t.shardFor(d.DealID)
	shard.Lock()
	defer shard.Unlock()

	created, err := t.deals.UpsertSighting(ctx, d)
	if err != nil {
		return false, fmt.Errorf("upsert sighting %s/%s: %w", d.Platform, d.ExternalID, err)
	}
	return created, nil
}

// Sweep marks deals not re-sighted within the staleness window inactive and
// returns their IDs so the caller can evict them from the live cache. Swept
// deals stay queryable in history.
func (t *Tracker) Sweep(ctx context.Context) ([]string, error) {
	cutoff := t.now().Add(-t.staleness).UnixMilli()
	swept, err := t.deals.MarkInactiveBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sweep stale deals: %w", err)
	}
	observability.DefaultMetrics.DealsSwept.Add(float64(len(swept)))
	return swept, nil
}

func (t *Tracker) shardFor(dealID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(dealID))
	return &t.shards[h.Sum32()%shardCount]
}
