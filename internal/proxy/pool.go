// Package proxy manages a pool of egress proxy URLs for scrape adapters.
// Handles rotate round-robin, failures put a handle into cooldown, and the
// pool tracks per-handle health.
package proxy

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoneAvailable means every configured proxy is cooling down or dead.
var ErrNoneAvailable = errors.New("no proxy available")

// Status of a proxy handle.
type Status string

const (
	StatusActive  Status = "active"
	StatusCooling Status = "cooling"
	StatusDead    Status = "dead"
)

// Handle is one egress proxy lease. Callers report the outcome through
// Release or Penalize; the URL must not outlive the lease.
type Handle struct {
	URL string

	idx int
}

type entry struct {
	url           string
	status        Status
	successCount  int
	failCount     int
	cooldownUntil time.Time
	leased        bool
}

func (e *entry) successRate() float64 {
	total := e.successCount + e.failCount
	if total == 0 {
		return 1.0
	}
	return float64(e.successCount) / float64(total)
}

func (e *entry) available(now time.Time) bool {
	if e.leased || e.status == StatusDead {
		return false
	}
	if e.status == StatusCooling && now.Before(e.cooldownUntil) {
		return false
	}
	return true
}

// Options configures a Pool.
type Options struct {
	// URLs are the egress proxy URLs. An empty list builds a direct-egress
	// pool whose Acquire always returns a handle with an empty URL.
	URLs []string

	// Cooldown after a penalty. Zero uses 30s.
	Cooldown time.Duration

	// DeadRate is the success rate below which a penalized handle is
	// retired instead of cooled. Zero uses 0.3.
	DeadRate float64

	// Now overrides the clock, for tests.
	Now func() time.Time

	// OnHealthChange, when set, receives the available and dead counts
	// after every state change. The observability gauges hang off this.
	OnHealthChange func(available, dead int)
}

// Pool hands out proxy handles round-robin, skipping handles that are
// leased, cooling or dead. Safe for concurrent use.
type Pool struct {
	mu       sync.Mutex
	entries  []*entry
	next     int
	cooldown time.Duration
	deadRate float64
	now      func() time.Time
	onChange func(available, dead int)

	waiters []chan struct{}
}

// NewPool creates a Pool.
func NewPool(opts Options) *Pool {
	cooldown := opts.Cooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}
	deadRate := opts.DeadRate
	if deadRate == 0 {
		deadRate = 0.3
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	entries := make([]*entry, 0, len(opts.URLs))
	for _, u := range opts.URLs {
		entries = append(entries, &entry{url: u, status: StatusActive})
	}
	return &Pool{
		entries:  entries,
		cooldown: cooldown,
		deadRate: deadRate,
		now:      now,
		onChange: opts.OnHealthChange,
	}
}

// Direct reports whether the pool has no proxies configured and egress goes
// out directly.
func (p *Pool) Direct() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) == 0
}

// Acquire leases the next available proxy, blocking until one frees up or
// ctx is done. A direct pool returns an empty handle immediately.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	for {
		p.mu.Lock()
		if len(p.entries) == 0 {
			p.mu.Unlock()
			return &Handle{idx: -1}, nil
		}
		if h, ok := p.tryAcquireLocked(); ok {
			p.mu.Unlock()
			return h, nil
		}
		if !p.anyRecoverableLocked() {
			p.mu.Unlock()
			return nil, ErrNoneAvailable
		}
		ch := make(chan struct{})
		p.waiters = append(p.waiters, ch)
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		case <-time.After(p.cooldown):
			// Re-scan; a cooldown may have lapsed without a release.
		}
	}
}

// Release returns a handle after successful use.
func (p *Pool) Release(h *Handle) {
	if h == nil || h.idx < 0 {
		return
	}
	p.mu.Lock()
	e := p.entries[h.idx]
	e.leased = false
	e.successCount++
	if e.status == StatusCooling && !p.now().Before(e.cooldownUntil) {
		e.status = StatusActive
	}
	p.notifyLocked()
	p.mu.Unlock()
}

// Penalize returns a handle after a failure. The handle cools down; a
// handle whose success rate has collapsed is retired.
func (p *Pool) Penalize(h *Handle) {
	if h == nil || h.idx < 0 {
		return
	}
	p.mu.Lock()
	e := p.entries[h.idx]
	e.leased = false
	e.failCount++
	if e.successRate() < p.deadRate {
		e.status = StatusDead
	} else {
		e.status = StatusCooling
		e.cooldownUntil = p.now().Add(p.cooldown)
	}
	p.notifyLocked()
	p.mu.Unlock()
}

// Stats reports the pool's health counts by status.
func (p *Pool) Stats() map[Status]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[Status]int{}
	now := p.now()
	for _, e := range p.entries {
		s := e.status
		if s == StatusCooling && !now.Before(e.cooldownUntil) {
			s = StatusActive
		}
		out[s]++
	}
	return out
}

func (p *Pool) tryAcquireLocked() (*Handle, bool) {
	now := p.now()
	n := len(p.entries)
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		e := p.entries[idx]
		if !e.available(now) {
			continue
		}
		e.leased = true
		e.status = StatusActive
		p.next = (idx + 1) % n
		p.notifyCountsLocked()
		return &Handle{URL: e.url, idx: idx}, true
	}
	return nil, false
}

// anyRecoverableLocked reports whether waiting could ever produce a handle.
func (p *Pool) anyRecoverableLocked() bool {
	for _, e := range p.entries {
		if e.status != StatusDead {
			return true
		}
	}
	return false
}

func (p *Pool) notifyLocked() {
	for _, ch := range p.waiters {
		close(ch)
	}
	p.waiters = nil
	p.notifyCountsLocked()
}

func (p *Pool) notifyCountsLocked() {
	if p.onChange == nil {
		return
	}
	now := p.now()
	available, dead := 0, 0
	for _, e := range p.entries {
		switch {
		case e.status == StatusDead:
			dead++
		case e.available(now):
			available++
		}
	}
	p.onChange(available, dead)
}
