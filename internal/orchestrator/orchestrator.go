// Package orchestrator schedules the per-source fetch cycles. Each source
// runs on its own goroutine with a cadence, a failure budget and a circuit
// breaker; one source misbehaving never stalls the others.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"dealscout/internal/observability"
	"dealscout/internal/pipeline"
	"dealscout/internal/source"
)

// State of one source's scheduler.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
	StateCircuitOpen State = "circuit_open"
)

// Defaults for scheduling knobs left at zero.
const (
	DefaultCadence          = 90 * time.Second
	DefaultFetchTimeout     = 60 * time.Second
	DefaultCycleBudget      = 5 * time.Minute
	DefaultCircuitThreshold = 3
	DefaultCircuitCooldown  = 10 * time.Minute
	DefaultBackoffBase      = 30 * time.Second
	DefaultBackoffMax       = 8 * time.Minute
)

// Runner executes one processing cycle for an adapter.
type Runner interface {
	Run(ctx context.Context, adapter source.Adapter) (pipeline.Stats, error)
}

// SourceConfig describes one scheduled source.
type SourceConfig struct {
	Adapter source.Adapter

	// Cadence between cycle starts. Zero uses DefaultCadence. A jitter of
	// up to 10% is added so sources drift apart.
	Cadence time.Duration

	// FetchTimeout bounds the adapter's Fetch call. Zero uses
	// DefaultFetchTimeout.
	FetchTimeout time.Duration

	// CycleBudget bounds the whole cycle including processing. Exceeding
	// it cancels the cycle and counts as a transient failure. Zero uses
	// DefaultCycleBudget.
	CycleBudget time.Duration
}

// Options configures an Orchestrator.
type Options struct {
	Runner  Runner
	Sources []SourceConfig

	// CircuitThreshold is the consecutive-failure count that opens a
	// source's circuit. Zero uses DefaultCircuitThreshold.
	CircuitThreshold int

	// CircuitCooldown is how long an open circuit rests before a single
	// probe cycle. Zero uses DefaultCircuitCooldown.
	CircuitCooldown time.Duration

	// Backoff applied after rate-limit and block failures, doubling per
	// consecutive failure up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	Verbose bool
}

type sourceState struct {
	cfg  SourceConfig
	name string

	mu          sync.Mutex
	state       State
	consecFails int
	lastErr     error
	lastStats   pipeline.Stats
	lastCycleAt time.Time
	trigger     chan struct{}
}

// Orchestrator drives all configured sources. Start launches the schedulers;
// cancellation of the Start context drains in-flight cycles.
type Orchestrator struct {
	runner  Runner
	sources []*sourceState

	circuitThreshold int
	circuitCooldown  time.Duration
	backoffBase      time.Duration
	backoffMax       time.Duration
	verbose          bool

	wg sync.WaitGroup
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Runner == nil {
		return nil, errors.New("orchestrator: runner is required")
	}
	if len(opts.Sources) == 0 {
		return nil, errors.New("orchestrator: at least one source is required")
	}

	o := &Orchestrator{
		runner:           opts.Runner,
		circuitThreshold: opts.CircuitThreshold,
		circuitCooldown:  opts.CircuitCooldown,
		backoffBase:      opts.BackoffBase,
		backoffMax:       opts.BackoffMax,
		verbose:          opts.Verbose,
	}
	if o.circuitThreshold == 0 {
		o.circuitThreshold = DefaultCircuitThreshold
	}
	if o.circuitCooldown == 0 {
		o.circuitCooldown = DefaultCircuitCooldown
	}
	if o.backoffBase == 0 {
		o.backoffBase = DefaultBackoffBase
	}
	if o.backoffMax == 0 {
		o.backoffMax = DefaultBackoffMax
	}

	seen := make(map[string]struct{})
	for _, cfg := range opts.Sources {
		if cfg.Adapter == nil {
			return nil, errors.New("orchestrator: source adapter is required")
		}
		name := string(cfg.Adapter.Platform())
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("orchestrator: duplicate source %q", name)
		}
		seen[name] = struct{}{}
		if cfg.Cadence == 0 {
			cfg.Cadence = DefaultCadence
		}
		if cfg.FetchTimeout == 0 {
			cfg.FetchTimeout = DefaultFetchTimeout
		}
		if cfg.CycleBudget == 0 {
			cfg.CycleBudget = DefaultCycleBudget
		}
		o.sources = append(o.sources, &sourceState{
			cfg:     cfg,
			name:    name,
			state:   StateIdle,
			trigger: make(chan struct{}, 1),
		})
	}
	return o, nil
}

// Start launches one scheduler goroutine per source. It returns immediately;
// cancel ctx and call Wait to drain.
func (o *Orchestrator) Start(ctx context.Context) {
	for _, s := range o.sources {
		o.wg.Add(1)
		go func(s *sourceState) {
			defer o.wg.Done()
			o.runSource(ctx, s)
		}(s)
	}
}

// Wait blocks until every in-flight cycle has drained after Start's context
// was canceled.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// TriggerRefresh asks every source to run a cycle now. Sources resting in an
// open-circuit cooldown ignore the request.
func (o *Orchestrator) TriggerRefresh() {
	for _, s := range o.sources {
		select {
		case s.trigger <- struct{}{}:
		default:
		}
	}
}

// SourceStatus is a point-in-time view of one source's scheduler.
type SourceStatus struct {
	Source              string         `json:"source"`
	State               State          `json:"state"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastError           string         `json:"last_error,omitempty"`
	LastCycleAt         int64          `json:"last_cycle_at,omitempty"` // Unix ms
	LastStats           pipeline.Stats `json:"last_stats"`
}

// Status reports every source's current state.
func (o *Orchestrator) Status() []SourceStatus {
	out := make([]SourceStatus, 0, len(o.sources))
	for _, s := range o.sources {
		s.mu.Lock()
		st := SourceStatus{
			Source:              s.name,
			State:               s.state,
			ConsecutiveFailures: s.consecFails,
			LastStats:           s.lastStats,
		}
		if s.lastErr != nil {
			st.LastError = s.lastErr.Error()
		}
		if !s.lastCycleAt.IsZero() {
			st.LastCycleAt = s.lastCycleAt.UnixMilli()
		}
		s.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// runSource is one source's scheduler loop. The first cycle runs
// immediately; jitter on the periodic wait drifts the sources apart.
func (o *Orchestrator) runSource(ctx context.Context, s *sourceState) {
	for {
		o.runCycle(ctx, s)
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		fails := s.consecFails
		tripping := s.lastErr != nil && source.IsCircuitTripping(s.lastErr)
		s.mu.Unlock()

		var wait time.Duration
		switch {
		case fails >= o.circuitThreshold:
			o.openCircuit(s)
			// Cooldown ignores manual triggers; after it a single
			// probe cycle runs.
			if !sleep(ctx, o.circuitCooldown) {
				return
			}
			continue
		case tripping:
			wait = o.backoff(fails)
		default:
			wait = s.cfg.Cadence + jitter(s.cfg.Cadence/10)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
		case <-time.After(wait):
		}
	}
}

// runCycle runs one bounded cycle and updates the source's bookkeeping.
func (o *Orchestrator) runCycle(ctx context.Context, s *sourceState) {
	s.setState(StateRunning)

	cycleCtx, cancel := context.WithTimeout(ctx, s.cfg.CycleBudget)
	start := time.Now()
	stats, err := o.runner.Run(cycleCtx, timeoutAdapter{s.cfg.Adapter, s.cfg.FetchTimeout})
	cancel()

	s.mu.Lock()
	s.lastCycleAt = time.Now()
	if err != nil {
		s.state = StateFailed
		s.consecFails++
		s.lastErr = err
		fails := s.consecFails
		s.mu.Unlock()

		observability.RecordCycle(s.name, "error", time.Since(start).Seconds())
		log.Printf("[orchestrator] %s cycle failed (%d consecutive): %v", s.name, fails, err)
		return
	}

	s.state = StateSucceeded
	s.consecFails = 0
	s.lastErr = nil
	s.lastStats = stats
	s.mu.Unlock()

	observability.RecordCycle(s.name, "ok", time.Since(start).Seconds())
	observability.DefaultMetrics.LastSuccessfulCycle.WithLabelValues(s.name).SetToCurrentTime()
	observability.SetCircuitOpen(s.name, false)
	if o.verbose {
		log.Printf("[orchestrator] %s cycle ok: %+v", s.name, stats)
	}
}

func (o *Orchestrator) openCircuit(s *sourceState) {
	s.setState(StateCircuitOpen)
	observability.SetCircuitOpen(s.name, true)
	log.Printf("[orchestrator] %s circuit open, cooling down %s", s.name, o.circuitCooldown)
}

// backoff doubles per consecutive failure, capped, with 10% jitter.
func (o *Orchestrator) backoff(fails int) time.Duration {
	d := o.backoffBase
	for i := 1; i < fails && d < o.backoffMax; i++ {
		d *= 2
	}
	if d > o.backoffMax {
		d = o.backoffMax
	}
	return d + jitter(d/10)
}

func (s *sourceState) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// sleep waits for d unless ctx ends first. Reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// timeoutAdapter bounds Fetch separately from the cycle budget.
type timeoutAdapter struct {
	source.Adapter
	timeout time.Duration
}

func (t timeoutAdapter) Fetch(ctx context.Context) ([]source.RawListing, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Adapter.Fetch(fetchCtx)
}
