package proxy

import (
	"context"
	"testing"
	"time"
)

func TestAcquireRoundRobin(t *testing.T) {
	p := NewPool(Options{URLs: []string{"http://p1:8080", "http://p2:8080", "http://p3:8080"}})
	ctx := context.Background()

	var seen []string
	for i := 0; i < 3; i++ {
		h, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		seen = append(seen, h.URL)
		p.Release(h)
	}

	want := []string{"http://p1:8080", "http://p2:8080", "http://p3:8080"}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("rotation order: got %v, want %v", seen, want)
			break
		}
	}
}

func TestDirectPool(t *testing.T) {
	p := NewPool(Options{})
	if !p.Direct() {
		t.Fatal("empty pool should be direct")
	}

	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if h.URL != "" {
		t.Errorf("direct handle should have empty URL, got %q", h.URL)
	}
	p.Release(h)
	p.Penalize(h) // no-op for direct handles
}

func TestPenalizeCoolsDown(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	p := NewPool(Options{
		URLs:     []string{"http://p1:8080", "http://p2:8080"},
		Cooldown: 30 * time.Second,
		Now:      now,
	})
	ctx := context.Background()

	h1, _ := p.Acquire(ctx)
	p.Release(h1) // one success so the penalty cools instead of killing
	h1, _ = p.Acquire(ctx)
	// The pool rotated; grab until we hold p1 again.
	for h1.URL != "http://p1:8080" {
		p.Release(h1)
		h1, _ = p.Acquire(ctx)
	}
	p.Penalize(h1)

	// p1 is cooling; the next two acquires must both be p2.
	for i := 0; i < 2; i++ {
		h, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if h.URL != "http://p2:8080" {
			t.Fatalf("expected p2 during cooldown, got %s", h.URL)
		}
		p.Release(h)
	}

	// After the cooldown lapses p1 serves again.
	clock = clock.Add(31 * time.Second)
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		h, _ := p.Acquire(ctx)
		seen[h.URL] = true
		p.Release(h)
	}
	if !seen["http://p1:8080"] {
		t.Error("p1 should return after cooldown")
	}
}

func TestRepeatedFailuresKillHandle(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := NewPool(Options{
		URLs: []string{"http://p1:8080"},
		Now:  func() time.Time { return clock },
	})
	ctx := context.Background()

	// First failure with no successes drops the rate to 0.
	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	p.Penalize(h)

	if _, err := p.Acquire(ctx); err != ErrNoneAvailable {
		t.Errorf("expected ErrNoneAvailable once all handles are dead, got %v", err)
	}

	stats := p.Stats()
	if stats[StatusDead] != 1 {
		t.Errorf("expected 1 dead handle, got %v", stats)
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p := NewPool(Options{URLs: []string{"http://p1:8080"}, Cooldown: time.Minute})
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	got := make(chan *Handle, 1)
	go func() {
		h2, err := p.Acquire(ctx)
		if err != nil {
			t.Errorf("second Acquire failed: %v", err)
			return
		}
		got <- h2
	}()

	select {
	case <-got:
		t.Fatal("second Acquire should block while the handle is leased")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(h)
	select {
	case h2 := <-got:
		p.Release(h2)
	case <-time.After(2 * time.Second):
		t.Fatal("second Acquire did not wake after release")
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	p := NewPool(Options{URLs: []string{"http://p1:8080"}, Cooldown: time.Minute})
	ctx := context.Background()

	h, _ := p.Acquire(ctx)
	defer p.Release(h)

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(cancelCtx); err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestHealthCallback(t *testing.T) {
	var lastAvail, lastDead int
	p := NewPool(Options{
		URLs: []string{"http://p1:8080", "http://p2:8080"},
		OnHealthChange: func(available, dead int) {
			lastAvail, lastDead = available, dead
		},
	})

	h, _ := p.Acquire(context.Background())
	if lastAvail != 1 {
		t.Errorf("expected 1 available while leased, got %d", lastAvail)
	}
	p.Penalize(h)
	if lastDead != 1 {
		t.Errorf("expected 1 dead after penalty, got %d", lastDead)
	}
}
