package memory

import (
	"context"
	"errors"
	"testing"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
)

func TestMarketValueStore_PutAndGet(t *testing.T) {
	store := NewMarketValueStore()
	ctx := context.Background()

	mv := &domain.MarketValue{
		CardID:      "base1-4",
		Condition:   domain.ConditionNM,
		ValueP:      6000,
		Confidence:  0.8,
		SampleCount: 5,
		UpdatedAt:   1704067200000,
	}
	if err := store.Put(ctx, mv); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "base1-4", domain.ConditionNM)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ValueP != 6000 || got.SampleCount != 5 {
		t.Errorf("value mismatch: %+v", got)
	}

	_, err = store.Get(ctx, "base1-4", domain.ConditionHP)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing condition, got %v", err)
	}
}

func TestMarketValueStore_RejectsNegative(t *testing.T) {
	store := NewMarketValueStore()

	err := store.Put(context.Background(), &domain.MarketValue{
		CardID:    "base1-4",
		Condition: domain.ConditionNM,
		ValueP:    -1,
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for negative value, got %v", err)
	}
}

func TestMarketValueStore_GetByCardOrdersByGrade(t *testing.T) {
	store := NewMarketValueStore()
	ctx := context.Background()

	for _, cond := range []domain.Condition{domain.ConditionHP, domain.ConditionNM, domain.ConditionMP} {
		if err := store.Put(ctx, &domain.MarketValue{
			CardID:    "base1-4",
			Condition: cond,
			ValueP:    1000,
		}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	values, err := store.GetByCard(ctx, "base1-4")
	if err != nil {
		t.Fatalf("GetByCard failed: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("expected 3 values, got %d", len(values))
	}
	want := []domain.Condition{domain.ConditionNM, domain.ConditionMP, domain.ConditionHP}
	for i, cond := range want {
		if values[i].Condition != cond {
			t.Errorf("position %d: got %s, want %s", i, values[i].Condition, cond)
		}
	}
}
