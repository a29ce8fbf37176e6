package idhash

import (
	"testing"

	"dealscout/internal/domain"
)

func TestComputeDealID_Deterministic(t *testing.T) {
	id1 := ComputeDealID(domain.PlatformEbay, "item-123456")
	id2 := ComputeDealID(domain.PlatformEbay, "item-123456")

	if id1 != id2 {
		t.Errorf("same inputs produced different IDs: %s vs %s", id1, id2)
	}
	if len(id1) != 64 {
		t.Errorf("expected 64-char hex hash, got %d chars", len(id1))
	}
}

func TestComputeDealID_Uniqueness(t *testing.T) {
	tests := []struct {
		name       string
		platform   domain.Platform
		externalID string
	}{
		{"ebay item", domain.PlatformEbay, "item-1"},
		{"same id different platform", domain.PlatformVinted, "item-1"},
		{"different id same platform", domain.PlatformEbay, "item-2"},
		{"separator not ambiguous", domain.PlatformEbay, "item|1"},
	}

	seen := make(map[string]string)
	for _, tt := range tests {
		id := ComputeDealID(tt.platform, tt.externalID)
		if prev, ok := seen[id]; ok {
			t.Errorf("collision: %q and %q produced the same ID", prev, tt.name)
		}
		seen[id] = tt.name
	}
}
