// Package catalog provides the read-only card reference: a matcher that
// maps listing titles to known cards and a sync client that keeps the
// card snapshot current from the reference API.
package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"dealscout/internal/domain"
	"dealscout/internal/storage"
)

// cardNumberRe captures "20/189" style collector numbers in titles.
var cardNumberRe = regexp.MustCompile(`\b(\d{1,3})\s*/\s*(\d{1,3})\b`)

// Matcher resolves listing titles against an in-memory snapshot of the card
// catalog. It never guesses: no confident match means no card, and the deal
// is recorded unmatched rather than mis-valued.
type Matcher struct {
	cards storage.CardStore

	mu       sync.RWMutex
	byNumber map[string][]*domain.Card // collector number, zeros stripped
	byName   map[string][]*domain.Card // lowercase card name
}

// NewMatcher creates a Matcher. Call Refresh before first use.
func NewMatcher(cards storage.CardStore) *Matcher {
	return &Matcher{
		cards:    cards,
		byNumber: map[string][]*domain.Card{},
		byName:   map[string][]*domain.Card{},
	}
}

// Refresh rebuilds the match index from the card store.
func (m *Matcher) Refresh(ctx context.Context) error {
	all, err := m.cards.All(ctx)
	if err != nil {
		return fmt.Errorf("load card snapshot: %w", err)
	}

	byNumber := make(map[string][]*domain.Card)
	byName := make(map[string][]*domain.Card)
	for _, c := range all {
		num := normalizeNumber(c.Number)
		if num != "" {
			byNumber[num] = append(byNumber[num], c)
		}
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name != "" {
			byName[name] = append(byName[name], c)
		}
	}

	m.mu.Lock()
	m.byNumber = byNumber
	m.byName = byName
	m.mu.Unlock()
	return nil
}

// Size reports how many distinct card names are indexed.
func (m *Matcher) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byName)
}

// Match resolves a listing title to a card ID.
//
// A collector number in the title narrows the candidates to cards with
// that number; the card's name must then appear in the title. Without a
// number, the title must contain both the card name and its set name, or
// the name must be unambiguous across the catalog.
func (m *Matcher) Match(title string) (cardID string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lower := strings.ToLower(title)

	if nm := cardNumberRe.FindStringSubmatch(title); nm != nil {
		num := normalizeNumber(nm[1])
		var hit *domain.Card
		for _, c := range m.byNumber[num] {
			if !strings.Contains(lower, strings.ToLower(c.Name)) {
				continue
			}
			if hit != nil {
				// Same number and name in two sets: require the set
				// name to break the tie.
				if strings.Contains(lower, strings.ToLower(c.SetName)) {
					hit = c
				} else if !strings.Contains(lower, strings.ToLower(hit.SetName)) {
					return "", false
				}
				continue
			}
			hit = c
		}
		if hit != nil {
			return hit.ID, true
		}
		return "", false
	}

	// No collector number: gather cards whose name appears in the title,
	// keeping only the longest matching names so "charizard vmax" beats
	// "charizard".
	var candidates []*domain.Card
	longest := 0
	for name, cards := range m.byName {
		if !strings.Contains(lower, name) {
			continue
		}
		if len(name) > longest {
			longest = len(name)
			candidates = candidates[:0]
		}
		if len(name) == longest {
			candidates = append(candidates, cards...)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	if len(candidates) == 1 {
		return candidates[0].ID, true
	}

	// Several printings share the name: the set name must disambiguate.
	var hit *domain.Card
	for _, c := range candidates {
		if !strings.Contains(lower, strings.ToLower(c.SetName)) {
			continue
		}
		if hit != nil && hit.ID != c.ID {
			return "", false
		}
		hit = c
	}
	if hit != nil {
		return hit.ID, true
	}
	return "", false
}

func normalizeNumber(n string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(n), "0")
	if trimmed == "" && strings.TrimSpace(n) != "" {
		return "0"
	}
	return trimmed
}
