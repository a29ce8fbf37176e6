package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealscout/internal/domain"
	"dealscout/internal/storage/memory"
)

func seedMatcher(t *testing.T, cards ...*domain.Card) *Matcher {
	t.Helper()
	store := memory.NewCardStore()
	ctx := context.Background()
	for _, c := range cards {
		require.NoError(t, store.Upsert(ctx, c))
	}
	m := NewMatcher(store)
	require.NoError(t, m.Refresh(ctx))
	return m
}

func TestMatchByNumber(t *testing.T) {
	m := seedMatcher(t,
		&domain.Card{ID: "swsh3-20", Name: "Charizard VMAX", SetName: "Darkness Ablaze", Number: "20"},
		&domain.Card{ID: "base1-4", Name: "Charizard", SetName: "Base Set", Number: "4"},
	)

	id, ok := m.Match("Charizard VMAX 020/189 Darkness Ablaze NM")
	require.True(t, ok)
	assert.Equal(t, "swsh3-20", id)

	id, ok = m.Match("Pokemon Charizard Holo 4/102 Base Set")
	require.True(t, ok)
	assert.Equal(t, "base1-4", id)
}

func TestMatchNumberWithoutNameFails(t *testing.T) {
	m := seedMatcher(t,
		&domain.Card{ID: "swsh3-20", Name: "Charizard VMAX", SetName: "Darkness Ablaze", Number: "20"},
	)

	_, ok := m.Match("Pokemon card 020/189 great condition")
	assert.False(t, ok, "number alone must not match without the card name")
}

func TestMatchSameNumberDifferentSets(t *testing.T) {
	m := seedMatcher(t,
		&domain.Card{ID: "swsh3-20", Name: "Pikachu", SetName: "Darkness Ablaze", Number: "20"},
		&domain.Card{ID: "sv1-20", Name: "Pikachu", SetName: "Scarlet & Violet", Number: "20"},
	)

	// Without a set name the collision is ambiguous.
	_, ok := m.Match("Pikachu 20/189")
	assert.False(t, ok)

	id, ok := m.Match("Pikachu 20/189 Darkness Ablaze")
	require.True(t, ok)
	assert.Equal(t, "swsh3-20", id)
}

func TestMatchByNameAndSet(t *testing.T) {
	m := seedMatcher(t,
		&domain.Card{ID: "base1-4", Name: "Charizard", SetName: "Base Set", Number: "4"},
		&domain.Card{ID: "base2-4", Name: "Charizard", SetName: "Jungle", Number: "4"},
	)

	id, ok := m.Match("Vintage Charizard Base Set holo")
	require.True(t, ok)
	assert.Equal(t, "base1-4", id)

	// Two printings, no set name: ambiguous.
	_, ok = m.Match("Vintage Charizard holo rare")
	assert.False(t, ok)
}

func TestMatchUniqueNameAlone(t *testing.T) {
	m := seedMatcher(t,
		&domain.Card{ID: "neo1-9", Name: "Lugia", SetName: "Neo Genesis", Number: "9"},
	)

	id, ok := m.Match("Lugia holo great condition")
	require.True(t, ok)
	assert.Equal(t, "neo1-9", id)
}

func TestMatchPrefersLongerName(t *testing.T) {
	m := seedMatcher(t,
		&domain.Card{ID: "base1-4", Name: "Charizard", SetName: "Base Set", Number: "4"},
		&domain.Card{ID: "swsh3-20", Name: "Charizard VMAX", SetName: "Darkness Ablaze", Number: "20"},
	)

	id, ok := m.Match("Charizard VMAX near mint")
	require.True(t, ok)
	assert.Equal(t, "swsh3-20", id)
}

func TestMatchNothing(t *testing.T) {
	m := seedMatcher(t,
		&domain.Card{ID: "base1-4", Name: "Charizard", SetName: "Base Set", Number: "4"},
	)

	_, ok := m.Match("Blastoise shadowless holo")
	assert.False(t, ok)
}

func TestRefreshReplacesIndex(t *testing.T) {
	store := memory.NewCardStore()
	ctx := context.Background()
	m := NewMatcher(store)
	require.NoError(t, m.Refresh(ctx))
	assert.Equal(t, 0, m.Size())

	require.NoError(t, store.Upsert(ctx, &domain.Card{ID: "neo1-9", Name: "Lugia", SetName: "Neo Genesis", Number: "9"}))
	require.NoError(t, m.Refresh(ctx))
	assert.Equal(t, 1, m.Size())

	_, ok := m.Match("Lugia holo")
	assert.True(t, ok)
}
