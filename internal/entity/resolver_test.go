package entity

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trigramSimilarity approximates pg_trgm similarity().
func trigramSimilarity(a, b string) float64 {
	grams := func(s string) map[string]bool {
		out := map[string]bool{}
		for _, w := range strings.Fields(strings.ToLower(s)) {
			p := "  " + w + " "
			for i := 0; i+3 <= len(p); i++ {
				out[p[i:i+3]] = true
			}
		}
		return out
	}
	ga, gb := grams(a), grams(b)
	if len(ga) == 0 || len(gb) == 0 {
		return 0
	}
	shared := 0
	for g := range ga {
		if gb[g] {
			shared++
		}
	}
	return float64(shared) / float64(len(ga)+len(gb)-shared)
}

type memoryEntityStore struct {
	entities    map[uuid.UUID]*Entity
	identifiers map[string]*Identifier // type|value
	owners      map[string]uuid.UUID
}

func newMemoryEntityStore() *memoryEntityStore {
	return &memoryEntityStore{
		entities:    map[uuid.UUID]*Entity{},
		identifiers: map[string]*Identifier{},
		owners:      map[string]uuid.UUID{},
	}
}

func key(t, v string) string { return t + "|" + v }

func (m *memoryEntityStore) FindMatches(_ context.Context, name string, entityType Type, threshold float64, limit int) ([]Match, error) {
	var out []Match
	for _, e := range m.entities {
		if e.EntityType != entityType {
			continue
		}
		sim := trigramSimilarity(e.CanonicalName, name)
		if sim < threshold {
			continue
		}
		match := Match{CanonicalID: e.CanonicalID, CanonicalName: e.CanonicalName, EntityType: e.EntityType, Similarity: sim}
		for k, owner := range m.owners {
			if owner == e.CanonicalID {
				match.Identifiers = append(match.Identifiers, *m.identifiers[k])
			}
		}
		out = append(out, match)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryEntityStore) FindByIdentifier(_ context.Context, idType, value string) (*Entity, error) {
	owner, ok := m.owners[key(idType, value)]
	if !ok {
		return nil, nil
	}
	e := *m.entities[owner]
	e.Identifiers = map[string]string{}
	for k, o := range m.owners {
		if o == owner {
			e.Identifiers[m.identifiers[k].Type] = m.identifiers[k].Value
		}
	}
	return &e, nil
}

func (m *memoryEntityStore) CreateCanonicalEntity(_ context.Context, n NewEntity) (uuid.UUID, error) {
	id := uuid.New()
	m.entities[id] = &Entity{CanonicalID: id, CanonicalName: n.Name, EntityType: n.Type, Aliases: n.Aliases}
	for t, v := range n.Identifiers {
		if v == "" {
			continue
		}
		m.identifiers[key(t, v)] = &Identifier{Type: t, Value: v, Source: n.Source, Confidence: 1}
		m.owners[key(t, v)] = id
	}
	return id, nil
}

func (m *memoryEntityStore) LinkEntity(_ context.Context, canonicalID uuid.UUID, id Identifier) error {
	k := key(id.Type, id.Value)
	if existing, ok := m.identifiers[k]; ok {
		if id.Confidence > existing.Confidence {
			existing.Confidence = id.Confidence
		}
		return nil
	}
	idCopy := id
	m.identifiers[k] = &idCopy
	m.owners[k] = canonicalID
	return nil
}

func (m *memoryEntityStore) MergeEntities(_ context.Context, primaryID, secondaryID uuid.UUID) error {
	primary, secondary := m.entities[primaryID], m.entities[secondaryID]
	for k, owner := range m.owners {
		if owner == secondaryID {
			m.owners[k] = primaryID
		}
	}
	seen := map[string]bool{}
	var aliases []string
	for _, a := range append(append(append([]string{}, primary.Aliases...), secondary.Aliases...), secondary.CanonicalName) {
		if !seen[a] {
			seen[a] = true
			aliases = append(aliases, a)
		}
	}
	primary.Aliases = aliases
	primary.MergedFrom = append(primary.MergedFrom, secondaryID)
	delete(m.entities, secondaryID)
	return nil
}

func TestTrigramSimilarityHelper(t *testing.T) {
	assert.Equal(t, 1.0, trigramSimilarity("GEO GROUP", "geo group"))
	assert.Less(t, trigramSimilarity("GEO GROUP INC", "CORECIVIC"), 0.2)
}

func TestResolveRecipient_CreatesThenFindsByUEI(t *testing.T) {
	store := newMemoryEntityStore()
	r := NewResolver(store, 0, nil)
	ctx := context.Background()

	id, err := r.ResolveRecipient(ctx, "THE GEO GROUP, INC.", "UEI123", "DUNS9", uuid.New())
	require.NoError(t, err)
	require.Len(t, store.entities, 1)

	again, err := r.ResolveRecipient(ctx, "Completely Different Name", "UEI123", "", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Len(t, store.entities, 1)
}

func TestResolveRecipient_DUNSHitBackfillsUEI(t *testing.T) {
	store := newMemoryEntityStore()
	r := NewResolver(store, 0, nil)
	ctx := context.Background()

	id, err := r.ResolveRecipient(ctx, "CoreCivic", "", "DUNS1", uuid.New())
	require.NoError(t, err)

	got, err := r.ResolveRecipient(ctx, "CoreCivic", "NEWUEI", "DUNS1", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	e, err := r.FindByIdentifier(ctx, IdentifierUEI, "NEWUEI")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, id, e.CanonicalID)
	assert.Equal(t, "DUNS1", e.Identifiers[IdentifierDUNS])
}

func TestResolveRecipient_HighConfidenceNameMatchLinks(t *testing.T) {
	store := newMemoryEntityStore()
	r := NewResolver(store, 0, nil)
	ctx := context.Background()

	id, err := r.ResolveRecipient(ctx, "GEO GROUP INC", "", "", uuid.New())
	require.NoError(t, err)

	got, err := r.ResolveRecipient(ctx, "geo group inc", "UEI77", "", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	link := store.identifiers[key(IdentifierUEI, "UEI77")]
	require.NotNil(t, link)
	assert.InDelta(t, 1.0, link.Confidence, 1e-9)
}

func TestResolveRecipient_WeakNameMatchCreatesNew(t *testing.T) {
	store := newMemoryEntityStore()
	r := NewResolver(store, 0, nil)
	ctx := context.Background()

	first, err := r.ResolveRecipient(ctx, "GEO GROUP INC", "", "", uuid.New())
	require.NoError(t, err)

	sim := trigramSimilarity("GEO GROUP INC", "GEO SECURE SERVICES")
	require.Less(t, sim, AutoLinkThreshold)

	second, err := r.ResolveRecipient(ctx, "GEO SECURE SERVICES", "", "", uuid.New())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Len(t, store.entities, 2)
}

func TestMergeEntities(t *testing.T) {
	store := newMemoryEntityStore()
	r := NewResolver(store, 0, nil)
	ctx := context.Background()

	primary, err := r.CreateCanonicalEntity(ctx, NewEntity{
		Name: "CoreCivic", Type: TypeCompany, Identifiers: map[string]string{IdentifierUEI: "U1"}, Aliases: []string{"CCA"},
	})
	require.NoError(t, err)
	secondary, err := r.CreateCanonicalEntity(ctx, NewEntity{
		Name: "Corrections Corporation of America", Type: TypeCompany,
		Identifiers: map[string]string{IdentifierCIK: "0001070985"}, Aliases: []string{"CCA"},
	})
	require.NoError(t, err)

	merged, err := r.MergeEntities(ctx, primary, secondary)
	require.NoError(t, err)
	assert.Equal(t, primary, merged)

	e, err := r.FindByIdentifier(ctx, IdentifierCIK, "0001070985")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, primary, e.CanonicalID)
	assert.ElementsMatch(t, []string{"CCA", "Corrections Corporation of America"}, e.Aliases)
	assert.Equal(t, []uuid.UUID{secondary}, e.MergedFrom)
	assert.NotContains(t, store.entities, secondary)

	_, err = r.MergeEntities(ctx, primary, primary)
	assert.ErrorIs(t, err, ErrSelfMerge)
}

func TestCreateCanonicalEntity_Validation(t *testing.T) {
	r := NewResolver(newMemoryEntityStore(), 0, nil)
	ctx := context.Background()

	_, err := r.CreateCanonicalEntity(ctx, NewEntity{Name: "", Type: TypeCompany})
	assert.Error(t, err)

	_, err = r.CreateCanonicalEntity(ctx, NewEntity{Name: "X", Type: "vessel"})
	assert.Error(t, err)

	_, err = r.CreateCanonicalEntity(ctx, NewEntity{
		Name: "Jane Doe", Type: TypePerson, Identifiers: map[string]string{IdentifierCIK: "1"},
	})
	assert.Error(t, err)
}

func TestLinkEntity_KeepsHigherConfidence(t *testing.T) {
	store := newMemoryEntityStore()
	r := NewResolver(store, 0, nil)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, r.LinkEntity(ctx, id, Identifier{Type: IdentifierUEI, Value: "U", Confidence: 0.9}))
	require.NoError(t, r.LinkEntity(ctx, id, Identifier{Type: IdentifierUEI, Value: "U", Confidence: 0.86}))
	assert.InDelta(t, 0.9, store.identifiers[key(IdentifierUEI, "U")].Confidence, 1e-9)

	assert.Error(t, r.LinkEntity(ctx, id, Identifier{Type: IdentifierUEI}))
}

func TestFindMatches_Defaults(t *testing.T) {
	store := newMemoryEntityStore()
	r := NewResolver(store, 0, nil)
	ctx := context.Background()

	for _, name := range []string{"GEO GROUP INC", "GEO GROUP", "CORECIVIC INC"} {
		_, err := r.CreateCanonicalEntity(ctx, NewEntity{Name: name, Type: TypeCompany})
		require.NoError(t, err)
	}

	matches, err := r.FindMatches(ctx, "GEO GROUP INC", "", 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "GEO GROUP INC", matches[0].CanonicalName)
	assert.GreaterOrEqual(t, matches[1].Similarity, DefaultMatchThreshold)

	_, err = r.FindMatches(ctx, " ", TypeCompany, 5)
	assert.Error(t, err)
}
