package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/blob"
)

func TestAddTriple(t *testing.T) {
	t.Run("auto-creates referenced entities", func(t *testing.T) {
		store := NewStore(nil)

		store.AddTriple("Socrates", "isA", EntityRef("Human"), nil)

		subject, ok := store.GetEntity("Socrates")
		require.True(t, ok)
		assert.Equal(t, []string{DefaultEntityType}, subject.Types)

		object, ok := store.GetEntity("Human")
		require.True(t, ok)
		assert.Equal(t, []string{DefaultEntityType}, object.Types)
	})

	t.Run("literal objects do not create entities", func(t *testing.T) {
		store := NewStore(nil)

		store.AddTriple("Socrates", "age", Literal{Val: 70}, nil)

		_, ok := store.GetEntity("Socrates")
		assert.True(t, ok)
		assert.Equal(t, 1, store.Stats().Entities)
	})

	t.Run("applies metadata defaults", func(t *testing.T) {
		store := NewStore(nil)

		id := store.AddTriple("Socrates", "isA", EntityRef("Human"), nil)

		triple, ok := store.GetTriple(id)
		require.True(t, ok)
		assert.Equal(t, 0.8, triple.Confidence)
		assert.Equal(t, SourceLLM, triple.Source)
		assert.False(t, triple.Timestamp.IsZero())
	})

	t.Run("duplicate insertion returns the existing ID", func(t *testing.T) {
		store := NewStore(nil)

		first := store.AddTriple("Socrates", "isA", EntityRef("Human"), nil)
		second := store.AddTriple("Socrates", "isA", EntityRef("Human"), nil)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, store.Stats().Triples)
	})

	t.Run("higher confidence replaces stored confidence and timestamp", func(t *testing.T) {
		store := NewStore(nil)
		old := time.Now().Add(-48 * time.Hour)

		id := store.AddTriple("Socrates", "isA", EntityRef("Human"),
			&TripleMeta{Confidence: 0.5, Timestamp: old})
		store.AddTriple("Socrates", "isA", EntityRef("Human"),
			&TripleMeta{Confidence: 0.9})

		triple, ok := store.GetTriple(id)
		require.True(t, ok)
		assert.Equal(t, 0.9, triple.Confidence)
		assert.True(t, triple.Timestamp.After(old))
	})

	t.Run("equal or lower confidence is a silent no-op", func(t *testing.T) {
		store := NewStore(nil)
		old := time.Now().Add(-48 * time.Hour)

		id := store.AddTriple("Socrates", "isA", EntityRef("Human"),
			&TripleMeta{Confidence: 0.9, Timestamp: old})
		store.AddTriple("Socrates", "isA", EntityRef("Human"),
			&TripleMeta{Confidence: 0.9})
		store.AddTriple("Socrates", "isA", EntityRef("Human"),
			&TripleMeta{Confidence: 0.5})

		triple, ok := store.GetTriple(id)
		require.True(t, ok)
		assert.Equal(t, 0.9, triple.Confidence)
		assert.True(t, triple.Timestamp.Equal(old))
	})

	t.Run("same subject and predicate with different objects coexist", func(t *testing.T) {
		store := NewStore(nil)

		first := store.AddTriple("Socrates", "isA", EntityRef("Human"), nil)
		second := store.AddTriple("Socrates", "isA", EntityRef("Philosopher"), nil)

		assert.NotEqual(t, first, second)
		assert.Equal(t, 2, store.Stats().Triples)
	})
}

func TestQuery(t *testing.T) {
	seed := func(t *testing.T) *Store {
		t.Helper()
		store := NewStore(nil)
		store.AddTriple("Socrates", "isA", EntityRef("Human"), &TripleMeta{Confidence: 0.95})
		store.AddTriple("Plato", "isA", EntityRef("Human"), &TripleMeta{Confidence: 0.6})
		store.AddTriple("Socrates", "taught", EntityRef("Plato"), &TripleMeta{Confidence: 0.9})
		store.AddTriple("Socrates", "age", Literal{Val: 70}, &TripleMeta{Confidence: 0.5})
		return store
	}

	t.Run("by subject", func(t *testing.T) {
		store := seed(t)
		got := store.Query(TriplePattern{Subject: "Socrates"})
		assert.Len(t, got, 3)
	})

	t.Run("by subject and predicate", func(t *testing.T) {
		store := seed(t)
		got := store.Query(TriplePattern{Subject: "Socrates", Predicate: "isA"})
		require.Len(t, got, 1)
		assert.Equal(t, EntityRef("Human"), got[0].Object)
	})

	t.Run("by predicate", func(t *testing.T) {
		store := seed(t)
		got := store.Query(TriplePattern{Predicate: "isA"})
		assert.Len(t, got, 2)
	})

	t.Run("by object is a linear filter", func(t *testing.T) {
		store := seed(t)
		got := store.Query(TriplePattern{Object: EntityRef("Human")})
		assert.Len(t, got, 2)

		got = store.Query(TriplePattern{Object: Literal{Val: 70}})
		require.Len(t, got, 1)
		assert.Equal(t, "age", got[0].Predicate)
	})

	t.Run("minimum confidence is a post-filter", func(t *testing.T) {
		store := seed(t)
		got := store.Query(TriplePattern{Predicate: "isA", MinConfidence: 0.9})
		require.Len(t, got, 1)
		assert.Equal(t, EntityID("Socrates"), got[0].Subject)
	})

	t.Run("empty pattern returns everything", func(t *testing.T) {
		store := seed(t)
		assert.Len(t, store.Query(TriplePattern{}), 4)
	})

	t.Run("results are copies", func(t *testing.T) {
		store := seed(t)
		got := store.Query(TriplePattern{Subject: "Socrates", Predicate: "isA"})
		require.Len(t, got, 1)
		got[0].Confidence = 0.01

		again := store.Query(TriplePattern{Subject: "Socrates", Predicate: "isA"})
		require.Len(t, again, 1)
		assert.Equal(t, 0.95, again[0].Confidence)
	})
}

func TestEntities(t *testing.T) {
	t.Run("add assigns ID and defaults", func(t *testing.T) {
		store := NewStore(nil)

		id := store.AddEntity(&Entity{Labels: map[string]string{"en": "Socrates"}})

		e, ok := store.GetEntity(id)
		require.True(t, ok)
		assert.Equal(t, []string{DefaultEntityType}, e.Types)
		assert.Equal(t, 1.0, e.Confidence)
		assert.Equal(t, SourceUser, e.Source)
	})

	t.Run("re-add merges into the existing entity", func(t *testing.T) {
		store := NewStore(nil)

		store.AddEntity(&Entity{ID: "Socrates", Types: []string{"Person"}})
		store.AddEntity(&Entity{ID: "Socrates", Types: []string{"Philosopher"},
			Properties: map[string]any{"era": "classical"}})

		e, ok := store.GetEntity("Socrates")
		require.True(t, ok)
		assert.ElementsMatch(t, []string{"Person", "Philosopher"}, e.Types)
		assert.Equal(t, "classical", e.Properties["era"])
	})

	t.Run("update merges partial fields", func(t *testing.T) {
		store := NewStore(nil)
		store.AddEntity(&Entity{ID: "Socrates", Types: []string{"Person"}})

		conf := 0.7
		updated, ok := store.UpdateEntity("Socrates", EntityUpdate{
			Labels:     map[string]string{"en": "Socrates"},
			Confidence: &conf,
		})
		require.True(t, ok)
		assert.Equal(t, 0.7, updated.Confidence)
		assert.Equal(t, "Socrates", updated.Labels["en"])
		assert.Equal(t, []string{"Person"}, updated.Types)
	})

	t.Run("update of a missing entity reports false", func(t *testing.T) {
		store := NewStore(nil)
		_, ok := store.UpdateEntity("ghost", EntityUpdate{})
		assert.False(t, ok)
	})

	t.Run("delete cascades to triples on both sides", func(t *testing.T) {
		store := NewStore(nil)
		store.AddTriple("Socrates", "taught", EntityRef("Plato"), nil)
		store.AddTriple("Plato", "taught", EntityRef("Aristotle"), nil)
		store.AddTriple("Aristotle", "isA", EntityRef("Human"), nil)

		require.True(t, store.DeleteEntity("Plato"))

		// Both the outgoing and the incoming triple are gone.
		assert.Empty(t, store.Query(TriplePattern{Subject: "Plato"}))
		assert.Empty(t, store.Query(TriplePattern{Object: EntityRef("Plato")}))
		assert.Len(t, store.Query(TriplePattern{}), 1)

		// Surviving triples still resolve through the rebuilt indices.
		got := store.Query(TriplePattern{Subject: "Aristotle"})
		require.Len(t, got, 1)
		assert.Equal(t, "isA", got[0].Predicate)
	})

	t.Run("query entities by pattern", func(t *testing.T) {
		store := NewStore(nil)
		store.AddEntity(&Entity{ID: "Socrates", Types: []string{"Person"},
			Labels:     map[string]string{"en": "Socrates the philosopher"},
			Properties: map[string]any{"era": "classical"}})
		store.AddEntity(&Entity{ID: "Athens", Types: []string{"Place"}})

		assert.Len(t, store.QueryEntities(EntityPattern{Type: "Person"}), 1)
		assert.Len(t, store.QueryEntities(EntityPattern{HasProperty: "era"}), 1)
		assert.Len(t, store.QueryEntities(EntityPattern{LabelContains: "philosopher"}), 1)
		assert.Len(t, store.QueryEntities(EntityPattern{}), 2)
		assert.Empty(t, store.QueryEntities(EntityPattern{Type: "Robot"}))
	})

	t.Run("related entities unions both directions", func(t *testing.T) {
		store := NewStore(nil)
		store.AddTriple("Socrates", "taught", EntityRef("Plato"), nil)
		store.AddTriple("Plato", "taught", EntityRef("Aristotle"), nil)
		store.AddTriple("Plato", "livedIn", EntityRef("Athens"), nil)
		store.AddTriple("Plato", "age", Literal{Val: 80}, nil)

		related := store.RelatedEntities("Plato", "")
		ids := make([]EntityID, 0, len(related))
		for _, e := range related {
			ids = append(ids, e.ID)
		}
		assert.ElementsMatch(t, []EntityID{"Socrates", "Aristotle", "Athens"}, ids)

		taught := store.RelatedEntities("Plato", "taught")
		ids = ids[:0]
		for _, e := range taught {
			ids = append(ids, e.ID)
		}
		assert.ElementsMatch(t, []EntityID{"Socrates", "Aristotle"}, ids)
	})
}

func TestDeleteTriple(t *testing.T) {
	store := NewStore(nil)
	id := store.AddTriple("Socrates", "isA", EntityRef("Human"), nil)
	store.AddTriple("Plato", "isA", EntityRef("Human"), nil)

	require.True(t, store.DeleteTriple(id))
	assert.False(t, store.DeleteTriple(id), "second delete reports false")

	got := store.Query(TriplePattern{Predicate: "isA"})
	require.Len(t, got, 1)
	assert.Equal(t, EntityID("Plato"), got[0].Subject)

	// Re-insertion after deletion mints a fresh triple.
	again := store.AddTriple("Socrates", "isA", EntityRef("Human"), nil)
	assert.NotEqual(t, id, again)
}

func TestDecayConfidence(t *testing.T) {
	t.Run("removes stale llm triples below threshold", func(t *testing.T) {
		store := NewStore(nil)

		// 0.9 * 0.999^2000 ~= 0.122, well under the 0.3 removal floor.
		store.AddTriple("Socrates", "isA", EntityRef("Human"), &TripleMeta{
			Confidence: 0.9,
			Timestamp:  time.Now().Add(-2000 * time.Hour),
		})

		result := store.DecayConfidence()
		assert.Equal(t, 1, result.Removed)
		assert.Empty(t, store.Query(TriplePattern{Predicate: "isA"}))
	})

	t.Run("updates surviving llm triples in place", func(t *testing.T) {
		store := NewStore(nil)

		// 0.9 * 0.999^500 ~= 0.545, above the floor.
		id := store.AddTriple("Socrates", "isA", EntityRef("Human"), &TripleMeta{
			Confidence: 0.9,
			Timestamp:  time.Now().Add(-500 * time.Hour),
		})

		result := store.DecayConfidence()
		assert.Equal(t, 1, result.Updated)
		assert.Equal(t, 0, result.Removed)

		triple, ok := store.GetTriple(id)
		require.True(t, ok)
		assert.InDelta(t, 0.545, triple.Confidence, 0.01)
	})

	t.Run("skips tiny deltas", func(t *testing.T) {
		store := NewStore(nil)

		id := store.AddTriple("Socrates", "isA", EntityRef("Human"), &TripleMeta{
			Confidence: 0.9,
			Timestamp:  time.Now().Add(-1 * time.Hour),
		})

		result := store.DecayConfidence()
		assert.Equal(t, 0, result.Updated)

		triple, ok := store.GetTriple(id)
		require.True(t, ok)
		assert.Equal(t, 0.9, triple.Confidence)
	})

	t.Run("non-llm sources never decay", func(t *testing.T) {
		store := NewStore(nil)
		stale := time.Now().Add(-5000 * time.Hour)

		user := store.AddTriple("Socrates", "isA", EntityRef("Human"),
			&TripleMeta{Confidence: 0.9, Source: SourceUser, Timestamp: stale})
		system := store.AddTriple("Plato", "isA", EntityRef("Human"),
			&TripleMeta{Confidence: 0.9, Source: SourceSystem, Timestamp: stale})
		inferred := store.AddTriple("Aristotle", "isA", EntityRef("Human"),
			&TripleMeta{Confidence: 0.9, Source: SourceInferred, Timestamp: stale})

		result := store.DecayConfidence()
		assert.Equal(t, DecayResult{}, result)

		for _, id := range []TripleID{user, system, inferred} {
			triple, ok := store.GetTriple(id)
			require.True(t, ok)
			assert.Equal(t, 0.9, triple.Confidence)
		}
	})
}

func TestPrune(t *testing.T) {
	store := NewStore(nil)

	store.AddEntity(&Entity{ID: "orphan"})
	store.AddEntity(&Entity{ID: "protected", Source: SourceSystem})
	store.AddTriple("Socrates", "isA", EntityRef("Human"), nil)

	removed := store.Prune()
	assert.Equal(t, 1, removed)

	_, ok := store.GetEntity("orphan")
	assert.False(t, ok, "unreferenced entity is pruned")

	_, ok = store.GetEntity("protected")
	assert.True(t, ok, "system entities survive even when unreferenced")

	_, ok = store.GetEntity("Human")
	assert.True(t, ok, "object-side references count")

	_, ok = store.GetEntity("Socrates")
	assert.True(t, ok, "subject-side references count")
}

func TestStats(t *testing.T) {
	store := NewStore(nil)
	store.AddTriple("Socrates", "isA", EntityRef("Human"),
		&TripleMeta{Confidence: 0.8, Source: SourceUser})
	store.AddTriple("Plato", "isA", EntityRef("Human"),
		&TripleMeta{Confidence: 0.6})

	stats := store.Stats()
	assert.Equal(t, 3, stats.Entities)
	assert.Equal(t, 2, stats.Triples)
	assert.Equal(t, 1, stats.BySource[SourceUser])
	assert.Equal(t, 1, stats.BySource[SourceLLM])
	assert.InDelta(t, 0.7, stats.AvgConfidence, 1e-9)
}

func TestSnapshots(t *testing.T) {
	t.Run("export and import round-trip", func(t *testing.T) {
		store := NewStore(nil)
		store.AddTriple("Socrates", "isA", EntityRef("Human"),
			&TripleMeta{Confidence: 0.9, Provenance: []string{"rule-1"}})
		store.AddTriple("Socrates", "age", Literal{Val: float64(70)}, nil)

		snap := store.Export()
		require.Equal(t, SnapshotVersion, snap.Version)

		restored := NewStore(nil)
		restored.Import(snap)

		assert.Equal(t, store.Stats(), restored.Stats())

		got := restored.Query(TriplePattern{Predicate: "isA"})
		require.Len(t, got, 1)
		assert.Equal(t, []string{"rule-1"}, got[0].Provenance)

		got = restored.Query(TriplePattern{Object: Literal{Val: float64(70)}})
		assert.Len(t, got, 1)
	})

	t.Run("import replaces existing contents", func(t *testing.T) {
		store := NewStore(nil)
		store.AddTriple("Old", "isA", EntityRef("Stale"), nil)

		fresh := NewStore(nil)
		fresh.AddTriple("New", "isA", EntityRef("Current"), nil)

		store.Import(fresh.Export())

		assert.Empty(t, store.Query(TriplePattern{Subject: "Old"}))
		assert.Len(t, store.Query(TriplePattern{Subject: "New"}), 1)
	})
}

func TestPersistence(t *testing.T) {
	t.Run("state survives reopen", func(t *testing.T) {
		blobs := blob.NewMemoryStore()

		store := NewStore(&StoreOptions{Blob: blobs})
		store.AddTriple("Socrates", "isA", EntityRef("Human"), &TripleMeta{Confidence: 0.9})
		store.AddEntity(&Entity{ID: "Athens", Types: []string{"Place"}})

		reopened := NewStore(&StoreOptions{Blob: blobs})

		got := reopened.Query(TriplePattern{Subject: "Socrates", Predicate: "isA"})
		require.Len(t, got, 1)
		assert.Equal(t, 0.9, got[0].Confidence)

		athens, ok := reopened.GetEntity("Athens")
		require.True(t, ok)
		assert.Equal(t, []string{"Place"}, athens.Types)
	})

	t.Run("corrupt snapshot starts empty", func(t *testing.T) {
		blobs := blob.NewMemoryStore()
		require.NoError(t, blobs.Write(context.Background(), DefaultBlobPath, "{not json"))

		store := NewStore(&StoreOptions{Blob: blobs})
		assert.Equal(t, Stats{BySource: map[Source]int{}}, store.Stats())

		// The store stays writable and overwrites the bad snapshot.
		store.AddTriple("Socrates", "isA", EntityRef("Human"), nil)
		reopened := NewStore(&StoreOptions{Blob: blobs})
		assert.Len(t, reopened.Query(TriplePattern{}), 1)
	})

	t.Run("missing snapshot starts empty", func(t *testing.T) {
		store := NewStore(&StoreOptions{Blob: blob.NewMemoryStore()})
		assert.Equal(t, 0, store.Stats().Triples)
	})
}

func TestClear(t *testing.T) {
	blobs := blob.NewMemoryStore()
	store := NewStore(&StoreOptions{Blob: blobs})
	store.AddTriple("Socrates", "isA", EntityRef("Human"), nil)

	store.Clear()

	assert.Equal(t, 0, store.Stats().Entities)
	assert.Equal(t, 0, store.Stats().Triples)

	// The cleared state is what persists.
	reopened := NewStore(&StoreOptions{Blob: blobs})
	assert.Equal(t, 0, reopened.Stats().Triples)
}
