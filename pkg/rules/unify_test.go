package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryUnify(t *testing.T) {
	fact := Fact{Predicate: "isA", Args: []any{"Socrates", "Human"}}

	t.Run("binds fresh variables positionally", func(t *testing.T) {
		binding, ok := tryUnify(NewAtom("isA", Var("x"), Var("y")), fact, Binding{})
		require.True(t, ok)
		assert.Equal(t, "Socrates", binding["x"])
		assert.Equal(t, "Human", binding["y"])
	})

	t.Run("bound variables must match consistently", func(t *testing.T) {
		_, ok := tryUnify(NewAtom("isA", Var("x"), Var("y")), fact, Binding{"x": "Plato"})
		assert.False(t, ok)

		binding, ok := tryUnify(NewAtom("isA", Var("x"), Var("y")), fact, Binding{"x": "Socrates"})
		require.True(t, ok)
		assert.Equal(t, "Human", binding["y"])
	})

	t.Run("repeated variable requires equal arguments", func(t *testing.T) {
		_, ok := tryUnify(NewAtom("isA", Var("x"), Var("x")), fact, Binding{})
		assert.False(t, ok)

		loop := Fact{Predicate: "isFriendOf", Args: []any{"A", "A"}}
		binding, ok := tryUnify(NewAtom("isFriendOf", Var("x"), Var("x")), loop, Binding{})
		require.True(t, ok)
		assert.Equal(t, "A", binding["x"])
	})

	t.Run("constants require exact equality", func(t *testing.T) {
		_, ok := tryUnify(NewAtom("isA", Val("Plato"), Var("y")), fact, Binding{})
		assert.False(t, ok)

		binding, ok := tryUnify(NewAtom("isA", Val("Socrates"), Var("y")), fact, Binding{})
		require.True(t, ok)
		assert.Equal(t, "Human", binding["y"])
	})

	t.Run("predicate or arity mismatch fails", func(t *testing.T) {
		_, ok := tryUnify(NewAtom("taught", Var("x"), Var("y")), fact, Binding{})
		assert.False(t, ok)

		_, ok = tryUnify(NewAtom("isA", Var("x")), fact, Binding{})
		assert.False(t, ok)
	})

	t.Run("input binding is never mutated", func(t *testing.T) {
		original := Binding{}
		_, ok := tryUnify(NewAtom("isA", Var("x"), Var("y")), fact, original)
		require.True(t, ok)
		assert.Empty(t, original)
	})
}

func TestMatchBody(t *testing.T) {
	facts := []Fact{
		{Predicate: "isA", Args: []any{"Socrates", "Human"}},
		{Predicate: "isA", Args: []any{"Plato", "Human"}},
		{Predicate: "subClassOf", Args: []any{"Human", "Mortal"}},
	}

	t.Run("joins atoms through shared variables", func(t *testing.T) {
		body := []Atom{
			NewAtom("isA", Var("x"), Var("y")),
			NewAtom("subClassOf", Var("y"), Var("z")),
		}
		bindings := matchBody(body, facts)
		require.Len(t, bindings, 2)
		for _, b := range bindings {
			assert.Equal(t, "Human", b["y"])
			assert.Equal(t, "Mortal", b["z"])
		}
	})

	t.Run("unknown predicate yields zero bindings silently", func(t *testing.T) {
		assert.Empty(t, matchBody([]Atom{NewAtom("livesIn", Var("x"), Var("y"))}, facts))
	})

	t.Run("equality builtin filters bindings", func(t *testing.T) {
		body := []Atom{
			NewAtom("isA", Var("x"), Var("y")),
			NewAtom("=", Var("x"), Val("Socrates")),
		}
		bindings := matchBody(body, facts)
		require.Len(t, bindings, 1)
		assert.Equal(t, "Socrates", bindings[0]["x"])
	})

	t.Run("inequality builtin filters bindings", func(t *testing.T) {
		body := []Atom{
			NewAtom("isA", Var("x"), Var("y")),
			NewAtom("!=", Var("x"), Val("Socrates")),
		}
		bindings := matchBody(body, facts)
		require.Len(t, bindings, 1)
		assert.Equal(t, "Plato", bindings[0]["x"])
	})

	t.Run("builtin with unbound variable fails", func(t *testing.T) {
		body := []Atom{
			NewAtom("isA", Var("x"), Var("y")),
			NewAtom("=", Var("ghost"), Val("anything")),
		}
		assert.Empty(t, matchBody(body, facts))
	})

	t.Run("negated atoms pass bindings through unchanged", func(t *testing.T) {
		// Matching facts exist, but a negated atom never consults them.
		body := []Atom{
			NewAtom("isA", Var("x"), Var("y")),
			NewAtom("isA", Var("x"), Var("y")).Not(),
		}
		assert.Len(t, matchBody(body, facts), 2)

		body = []Atom{
			NewAtom("isA", Var("x"), Var("y")),
			NewAtom("neverAsserted", Var("x")).Not(),
		}
		assert.Len(t, matchBody(body, facts), 2)
	})

	t.Run("empty body yields one empty binding", func(t *testing.T) {
		bindings := matchBody(nil, facts)
		require.Len(t, bindings, 1)
		assert.Empty(t, bindings[0])
	})
}

func TestInstantiate(t *testing.T) {
	t.Run("substitutes bound variables and constants", func(t *testing.T) {
		args, ok := instantiate(NewAtom("isA", Var("x"), Val("Mortal")), Binding{"x": "Socrates"})
		require.True(t, ok)
		assert.Equal(t, []any{"Socrates", "Mortal"}, args)
	})

	t.Run("unbound head variable fails", func(t *testing.T) {
		_, ok := instantiate(NewAtom("isA", Var("x"), Var("missing")), Binding{"x": "Socrates"})
		assert.False(t, ok)
	})
}
