// Package knowledge implements the Muninn symbolic knowledge store.
//
// The store is the authoritative holder of entities and triples (facts). It
// answers point and pattern queries through three inverted indices, ages out
// stale machine-asserted knowledge via confidence decay, and snapshots its
// full state to a blob store after every mutation.
//
// Data Model:
//   - Entity: a typed, labeled node referenced by triples
//   - Triple: a (subject, predicate, object) assertion with confidence,
//     source, and provenance; the object is either an entity reference or a
//     literal scalar
//
// Invariants:
//   - At most one triple exists per (subject, predicate, object) tuple.
//     Re-insertion with higher confidence replaces the stored confidence and
//     timestamp; equal or lower confidence is a silent no-op returning the
//     existing ID.
//   - A subject (or entity-reference object) naming an unknown entity
//     auto-creates that entity with the default type "Entity".
//
// Example Usage:
//
//	store := knowledge.NewStore(nil)
//
//	store.AddTriple("Socrates", "isA", knowledge.EntityRef("Human"), nil)
//	store.AddTriple("Human", "subClassOf", knowledge.EntityRef("Mortal"), nil)
//
//	humans := store.Query(knowledge.TriplePattern{Predicate: "isA"})
//	fmt.Printf("%d isA facts\n", len(humans))
//
// ELI12:
//
// Think of the store as a giant box of index cards. Every card says
// "SOMETHING — relates-to — SOMETHING ELSE" with a confidence score in the
// corner. Three card catalogs (by first thing, by relation, by second thing)
// let you find cards fast, and cards the machine wrote fade over time unless
// they were important enough to keep.
package knowledge

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityID is a strongly-typed unique identifier for entities.
type EntityID string

// TripleID is a strongly-typed unique identifier for triples.
type TripleID string

// Source tags where a piece of knowledge came from.
type Source string

// Knowledge sources. Decay applies only to llm-sourced triples; prune spares
// system-sourced entities.
const (
	SourceSystem   Source = "system"
	SourceUser     Source = "user"
	SourceLLM      Source = "llm"
	SourceInferred Source = "inferred"
)

// DefaultEntityType is assigned to entities auto-created during triple
// insertion.
const DefaultEntityType = "Entity"

// Entity represents a typed, labeled node in the knowledge graph.
type Entity struct {
	ID         EntityID          `json:"id"`
	Types      []string          `json:"types"`
	Labels     map[string]string `json:"labels,omitempty"`     // locale -> display label
	Properties map[string]any    `json:"properties,omitempty"` // arbitrary key -> value
	Confidence float64           `json:"confidence"`
	Source     Source            `json:"source"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// HasType reports whether the entity carries the given type tag.
func (e *Entity) HasType(t string) bool {
	for _, typ := range e.Types {
		if typ == t {
			return true
		}
	}
	return false
}

// Object is the tagged variant for a triple's object: either a reference to
// an entity or an arbitrary literal scalar.
type Object interface {
	// Value returns the raw value: the entity ID string for references,
	// the scalar for literals.
	Value() any

	// key returns a stable string used by the object index and the
	// (subject, predicate, object) uniqueness check.
	key() string

	isObject()
}

// EntityRef is an object that references another entity by ID.
type EntityRef EntityID

// Value returns the referenced entity ID as a string.
func (r EntityRef) Value() any { return string(r) }

func (r EntityRef) key() string { return "e\x00" + string(r) }
func (r EntityRef) isObject()   {}

// Literal is an object holding an arbitrary scalar value.
type Literal struct {
	Val any
}

// Value returns the literal scalar.
func (l Literal) Value() any { return l.Val }

func (l Literal) key() string { return fmt.Sprintf("l\x00%T\x00%v", l.Val, l.Val) }
func (l Literal) isObject()   {}

// ObjectFromValue wraps a raw value as an Object: strings become entity
// references, everything else a literal. This mirrors how facts coming back
// from the rule engine address entities by ID.
func ObjectFromValue(v any) Object {
	if s, ok := v.(string); ok {
		return EntityRef(s)
	}
	return Literal{Val: v}
}

// Triple represents a single (subject, predicate, object) fact.
type Triple struct {
	ID         TripleID
	Subject    EntityID
	Predicate  string
	Object     Object
	Confidence float64
	Source     Source
	Timestamp  time.Time
	Provenance []string // ordered rule IDs that produced this fact
}

// TripleMeta carries optional metadata for AddTriple. Zero values fall back
// to the defaults (confidence 0.8, source llm, timestamp now).
type TripleMeta struct {
	Confidence float64
	Source     Source
	Timestamp  time.Time
	Provenance []string
}

// TriplePattern selects triples in Query. Zero-valued fields are wildcards.
type TriplePattern struct {
	Subject       EntityID
	Predicate     string
	Object        Object // nil matches any object
	MinConfidence float64
}

// EntityPattern selects entities in QueryEntities. Zero-valued fields are
// wildcards.
type EntityPattern struct {
	Type          string
	HasProperty   string
	LabelContains string // case-sensitive substring over all locale labels
}

// Stats summarizes store contents.
type Stats struct {
	Entities      int            `json:"entities"`
	Triples       int            `json:"triples"`
	BySource      map[Source]int `json:"bySource"`
	AvgConfidence float64        `json:"avgConfidence"`
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

// Snapshot is the persisted form of the whole store.
//
// Entities serialize as [id, record] pairs to keep the snapshot stable under
// map-order changes; triples serialize in array order so index positions can
// be rebuilt deterministically on load.
type Snapshot struct {
	Entities []EntityPair `json:"entities"`
	Triples  []*Triple    `json:"triples"`
	Version  int          `json:"version"`
}

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// EntityPair is one [id, entity] element of the snapshot entity list.
type EntityPair struct {
	ID     EntityID
	Entity *Entity
}

// MarshalJSON encodes the pair as a two-element array.
func (p EntityPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.ID, p.Entity})
}

// UnmarshalJSON decodes a two-element [id, entity] array.
func (p *EntityPair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &p.ID); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &p.Entity)
}

// objectRecord is the tagged wire form of an Object.
type objectRecord struct {
	Kind   string `json:"kind"` // "entity" or "literal"
	Entity string `json:"entity,omitempty"`
	Value  any    `json:"value,omitempty"`
}

// tripleRecord is the wire form of a Triple.
type tripleRecord struct {
	ID         string       `json:"id"`
	Subject    string       `json:"subject"`
	Predicate  string       `json:"predicate"`
	Object     objectRecord `json:"object"`
	Confidence float64      `json:"confidence"`
	Source     string       `json:"source"`
	Timestamp  time.Time    `json:"timestamp"`
	Provenance []string     `json:"provenance,omitempty"`
}

// MarshalJSON encodes the triple with a tagged object variant.
func (t *Triple) MarshalJSON() ([]byte, error) {
	rec := tripleRecord{
		ID:         string(t.ID),
		Subject:    string(t.Subject),
		Predicate:  t.Predicate,
		Confidence: t.Confidence,
		Source:     string(t.Source),
		Timestamp:  t.Timestamp,
		Provenance: t.Provenance,
	}
	switch o := t.Object.(type) {
	case EntityRef:
		rec.Object = objectRecord{Kind: "entity", Entity: string(o)}
	case Literal:
		rec.Object = objectRecord{Kind: "literal", Value: o.Val}
	default:
		return nil, fmt.Errorf("knowledge: triple %s has no object", t.ID)
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes the tagged object variant.
func (t *Triple) UnmarshalJSON(data []byte) error {
	var rec tripleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	t.ID = TripleID(rec.ID)
	t.Subject = EntityID(rec.Subject)
	t.Predicate = rec.Predicate
	t.Confidence = rec.Confidence
	t.Source = Source(rec.Source)
	t.Timestamp = rec.Timestamp
	t.Provenance = rec.Provenance

	switch rec.Object.Kind {
	case "entity":
		t.Object = EntityRef(rec.Object.Entity)
	case "literal":
		t.Object = Literal{Val: rec.Object.Value}
	default:
		return fmt.Errorf("knowledge: unknown object kind %q", rec.Object.Kind)
	}
	return nil
}
