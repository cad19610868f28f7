package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/muninn/pkg/blob"
	"github.com/orneryd/muninn/pkg/events"
	"github.com/orneryd/muninn/pkg/log"
)

// DefaultBlobPath is where the store snapshot lives in the blob store.
const DefaultBlobPath = "knowledge/graph.json"

// Decay defaults: llm-sourced confidence decays by rate^hours and the triple
// is removed once it falls below the threshold. Updates smaller than the
// minimum delta are skipped to avoid churning the snapshot.
const (
	DefaultDecayRate            = 0.999
	DefaultDecayRemoveThreshold = 0.3
	decayMinDelta               = 0.01
)

// DefaultTripleConfidence is assigned when AddTriple metadata omits one.
const DefaultTripleConfidence = 0.8

// StoreOptions configures a Store.
type StoreOptions struct {
	// Blob is the persistence collaborator. Nil disables persistence
	// (useful for tests and ephemeral hosts).
	Blob blob.Store

	// BlobPath overrides DefaultBlobPath.
	BlobPath string

	// Bus receives knowledge:add notifications. Nil disables events.
	Bus events.Publisher

	// DecayRate overrides DefaultDecayRate when > 0.
	DecayRate float64

	// DecayRemoveThreshold overrides DefaultDecayRemoveThreshold when > 0.
	DecayRemoveThreshold float64
}

// Store is the authoritative, index-backed holder of entities and triples.
//
// All structural mutation completes in memory before the trailing snapshot
// write; a failed write is logged and the in-memory state stays
// authoritative for the session. The store serializes access with an
// RWMutex, but callers are still expected to run one mutation at a time —
// there is no cross-call transaction concept.
//
// Complexity contract:
//   - AddTriple, GetEntity, point lookups: O(1) amortized
//   - Query: O(k) over the narrowed candidate set
//   - DeleteTriple / DeleteEntity / DecayConfidence removals: O(n)
//     (array compaction plus full index rebuild)
type Store struct {
	mu       sync.RWMutex
	entities map[EntityID]*Entity
	triples  []*Triple
	byID     map[TripleID]int // triple ID -> array position
	index    *tripleIndex

	blobStore blob.Store
	blobPath  string
	bus       events.Publisher

	decayRate      float64
	decayThreshold float64
}

// NewStore creates a Store and rehydrates it from the blob store when one is
// configured. A missing snapshot starts empty; a corrupt snapshot logs a
// warning and starts empty (no partial recovery).
func NewStore(opts *StoreOptions) *Store {
	if opts == nil {
		opts = &StoreOptions{}
	}

	s := &Store{
		entities:       make(map[EntityID]*Entity),
		byID:           make(map[TripleID]int),
		index:          newTripleIndex(),
		blobStore:      opts.Blob,
		blobPath:       opts.BlobPath,
		bus:            opts.Bus,
		decayRate:      opts.DecayRate,
		decayThreshold: opts.DecayRemoveThreshold,
	}
	if s.blobPath == "" {
		s.blobPath = DefaultBlobPath
	}
	if s.decayRate <= 0 {
		s.decayRate = DefaultDecayRate
	}
	if s.decayThreshold <= 0 {
		s.decayThreshold = DefaultDecayRemoveThreshold
	}

	s.load()
	return s
}

// =============================================================================
// ENTITIES
// =============================================================================

// AddEntity inserts or merges an entity and returns its ID.
//
// An empty ID is assigned. When the ID already exists the provided fields
// are merged into the stored entity (types and maps union, metadata
// overwrites when set) and the update timestamp advances. There are no
// error conditions: any partial struct is accepted.
func (s *Store) AddEntity(e *Entity) EntityID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.addEntityLocked(e)
	s.persistLocked()
	return id
}

// GetEntity returns a copy of the entity, or false when absent.
func (s *Store) GetEntity(id EntityID) (*Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, false
	}
	return copyEntity(e), true
}

// EntityUpdate carries partial fields for UpdateEntity. Nil maps/slices and
// nil pointers leave the stored value untouched.
type EntityUpdate struct {
	Types      []string
	Labels     map[string]string
	Properties map[string]any
	Confidence *float64
	Source     *Source
}

// UpdateEntity merges the partial update into an existing entity and
// advances its update timestamp. Returns false when the entity is absent.
func (s *Store) UpdateEntity(id EntityID, update EntityUpdate) (*Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, false
	}

	if update.Types != nil {
		e.Types = mergeTypes(e.Types, update.Types)
	}
	for locale, label := range update.Labels {
		if e.Labels == nil {
			e.Labels = make(map[string]string)
		}
		e.Labels[locale] = label
	}
	for k, v := range update.Properties {
		if e.Properties == nil {
			e.Properties = make(map[string]any)
		}
		e.Properties[k] = v
	}
	if update.Confidence != nil {
		e.Confidence = clamp01(*update.Confidence)
	}
	if update.Source != nil {
		e.Source = *update.Source
	}
	e.UpdatedAt = time.Now()

	s.persistLocked()
	return copyEntity(e), true
}

// DeleteEntity removes the entity and cascades over the triple array:
// every triple mentioning the entity as subject or object goes with it.
// The triple array is compacted and all indices rebuilt (O(n)).
// Returns false when the entity is absent.
func (s *Store) DeleteEntity(id EntityID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[id]; !ok {
		return false
	}
	delete(s.entities, id)

	kept := s.triples[:0]
	for _, t := range s.triples {
		if t.Subject == id {
			continue
		}
		if ref, ok := t.Object.(EntityRef); ok && EntityID(ref) == id {
			continue
		}
		kept = append(kept, t)
	}
	s.triples = kept
	s.reindexLocked()

	s.persistLocked()
	return true
}

// QueryEntities returns entities matching the pattern. Zero-valued pattern
// fields are wildcards; label matching is a substring test across every
// locale.
func (s *Store) QueryEntities(p EntityPattern) []*Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entity
	for _, e := range s.entities {
		if p.Type != "" && !e.HasType(p.Type) {
			continue
		}
		if p.HasProperty != "" {
			if _, ok := e.Properties[p.HasProperty]; !ok {
				continue
			}
		}
		if p.LabelContains != "" && !labelContains(e.Labels, p.LabelContains) {
			continue
		}
		out = append(out, copyEntity(e))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RelatedEntities returns the deduplicated union of entities reachable from
// entityID: triple objects where it is the subject (outgoing) and triple
// subjects where it is the object (incoming). A non-empty predicate
// restricts both directions.
func (s *Store) RelatedEntities(entityID EntityID, predicate string) []*Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[EntityID]struct{})
	var out []*Entity

	collect := func(id EntityID) {
		if id == entityID {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		if e, ok := s.entities[id]; ok {
			seen[id] = struct{}{}
			out = append(out, copyEntity(e))
		}
	}

	// Outgoing: entityID -> object
	for _, pos := range s.index.bySubject[entityID] {
		t := s.triples[pos]
		if predicate != "" && t.Predicate != predicate {
			continue
		}
		if ref, ok := t.Object.(EntityRef); ok {
			collect(EntityID(ref))
		}
	}

	// Incoming: subject -> entityID
	for _, pos := range s.index.byObject[EntityRef(entityID).key()] {
		t := s.triples[pos]
		if predicate != "" && t.Predicate != predicate {
			continue
		}
		collect(t.Subject)
	}

	return out
}

// =============================================================================
// TRIPLES
// =============================================================================

// AddTriple inserts a (subject, predicate, object) fact and returns its ID.
//
// A subject (or entity-reference object) naming an unknown entity is
// auto-created with the default type "Entity". Metadata defaults: confidence
// 0.8, source llm, timestamp now.
//
// Uniqueness: at most one triple per tuple. Re-insertion with strictly
// higher confidence replaces the stored confidence and timestamp;
// equal-or-lower confidence is a silent no-op. Either way the existing ID
// comes back.
func (s *Store) AddTriple(subject EntityID, predicate string, object Object, meta *TripleMeta) TripleID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta == nil {
		meta = &TripleMeta{}
	}
	confidence := meta.Confidence
	if confidence == 0 {
		confidence = DefaultTripleConfidence
	}
	confidence = clamp01(confidence)
	source := meta.Source
	if source == "" {
		source = SourceLLM
	}
	timestamp := meta.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	// Auto-create referenced entities.
	s.ensureEntityLocked(subject)
	if ref, ok := object.(EntityRef); ok {
		s.ensureEntityLocked(EntityID(ref))
	}

	// Uniqueness: replace confidence/timestamp on a stronger assertion,
	// no-op otherwise.
	if pos := s.index.lookupTuple(subject, predicate, object); pos >= 0 {
		existing := s.triples[pos]
		if confidence > existing.Confidence {
			existing.Confidence = confidence
			existing.Timestamp = timestamp
			s.persistLocked()
		}
		return existing.ID
	}

	t := &Triple{
		ID:         TripleID("tpl-" + uuid.NewString()),
		Subject:    subject,
		Predicate:  predicate,
		Object:     object,
		Confidence: confidence,
		Source:     source,
		Timestamp:  timestamp,
		Provenance: append([]string(nil), meta.Provenance...),
	}

	pos := len(s.triples)
	s.triples = append(s.triples, t)
	s.byID[t.ID] = pos
	s.index.add(pos, t)

	events.Emit(s.bus, events.TopicKnowledgeAdd, map[string]interface{}{
		"type": "triple",
		"id":   string(t.ID),
	})

	s.persistLocked()
	return t.ID
}

// GetTriple returns a copy of the triple, or false when absent.
func (s *Store) GetTriple(id TripleID) (*Triple, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return copyTriple(s.triples[pos]), true
}

// DeleteTriple removes one triple by ID, compacting the array and rebuilding
// all indices (O(n)). Returns false when absent.
func (s *Store) DeleteTriple(id TripleID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.byID[id]
	if !ok {
		return false
	}

	s.triples = append(s.triples[:pos], s.triples[pos+1:]...)
	s.reindexLocked()

	s.persistLocked()
	return true
}

// Query returns triples matching the pattern.
//
// Narrowing order follows the index design: the subject index when a
// subject is given, otherwise the predicate index when a predicate is
// given, otherwise the full array. An object filter is applied as a linear
// scan over the narrowed set — the object index is maintained but not
// consulted here, preserving the store's historical query plan (see
// DESIGN.md). MinConfidence is always a post-filter.
func (s *Store) Query(p TriplePattern) []*Triple {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []int
	switch {
	case p.Subject != "":
		candidates = s.index.bySubject[p.Subject]
	case p.Predicate != "":
		candidates = s.index.byPredicate[p.Predicate]
	default:
		candidates = make([]int, len(s.triples))
		for i := range s.triples {
			candidates[i] = i
		}
	}

	var out []*Triple
	for _, pos := range candidates {
		t := s.triples[pos]
		if p.Subject != "" && p.Predicate != "" && t.Predicate != p.Predicate {
			continue
		}
		if p.Object != nil && t.Object.key() != p.Object.key() {
			continue
		}
		if p.MinConfidence > 0 && t.Confidence < p.MinConfidence {
			continue
		}
		out = append(out, copyTriple(t))
	}
	return out
}

// All returns a copy of every triple in array order.
func (s *Store) All() []*Triple {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Triple, len(s.triples))
	for i, t := range s.triples {
		out[i] = copyTriple(t)
	}
	return out
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// DecayResult reports what a decay pass did.
type DecayResult struct {
	Updated int
	Removed int
}

// DecayConfidence ages llm-sourced triples: each decays to
// confidence × rate^hoursSinceTimestamp. Triples falling below the removal
// threshold are removed in one pass (with a full index rebuild); the rest
// update in place when the change exceeds 0.01.
//
// Only llm-sourced knowledge decays — user, system, and inferred triples
// keep their confidence until explicitly changed.
func (s *Store) DecayConfidence() DecayResult {
	defer log.Timer("knowledge.decay")()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var result DecayResult
	remove := make(map[TripleID]struct{})

	for _, t := range s.triples {
		if t.Source != SourceLLM {
			continue
		}
		hours := now.Sub(t.Timestamp).Hours()
		if hours <= 0 {
			continue
		}
		decayed := t.Confidence * math.Pow(s.decayRate, hours)
		if decayed < s.decayThreshold {
			remove[t.ID] = struct{}{}
			continue
		}
		if t.Confidence-decayed > decayMinDelta {
			t.Confidence = decayed
			result.Updated++
		}
	}

	if len(remove) > 0 {
		kept := s.triples[:0]
		for _, t := range s.triples {
			if _, dead := remove[t.ID]; dead {
				continue
			}
			kept = append(kept, t)
		}
		s.triples = kept
		s.reindexLocked()
		result.Removed = len(remove)
	}

	s.persistLocked()

	log.Debug("decay pass complete", map[string]interface{}{
		"updated": result.Updated,
		"removed": result.Removed,
	})
	return result
}

// Prune deletes non-system entities that no current triple references as
// subject or object. Returns the number removed.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entities {
		if e.Source == SourceSystem {
			continue
		}
		if len(s.index.bySubject[id]) > 0 {
			continue
		}
		if len(s.index.byObject[EntityRef(id).key()]) > 0 {
			continue
		}
		delete(s.entities, id)
		removed++
	}

	if removed > 0 {
		s.persistLocked()
	}
	return removed
}

// Stats returns store content counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Entities: len(s.entities),
		Triples:  len(s.triples),
		BySource: make(map[Source]int),
	}
	var total float64
	for _, t := range s.triples {
		stats.BySource[t.Source]++
		total += t.Confidence
	}
	if len(s.triples) > 0 {
		stats.AvgConfidence = total / float64(len(s.triples))
	}
	return stats
}

// Clear wipes the whole store and persists the empty snapshot.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities = make(map[EntityID]*Entity)
	s.triples = nil
	s.reindexLocked()
	s.persistLocked()
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// Export returns a full snapshot of the store. Entities sort by ID so
// exports are stable.
func (s *Store) Export() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Import replaces the entire store contents with the snapshot and persists.
// A nil snapshot clears the store.
func (s *Store) Import(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entities = make(map[EntityID]*Entity)
	s.triples = nil

	if snap != nil {
		for _, pair := range snap.Entities {
			if pair.Entity == nil {
				continue
			}
			e := copyEntity(pair.Entity)
			e.ID = pair.ID
			s.entities[pair.ID] = e
		}
		for _, t := range snap.Triples {
			if t == nil || t.Object == nil {
				continue
			}
			s.triples = append(s.triples, copyTriple(t))
		}
	}

	s.reindexLocked()
	s.persistLocked()
}

// =============================================================================
// INTERNALS
// =============================================================================

// addEntityLocked inserts or merges without persisting. Caller holds mu.
func (s *Store) addEntityLocked(e *Entity) EntityID {
	if e == nil {
		e = &Entity{}
	}

	id := e.ID
	if id == "" {
		id = EntityID("ent-" + uuid.NewString())
	}

	now := time.Now()
	if existing, ok := s.entities[id]; ok {
		existing.Types = mergeTypes(existing.Types, e.Types)
		for locale, label := range e.Labels {
			if existing.Labels == nil {
				existing.Labels = make(map[string]string)
			}
			existing.Labels[locale] = label
		}
		for k, v := range e.Properties {
			if existing.Properties == nil {
				existing.Properties = make(map[string]any)
			}
			existing.Properties[k] = v
		}
		if e.Confidence != 0 {
			existing.Confidence = clamp01(e.Confidence)
		}
		if e.Source != "" {
			existing.Source = e.Source
		}
		existing.UpdatedAt = now
		return id
	}

	stored := copyEntity(e)
	stored.ID = id
	if len(stored.Types) == 0 {
		stored.Types = []string{DefaultEntityType}
	}
	if stored.Confidence == 0 {
		stored.Confidence = 1.0
	}
	if stored.Source == "" {
		stored.Source = SourceUser
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.entities[id] = stored

	events.Emit(s.bus, events.TopicKnowledgeAdd, map[string]interface{}{
		"type": "entity",
		"id":   string(id),
	})
	return id
}

// ensureEntityLocked auto-creates a referenced entity. Caller holds mu.
func (s *Store) ensureEntityLocked(id EntityID) {
	if id == "" {
		return
	}
	if _, ok := s.entities[id]; ok {
		return
	}
	s.addEntityLocked(&Entity{
		ID:     id,
		Types:  []string{DefaultEntityType},
		Source: SourceLLM,
	})
}

// reindexLocked rebuilds positional state after array compaction.
func (s *Store) reindexLocked() {
	s.byID = make(map[TripleID]int, len(s.triples))
	for pos, t := range s.triples {
		s.byID[t.ID] = pos
	}
	s.index.rebuild(s.triples)
}

// snapshotLocked builds a Snapshot. Caller holds mu (read or write).
func (s *Store) snapshotLocked() *Snapshot {
	snap := &Snapshot{Version: SnapshotVersion}

	ids := make([]EntityID, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		snap.Entities = append(snap.Entities, EntityPair{ID: id, Entity: copyEntity(s.entities[id])})
	}

	for _, t := range s.triples {
		snap.Triples = append(snap.Triples, copyTriple(t))
	}
	return snap
}

// persistLocked snapshots to the blob store. Failures are logged; the
// in-memory state stays authoritative. Caller holds mu.
func (s *Store) persistLocked() {
	if s.blobStore == nil {
		return
	}

	data, err := json.Marshal(s.snapshotLocked())
	if err != nil {
		log.Error("snapshot encode failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := s.blobStore.Write(context.Background(), s.blobPath, string(data)); err != nil {
		log.Error("snapshot write failed", map[string]interface{}{
			"path":  s.blobPath,
			"error": err.Error(),
		})
	}
}

// load rehydrates from the blob store. Corrupt data resets to empty.
func (s *Store) load() {
	if s.blobStore == nil {
		return
	}

	data, err := s.blobStore.Read(context.Background(), s.blobPath)
	if errors.Is(err, blob.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn("snapshot read failed, starting empty", map[string]interface{}{
			"path":  s.blobPath,
			"error": err.Error(),
		})
		return
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		log.Warn("snapshot corrupt, starting empty", map[string]interface{}{
			"path":  s.blobPath,
			"error": err.Error(),
		})
		return
	}

	for _, pair := range snap.Entities {
		if pair.Entity == nil {
			continue
		}
		e := pair.Entity
		e.ID = pair.ID
		s.entities[pair.ID] = e
	}
	for _, t := range snap.Triples {
		if t == nil || t.Object == nil {
			continue
		}
		s.triples = append(s.triples, t)
	}
	s.reindexLocked()

	log.Debug("store rehydrated", map[string]interface{}{
		"entities": len(s.entities),
		"triples":  len(s.triples),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func copyEntity(e *Entity) *Entity {
	if e == nil {
		return nil
	}
	copied := &Entity{
		ID:         e.ID,
		Types:      append([]string(nil), e.Types...),
		Confidence: e.Confidence,
		Source:     e.Source,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
	if e.Labels != nil {
		copied.Labels = make(map[string]string, len(e.Labels))
		for k, v := range e.Labels {
			copied.Labels[k] = v
		}
	}
	if e.Properties != nil {
		copied.Properties = make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			copied.Properties[k] = v
		}
	}
	return copied
}

func copyTriple(t *Triple) *Triple {
	if t == nil {
		return nil
	}
	copied := *t
	copied.Provenance = append([]string(nil), t.Provenance...)
	return &copied
}

func mergeTypes(existing, extra []string) []string {
	out := append([]string(nil), existing...)
	for _, t := range extra {
		found := false
		for _, have := range out {
			if have == t {
				found = true
				break
			}
		}
		if !found {
			out = append(out, t)
		}
	}
	return out
}

func labelContains(labels map[string]string, substr string) bool {
	for _, label := range labels {
		if strings.Contains(label, substr) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
