// Package muninn provides the main API for embedded Muninn usage.
//
// Muninn is a symbolic knowledge store with a forward-chaining rule engine.
// Facts are (subject, predicate, object) triples with confidence, source,
// and provenance; rules derive new facts during bounded fixpoint inference;
// constraints flag data-quality violations. State persists through a
// pluggable blob store and is rehydrated on open.
//
// Key Features:
//   - Triple storage with three inverted indices and pattern queries
//   - Confidence decay for machine-asserted knowledge
//   - Forward-chaining inference with variable unification
//   - Constraint validation with severity grading
//   - Rule induction endpoint for externally mined patterns
//   - Fire-and-forget event notifications
//
// Example Usage:
//
//	db, err := muninn.Open("./data", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	db.AddTriple("Socrates", "isA", knowledge.EntityRef("Human"), nil)
//	db.AddTriple("Human", "subClassOf", knowledge.EntityRef("Mortal"), nil)
//
//	facts := db.Infer(0)
//	fmt.Printf("%d facts after inference\n", len(facts))
//
//	mortals := db.Query(knowledge.TriplePattern{Predicate: "isA"})
//	for _, t := range mortals {
//		fmt.Printf("%s isA %v\n", t.Subject, t.Object.Value())
//	}
//
// ELI12:
//
// Muninn is named after one of Odin's ravens, the one that remembers.
// You tell it small facts ("Socrates is a Human", "Humans are Mortal") and
// it works out the things you never said out loud ("so Socrates is Mortal").
// Facts it guessed at fade over time unless they keep being true.
package muninn

import (
	"errors"
	"fmt"
	"sync"

	"github.com/orneryd/muninn/pkg/blob"
	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/events"
	"github.com/orneryd/muninn/pkg/knowledge"
	"github.com/orneryd/muninn/pkg/log"
	"github.com/orneryd/muninn/pkg/rules"
)

// ErrClosed is returned by operations on a closed database.
var ErrClosed = errors.New("database is closed")

// DB is an open Muninn database: the knowledge store, the rule engine, and
// their shared blob backend and event bus.
type DB struct {
	config *config.Config
	mu     sync.RWMutex
	closed bool

	blobStore blob.Store
	store     *knowledge.Store
	engine    *rules.Engine
	bus       *events.Bus
}

// Open opens or creates a Muninn database rooted at dataDir.
//
// A nil config uses config.DefaultConfig(). dataDir overrides the config's
// DataDir when non-empty; an empty dataDir with the memory backend runs
// fully in-memory. Both the knowledge store and the rule engine rehydrate
// from the blob backend before Open returns.
func Open(dataDir string, cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.SetLevel(cfg.LogLevel)

	blobStore, err := openBlobStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	bus := events.NewBus()
	store := knowledge.NewStore(&knowledge.StoreOptions{
		Blob:                 blobStore,
		Bus:                  bus,
		DecayRate:            cfg.DecayRate,
		DecayRemoveThreshold: cfg.DecayRemoveThreshold,
	})
	engine := rules.NewEngine(&rules.EngineOptions{
		Store: store,
		Blob:  blobStore,
		Bus:   bus,
	})

	log.Info("database opened", map[string]interface{}{
		"backend": cfg.StorageBackend,
		"dataDir": cfg.DataDir,
	})

	return &DB{
		config:    cfg,
		blobStore: blobStore,
		store:     store,
		engine:    engine,
		bus:       bus,
	}, nil
}

func openBlobStore(cfg *config.Config) (blob.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		return blob.NewMemoryStore(), nil
	case config.BackendFS:
		return blob.NewFSStore(cfg.DataDir)
	default:
		return blob.NewBadgerStore(blob.BadgerOptions{DataDir: cfg.DataDir})
	}
}

// Close shuts the database down: the event bus stops delivering and the
// blob backend is closed. In-memory state was already persisted after each
// mutation, so Close has nothing to flush. Closing twice is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	db.bus.Close()
	if err := db.blobStore.Close(); err != nil {
		return fmt.Errorf("close blob store: %w", err)
	}

	log.Info("database closed", nil)
	return nil
}

// Knowledge returns the underlying knowledge store for direct access.
func (db *DB) Knowledge() *knowledge.Store { return db.store }

// Rules returns the underlying rule engine for direct access.
func (db *DB) Rules() *rules.Engine { return db.engine }

// Subscribe returns a channel of event notifications. The channel closes
// when the database does.
func (db *DB) Subscribe() <-chan events.Event { return db.bus.Subscribe() }

// =============================================================================
// KNOWLEDGE PASSTHROUGHS
// =============================================================================

// AddEntity inserts or merges an entity.
func (db *DB) AddEntity(e *knowledge.Entity) knowledge.EntityID {
	return db.store.AddEntity(e)
}

// GetEntity returns an entity by ID.
func (db *DB) GetEntity(id knowledge.EntityID) (*knowledge.Entity, bool) {
	return db.store.GetEntity(id)
}

// AddTriple inserts a fact.
func (db *DB) AddTriple(subject knowledge.EntityID, predicate string, object knowledge.Object, meta *knowledge.TripleMeta) knowledge.TripleID {
	return db.store.AddTriple(subject, predicate, object, meta)
}

// Query returns triples matching the pattern.
func (db *DB) Query(p knowledge.TriplePattern) []*knowledge.Triple {
	return db.store.Query(p)
}

// QueryEntities returns entities matching the pattern.
func (db *DB) QueryEntities(p knowledge.EntityPattern) []*knowledge.Entity {
	return db.store.QueryEntities(p)
}

// RelatedEntities returns entities connected to entityID in either
// direction, optionally restricted to one predicate.
func (db *DB) RelatedEntities(id knowledge.EntityID, predicate string) []*knowledge.Entity {
	return db.store.RelatedEntities(id, predicate)
}

// DecayConfidence runs one decay pass over llm-sourced triples.
func (db *DB) DecayConfidence() knowledge.DecayResult {
	return db.store.DecayConfidence()
}

// Prune removes unreferenced non-system entities.
func (db *DB) Prune() int {
	return db.store.Prune()
}

// =============================================================================
// RULE PASSTHROUGHS
// =============================================================================

// Infer runs bounded forward-chaining inference. maxIterations <= 0 uses
// the configured default.
func (db *DB) Infer(maxIterations int) []rules.Fact {
	if maxIterations <= 0 {
		maxIterations = db.config.InferMaxIterations
	}
	return db.engine.Infer(maxIterations)
}

// Validate evaluates all enabled constraints against the live fact set.
func (db *DB) Validate() *rules.ValidationResult {
	return db.engine.Validate(nil)
}

// AddRule registers a rule.
func (db *DB) AddRule(r *rules.Rule) rules.RuleID {
	return db.engine.AddRule(r)
}

// AddConstraint registers a constraint.
func (db *DB) AddConstraint(c *rules.Constraint) rules.ConstraintID {
	return db.engine.AddConstraint(c)
}

// InduceRule registers an externally mined rule pattern.
func (db *DB) InduceRule(p rules.InductionPattern) rules.RuleID {
	return db.engine.InduceRule(p)
}

// Stats reports counters from both components.
func (db *DB) Stats() (knowledge.Stats, rules.EngineStats) {
	return db.store.Stats(), db.engine.Stats()
}
