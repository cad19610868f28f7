package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/orneryd/muninn/pkg/blob"
	"github.com/orneryd/muninn/pkg/events"
	"github.com/orneryd/muninn/pkg/knowledge"
	"github.com/orneryd/muninn/pkg/log"
)

// DefaultBlobPath is where the rule set snapshot lives in the blob store.
const DefaultBlobPath = "knowledge/rules.json"

// DefaultMaxIterations bounds the inference fixpoint loop.
const DefaultMaxIterations = 10

const (
	// Derived facts get rule confidence multiplied by this factor.
	derivedConfidenceFactor = 0.9

	// Induced rules register at a fixed mid-band priority.
	inducedPriority          = 30
	defaultInducedConfidence = 0.7

	// A violation carries at most this many example bindings.
	maxViolationExamples = 5

	factSourceKB       = "kb"
	factSourceInferred = "inferred"
)

// Builtin rule identifiers. Seeded at initialization, refuse removal,
// re-seeded by Clear.
const (
	BuiltinIsATransitive     RuleID = "builtin-isa-transitive"
	BuiltinAvoidFailingTools RuleID = "builtin-avoid-failing-tools"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Store supplies facts for inference and receives persisted derived
	// facts. Nil runs the engine fact-less (rule bookkeeping only).
	Store *knowledge.Store

	// Blob is the persistence collaborator. Nil disables persistence.
	Blob blob.Store

	// BlobPath overrides DefaultBlobPath.
	BlobPath string

	// Bus receives inference, validation, and induction notifications.
	Bus events.Publisher
}

// Engine maintains rules and constraints and runs forward-chaining
// inference over the knowledge store's facts.
//
// Inference is the sole driver: a bounded fixpoint loop, not a reactive
// system. After the first iteration (which matches against the full fact
// set), rule bodies match only against the previous iteration's newly
// derived facts. That delta-only strategy can under-derive when a body
// needs to straddle old and new facts across iterations; it is kept for
// parity with the rule sets this engine inherits (see DESIGN.md).
type Engine struct {
	mu          sync.RWMutex
	rules       map[RuleID]*Rule
	constraints map[ConstraintID]*Constraint

	store     *knowledge.Store
	blobStore blob.Store
	blobPath  string
	bus       events.Publisher
}

// NewEngine creates an Engine, seeds the builtin rules, and rehydrates user
// and induced rules from the blob store when one is configured. A corrupt
// snapshot logs a warning and starts with builtins only.
func NewEngine(opts *EngineOptions) *Engine {
	if opts == nil {
		opts = &EngineOptions{}
	}

	e := &Engine{
		rules:       make(map[RuleID]*Rule),
		constraints: make(map[ConstraintID]*Constraint),
		store:       opts.Store,
		blobStore:   opts.Blob,
		blobPath:    opts.BlobPath,
		bus:         opts.Bus,
	}
	if e.blobPath == "" {
		e.blobPath = DefaultBlobPath
	}

	e.seedBuiltinsLocked()
	e.load()
	return e
}

// =============================================================================
// RULES
// =============================================================================

// AddRule registers a rule and returns its ID. An empty ID is assigned;
// zero confidence defaults to 1.0; zero source defaults to user. Rules are
// added enabled.
func (e *Engine) AddRule(r *Rule) RuleID {
	e.mu.Lock()
	defer e.mu.Unlock()

	stored := copyRule(r)
	if stored.ID == "" {
		stored.ID = RuleID("rule-" + uuid.NewString())
	}
	if stored.Confidence <= 0 {
		stored.Confidence = 1.0
	}
	if stored.Source == "" {
		stored.Source = RuleSourceUser
	}
	stored.Enabled = true
	e.rules[stored.ID] = stored

	e.persistLocked()
	return stored.ID
}

// RemoveRule deletes a rule. Builtin rules refuse removal; both that case
// and an absent ID report false.
func (e *Engine) RemoveRule(id RuleID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rules[id]
	if !ok {
		return false
	}
	if r.Source == RuleSourceBuiltin {
		log.Warn("refusing to remove builtin rule", map[string]interface{}{"id": string(id)})
		return false
	}
	delete(e.rules, id)

	e.persistLocked()
	return true
}

// GetRule returns a copy of the rule, or false when absent.
func (e *Engine) GetRule(id RuleID) (*Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.rules[id]
	if !ok {
		return nil, false
	}
	return copyRule(r), true
}

// Rules returns the enabled rules sorted by priority descending.
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabledRulesLocked()
}

// InducedRules returns every enabled rule registered through InduceRule.
func (e *Engine) InducedRules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*Rule
	for _, r := range e.enabledRulesLocked() {
		if r.Source == RuleSourceInduced {
			out = append(out, r)
		}
	}
	return out
}

// InduceRule registers an externally mined rule pattern. The rule is tagged
// source induced at a fixed priority; no pattern mining happens here.
func (e *Engine) InduceRule(p InductionPattern) RuleID {
	confidence := p.Confidence
	if confidence <= 0 {
		confidence = defaultInducedConfidence
	}

	e.mu.Lock()

	r := &Rule{
		ID:         RuleID("rule-" + uuid.NewString()),
		Name:       p.Name,
		Head:       p.Head,
		Body:       append([]Atom(nil), p.Body...),
		Priority:   inducedPriority,
		Confidence: confidence,
		Source:     RuleSourceInduced,
		Enabled:    true,
		Support:    p.Support,
	}
	e.rules[r.ID] = r
	e.persistLocked()

	e.mu.Unlock()

	events.Emit(e.bus, events.TopicRuleInduced, map[string]interface{}{
		"id":   string(r.ID),
		"rule": r.Name,
	})
	return r.ID
}

// =============================================================================
// CONSTRAINTS
// =============================================================================

// AddConstraint registers a constraint and returns its ID. An empty ID is
// assigned; zero severity defaults to error. Constraints are added enabled.
func (e *Engine) AddConstraint(c *Constraint) ConstraintID {
	e.mu.Lock()
	defer e.mu.Unlock()

	stored := copyConstraint(c)
	if stored.ID == "" {
		stored.ID = ConstraintID("con-" + uuid.NewString())
	}
	if stored.Severity == "" {
		stored.Severity = SeverityError
	}
	stored.Enabled = true
	e.constraints[stored.ID] = stored

	e.persistLocked()
	return stored.ID
}

// RemoveConstraint deletes a constraint, reporting false when absent.
func (e *Engine) RemoveConstraint(id ConstraintID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.constraints[id]; !ok {
		return false
	}
	delete(e.constraints, id)

	e.persistLocked()
	return true
}

// Constraints returns the enabled constraints.
func (e *Engine) Constraints() []*Constraint {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*Constraint
	for _, c := range e.constraints {
		if c.Enabled {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// =============================================================================
// INFERENCE
// =============================================================================

// Infer runs the bounded forward-chaining fixpoint and returns the full
// fact list: every knowledge-store triple as a 2-argument fact plus every
// derived fact, including those whose arity keeps them out of the store.
//
// maxIterations <= 0 uses DefaultMaxIterations. Per iteration, enabled
// rules run in priority order; a binding's instantiated head becomes a
// derived fact with confidence rule.Confidence × 0.9 unless an identical
// (predicate, args) fact is already known. Derived 2-argument facts with a
// string first argument persist back to the store as inferred triples with
// the producing rule ID as provenance. The loop stops when an iteration
// derives nothing.
func (e *Engine) Infer(maxIterations int) []Fact {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	defer log.Timer("rules.infer")()

	e.mu.Lock()
	defer e.mu.Unlock()

	facts := e.readFactsLocked()
	inputCount := len(facts)

	seen := make(map[string]struct{}, len(facts))
	for _, f := range facts {
		seen[f.key()] = struct{}{}
	}

	enabled := e.enabledRulesLocked()
	newFacts := facts
	inferredCount := 0

	for iteration := 0; iteration < maxIterations; iteration++ {
		var derived []Fact
		for _, rule := range enabled {
			for _, binding := range matchBody(rule.Body, newFacts) {
				args, ok := instantiate(rule.Head, binding)
				if !ok {
					continue
				}
				fact := Fact{
					Predicate:  rule.Head.Predicate,
					Args:       args,
					Source:     factSourceInferred,
					Confidence: rule.Confidence * derivedConfidenceFactor,
					RuleID:     rule.ID,
				}
				if _, dup := seen[fact.key()]; dup {
					continue
				}
				seen[fact.key()] = struct{}{}
				derived = append(derived, fact)
			}
		}

		if len(derived) == 0 {
			break
		}
		for _, fact := range derived {
			e.persistFactLocked(fact)
		}
		facts = append(facts, derived...)
		newFacts = derived
		inferredCount += len(derived)
	}

	if inferredCount > 0 {
		events.Emit(e.bus, events.TopicInfer, map[string]interface{}{
			"inputFacts":    inputCount,
			"inferredFacts": inferredCount,
		})
	}

	log.Debug("inference complete", map[string]interface{}{
		"input":    inputCount,
		"inferred": inferredCount,
	})
	return facts
}

// Validate evaluates every enabled constraint against the supplied facts,
// or against the live knowledge store when facts is nil. Valid is true iff
// no error-severity constraint matched.
func (e *Engine) Validate(facts []Fact) *ValidationResult {
	e.mu.RLock()

	if facts == nil {
		facts = e.readFactsLocked()
	}

	result := &ValidationResult{Valid: true}
	for _, c := range e.sortedConstraintsLocked() {
		bindings := matchBody(c.Body, facts)
		if len(bindings) == 0 {
			continue
		}

		examples := bindings
		if len(examples) > maxViolationExamples {
			examples = examples[:maxViolationExamples]
		}
		result.Violations = append(result.Violations, Violation{
			ConstraintID: c.ID,
			Message:      c.Message,
			Severity:     c.Severity,
			Bindings:     examples,
		})
		result.Suggestions = append(result.Suggestions,
			fmt.Sprintf("%d match(es) for %q: %s", len(bindings), c.ID, c.Message))
		if c.Severity == SeverityError {
			result.Valid = false
		}
	}

	e.mu.RUnlock()

	events.Emit(e.bus, events.TopicValidate, map[string]interface{}{
		"valid":      result.Valid,
		"violations": len(result.Violations),
	})
	return result
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Stats returns rule set counters.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := EngineStats{
		Rules:       len(e.rules),
		Constraints: len(e.constraints),
		BySource:    make(map[RuleSource]int),
	}
	for _, r := range e.rules {
		stats.BySource[r.Source]++
		if r.Source == RuleSourceInduced {
			stats.InducedRules++
		}
	}
	return stats
}

// Clear wipes every rule and constraint, re-seeds the builtins, and
// persists.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = make(map[RuleID]*Rule)
	e.constraints = make(map[ConstraintID]*Constraint)
	e.seedBuiltinsLocked()
	e.persistLocked()
}

// =============================================================================
// INTERNALS
// =============================================================================

// readFactsLocked maps every store triple to a 2-argument fact tuple.
func (e *Engine) readFactsLocked() []Fact {
	if e.store == nil {
		return nil
	}

	triples := e.store.All()
	facts := make([]Fact, 0, len(triples))
	for _, t := range triples {
		facts = append(facts, Fact{
			Predicate:  t.Predicate,
			Args:       []any{string(t.Subject), t.Object.Value()},
			Source:     factSourceKB,
			Confidence: t.Confidence,
		})
	}
	return facts
}

// persistFactLocked writes a derived fact back to the store when it fits
// the triple shape: exactly two arguments with a string first argument.
// Everything else stays in-memory only.
func (e *Engine) persistFactLocked(f Fact) {
	if e.store == nil || len(f.Args) != 2 {
		return
	}
	subject, ok := f.Args[0].(string)
	if !ok {
		return
	}
	e.store.AddTriple(
		knowledge.EntityID(subject),
		f.Predicate,
		knowledge.ObjectFromValue(f.Args[1]),
		&knowledge.TripleMeta{
			Confidence: f.Confidence,
			Source:     knowledge.SourceInferred,
			Provenance: []string{string(f.RuleID)},
		},
	)
}

// enabledRulesLocked returns copies of the enabled rules sorted by priority
// descending, ID ascending for a stable order.
func (e *Engine) enabledRulesLocked() []*Rule {
	var out []*Rule
	for _, r := range e.rules {
		if r.Enabled {
			out = append(out, copyRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *Engine) sortedConstraintsLocked() []*Constraint {
	var out []*Constraint
	for _, c := range e.constraints {
		if c.Enabled {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// seedBuiltinsLocked installs the builtin rules, overwriting any same-ID
// entry. Caller holds mu (or is the constructor).
func (e *Engine) seedBuiltinsLocked() {
	for _, r := range builtinRules() {
		e.rules[r.ID] = r
	}
}

// builtinRules returns fresh copies of the seeded rule set.
//
// The failing-tool rule needs three pairwise-distinct failedExecution facts
// for the same tool; its 1-argument head keeps shouldAvoid facts out of the
// triple store.
func builtinRules() []*Rule {
	return []*Rule{
		{
			ID:   BuiltinIsATransitive,
			Name: "Transitive isA through subClassOf",
			Head: NewAtom("isA", Var("x"), Var("z")),
			Body: []Atom{
				NewAtom("isA", Var("x"), Var("y")),
				NewAtom("subClassOf", Var("y"), Var("z")),
			},
			Priority:   100,
			Confidence: 1.0,
			Source:     RuleSourceBuiltin,
			Enabled:    true,
		},
		{
			ID:   BuiltinAvoidFailingTools,
			Name: "Avoid tools that keep failing",
			Head: NewAtom("shouldAvoid", Var("tool")),
			Body: []Atom{
				NewAtom("failedExecution", Var("tool"), Var("a")),
				NewAtom("failedExecution", Var("tool"), Var("b")),
				NewAtom("failedExecution", Var("tool"), Var("c")),
				NewAtom("!=", Var("a"), Var("b")),
				NewAtom("!=", Var("b"), Var("c")),
				NewAtom("!=", Var("a"), Var("c")),
			},
			Priority:   90,
			Confidence: 0.9,
			Source:     RuleSourceBuiltin,
			Enabled:    true,
		},
	}
}

func copyRule(r *Rule) *Rule {
	if r == nil {
		return &Rule{}
	}
	copied := *r
	copied.Body = append([]Atom(nil), r.Body...)
	return &copied
}

func copyConstraint(c *Constraint) *Constraint {
	if c == nil {
		return &Constraint{}
	}
	copied := *c
	copied.Body = append([]Atom(nil), c.Body...)
	return &copied
}

// persistLocked snapshots user and induced rules plus constraints. Builtins
// are never written; they re-seed at load. Failures are logged and the
// in-memory state stays authoritative. Caller holds mu.
func (e *Engine) persistLocked() {
	if e.blobStore == nil {
		return
	}

	snap := ruleSnapshot{}
	for _, r := range e.rules {
		switch r.Source {
		case RuleSourceBuiltin:
		case RuleSourceInduced:
			snap.InducedRules = append(snap.InducedRules, r)
		default:
			snap.Rules = append(snap.Rules, r)
		}
	}
	for _, c := range e.constraints {
		snap.Constraints = append(snap.Constraints, c)
	}
	sort.Slice(snap.Rules, func(i, j int) bool { return snap.Rules[i].ID < snap.Rules[j].ID })
	sort.Slice(snap.InducedRules, func(i, j int) bool { return snap.InducedRules[i].ID < snap.InducedRules[j].ID })
	sort.Slice(snap.Constraints, func(i, j int) bool { return snap.Constraints[i].ID < snap.Constraints[j].ID })

	data, err := json.Marshal(snap)
	if err != nil {
		log.Error("rule snapshot encode failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := e.blobStore.Write(context.Background(), e.blobPath, string(data)); err != nil {
		log.Error("rule snapshot write failed", map[string]interface{}{
			"path":  e.blobPath,
			"error": err.Error(),
		})
	}
}

// load rehydrates user and induced rules. Corrupt data resets to builtins
// only.
func (e *Engine) load() {
	if e.blobStore == nil {
		return
	}

	data, err := e.blobStore.Read(context.Background(), e.blobPath)
	if errors.Is(err, blob.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn("rule snapshot read failed, starting with builtins", map[string]interface{}{
			"path":  e.blobPath,
			"error": err.Error(),
		})
		return
	}

	var snap ruleSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		log.Warn("rule snapshot corrupt, starting with builtins", map[string]interface{}{
			"path":  e.blobPath,
			"error": err.Error(),
		})
		return
	}

	for _, r := range append(snap.Rules, snap.InducedRules...) {
		if r == nil || r.ID == "" {
			continue
		}
		if _, isBuiltin := e.rules[r.ID]; isBuiltin && e.rules[r.ID].Source == RuleSourceBuiltin {
			continue
		}
		e.rules[r.ID] = r
	}
	for _, c := range snap.Constraints {
		if c == nil || c.ID == "" {
			continue
		}
		e.constraints[c.ID] = c
	}

	log.Debug("rule engine rehydrated", map[string]interface{}{
		"rules":       len(e.rules),
		"constraints": len(e.constraints),
	})
}
