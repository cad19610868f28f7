// Package rules implements the Muninn forward-chaining rule engine.
//
// The engine sits on top of the knowledge store. Rules derive new facts from
// existing ones during bounded fixpoint inference; constraints are headless
// rules whose matches flag data-quality violations instead of producing
// facts. Two builtin rules (transitive isA, failing-tool avoidance) are
// seeded at initialization and cannot be removed.
//
// Example Usage:
//
//	store := knowledge.NewStore(nil)
//	engine := rules.NewEngine(&rules.EngineOptions{Store: store})
//
//	store.AddTriple("Socrates", "isA", knowledge.EntityRef("Human"), nil)
//	store.AddTriple("Human", "subClassOf", knowledge.EntityRef("Mortal"), nil)
//
//	facts := engine.Infer(0)
//	fmt.Printf("%d facts after inference\n", len(facts))
//
// ELI12:
//
// A rule is a sentence with blanks: "if ?x is a ?y, and ?y is a kind of ?z,
// then ?x is a ?z". Inference tries every fact in every blank until the
// whole sentence holds, then writes down what the last part says. It keeps
// going with the newly written facts until nothing new comes out.
package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RuleID is a strongly-typed unique identifier for rules.
type RuleID string

// ConstraintID is a strongly-typed unique identifier for constraints.
type ConstraintID string

// RuleSource tags where a rule came from.
type RuleSource string

// Rule sources. Builtin rules refuse removal and re-seed on Clear.
const (
	RuleSourceUser    RuleSource = "user"
	RuleSourceInduced RuleSource = "induced"
	RuleSourceBuiltin RuleSource = "builtin"
)

// Severity grades a constraint violation.
type Severity string

// Constraint severities. Only error violations make validation fail.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// =============================================================================
// TERMS AND ATOMS
// =============================================================================

// Term is one argument position of an atom: either a Variable to be bound
// during unification or a Constant compared by equality. The textual "?name"
// convention exists only in the JSON wire form.
type Term interface {
	isTerm()
}

// Variable is a named placeholder bound during unification. The name does
// not include the "?" prefix.
type Variable string

func (Variable) isTerm() {}

// Constant is a fixed value that must match a fact argument exactly.
type Constant struct {
	Val any
}

func (Constant) isTerm() {}

// Var builds a Variable term.
func Var(name string) Term { return Variable(name) }

// Val builds a Constant term.
func Val(v any) Term { return Constant{Val: v} }

// Atom is one predicate application in a rule head or body.
type Atom struct {
	Predicate string
	Args      []Term
	Negated   bool
}

// NewAtom builds a positive atom.
func NewAtom(predicate string, args ...Term) Atom {
	return Atom{Predicate: predicate, Args: args}
}

// Not returns the negated form of the atom.
func (a Atom) Not() Atom {
	a.Negated = true
	return a
}

// atomRecord is the wire form of an Atom. Variables serialize as "?name"
// strings, so constant strings must not start with "?".
type atomRecord struct {
	Predicate string `json:"predicate"`
	Args      []any  `json:"args"`
	Negated   bool   `json:"negated,omitempty"`
}

// MarshalJSON encodes variables with the "?" prefix convention.
func (a Atom) MarshalJSON() ([]byte, error) {
	rec := atomRecord{Predicate: a.Predicate, Negated: a.Negated, Args: make([]any, len(a.Args))}
	for i, term := range a.Args {
		switch t := term.(type) {
		case Variable:
			rec.Args[i] = "?" + string(t)
		case Constant:
			rec.Args[i] = t.Val
		default:
			return nil, fmt.Errorf("rules: atom %s has an untyped argument at %d", a.Predicate, i)
		}
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes "?name" strings back into variables.
func (a *Atom) UnmarshalJSON(data []byte) error {
	var rec atomRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	a.Predicate = rec.Predicate
	a.Negated = rec.Negated
	a.Args = make([]Term, len(rec.Args))
	for i, raw := range rec.Args {
		if s, ok := raw.(string); ok && strings.HasPrefix(s, "?") {
			a.Args[i] = Variable(s[1:])
			continue
		}
		a.Args[i] = Constant{Val: raw}
	}
	return nil
}

// =============================================================================
// RULES AND CONSTRAINTS
// =============================================================================

// Rule derives a head fact whenever its body unifies against the fact set.
type Rule struct {
	ID         RuleID     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Head       Atom       `json:"head"`
	Body       []Atom     `json:"body"`
	Priority   int        `json:"priority"` // higher evaluates first
	Confidence float64    `json:"confidence"`
	Source     RuleSource `json:"source"`
	Enabled    bool       `json:"enabled"`
	Support    int        `json:"support,omitempty"` // induced rules only
}

// Constraint is a headless rule: a non-empty binding set is a violation.
type Constraint struct {
	ID       ConstraintID `json:"id"`
	Body     []Atom       `json:"body"`
	Message  string       `json:"message"`
	Severity Severity     `json:"severity"`
	Enabled  bool         `json:"enabled"`
}

// Binding maps variable names to bound values within one unification
// attempt.
type Binding map[string]any

func (b Binding) clone() Binding {
	out := make(Binding, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// =============================================================================
// FACTS
// =============================================================================

// Fact is the engine's internal tuple view of knowledge. Triples read from
// the store become 2-argument facts tagged "kb"; inference output is tagged
// "inferred". Derived facts of any arity live here, but only 2-argument
// facts with a string first argument are persisted back as triples.
type Fact struct {
	Predicate  string  `json:"predicate"`
	Args       []any   `json:"args"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	RuleID     RuleID  `json:"ruleId,omitempty"` // producing rule for inferred facts
}

// key identifies a fact by predicate and arguments for dedup.
func (f Fact) key() string {
	var sb strings.Builder
	sb.WriteString(f.Predicate)
	for _, arg := range f.Args {
		fmt.Fprintf(&sb, "\x00%T\x00%v", arg, arg)
	}
	return sb.String()
}

// =============================================================================
// VALIDATION AND INDUCTION
// =============================================================================

// Violation is one constraint whose body matched the fact set.
type Violation struct {
	ConstraintID ConstraintID `json:"constraintId"`
	Message      string       `json:"message"`
	Severity     Severity     `json:"severity"`
	Bindings     []Binding    `json:"bindings"` // up to maxViolationExamples examples
}

// ValidationResult reports constraint evaluation. Valid is true iff no
// error-severity violations exist; warnings alone do not fail validation.
type ValidationResult struct {
	Valid       bool        `json:"valid"`
	Violations  []Violation `json:"violations"`
	Suggestions []string    `json:"suggestions"`
}

// InductionPattern is the externally mined rule shape handed to InduceRule.
// The engine is a registration point only; the pattern-mining intelligence
// lives outside.
type InductionPattern struct {
	Name       string  `json:"name,omitempty"`
	Head       Atom    `json:"head"`
	Body       []Atom  `json:"body"`
	Confidence float64 `json:"confidence,omitempty"` // defaults to 0.7
	Support    int     `json:"support,omitempty"`
}

// EngineStats summarizes the rule set.
type EngineStats struct {
	Rules        int                `json:"rules"`
	Constraints  int                `json:"constraints"`
	InducedRules int                `json:"inducedRules"`
	BySource     map[RuleSource]int `json:"bySource"`
}

// ruleSnapshot is the persisted form of the engine. Builtins are re-seeded
// at load time and never written out.
type ruleSnapshot struct {
	Rules        []*Rule       `json:"rules"`
	Constraints  []*Constraint `json:"constraints"`
	InducedRules []*Rule       `json:"inducedRules"`
}
