package rules

import "reflect"

// tryUnify matches an atom's argument list positionally against a fact under
// an existing binding. A variable binds on first encounter and must match
// consistently afterwards; constants require exact equality. Returns the
// extended binding, or false without mutating the input.
func tryUnify(atom Atom, fact Fact, binding Binding) (Binding, bool) {
	if atom.Predicate != fact.Predicate || len(atom.Args) != len(fact.Args) {
		return nil, false
	}

	next := binding.clone()
	for i, term := range atom.Args {
		switch t := term.(type) {
		case Variable:
			if bound, ok := next[string(t)]; ok {
				if !valuesEqual(bound, fact.Args[i]) {
					return nil, false
				}
				continue
			}
			next[string(t)] = fact.Args[i]
		case Constant:
			if !valuesEqual(t.Val, fact.Args[i]) {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return next, true
}

// matchBody computes every binding that satisfies the whole body against the
// fact set. Atoms evaluate left to right, each one narrowing or extending
// the binding set.
//
// The "=" and "!=" predicates are builtins resolved from the binding itself,
// never against facts. A builtin with an unbound variable fails.
//
// Negated atoms skip fact matching entirely and pass every candidate binding
// through unchanged, so negation always succeeds. This reproduces the
// engine's historical matching loop; see DESIGN.md before changing it.
func matchBody(body []Atom, facts []Fact) []Binding {
	bindings := []Binding{{}}

	for _, atom := range body {
		if atom.Predicate == "=" || atom.Predicate == "!=" {
			var kept []Binding
			for _, b := range bindings {
				if evalBuiltin(atom, b) {
					kept = append(kept, b)
				}
			}
			bindings = kept
			if len(bindings) == 0 {
				return nil
			}
			continue
		}

		var next []Binding
		for _, b := range bindings {
			matched := false
			if !atom.Negated {
				for _, fact := range facts {
					if nb, ok := tryUnify(atom, fact, b); ok {
						next = append(next, nb)
						matched = true
					}
				}
			}
			if !matched && atom.Negated {
				next = append(next, b)
			}
		}
		bindings = next
		if len(bindings) == 0 {
			return nil
		}
	}
	return bindings
}

// evalBuiltin resolves "=" or "!=" purely from the binding.
func evalBuiltin(atom Atom, binding Binding) bool {
	if len(atom.Args) != 2 {
		return false
	}
	left, ok := resolveTerm(atom.Args[0], binding)
	if !ok {
		return false
	}
	right, ok := resolveTerm(atom.Args[1], binding)
	if !ok {
		return false
	}

	equal := valuesEqual(left, right)
	if atom.Predicate == "=" {
		return equal
	}
	return !equal
}

// resolveTerm returns the concrete value of a term under the binding, or
// false for an unbound variable.
func resolveTerm(term Term, binding Binding) (any, bool) {
	switch t := term.(type) {
	case Variable:
		v, ok := binding[string(t)]
		return v, ok
	case Constant:
		return t.Val, true
	}
	return nil, false
}

// instantiate substitutes bound variables into the head atom, producing the
// derived fact's argument list. Returns false when a head variable is
// unbound (the rule body never mentioned it).
func instantiate(head Atom, binding Binding) ([]any, bool) {
	args := make([]any, len(head.Args))
	for i, term := range head.Args {
		v, ok := resolveTerm(term, binding)
		if !ok {
			return nil, false
		}
		args[i] = v
	}
	return args, true
}

// valuesEqual compares fact arguments. Arguments are scalars in practice, so
// DeepEqual degrades to plain equality without panicking on the odd
// uncomparable value.
func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
