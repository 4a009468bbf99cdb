// Package assertion defines the shared domain records — Assertion,
// PotentialAssertion and Rule — that the knowledge base, truth maintenance
// system, reasoners and query dispatcher all operate over (spec.md §3).
package assertion

import (
	"cognote/internal/term"
)

// Type classifies an assertion's term shape.
type Type uint8

const (
	// Ground terms contain no quantifier and no Skolem symbol.
	Ground Type = iota
	// Universal terms are `(forall (vars...) body)`.
	Universal
	// Skolemized terms are ground but contain introduced Skolem symbols.
	Skolemized
)

func (t Type) String() string {
	switch t {
	case Ground:
		return "Ground"
	case Universal:
		return "Universal"
	case Skolemized:
		return "Skolemized"
	default:
		return "Unknown"
	}
}

// IDSet is a set of assertion or rule ids.
type IDSet map[string]struct{}

// NewIDSet builds an IDSet from the given ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Slice returns the set's members in unspecified order.
func (s IDSet) Slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// Clone returns a shallow copy.
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Assertion is the immutable record described in spec.md §3. isActive is
// the single field the TMS is permitted to flip after construction; callers
// never mutate any other field.
type Assertion struct {
	ID               string
	Term             *term.List
	Priority         float64
	Timestamp        int64
	SourceNoteID     string // empty means none
	Justifications   IDSet
	Type             Type
	IsEquality       bool
	IsOrientedEquality bool
	IsNegated        bool
	QuantifiedVars   []string // non-empty only for Universal
	DerivationDepth  int
	KBID             string

	isActive bool
}

// NewAssertion constructs an Assertion. It derives IsNegated and IsEquality
// from t and drops quantifiedVars unless typ is Universal; it does not check
// that a Universal term is a forall with a non-empty variable list, and it
// rejects no input.
func NewAssertion(id string, t *term.List, priority float64, timestamp int64, sourceNoteID string, justifications IDSet, typ Type, isOrientedEquality bool, quantifiedVars []string, derivationDepth int, kbID string, active bool) *Assertion {
	op, _ := t.Operator()
	isNegated := op == "not"
	isEquality := false
	if isNegated && t.Len() == 2 {
		if inner, ok := t.Child(1).(*term.List); ok {
			if iop, _ := inner.Operator(); iop == "=" {
				isEquality = true
			}
		}
	} else if op == "=" {
		isEquality = true
	}
	if typ != Universal {
		quantifiedVars = nil
	}
	return &Assertion{
		ID:                 id,
		Term:               t,
		Priority:           priority,
		Timestamp:          timestamp,
		SourceNoteID:       sourceNoteID,
		Justifications:     justifications,
		Type:               typ,
		IsEquality:         isEquality,
		IsOrientedEquality: isOrientedEquality && isEquality,
		IsNegated:          isNegated,
		QuantifiedVars:     quantifiedVars,
		DerivationDepth:    derivationDepth,
		KBID:               kbID,
		isActive:           active,
	}
}

// IsActive reports the TMS-controlled activity flag.
func (a *Assertion) IsActive() bool { return a.isActive }

// SetActive is called exclusively by the TMS.
func (a *Assertion) SetActive(v bool) { a.isActive = v }

// EffectiveTerm returns the term used for indexing and reading: the inner
// term for negated Ground/Skolemized assertions, the body under `forall`
// for Universal assertions, and the term itself otherwise.
func (a *Assertion) EffectiveTerm() term.Term {
	if a.Type == Universal {
		// (forall (vars...) body) -> body is the last child.
		if a.Term.Len() >= 3 {
			return a.Term.Child(a.Term.Len() - 1)
		}
		return a.Term
	}
	if a.IsNegated && a.Term.Len() == 2 {
		return a.Term.Child(1)
	}
	return a.Term
}

// ReferencedPredicates collects the atoms appearing in head position
// throughout the effective term.
func (a *Assertion) ReferencedPredicates() []string {
	seen := map[string]struct{}{}
	var walk func(t term.Term)
	walk = func(t term.Term) {
		l, ok := t.(*term.List)
		if !ok {
			return
		}
		if op, ok := l.Operator(); ok {
			seen[op] = struct{}{}
		}
		for i := 0; i < l.Len(); i++ {
			walk(l.Child(i))
		}
	}
	walk(a.EffectiveTerm())
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	return out
}

// PotentialAssertion is what reasoners propose and what KB.Commit turns
// into an Assertion, or rejects.
type PotentialAssertion struct {
	Term               *term.List
	Priority           float64
	SourceNoteID       string
	Justifications     IDSet
	Type               Type
	IsOrientedEquality bool
	QuantifiedVars     []string
	DerivationDepth    int
}

// Rule has the shape described in spec.md §3: the full implication form,
// its antecedent and consequent, the flattened antecedent clauses after
// stripping an outer `and`, and an optional source note.
type Rule struct {
	ID                string
	Form              *term.List
	Antecedent        term.Term
	Consequent        term.Term
	Priority          float64
	AntecedentClauses []term.Term
	SourceNoteID      string
}

// NewRule validates the rule form (must be `(=> A C)` or `(<=> A C)`) and
// flattens the antecedent. Returns an error describing the validation
// failure per spec.md §7's Validation kind.
func NewRule(id string, form *term.List, priority float64, sourceNoteID string) (*Rule, error) {
	op, hasOp := form.Operator()
	if !hasOp || form.Len() != 3 || (op != "=>" && op != "<=>") {
		return nil, errInvalidRuleForm(form)
	}
	antecedent := form.Child(1)
	consequent := form.Child(2)
	clauses, err := flattenAntecedent(antecedent)
	if err != nil {
		return nil, err
	}
	return &Rule{
		ID:                id,
		Form:              form,
		Antecedent:        antecedent,
		Consequent:        consequent,
		Priority:          priority,
		AntecedentClauses: clauses,
		SourceNoteID:      sourceNoteID,
	}, nil
}

func flattenAntecedent(antecedent term.Term) ([]term.Term, error) {
	if a, ok := antecedent.(*term.Atom); ok && a.Value() == "true" {
		return nil, nil
	}
	l, ok := antecedent.(*term.List)
	if !ok {
		return nil, errInvalidAntecedent(antecedent)
	}
	if op, hasOp := l.Operator(); hasOp && op == "and" {
		clauses := make([]term.Term, 0, l.Len()-1)
		for i := 1; i < l.Len(); i++ {
			c := l.Child(i)
			if !isValidClause(c) {
				return nil, errInvalidAntecedent(c)
			}
			clauses = append(clauses, c)
		}
		return clauses, nil
	}
	if !isValidClause(l) {
		return nil, errInvalidAntecedent(l)
	}
	return []term.Term{l}, nil
}

func isValidClause(t term.Term) bool {
	l, ok := t.(*term.List)
	if !ok {
		return false
	}
	if op, hasOp := l.Operator(); hasOp && op == "not" {
		return l.Len() == 2 && term.IsList(l.Child(1))
	}
	return true
}

// Equal compares two rules by form, not id, as required by spec.md §3.
func (r *Rule) Equal(o *Rule) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Form.Equal(o.Form)
}

type ruleFormError struct {
	msg string
}

func (e *ruleFormError) Error() string { return e.msg }

func errInvalidRuleForm(form term.Term) error {
	return &ruleFormError{msg: "assertion: rule form must be (=> A C) or (<=> A C), got " + form.String()}
}

func errInvalidAntecedent(t term.Term) error {
	return &ruleFormError{msg: "assertion: invalid antecedent clause " + t.String()}
}

// UnboundConsequentWarning reports variables in the consequent that are
// neither bound by the antecedent nor locally quantified within the
// consequent itself — a warning, not a rejection (spec.md §3).
func UnboundConsequentWarning(r *Rule) []string {
	bound := map[string]struct{}{}
	for _, c := range r.AntecedentClauses {
		for v := range c.Vars() {
			bound[v] = struct{}{}
		}
	}
	free := map[string]struct{}{}
	var walk func(t term.Term, quantified map[string]struct{})
	walk = func(t term.Term, quantified map[string]struct{}) {
		switch v := t.(type) {
		case *term.Variable:
			if _, isBound := bound[v.Name()]; isBound {
				return
			}
			if _, isQuantified := quantified[v.Name()]; isQuantified {
				return
			}
			free[v.Name()] = struct{}{}
		case *term.List:
			if op, ok := v.Operator(); ok && (op == "forall" || op == "exists") && v.Len() == 3 {
				next := cloneVarSet(quantified)
				if vars, ok := v.Child(1).(*term.List); ok {
					for i := 0; i < vars.Len(); i++ {
						if vv, ok := vars.Child(i).(*term.Variable); ok {
							next[vv.Name()] = struct{}{}
						}
					}
				}
				walk(v.Child(2), next)
				return
			}
			for i := 0; i < v.Len(); i++ {
				walk(v.Child(i), quantified)
			}
		}
	}
	walk(r.Consequent, map[string]struct{}{})
	out := make([]string, 0, len(free))
	for v := range free {
		out = append(out, v)
	}
	return out
}

func cloneVarSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// IsRuleBodyConnective reports whether op is one of the logical connectives
// recognized inside rule antecedents/consequents and backward-chaining
// goals.
func IsRuleBodyConnective(op string) bool {
	switch op {
	case "and", "or", "not", "exists", "forall":
		return true
	}
	return false
}
