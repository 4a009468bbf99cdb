// Package forward implements the forward-chaining reasoner (spec.md §4.6):
// on every new active Ground/Skolemized assertion, it matches rule
// antecedents against the assertion store and derives consequents.
package forward

import (
	"github.com/google/uuid"

	"cognote/internal/assertion"
	"cognote/internal/event"
	"cognote/internal/reason"
	"cognote/internal/term"
	"cognote/internal/unify"
)

// Reasoner listens for Asserted events and drives derivation synchronously
// inside the delivering task, per the design note that correctness does not
// depend on asynchrony for this reasoner.
type Reasoner struct {
	ctx   *reason.Context
	unsub func()
}

// New subscribes a forward-chaining reasoner to ctx.Bus.
func New(ctx *reason.Context) *Reasoner {
	r := &Reasoner{ctx: ctx}
	r.unsub = ctx.Bus.Subscribe(event.KindAsserted, r.onAsserted)
	return r
}

// Close unsubscribes the reasoner.
func (r *Reasoner) Close() { r.unsub() }

func (r *Reasoner) onAsserted(e event.Event) {
	ev := e.(event.Asserted)
	newA := ev.Assertion
	if !newA.IsActive() || newA.Type == assertion.Universal {
		return
	}
	if !(r.ctx.Active.Contains(ev.KBID) || r.ctx.Active.Contains(newA.SourceNoteID)) {
		return
	}
	for _, rule := range r.ctx.ActiveRules() {
		r.tryRule(rule, newA)
	}
}

func (r *Reasoner) tryRule(rule *assertion.Rule, newA *assertion.Assertion) {
	for i, clause := range rule.AntecedentClauses {
		pattern, wantsNegated := reason.StripNot(clause)
		if wantsNegated != newA.IsNegated {
			continue
		}
		b, ok := unify.Unify(pattern, newA.EffectiveTerm(), unify.Bindings{})
		if !ok {
			continue
		}
		rest := without(rule.AntecedentClauses, i)
		r.satisfyAll(rule, rest, b, []*assertion.Assertion{newA})
	}
}

func without(clauses []term.Term, i int) []term.Term {
	out := make([]term.Term, 0, len(clauses)-1)
	for j, c := range clauses {
		if j != i {
			out = append(out, c)
		}
	}
	return out
}

// satisfyAll threads bindings across the remaining antecedent clauses,
// recursing over every matching candidate assertion from the active KBs,
// and calls fire for every complete match.
func (r *Reasoner) satisfyAll(rule *assertion.Rule, clauses []term.Term, bindings unify.Bindings, support []*assertion.Assertion) {
	if len(clauses) == 0 {
		r.fire(rule, bindings, support)
		return
	}
	clause := clauses[0]
	rest := clauses[1:]
	pattern, wantsNegated := reason.StripNot(clause)
	substPattern := unify.Subst(pattern, bindings, true)

	for _, candKB := range r.ctx.ActiveKBs() {
		for _, cand := range candKB.FindUnifiable(substPattern) {
			if cand.IsNegated != wantsNegated || cand.Type == assertion.Universal {
				continue
			}
			nb, ok := unify.Unify(substPattern, cand.EffectiveTerm(), bindings)
			if !ok {
				continue
			}
			nextSupport := append(append([]*assertion.Assertion{}, support...), cand)
			if 1+reason.MaxDepth(nextSupport) > r.ctx.DepthLimit {
				continue
			}
			r.satisfyAll(rule, rest, nb, nextSupport)
		}
	}
}

func (r *Reasoner) fire(rule *assertion.Rule, bindings unify.Bindings, support []*assertion.Assertion) {
	consequent := unify.Subst(rule.Consequent, bindings, true)
	consequent = reason.SimplifyDoubleNegation(consequent)
	r.branch(rule, consequent, bindings, support)
}

func (r *Reasoner) branch(rule *assertion.Rule, result term.Term, bindings unify.Bindings, support []*assertion.Assertion) {
	l, ok := result.(*term.List)
	if !ok {
		return
	}
	op, hasOp := l.Operator()
	switch {
	case hasOp && op == "and":
		for i := 1; i < l.Len(); i++ {
			r.branch(rule, l.Child(i), bindings, support)
		}
	case hasOp && op == "forall" && l.Len() == 3:
		r.deriveFromForall(rule, l, support)
	case hasOp && op == "exists" && l.Len() == 3:
		r.deriveFromExists(rule, l, bindings, support)
	default:
		r.deriveGround(rule, l, support)
	}
}

func (r *Reasoner) deriveFromForall(rule *assertion.Rule, forallTerm *term.List, support []*assertion.Assertion) {
	body := forallTerm.Child(2)
	bodyList, ok := body.(*term.List)
	if !ok {
		r.deriveUniversal(rule, forallTerm, support)
		return
	}
	op, hasOp := bodyList.Operator()
	if hasOp && (op == "=>" || op == "<=>") && bodyList.Len() == 3 {
		id := uuid.NewString()
		derived, err := assertion.NewRule(id, bodyList, reason.MinPriority(support)*0.95, reason.CommonSourceNote(support))
		if err == nil {
			if r.ctx.Rules.Add(derived) {
				r.ctx.Bus.Publish(event.RuleAdded{Rule: derived})
			}
		}
		if op == "<=>" {
			reverseForm := term.NewList(term.NewAtom("=>"), bodyList.Child(2), bodyList.Child(1))
			reverseID := uuid.NewString()
			if reverse, err := assertion.NewRule(reverseID, reverseForm, reason.MinPriority(support)*0.95, reason.CommonSourceNote(support)); err == nil {
				if r.ctx.Rules.Add(reverse) {
					r.ctx.Bus.Publish(event.RuleAdded{Rule: reverse})
				}
			}
		}
		return
	}
	r.deriveUniversal(rule, forallTerm, support)
}

func (r *Reasoner) deriveUniversal(rule *assertion.Rule, forallTerm *term.List, support []*assertion.Assertion) {
	quantified := varNames(forallTerm.Child(1))
	pa := &assertion.PotentialAssertion{
		Term:            forallTerm,
		Priority:        reason.MinPriority(support) * 0.95,
		SourceNoteID:    reason.CommonSourceNote(support),
		Justifications:  reason.JustificationIDs(support...),
		Type:            assertion.Universal,
		QuantifiedVars:  quantified,
		DerivationDepth: 1 + reason.MaxDepth(support),
	}
	r.commit(support, pa)
}

func (r *Reasoner) deriveFromExists(rule *assertion.Rule, existsTerm *term.List, bindings unify.Bindings, support []*assertion.Assertion) {
	varsList, ok := existsTerm.Child(1).(*term.List)
	if !ok {
		return
	}
	body := existsTerm.Child(2)
	skolemBindings := unify.Bindings{}
	freeVars := freeVariablesExcluding(body, varNames(varsList))
	params := make([]term.Term, 0, len(freeVars))
	for _, v := range freeVars {
		params = append(params, term.NewVariable(v))
	}
	for i := 0; i < varsList.Len(); i++ {
		v, ok := varsList.Child(i).(*term.Variable)
		if !ok {
			continue
		}
		if len(params) == 0 {
			skolemBindings[v.Name()] = reason.NextSkolemConst()
		} else {
			skolemBindings[v.Name()] = reason.NextSkolemFunc(params)
		}
	}
	skolemized := unify.Subst(body, skolemBindings, true)
	r.branch(rule, skolemized, bindings, support)
}

func (r *Reasoner) deriveGround(rule *assertion.Rule, result *term.List, support []*assertion.Assertion) {
	typ := assertion.Ground
	if result.HasSkolem() {
		typ = assertion.Skolemized
	}
	pa := &assertion.PotentialAssertion{
		Term:            result,
		Priority:        reason.MinPriority(support) * 0.95,
		SourceNoteID:    reason.CommonSourceNote(support),
		Justifications:  reason.JustificationIDs(support...),
		Type:            typ,
		DerivationDepth: 1 + reason.MaxDepth(support),
	}
	r.commit(support, pa)
}

func (r *Reasoner) commit(support []*assertion.Assertion, pa *assertion.PotentialAssertion) {
	kbID := supportKBID(support)
	targetKB := r.ctx.Registry.Get(kbID)
	reason.Derive(targetKB, pa.Term, r.ctx.DepthLimit, r.ctx.MaxWeight, pa)
}

// supportKBID picks the KB to commit into: the single KB shared by every
// support, or the global KB if they disagree.
func supportKBID(support []*assertion.Assertion) string {
	first := support[0].KBID
	for _, a := range support[1:] {
		if a.KBID != first {
			return reason.GlobalKBID
		}
	}
	return first
}

func varNames(l *term.List) []string {
	out := make([]string, 0, l.Len())
	for i := 0; i < l.Len(); i++ {
		if v, ok := l.Child(i).(*term.Variable); ok {
			out = append(out, v.Name())
		}
	}
	return out
}

func freeVariablesExcluding(t term.Term, excluded []string) []string {
	ex := map[string]struct{}{}
	for _, e := range excluded {
		ex[e] = struct{}{}
	}
	var out []string
	for v := range t.Vars() {
		if _, skip := ex[v]; !skip {
			out = append(out, v)
		}
	}
	return out
}

