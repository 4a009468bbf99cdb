// Package universal implements the universal-instantiation reasoner
// (spec.md §4.8): a `(forall (vars...) body)` assertion is instantiated
// against matching ground facts, and a new ground fact is matched against
// every active universal whose body references its predicate.
package universal

import (
	"cognote/internal/assertion"
	"cognote/internal/event"
	"cognote/internal/reason"
	"cognote/internal/term"
	"cognote/internal/unify"
)

// Reasoner listens for Asserted events carrying either a new Universal
// assertion or a new Ground/Skolemized fact, and instantiates the universal
// against the fact in whichever order they arrived.
type Reasoner struct {
	ctx   *reason.Context
	unsub func()
}

// New subscribes a universal-instantiation reasoner to ctx.Bus.
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
	if !newA.IsActive() {
		return
	}
	if !(r.ctx.Active.Contains(ev.KBID) || r.ctx.Active.Contains(newA.SourceNoteID)) {
		return
	}

	if newA.Type == assertion.Universal {
		for _, candKB := range r.ctx.ActiveKBs() {
			for _, pred := range newA.ReferencedPredicates() {
				for _, fact := range candKB.FindInstancesOf(patternFor(newA, pred)) {
					r.instantiate(newA, fact)
				}
			}
		}
		return
	}

	for _, pred := range newA.ReferencedPredicates() {
		for _, candKB := range r.ctx.ActiveKBs() {
			for _, u := range candKB.UniversalsReferencing(pred) {
				r.instantiate(u, newA)
			}
		}
	}
}

// patternFor returns the sub-clause of u's body whose head is pred, used to
// pre-filter FindInstancesOf candidates before the precise Match call in
// instantiate.
func patternFor(u *assertion.Assertion, pred string) term.Term {
	body := u.EffectiveTerm()
	var find func(t term.Term) term.Term
	find = func(t term.Term) term.Term {
		l, ok := t.(*term.List)
		if !ok {
			return nil
		}
		if op, has := l.Operator(); has && op == pred {
			return l
		}
		for i := 0; i < l.Len(); i++ {
			if found := find(l.Child(i)); found != nil {
				return found
			}
		}
		return nil
	}
	if found := find(body); found != nil {
		return found
	}
	return body
}

// Instantiate substitutes u's quantified variables with their bindings from
// matching fact against whichever sub-clause of u's body shares fact's head
// predicate, per spec.md §4.8.
func (r *Reasoner) instantiate(u *assertion.Assertion, fact *assertion.Assertion) {
	body := u.EffectiveTerm()
	bodyList, ok := body.(*term.List)
	if !ok {
		return
	}
	pred, hasPred := predicateOf(fact.EffectiveTerm())
	if !hasPred {
		return
	}
	b, matched := matchClauseWithHead(bodyList, pred, fact.EffectiveTerm())
	if !matched {
		return
	}
	instantiated := unify.Subst(body, b, true)
	instList, ok := instantiated.(*term.List)
	if !ok {
		return
	}
	if instList.HasVars() {
		return
	}

	support := []*assertion.Assertion{u, fact}
	typ := assertion.Ground
	if instList.HasSkolem() {
		typ = assertion.Skolemized
	}
	pa := &assertion.PotentialAssertion{
		Term:            instList,
		Priority:        reason.MinPriority(support) * 0.95,
		SourceNoteID:    reason.CommonSourceNote(support),
		Justifications:  reason.JustificationIDs(support...),
		Type:            typ,
		DerivationDepth: 1 + reason.MaxDepth(support),
	}
	kbID := fact.KBID
	if kbID != u.KBID && u.KBID != reason.GlobalKBID {
		kbID = reason.GlobalKBID
	}
	targetKB := r.ctx.Registry.Get(kbID)
	reason.Derive(targetKB, pa.Term, r.ctx.DepthLimit, r.ctx.MaxWeight, pa)
}

func predicateOf(t term.Term) (string, bool) {
	l, ok := t.(*term.List)
	if !ok {
		return "", false
	}
	return l.Operator()
}

// matchClauseWithHead walks body depth-first looking for the first
// sub-clause headed by pred, and matches fact against it; the bindings
// produced apply across the whole body on success.
func matchClauseWithHead(body *term.List, pred string, fact term.Term) (unify.Bindings, bool) {
	if op, has := body.Operator(); has && op == pred {
		return unify.Match(body, fact, unify.Bindings{})
	}
	for i := 0; i < body.Len(); i++ {
		child, ok := body.Child(i).(*term.List)
		if !ok {
			continue
		}
		if b, matched := matchClauseWithHead(child, pred, fact); matched {
			return b, true
		}
	}
	return nil, false
}
