// Package rewrite implements the equality-rewrite reasoner (spec.md §4.7):
// an active equality `(= L R)` with weight(L) > weight(R) is an oriented
// rewrite rule applied against every other active assertion, in both
// directions as new facts and new rules arrive.
package rewrite

import (
	"cognote/internal/assertion"
	"cognote/internal/event"
	"cognote/internal/reason"
	"cognote/internal/term"
	"cognote/internal/unify"
)

// Reasoner listens for Asserted events and applies/creates oriented
// rewrite rules.
type Reasoner struct {
	ctx   *reason.Context
	unsub func()
}

// New subscribes a rewrite reasoner to ctx.Bus.
func New(ctx *reason.Context) *Reasoner {
	r := &Reasoner{ctx: ctx}
	r.unsub = ctx.Bus.Subscribe(event.KindAsserted, r.onAsserted)
	return r
}

// Close unsubscribes the reasoner.
func (r *Reasoner) Close() { r.unsub() }

// isOrientedRule reports whether a is a positive equality (= L R) of arity
// 3 with weight(L) > weight(R), forcing termination when applied
// repeatedly.
func isOrientedRule(a *assertion.Assertion) (lhs, rhs term.Term, ok bool) {
	if a.IsNegated || a.Term.Len() != 3 {
		return nil, nil, false
	}
	if op, has := a.Term.Operator(); !has || op != "=" {
		return nil, nil, false
	}
	l, r := a.Term.Child(1), a.Term.Child(2)
	if l.Weight() <= r.Weight() {
		return nil, nil, false
	}
	return l, r, true
}

func (r *Reasoner) onAsserted(e event.Event) {
	ev := e.(event.Asserted)
	newA := ev.Assertion
	if !newA.IsActive() || newA.Type == assertion.Universal {
		return
	}
	if !(r.ctx.Active.Contains(ev.KBID) || r.ctx.Active.Contains(newA.SourceNoteID)) {
		return
	}

	if lhs, rhs, ok := isOrientedRule(newA); ok {
		for _, candKB := range r.ctx.ActiveKBs() {
			for _, target := range candKB.All() {
				if target.ID == newA.ID || target.Type == assertion.Universal {
					continue
				}
				r.applyRewrite(newA, lhs, rhs, target)
			}
		}
		return
	}

	for _, candKB := range r.ctx.ActiveKBs() {
		for _, cand := range candKB.All() {
			if cand.ID == newA.ID {
				continue
			}
			if lhs, rhs, ok := isOrientedRule(cand); ok {
				r.applyRewrite(cand, lhs, rhs, newA)
			}
		}
	}
}

func (r *Reasoner) applyRewrite(ruleAssertion *assertion.Assertion, lhs, rhs term.Term, target *assertion.Assertion) {
	rewritten, ok := unify.Rewrite(target.Term, lhs, rhs)
	if !ok {
		return
	}
	rewrittenList, ok := rewritten.(*term.List)
	if !ok {
		return
	}
	support := []*assertion.Assertion{target, ruleAssertion}
	typ := assertion.Ground
	if rewrittenList.HasSkolem() {
		typ = assertion.Skolemized
	}
	justifications := target.Justifications.Clone()
	for id := range reason.JustificationIDs(target, ruleAssertion) {
		justifications[id] = struct{}{}
	}
	pa := &assertion.PotentialAssertion{
		Term:            rewrittenList,
		Priority:        (ruleAssertion.Priority + target.Priority) / 2 * 0.95,
		SourceNoteID:    reason.CommonSourceNote(support),
		Justifications:  justifications,
		Type:            typ,
		DerivationDepth: 1 + reason.MaxDepth(support),
	}
	targetKB := r.ctx.Registry.Get(target.KBID)
	reason.Derive(targetKB, pa.Term, r.ctx.DepthLimit, r.ctx.MaxWeight, pa)
}
