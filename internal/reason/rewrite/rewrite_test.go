package rewrite

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"cognote/internal/assertion"
	"cognote/internal/event"
	"cognote/internal/eventbus"
	"cognote/internal/executor"
	"cognote/internal/kb"
	"cognote/internal/reason"
	"cognote/internal/term"
	"cognote/internal/tms"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newHarness(t *testing.T) (*reason.Context, *kb.KB) {
	t.Helper()
	exec := executor.NewSized(4)
	bus := eventbus.New(exec, nil)
	tm := tms.New(bus, nil)
	counter := int64(0)
	clock := func() int64 { counter++; return counter }

	registry := reason.NewRegistry(func(id string) *kb.KB {
		return kb.New(id, 1000, tm, bus, clock, nil)
	})
	ctx := &reason.Context{
		Registry:   registry,
		Rules:      reason.NewRuleSet(),
		Active:     &reason.ActiveSet{},
		DepthLimit: reason.DefaultReasoningDepthLimit,
		MaxWeight:  reason.MaxDerivedWeight,
		Bus:        bus,
	}
	return ctx, registry.Get(reason.GlobalKBID)
}

// TestRewriteAppliesExistingRuleToNewFact covers spec.md §4.7: an already
// active oriented equality (= (fatherOf John) Bob) rewrites a freshly
// committed fact mentioning the larger-weight left side.
func TestRewriteAppliesExistingRuleToNewFact(t *testing.T) {
	ctx, global := newHarness(t)
	New(ctx)

	derived := make(chan *assertion.Assertion, 1)
	ctx.Bus.Subscribe(event.KindAsserted, func(e event.Event) {
		a := e.(event.Asserted).Assertion
		if op, ok := a.Term.Operator(); ok && op == "happy" && len(a.Justifications) > 0 {
			derived <- a
		}
	})

	lhs := term.NewList(term.NewAtom("fatherOf"), term.NewAtom("John"))
	rhs := term.NewAtom("Bob")
	eq := term.NewList(term.NewAtom("="), lhs, rhs)
	if _, ok := global.Commit(&assertion.PotentialAssertion{
		Term:     eq,
		Priority: 1.0,
		Type:     assertion.Ground,
	}, "input"); !ok {
		t.Fatalf("expected equality commit to succeed")
	}

	fact := term.NewList(term.NewAtom("happy"), lhs)
	if _, ok := global.Commit(&assertion.PotentialAssertion{
		Term:     fact,
		Priority: 1.0,
		Type:     assertion.Ground,
	}, "input"); !ok {
		t.Fatalf("expected fact commit to succeed")
	}

	select {
	case a := <-derived:
		want := term.NewList(term.NewAtom("happy"), term.NewAtom("Bob"))
		if !a.Term.Equal(want) {
			t.Fatalf("derived term = %s, want %s", a.Term, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for rewritten derivation")
	}
}

// TestRewriteAppliesNewRuleToExistingFact covers the reverse ordering: a
// fact already present, then an oriented rule committed afterward.
func TestRewriteAppliesNewRuleToExistingFact(t *testing.T) {
	ctx, global := newHarness(t)
	New(ctx)

	derived := make(chan *assertion.Assertion, 1)
	ctx.Bus.Subscribe(event.KindAsserted, func(e event.Event) {
		a := e.(event.Asserted).Assertion
		if op, ok := a.Term.Operator(); ok && op == "happy" && len(a.Justifications) > 0 {
			derived <- a
		}
	})

	lhs := term.NewList(term.NewAtom("fatherOf"), term.NewAtom("John"))
	rhs := term.NewAtom("Bob")
	fact := term.NewList(term.NewAtom("happy"), lhs)
	if _, ok := global.Commit(&assertion.PotentialAssertion{
		Term:     fact,
		Priority: 1.0,
		Type:     assertion.Ground,
	}, "input"); !ok {
		t.Fatalf("expected fact commit to succeed")
	}

	eq := term.NewList(term.NewAtom("="), lhs, rhs)
	if _, ok := global.Commit(&assertion.PotentialAssertion{
		Term:     eq,
		Priority: 1.0,
		Type:     assertion.Ground,
	}, "input"); !ok {
		t.Fatalf("expected equality commit to succeed")
	}

	select {
	case a := <-derived:
		want := term.NewList(term.NewAtom("happy"), term.NewAtom("Bob"))
		if !a.Term.Equal(want) {
			t.Fatalf("derived term = %s, want %s", a.Term, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for rewritten derivation")
	}
}

func TestIsOrientedRuleRejectsEqualWeight(t *testing.T) {
	same := term.NewList(term.NewAtom("="), term.NewAtom("A"), term.NewAtom("B"))
	a := assertion.NewAssertion("a1", same, 1.0, 1, "", nil, assertion.Ground, false, nil, 0, "global", true)
	if _, _, ok := isOrientedRule(a); ok {
		t.Fatalf("expected equal-weight equality to be rejected as non-orienting")
	}
}
