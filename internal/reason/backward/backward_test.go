package backward

import (
	"context"
	"testing"

	"go.uber.org/goleak"

	"cognote/internal/assertion"
	"cognote/internal/eventbus"
	"cognote/internal/executor"
	"cognote/internal/kb"
	"cognote/internal/reason"
	"cognote/internal/term"
	"cognote/internal/tms"
	"cognote/internal/unify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newHarness(t *testing.T) (*Context, *kb.KB) {
	t.Helper()
	exec := executor.NewSized(4)
	bus := eventbus.New(exec, nil)
	tm := tms.New(bus, nil)
	counter := int64(0)
	clock := func() int64 { counter++; return counter }

	registry := reason.NewRegistry(func(id string) *kb.KB {
		return kb.New(id, 1000, tm, bus, clock, nil)
	})
	rc := &reason.Context{
		Registry:   registry,
		Rules:      reason.NewRuleSet(),
		Active:     &reason.ActiveSet{},
		DepthLimit: reason.DefaultReasoningDepthLimit,
		MaxWeight:  reason.MaxDerivedWeight,
		Bus:        bus,
	}
	bc := NewContext(rc, NewOperatorRegistry(), reason.DefaultBackwardChainDepth)
	return bc, registry.Get(reason.GlobalKBID)
}

func TestProveFactDirect(t *testing.T) {
	bc, global := newHarness(t)
	global.Commit(&assertion.PotentialAssertion{
		Term:     term.NewList(term.NewAtom("instance"), term.NewAtom("MyDog"), term.NewAtom("Dog")),
		Priority: 1.0,
		Type:     assertion.Ground,
	}, "input")

	goal := term.NewList(term.NewAtom("instance"), term.NewVariable("?X"), term.NewAtom("Dog"))
	results, err := bc.Prove(context.Background(), goal, reason.GlobalKBID)
	if err != nil {
		t.Fatalf("Prove error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 binding set, got %d", len(results))
	}
	if got := results[0]["?X"].String(); got != "MyDog" {
		t.Fatalf("?X = %s, want MyDog", got)
	}
}

func TestProveViaRule(t *testing.T) {
	bc, global := newHarness(t)
	global.Commit(&assertion.PotentialAssertion{
		Term:     term.NewList(term.NewAtom("instance"), term.NewAtom("MyDog"), term.NewAtom("Dog")),
		Priority: 1.0,
		Type:     assertion.Ground,
	}, "input")

	form := term.NewList(term.NewAtom("=>"),
		term.NewList(term.NewAtom("instance"), term.NewVariable("?X"), term.NewAtom("Dog")),
		term.NewList(term.NewAtom("attribute"), term.NewVariable("?X"), term.NewAtom("Canine")))
	rule, err := assertion.NewRule("r1", form, 1.0, "")
	if err != nil {
		t.Fatalf("NewRule error: %v", err)
	}
	bc.Reason.Rules.Add(rule)

	goal := term.NewList(term.NewAtom("attribute"), term.NewAtom("MyDog"), term.NewAtom("Canine"))
	results, err := bc.Prove(context.Background(), goal, reason.GlobalKBID)
	if err != nil {
		t.Fatalf("Prove error: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one proof of the goal via rule r1")
	}
}

func TestProveCutsCycles(t *testing.T) {
	bc, _ := newHarness(t)
	form := term.NewList(term.NewAtom("=>"),
		term.NewList(term.NewAtom("loopy"), term.NewVariable("?X")),
		term.NewList(term.NewAtom("loopy"), term.NewVariable("?X")))
	rule, err := assertion.NewRule("r1", form, 1.0, "")
	if err != nil {
		t.Fatalf("NewRule error: %v", err)
	}
	bc.Reason.Rules.Add(rule)

	goal := term.NewList(term.NewAtom("loopy"), term.NewAtom("A"))
	results, err := bc.Prove(context.Background(), goal, reason.GlobalKBID)
	if err != nil {
		t.Fatalf("Prove error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected cycle to be cut with no proofs, got %d", len(results))
	}
}

func TestProveNotNegationAsFailure(t *testing.T) {
	bc, _ := newHarness(t)
	goal := term.NewList(term.NewAtom("not"),
		term.NewList(term.NewAtom("instance"), term.NewAtom("MyDog"), term.NewAtom("Cat")))
	results, err := bc.Prove(context.Background(), goal, reason.GlobalKBID)
	if err != nil {
		t.Fatalf("Prove error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected negation-as-failure to succeed once, got %d", len(results))
	}
}

func TestProveOperator(t *testing.T) {
	bc, _ := newHarness(t)
	bc.Operators.Register("double", func(ctx context.Context, goal *term.List, b unify.Bindings, bc *Context) (term.Term, error) {
		return term.NewAtom("true"), nil
	})
	goal := term.NewList(term.NewAtom("double"), term.NewAtom("4"), term.NewAtom("8"))
	results, err := bc.Prove(context.Background(), goal, reason.GlobalKBID)
	if err != nil {
		t.Fatalf("Prove error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected operator success to yield one binding set, got %d", len(results))
	}
}
