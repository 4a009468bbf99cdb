package query

import (
	"context"
	"testing"

	"go.uber.org/goleak"

	"cognote/internal/assertion"
	"cognote/internal/event"
	"cognote/internal/eventbus"
	"cognote/internal/executor"
	"cognote/internal/kb"
	"cognote/internal/reason"
	"cognote/internal/reason/backward"
	"cognote/internal/term"
	"cognote/internal/tms"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newHarness(t *testing.T) (*Dispatcher, *kb.KB, *executor.Executor, *eventbus.Bus) {
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
	bc := backward.NewContext(rc, backward.NewOperatorRegistry(), reason.DefaultBackwardChainDepth)
	d := New(bus, exec, &BackwardSupporter{BC: bc})
	return d, registry.Get(reason.GlobalKBID), exec, bus
}

func TestDispatchAskBindingsSuccess(t *testing.T) {
	d, global, _, _ := newHarness(t)
	global.Commit(&assertion.PotentialAssertion{
		Term:     term.NewList(term.NewAtom("instance"), term.NewAtom("MyDog"), term.NewAtom("Dog")),
		Priority: 1.0,
		Type:     assertion.Ground,
	}, "input")

	q := event.Query{
		ID:      "q1",
		Type:    event.AskBindings,
		Pattern: term.NewList(term.NewAtom("instance"), term.NewVariable("?X"), term.NewAtom("Dog")),
	}
	ans := d.Dispatch(context.Background(), q)
	if ans.Status != event.Success {
		t.Fatalf("expected success, got %s: %s", ans.Status, ans.Explanation)
	}
	if len(ans.Bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(ans.Bindings))
	}
}

func TestDispatchAskTrueFalseFailure(t *testing.T) {
	d, _, _, _ := newHarness(t)
	q := event.Query{
		ID:      "q2",
		Type:    event.AskTrueFalse,
		Pattern: term.NewList(term.NewAtom("instance"), term.NewAtom("MyDog"), term.NewAtom("Cat")),
	}
	ans := d.Dispatch(context.Background(), q)
	if ans.Status != event.Failure {
		t.Fatalf("expected failure, got %s", ans.Status)
	}
}

func TestDispatchNoSupporter(t *testing.T) {
	exec := executor.NewSized(2)
	bus := eventbus.New(exec, nil)
	d := New(bus, exec)
	q := event.Query{ID: "q3", Type: event.AskBindings, Pattern: term.NewAtom("x")}
	ans := d.Dispatch(context.Background(), q)
	if ans.Status != event.Failure {
		t.Fatalf("expected failure with no supporters, got %s", ans.Status)
	}
}
