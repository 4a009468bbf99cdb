package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"cognote/internal/assertion"
	"cognote/internal/event"
	"cognote/internal/executor"
	"cognote/internal/term"
	"cognote/internal/unify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTypeSubscription(t *testing.T) {
	exec := executor.NewSized(2)
	bus := New(exec, nil)

	var mu sync.Mutex
	var received []event.Event
	bus.Subscribe(event.KindRuleAdded, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	})

	bus.PublishSync(context.Background(), event.RuleAdded{Rule: &assertion.Rule{ID: "r1"}})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
}

func TestPatternSubscription(t *testing.T) {
	exec := executor.NewSized(2)
	bus := New(exec, nil)

	pattern := term.NewList(term.NewAtom("instance"), term.NewVariable("?X"), term.NewAtom("Dog"))
	matched := make(chan string, 1)
	bus.SubscribePattern(pattern, func(e event.Event, b unify.Bindings) {
		if v, ok := b["?X"]; ok {
			matched <- v.String()
		}
	})

	a := assertion.NewAssertion("a1",
		term.NewList(term.NewAtom("instance"), term.NewAtom("MyDog"), term.NewAtom("Dog")),
		1.0, 0, "", nil, assertion.Ground, false, nil, 0, "global", true)
	bus.Publish(event.Asserted{Assertion: a, KBID: "global"})

	select {
	case v := <-matched:
		if v != "MyDog" {
			t.Fatalf("matched binding = %q, want MyDog", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for pattern match dispatch")
	}
}

func TestListenerPanicDoesNotBreakDispatch(t *testing.T) {
	exec := executor.NewSized(2)
	bus := New(exec, nil)

	done := make(chan struct{})
	bus.Subscribe(event.KindRuleAdded, func(e event.Event) {
		panic("boom")
	})
	bus.Subscribe(event.KindRuleAdded, func(e event.Event) {
		close(done)
	})

	bus.Publish(event.RuleAdded{Rule: &assertion.Rule{ID: "r1"}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected second listener to still run after first panicked")
	}
}

func TestUnsubscribe(t *testing.T) {
	exec := executor.NewSized(2)
	bus := New(exec, nil)

	var count int
	var mu sync.Mutex
	unsub := bus.Subscribe(event.KindRuleAdded, func(e event.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsub()
	bus.PublishSync(context.Background(), event.RuleAdded{Rule: &assertion.Rule{ID: "r1"}})

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected unsubscribed listener not to run, got count=%d", count)
	}
}
