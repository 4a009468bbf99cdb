package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"cognote/internal/config"
	"cognote/internal/event"
	"cognote/internal/kif"
	"cognote/internal/term"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.GlobalKBCapacity = 1000
	cfg.NoteKBCapacity = 1000
	cfg.ExecutorCapacity = 4
	e, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func TestModusPonensViaForwardChaining(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.AssertRuleKIF(`(=> (instance ?X Dog) (attribute ?X Canine))`, 1.0, ""); err != nil {
		t.Fatalf("AssertRuleKIF error: %v", err)
	}
	if _, err := e.AssertKIF(`(instance MyDog Dog)`, 1.0, "input", ""); err != nil {
		t.Fatalf("AssertKIF error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		global := e.registry.Get("global")
		for _, a := range global.All() {
			if a.Term.String() == "(attribute MyDog Canine)" {
				if len(a.Justifications) != 2 {
					t.Fatalf("expected 2 justifications, got %d", len(a.Justifications))
				}
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected derived (attribute MyDog Canine) within deadline")
}

func TestRetractionCascade(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.AssertRuleKIF(`(=> (instance ?X Dog) (attribute ?X Canine))`, 1.0, ""); err != nil {
		t.Fatalf("AssertRuleKIF error: %v", err)
	}
	input, err := e.AssertKIF(`(instance MyDog Dog)`, 1.0, "input", "")
	if err != nil || input == nil {
		t.Fatalf("AssertKIF error: %v", err)
	}

	var derived string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && derived == "" {
		for _, a := range e.registry.Get("global").All() {
			if a.Term.String() == "(attribute MyDog Canine)" {
				derived = a.ID
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	if derived == "" {
		t.Fatalf("derivation never appeared")
	}

	e.tmsInst.Retract(input.ID, "test")
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a, ok := e.tmsInst.Get(derived)
		if ok && !a.IsActive() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected derived assertion to become inactive after retraction")
}

func TestAskBindingsQuery(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.AssertKIF(`(instance MyCat Cat)`, 1.0, "input", ""); err != nil {
		t.Fatalf("assert error: %v", err)
	}
	if _, err := e.AssertKIF(`(instance YourCat Cat)`, 1.0, "input", ""); err != nil {
		t.Fatalf("assert error: %v", err)
	}

	q := event.Query{
		ID:      "q1",
		Type:    event.AskBindings,
		Pattern: mustParsePattern(t, `(instance ?X Cat)`),
	}
	ans := e.Query(context.Background(), q)
	if ans.Status != event.Success {
		t.Fatalf("expected success, got %s: %s", ans.Status, ans.Explanation)
	}
	if len(ans.Bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(ans.Bindings))
	}
}

func TestContradictionDetectionLogOnly(t *testing.T) {
	e := newTestEngine(t)
	a1, err := e.AssertKIF(`(believes A P)`, 1.0, "input", "")
	if err != nil || a1 == nil {
		t.Fatalf("assert error: %v", err)
	}

	events := make(chan event.ContradictionDetected, 1)
	unsub := e.bus.Subscribe(event.KindContradictionDetected, func(ev event.Event) {
		events <- ev.(event.ContradictionDetected)
	})
	defer unsub()

	a2, err := e.AssertKIF(`(not (believes A P))`, 1.0, "input", "")
	if err != nil || a2 == nil {
		t.Fatalf("assert error: %v", err)
	}

	select {
	case c := <-events:
		if len(c.ConflictingIDs) != 2 {
			t.Fatalf("expected 2 conflicting ids, got %d", len(c.ConflictingIDs))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected ContradictionDetected event")
	}

	if g1, ok := e.tmsInst.Get(a1.ID); !ok || !g1.IsActive() {
		t.Fatalf("expected a1 to remain active under LogOnly policy")
	}
	if g2, ok := e.tmsInst.Get(a2.ID); !ok || !g2.IsActive() {
		t.Fatalf("expected a2 to remain active under LogOnly policy")
	}
}

func TestCapacityEviction(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.GlobalKBCapacity = 2
	cfg.ExecutorCapacity = 4
	e, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer e.Stop()

	if _, err := e.AssertKIF(`(fact A)`, 1.0, "input", ""); err != nil {
		t.Fatalf("assert error: %v", err)
	}
	if _, err := e.AssertKIF(`(fact B)`, 0.5, "input", ""); err != nil {
		t.Fatalf("assert error: %v", err)
	}
	if _, err := e.AssertKIF(`(fact C)`, 0.8, "input", ""); err != nil {
		t.Fatalf("assert error: %v", err)
	}

	all := e.registry.Get("global").All()
	if len(all) != 2 {
		t.Fatalf("expected 2 surviving assertions, got %d", len(all))
	}
	seen := map[string]bool{}
	for _, a := range all {
		seen[a.Term.String()] = true
	}
	if !seen["(fact A)"] || !seen["(fact C)"] || seen["(fact B)"] {
		t.Fatalf("expected A and C to survive, B evicted; got %v", seen)
	}
}

func TestPauseBlocksAssert(t *testing.T) {
	e := newTestEngine(t)
	e.Pause()
	done := make(chan struct{})
	go func() {
		e.AssertKIF(`(fact A)`, 1.0, "input", "")
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("expected AssertKIF to block while paused")
	case <-time.After(50 * time.Millisecond):
	}

	e.Resume()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected AssertKIF to complete after Resume")
	}
}

func TestStatusReportsCounts(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.AssertRuleKIF(`(=> (instance ?X Dog) (attribute ?X Canine))`, 1.0, ""); err != nil {
		t.Fatalf("rule error: %v", err)
	}
	st := e.Status()
	if st.RuleCount != 1 {
		t.Fatalf("expected 1 rule, got %d", st.RuleCount)
	}
	if st.KBCount < 1 {
		t.Fatalf("expected at least the global KB, got %d", st.KBCount)
	}
}

func TestExportRestoreRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.AssertRuleKIF(`(=> (instance ?X Dog) (attribute ?X Canine))`, 1.0, ""); err != nil {
		t.Fatalf("rule error: %v", err)
	}
	if _, err := e.AssertKIF(`(instance MyDog Dog)`, 1.0, "input", ""); err != nil {
		t.Fatalf("assert error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.registry.Get("global").All()) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap := e.ExportState()
	if len(snap.Rules) != 1 {
		t.Fatalf("expected 1 rule in snapshot, got %d", len(snap.Rules))
	}
	if len(snap.Assertions) < 2 {
		t.Fatalf("expected at least 2 assertions in snapshot, got %d", len(snap.Assertions))
	}

	e2 := newTestEngine(t)
	if err := e2.RestoreState(snap); err != nil {
		t.Fatalf("RestoreState error: %v", err)
	}
	restored := e2.registry.Get("global").All()
	if len(restored) != len(snap.Assertions) {
		t.Fatalf("expected %d restored assertions, got %d", len(snap.Assertions), len(restored))
	}
	if len(e2.rules.All()) != 1 {
		t.Fatalf("expected 1 restored rule, got %d", len(e2.rules.All()))
	}
}

func mustParsePattern(t *testing.T, text string) term.Term {
	t.Helper()
	pt, err := kif.ParseOne(text)
	if err != nil {
		t.Fatalf("ParseOne(%q) error: %v", text, err)
	}
	return pt
}
