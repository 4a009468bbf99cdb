package tms

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"cognote/internal/assertion"
	"cognote/internal/event"
	"cognote/internal/eventbus"
	"cognote/internal/executor"
	"cognote/internal/term"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestTMS() (*TMS, *eventbus.Bus, *recorder) {
	exec := executor.NewSized(4)
	bus := eventbus.New(exec, nil)
	rec := newRecorder(bus)
	return New(bus, nil), bus, rec
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func newRecorder(bus *eventbus.Bus) *recorder {
	r := &recorder{}
	for _, k := range []event.Kind{
		event.KindAssertionStateChanged,
		event.KindRetracted,
		event.KindContradictionDetected,
	} {
		bus.Subscribe(k, r.record)
	}
	return r
}

func (r *recorder) record(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) waitFor(t *testing.T, kind event.Kind, timeout time.Duration) event.Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, e := range r.events {
			if e.EventKind() == kind {
				r.mu.Unlock()
				return e
			}
		}
		r.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for event kind %s", kind)
	return nil
}

func groundAssertion(id, pred, arg1, arg2 string, active bool) *assertion.Assertion {
	t := term.NewList(term.NewAtom(pred), term.NewAtom(arg1), term.NewAtom(arg2))
	return assertion.NewAssertion(id, t, 1.0, 0, "", nil, assertion.Ground, false, nil, 0, "global", active)
}

func TestAddAdmittedActiveNoJustifications(t *testing.T) {
	m, _, _ := newTestTMS()
	a := groundAssertion("a1", "instance", "MyDog", "Dog", true)
	ticket, ok := m.Add(a, assertion.IDSet{}, "input")
	if !ok || ticket.ID != "a1" {
		t.Fatalf("expected Add to succeed with ticket a1")
	}
	if !a.IsActive() {
		t.Fatalf("expected assertion admitted active with no justifications to stay active")
	}
}

func TestAddInactiveWhenJustificationInactive(t *testing.T) {
	m, _, rec := newTestTMS()
	base := groundAssertion("base", "instance", "MyDog", "Dog", false)
	m.Add(base, assertion.IDSet{}, "input")
	if base.IsActive() {
		t.Fatalf("expected base admitted inactive")
	}

	derived := groundAssertion("derived", "attribute", "MyDog", "Canine", true)
	m.Add(derived, assertion.NewIDSet("base"), "forward")
	if derived.IsActive() {
		t.Fatalf("expected derived to start inactive since its justification is inactive")
	}
	rec.waitFor(t, event.KindAssertionStateChanged, time.Second)
}

func TestRetractionCascade(t *testing.T) {
	m, _, rec := newTestTMS()
	input := groundAssertion("input", "instance", "MyDog", "Dog", true)
	m.Add(input, assertion.IDSet{}, "input")

	derived := groundAssertion("derived", "attribute", "MyDog", "Canine", true)
	m.Add(derived, assertion.NewIDSet("input"), "forward")
	if !derived.IsActive() {
		t.Fatalf("expected derived to be active since its sole justification is active")
	}

	m.Retract("input", "user")

	e := rec.waitFor(t, event.KindAssertionStateChanged, time.Second)
	sc := e.(event.AssertionStateChanged)
	if sc.AssertionID != "derived" || sc.IsActive {
		t.Fatalf("expected derived to flip inactive, got %+v", sc)
	}
	if derived.IsActive() {
		t.Fatalf("expected derived.IsActive() false after cascade")
	}
	if _, ok := m.Get("input"); ok {
		t.Fatalf("expected input to be removed from the store after retraction")
	}
	if _, ok := m.Get("derived"); !ok {
		t.Fatalf("expected derived to still exist (inactive, not purged)")
	}
}

func TestContradictionDetection(t *testing.T) {
	m, _, rec := newTestTMS()
	p := term.NewList(term.NewAtom("believes"), term.NewAtom("A"), term.NewAtom("P"))
	a := assertion.NewAssertion("a1", p, 1.0, 0, "", nil, assertion.Ground, false, nil, 0, "global", true)
	m.Add(a, assertion.IDSet{}, "input")

	negP := term.NewList(term.NewAtom("not"), p)
	b := assertion.NewAssertion("a2", negP, 1.0, 1, "", nil, assertion.Ground, false, nil, 0, "global", true)
	m.Add(b, assertion.IDSet{}, "input")

	e := rec.waitFor(t, event.KindContradictionDetected, time.Second)
	cd := e.(event.ContradictionDetected)
	if cd.KBID != "global" {
		t.Fatalf("expected contradiction in kb global, got %s", cd.KBID)
	}
}

func TestResolveRetractWeakestTies(t *testing.T) {
	m, _, _ := newTestTMS()
	a := assertion.NewAssertion("a1", term.NewList(term.NewAtom("p"), term.NewAtom("a")), 0.5, 10, "", nil, assertion.Ground, false, nil, 0, "global", true)
	b := assertion.NewAssertion("a2", term.NewList(term.NewAtom("q"), term.NewAtom("a")), 0.5, 10, "", nil, assertion.Ground, false, nil, 0, "global", true)
	c := assertion.NewAssertion("a3", term.NewList(term.NewAtom("r"), term.NewAtom("a")), 0.9, 20, "", nil, assertion.Ground, false, nil, 0, "global", true)
	m.Add(a, assertion.IDSet{}, "input")
	m.Add(b, assertion.IDSet{}, "input")
	m.Add(c, assertion.IDSet{}, "input")

	retracted := m.Resolve([]string{"a1", "a2", "a3"}, RetractWeakest)
	if len(retracted) != 2 {
		t.Fatalf("expected both min-priority, max-timestamp tied assertions retracted, got %v", retracted)
	}
}

func TestResolveLogOnlyRetractsNothing(t *testing.T) {
	m, _, _ := newTestTMS()
	a := groundAssertion("a1", "p", "a", "b", true)
	m.Add(a, assertion.IDSet{}, "input")
	retracted := m.Resolve([]string{"a1"}, LogOnly)
	if len(retracted) != 0 {
		t.Fatalf("expected LogOnly to retract nothing, got %v", retracted)
	}
	if !a.IsActive() {
		t.Fatalf("expected a1 to remain active under LogOnly")
	}
}
