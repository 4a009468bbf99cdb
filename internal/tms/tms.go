// Package tms implements the justification-based truth maintenance system
// described in spec.md §4.4: an id-keyed justification graph with
// active/inactive flip propagation and contradiction detection.
package tms

import (
	"sync"

	"go.uber.org/zap"

	"cognote/internal/assertion"
	"cognote/internal/event"
	"cognote/internal/eventbus"
	"cognote/internal/term"
)

// ResolutionPolicy selects how Resolve handles a detected contradiction.
type ResolutionPolicy int

const (
	// LogOnly reports the contradiction and retracts nothing.
	LogOnly ResolutionPolicy = iota
	// RetractWeakest retracts every currently-active conflicting assertion
	// tied for minimum priority and, among those, maximum (newest)
	// timestamp — intentionally capable of retracting more than one
	// assertion on a tie (spec.md §9 open questions).
	RetractWeakest
)

// Ticket is returned by Add and merely wraps the new assertion's id.
type Ticket struct {
	ID string
}

// TMS owns the three maps described in spec.md §3/§4.4, guarded by a single
// reader-writer lock.
type TMS struct {
	mu             sync.RWMutex
	byID           map[string]*assertion.Assertion
	justifications map[string]assertion.IDSet
	dependents     map[string]assertion.IDSet

	bus *eventbus.Bus
	log *zap.Logger
}

// New returns an empty TMS publishing state-change events on bus.
func New(bus *eventbus.Bus, log *zap.Logger) *TMS {
	if log == nil {
		log = zap.NewNop()
	}
	return &TMS{
		byID:           map[string]*assertion.Assertion{},
		justifications: map[string]assertion.IDSet{},
		dependents:     map[string]assertion.IDSet{},
		bus:            bus,
		log:            log,
	}
}

// Get returns the assertion for id, if known.
func (t *TMS) Get(id string) (*assertion.Assertion, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.byID[id]
	return a, ok
}

func computeActive(justifications assertion.IDSet, admittedActive bool, byID map[string]*assertion.Assertion) bool {
	if len(justifications) == 0 {
		return admittedActive
	}
	for id := range justifications {
		a, ok := byID[id]
		if !ok || !a.IsActive() {
			return false
		}
	}
	return true
}

// Add registers a under justifications. Returns (nil, false) if a's id is
// already known or any justification id is unknown. The assertion's
// activity is (re)computed per the invariant in spec.md §8 property 4: no
// justifications and admitted active, or every justification currently
// active.
func (t *TMS) Add(a *assertion.Assertion, justifications assertion.IDSet, source string) (*Ticket, bool) {
	t.mu.Lock()
	if _, exists := t.byID[a.ID]; exists {
		t.mu.Unlock()
		return nil, false
	}
	for id := range justifications {
		if _, ok := t.byID[id]; !ok {
			t.mu.Unlock()
			return nil, false
		}
	}
	active := computeActive(justifications, a.IsActive(), t.byID)
	a.SetActive(active)
	t.byID[a.ID] = a
	t.justifications[a.ID] = justifications.Clone()
	for id := range justifications {
		if t.dependents[id] == nil {
			t.dependents[id] = assertion.IDSet{}
		}
		t.dependents[id][a.ID] = struct{}{}
	}
	t.mu.Unlock()

	if active {
		t.detectContradiction(a)
	} else {
		t.bus.Publish(event.AssertionStateChanged{AssertionID: a.ID, IsActive: false, KBID: a.KBID})
	}
	return &Ticket{ID: a.ID}, true
}

// Retract removes id and everything that directly or transitively depended
// on it is re-evaluated (not removed) via Update.
func (t *TMS) Retract(id string, source string) {
	t.mu.Lock()
	a, ok := t.byID[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	wasActive := a.IsActive()
	justs := t.justifications[id]
	deps := t.dependents[id]
	delete(t.byID, id)
	delete(t.justifications, id)
	delete(t.dependents, id)
	for j := range justs {
		if s, ok := t.dependents[j]; ok {
			delete(s, id)
		}
	}
	depIDs := deps.Slice()
	t.mu.Unlock()

	if wasActive {
		t.bus.Publish(event.Retracted{Assertion: a, KBID: a.KBID, Reason: source})
	} else {
		t.bus.Publish(event.AssertionStateChanged{AssertionID: id, IsActive: false, KBID: a.KBID})
	}

	visited := map[string]struct{}{id: {}}
	for _, d := range depIDs {
		t.update(d, visited)
	}
}

// update recomputes id's activity, emits a state-change event and runs
// contradiction detection if it flipped to active, then recurses into id's
// dependents. visited bounds the traversal to a single O(depth) pass
// (spec.md §4.4, §9).
func (t *TMS) update(id string, visited map[string]struct{}) {
	if _, seen := visited[id]; seen {
		return
	}
	visited[id] = struct{}{}

	t.mu.Lock()
	a, ok := t.byID[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	just := t.justifications[id]
	newActive := computeActive(just, a.IsActive(), t.byID)
	changed := newActive != a.IsActive()
	if changed {
		a.SetActive(newActive)
	}
	depIDs := t.dependents[id].Slice()
	t.mu.Unlock()

	if changed {
		t.bus.Publish(event.AssertionStateChanged{AssertionID: id, IsActive: newActive, KBID: a.KBID})
		if newActive {
			t.detectContradiction(a)
		}
	}
	for _, d := range depIDs {
		t.update(d, visited)
	}
}

// detectContradiction looks for any currently active assertion in a's KB
// whose term is a's direct negation (spec.md §4.4).
func (t *TMS) detectContradiction(a *assertion.Assertion) {
	var target term.Term
	if a.IsNegated {
		target = a.EffectiveTerm()
	} else {
		target = term.NewList(term.NewAtom("not"), a.Term)
	}
	t.mu.RLock()
	var hit string
	for id, b := range t.byID {
		if id == a.ID || b.KBID != a.KBID || !b.IsActive() {
			continue
		}
		if b.Term.Equal(target) {
			hit = id
			break
		}
	}
	t.mu.RUnlock()
	if hit != "" {
		t.bus.Publish(event.ContradictionDetected{ConflictingIDs: []string{a.ID, hit}, KBID: a.KBID})
	}
}

// Resolve applies policy to the conflicting assertion ids (typically the
// pair from a ContradictionDetected event) and returns the ids actually
// retracted.
func (t *TMS) Resolve(conflicting []string, policy ResolutionPolicy) []string {
	if policy == LogOnly {
		t.log.Info("tms: contradiction logged, no resolution applied", zap.Strings("ids", conflicting))
		return nil
	}

	t.mu.RLock()
	var active []*assertion.Assertion
	for _, id := range conflicting {
		if a, ok := t.byID[id]; ok && a.IsActive() {
			active = append(active, a)
		}
	}
	t.mu.RUnlock()
	if len(active) == 0 {
		return nil
	}

	minPriority := active[0].Priority
	for _, a := range active {
		if a.Priority < minPriority {
			minPriority = a.Priority
		}
	}
	var atMin []*assertion.Assertion
	for _, a := range active {
		if a.Priority == minPriority {
			atMin = append(atMin, a)
		}
	}
	maxTimestamp := atMin[0].Timestamp
	for _, a := range atMin {
		if a.Timestamp > maxTimestamp {
			maxTimestamp = a.Timestamp
		}
	}
	var toRetract []string
	for _, a := range atMin {
		if a.Timestamp == maxTimestamp {
			toRetract = append(toRetract, a.ID)
		}
	}
	for _, id := range toRetract {
		t.Retract(id, "resolution:RetractWeakest")
	}
	return toRetract
}
