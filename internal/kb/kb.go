// Package kb implements the per-knowledge-base assertion store described in
// spec.md §4.3: commit/retract/clear with capacity-bounded priority+age
// eviction, a structural path index for Ground/Skolemized assertions, and a
// predicate-to-id map for Universal assertions.
package kb

import (
	"container/heap"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cognote/internal/assertion"
	"cognote/internal/event"
	"cognote/internal/eventbus"
	"cognote/internal/pathindex"
	"cognote/internal/term"
	"cognote/internal/tms"
	"cognote/internal/unify"
)

// Clock supplies monotonically increasing timestamps; tests can substitute
// a deterministic counter.
type Clock func() int64

// KB is a single named knowledge base. All mutating operations take the
// write side of mu; index reads take the read side.
type KB struct {
	mu sync.RWMutex

	id       string
	capacity int

	index              *pathindex.Index
	universalByPred    map[string]assertion.IDSet
	eviction           *evictionQueue
	owned              map[string]*ownedEntry

	tms   *tms.TMS
	bus   *eventbus.Bus
	clock Clock
	log   *zap.Logger

	unsubStateChanged eventbus.Unsubscribe
	unsubRetracted    eventbus.Unsubscribe
	unsubEvicted      eventbus.Unsubscribe
}

type ownedEntry struct {
	assertion *assertion.Assertion
	inIndex   bool // whether currently present in index/predicate map
}

// New constructs a KB named id with the given capacity, wired to t for
// activity tracking and bus for event emission, and subscribes to activity
// events so the index stays in sync with the TMS's notion of "active".
func New(id string, capacity int, t *tms.TMS, bus *eventbus.Bus, clock Clock, log *zap.Logger) *KB {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = defaultClock()
	}
	k := &KB{
		id:              id,
		capacity:        capacity,
		index:           pathindex.New(),
		universalByPred: map[string]assertion.IDSet{},
		eviction:        newEvictionQueue(),
		owned:           map[string]*ownedEntry{},
		tms:             t,
		bus:             bus,
		clock:           clock,
		log:             log,
	}
	k.unsubStateChanged = bus.Subscribe(event.KindAssertionStateChanged, k.onStateChanged)
	k.unsubRetracted = bus.Subscribe(event.KindRetracted, k.onRetracted)
	k.unsubEvicted = bus.Subscribe(event.KindAssertionEvicted, k.onEvicted)
	return k
}

func defaultClock() Clock {
	var n int64
	var mu sync.Mutex
	return func() int64 {
		mu.Lock()
		defer mu.Unlock()
		n++
		return n
	}
}

// ID returns the KB's name.
func (k *KB) ID() string { return k.id }

// Close unsubscribes the KB's event listeners.
func (k *KB) Close() {
	k.unsubStateChanged()
	k.unsubRetracted()
	k.unsubEvicted()
}

// Count returns the number of active assertions owned by this KB.
func (k *KB) Count() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	n := 0
	for _, e := range k.owned {
		if e.assertion.IsActive() {
			n++
		}
	}
	return n
}

// Commit implements spec.md §4.3's commit sequence.
func (k *KB) Commit(p *assertion.PotentialAssertion, source string) (*assertion.Assertion, bool) {
	if unify.IsTrivial(p.Term) {
		return nil, false
	}

	finalType := p.Type
	if finalType == assertion.Ground && p.Term.HasSkolem() {
		finalType = assertion.Skolemized
	}

	k.mu.Lock()

	if k.isExactDuplicateLocked(p.Term) {
		k.mu.Unlock()
		return nil, false
	}
	if finalType != assertion.Universal && k.isSubsumedLocked(p.Term) {
		k.mu.Unlock()
		return nil, false
	}

	if k.countLocked() >= k.capacity {
		k.evictUntilRoomLocked()
		if k.countLocked() >= k.capacity {
			k.mu.Unlock()
			k.log.Warn("kb: capacity exceeded, rejecting commit", zap.String("kb", k.id), zap.String("term", p.Term.String()))
			return nil, false
		}
	}
	k.mu.Unlock()

	id := uuid.NewString()
	ts := k.clock()
	a := assertion.NewAssertion(id, p.Term, p.Priority, ts, p.SourceNoteID, p.Justifications.Clone(), finalType, p.IsOrientedEquality, p.QuantifiedVars, p.DerivationDepth, k.id, len(p.Justifications) == 0)

	_, ok := k.tms.Add(a, p.Justifications, source)
	if !ok {
		return nil, false
	}

	k.mu.Lock()
	k.owned[id] = &ownedEntry{assertion: a}
	if a.IsActive() {
		k.indexInsertLocked(a)
	}
	k.mu.Unlock()

	if a.IsActive() {
		k.bus.Publish(event.Asserted{Assertion: a, KBID: k.id})
		k.checkCapacityThresholds()
	}
	return a, a.IsActive()
}

// Retract delegates to the TMS; index maintenance happens via this KB's
// event subscriptions.
func (k *KB) Retract(id string, source string) {
	k.tms.Retract(id, source)
}

// Clear retracts every assertion owned by this KB and resets indices.
func (k *KB) Clear(source string) {
	k.mu.RLock()
	ids := make([]string, 0, len(k.owned))
	for id := range k.owned {
		ids = append(ids, id)
	}
	k.mu.RUnlock()
	for _, id := range ids {
		k.tms.Retract(id, source)
	}
	k.mu.Lock()
	k.index = pathindex.New()
	k.universalByPred = map[string]assertion.IDSet{}
	k.eviction = newEvictionQueue()
	k.owned = map[string]*ownedEntry{}
	k.mu.Unlock()
}

func (k *KB) countLocked() int {
	n := 0
	for _, e := range k.owned {
		if e.assertion.IsActive() {
			n++
		}
	}
	return n
}

func (k *KB) isExactDuplicateLocked(t *term.List) bool {
	kif := t.String()
	for _, e := range k.owned {
		if e.assertion.IsActive() && e.assertion.Term.String() == kif {
			return true
		}
	}
	return false
}

// isSubsumedLocked preserves the source behaviour documented in spec.md §9:
// the comparison uses the effective term of the existing assertion against
// the full proposed term, not the proposed term's own effective term.
func (k *KB) isSubsumedLocked(proposed *term.List) bool {
	candidates := k.index.FindGeneralizationsOf(proposed)
	for id := range candidates {
		e, ok := k.owned[id]
		if !ok || !e.assertion.IsActive() {
			continue
		}
		if e.assertion.Type == assertion.Universal {
			continue
		}
		if _, matched := unify.Match(e.assertion.EffectiveTerm(), proposed, unify.Bindings{}); matched {
			return true
		}
	}
	return false
}

func (k *KB) indexInsertLocked(a *assertion.Assertion) {
	e := k.owned[a.ID]
	if e == nil || e.inIndex {
		return
	}
	switch a.Type {
	case assertion.Universal:
		for _, pred := range a.ReferencedPredicates() {
			if k.universalByPred[pred] == nil {
				k.universalByPred[pred] = assertion.IDSet{}
			}
			k.universalByPred[pred][a.ID] = struct{}{}
		}
	default:
		k.index.Insert(a.Term, a.ID)
		k.eviction.push(evictionItem{id: a.ID, priority: a.Priority, timestamp: a.Timestamp})
	}
	e.inIndex = true
}

func (k *KB) indexRemoveLocked(a *assertion.Assertion) {
	e := k.owned[a.ID]
	if e == nil || !e.inIndex {
		return
	}
	switch a.Type {
	case assertion.Universal:
		for _, pred := range a.ReferencedPredicates() {
			if s, ok := k.universalByPred[pred]; ok {
				delete(s, a.ID)
			}
		}
	default:
		k.index.Delete(a.Term, a.ID)
		k.eviction.remove(a.ID)
	}
	e.inIndex = false
}

// evictUntilRoomLocked pops ground/Skolemized assertions with lowest
// priority (oldest timestamp breaking ties) until the KB is under capacity
// or no more evictable assertions remain.
func (k *KB) evictUntilRoomLocked() {
	for k.countLocked() >= k.capacity {
		id, ok := k.eviction.popMin()
		if !ok {
			return
		}
		e, known := k.owned[id]
		if !known || !e.assertion.IsActive() {
			continue
		}
		victim := e.assertion
		k.mu.Unlock()
		k.tms.Retract(id, "eviction")
		k.bus.Publish(event.AssertionEvicted{Assertion: victim, KBID: k.id})
		k.mu.Lock()
		k.indexRemoveLocked(victim)
		delete(k.owned, id)
	}
}

func (k *KB) checkCapacityThresholds() {
	n := k.Count()
	if k.capacity <= 0 {
		return
	}
	ratio := float64(n) / float64(k.capacity)
	switch {
	case ratio >= 0.98:
		k.log.Error("kb: critical capacity threshold reached", zap.String("kb", k.id), zap.Int("count", n), zap.Int("capacity", k.capacity))
	case ratio >= 0.90:
		k.log.Warn("kb: approaching capacity", zap.String("kb", k.id), zap.Int("count", n), zap.Int("capacity", k.capacity))
	}
}

func (k *KB) belongsToThisKB(id string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.owned[id]
	return ok
}

func (k *KB) onStateChanged(e event.Event) {
	sc := e.(event.AssertionStateChanged)
	if sc.KBID != k.id || !k.belongsToThisKB(sc.AssertionID) {
		return
	}
	a, ok := k.tms.Get(sc.AssertionID)
	if !ok {
		return
	}
	k.mu.Lock()
	if sc.IsActive {
		k.indexInsertLocked(a)
	} else {
		k.indexRemoveLocked(a)
	}
	k.mu.Unlock()
}

func (k *KB) onRetracted(e event.Event) {
	r := e.(event.Retracted)
	if r.KBID != k.id {
		return
	}
	k.mu.Lock()
	if entry, ok := k.owned[r.Assertion.ID]; ok {
		if entry.inIndex {
			k.indexRemoveLocked(r.Assertion)
		}
		delete(k.owned, r.Assertion.ID)
	}
	k.mu.Unlock()
}

func (k *KB) onEvicted(e event.Event) {
	ev := e.(event.AssertionEvicted)
	if ev.KBID != k.id {
		return
	}
	k.mu.Lock()
	delete(k.owned, ev.Assertion.ID)
	k.mu.Unlock()
}

// FindUnifiable, FindInstancesOf and FindGeneralizationsOf expose the
// underlying path index for reasoners, returning only currently-active
// owned assertions.
func (k *KB) FindUnifiable(query term.Term) []*assertion.Assertion {
	return k.resolveCandidates(k.index.FindUnifiable(query))
}

func (k *KB) FindInstancesOf(pattern term.Term) []*assertion.Assertion {
	return k.resolveCandidates(k.index.FindInstancesOf(pattern))
}

func (k *KB) FindGeneralizationsOf(query term.Term) []*assertion.Assertion {
	return k.resolveCandidates(k.index.FindGeneralizationsOf(query))
}

func (k *KB) resolveCandidates(ids map[string]struct{}) []*assertion.Assertion {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]*assertion.Assertion, 0, len(ids))
	for id := range ids {
		if e, ok := k.owned[id]; ok && e.assertion.IsActive() {
			out = append(out, e.assertion)
		}
	}
	return out
}

// UniversalsReferencing returns active Universal assertions whose effective
// term references predicate.
func (k *KB) UniversalsReferencing(predicate string) []*assertion.Assertion {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := k.universalByPred[predicate]
	out := make([]*assertion.Assertion, 0, len(ids))
	for id := range ids {
		if e, ok := k.owned[id]; ok && e.assertion.IsActive() {
			out = append(out, e.assertion)
		}
	}
	return out
}

// All returns every active assertion owned by this KB.
func (k *KB) All() []*assertion.Assertion {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]*assertion.Assertion, 0, len(k.owned))
	for _, e := range k.owned {
		if e.assertion.IsActive() {
			out = append(out, e.assertion)
		}
	}
	return out
}

// ---- eviction queue: a min-heap over priority, tie-broken by oldest
// timestamp, with lazy deletion so retract/evict don't need to scan ----

type evictionItem struct {
	id        string
	priority  float64
	timestamp int64
	index     int
}

type evictionHeap []*evictionItem

func (h evictionHeap) Len() int { return len(h) }
func (h evictionHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].timestamp < h[j].timestamp
}
func (h evictionHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *evictionHeap) Push(x any) {
	it := x.(*evictionItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *evictionHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

type evictionQueue struct {
	h     evictionHeap
	byID  map[string]*evictionItem
}

func newEvictionQueue() *evictionQueue {
	return &evictionQueue{h: evictionHeap{}, byID: map[string]*evictionItem{}}
}

func (q *evictionQueue) push(it evictionItem) {
	if _, exists := q.byID[it.id]; exists {
		return
	}
	stored := &evictionItem{id: it.id, priority: it.priority, timestamp: it.timestamp}
	q.byID[it.id] = stored
	heap.Push(&q.h, stored)
}

func (q *evictionQueue) remove(id string) {
	it, ok := q.byID[id]
	if !ok {
		return
	}
	heap.Remove(&q.h, it.index)
	delete(q.byID, id)
}

// popMin removes and returns the lowest-priority (oldest on tie) id.
func (q *evictionQueue) popMin() (string, bool) {
	if len(q.h) == 0 {
		return "", false
	}
	it := heap.Pop(&q.h).(*evictionItem)
	delete(q.byID, it.id)
	return it.id, true
}
