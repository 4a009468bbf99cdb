// Package reason holds the pieces shared by the four reasoner strategies
// (forward chaining, equality rewriting, universal instantiation, backward
// chaining): the active-KB registry, the concurrent rule set, the active
// note-id set, and the derivation-commit helper that enforces the weight
// and depth caps from spec.md §4.6.
package reason

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"cognote/internal/assertion"
	"cognote/internal/eventbus"
	"cognote/internal/kb"
	"cognote/internal/term"
)

// MaxDerivedWeight is the default derived-term weight cap (spec.md §4.6,
// §5); config.DefaultConfig seeds config.Config.MaxDerivedWeight from it,
// and the live value actually enforced by Derive flows through
// Context.MaxWeight, not this constant.
const MaxDerivedWeight = 150

// DefaultReasoningDepthLimit is the default forward/rewrite/universal
// derivation depth cap (spec.md §5).
const DefaultReasoningDepthLimit = 4

// DefaultBackwardChainDepth is the default backward-chaining proof depth
// (spec.md §4.9).
const DefaultBackwardChainDepth = 8

// Registry owns every KB, creating note KBs lazily on first reference
// (spec.md §3 "KBs: created lazily on first reference to a note id").
type Registry struct {
	mu       sync.RWMutex
	kbs      map[string]*kb.KB
	capacity int
	tmsNew   func(id string) *kb.KB
}

// NewRegistry builds a registry whose KBs, global and note alike, are all
// built by factory (same TMS/bus/clock); each KB's capacity is whatever the
// factory gives it for that id.
func NewRegistry(factory func(id string) *kb.KB) *Registry {
	return &Registry{kbs: map[string]*kb.KB{}, tmsNew: factory}
}

// Get returns (creating if necessary) the KB named id.
func (r *Registry) Get(id string) *kb.KB {
	r.mu.RLock()
	k, ok := r.kbs[id]
	r.mu.RUnlock()
	if ok {
		return k
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.kbs[id]; ok {
		return k
	}
	k = r.tmsNew(id)
	r.kbs[id] = k
	return k
}

// All returns every KB known to the registry so far.
func (r *Registry) All() []*kb.KB {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*kb.KB, 0, len(r.kbs))
	for _, k := range r.kbs {
		out = append(out, k)
	}
	return out
}

// Remove drops a note KB entirely (its note was removed).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.kbs[id]; ok {
		k.Clear("note-removed")
		k.Close()
		delete(r.kbs, id)
	}
}

// GlobalKBID names the always-active global knowledge base.
const GlobalKBID = "global"

// ActiveSet is a lock-free-in-spirit concurrent set of active note ids; the
// global KB is always considered active regardless of membership.
type ActiveSet struct {
	m sync.Map
}

// Add marks id active.
func (a *ActiveSet) Add(id string) { a.m.Store(id, struct{}{}) }

// Remove marks id inactive.
func (a *ActiveSet) Remove(id string) { a.m.Delete(id) }

// Contains reports whether id (or the global KB id) is active.
func (a *ActiveSet) Contains(id string) bool {
	if id == "" || id == GlobalKBID {
		return true
	}
	_, ok := a.m.Load(id)
	return ok
}

// Snapshot returns the currently active note ids, not including the global
// KB id.
func (a *ActiveSet) Snapshot() []string {
	var out []string
	a.m.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	return out
}

// RuleSet is a concurrent collection of rules, deduplicated by rule form
// (spec.md §3: "Equality on rules is by rule form, not id").
type RuleSet struct {
	mu    sync.RWMutex
	byID  map[string]*assertion.Rule
}

// NewRuleSet returns an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{byID: map[string]*assertion.Rule{}}
}

// Add inserts r unless an equal-form rule already exists; returns false on
// duplicate.
func (rs *RuleSet) Add(r *assertion.Rule) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, existing := range rs.byID {
		if existing.Equal(r) {
			return false
		}
	}
	rs.byID[r.ID] = r
	return true
}

// RemoveByID deletes the rule with the given id, returning it if found.
func (rs *RuleSet) RemoveByID(id string) (*assertion.Rule, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.byID[id]
	if ok {
		delete(rs.byID, id)
	}
	return r, ok
}

// RemoveByForm deletes every rule whose form equals form.
func (rs *RuleSet) RemoveByForm(form *assertion.Rule) []*assertion.Rule {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var removed []*assertion.Rule
	for id, existing := range rs.byID {
		if existing.Equal(form) {
			removed = append(removed, existing)
			delete(rs.byID, id)
		}
	}
	return removed
}

// All returns a snapshot of every rule in the set.
func (rs *RuleSet) All() []*assertion.Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]*assertion.Rule, 0, len(rs.byID))
	for _, r := range rs.byID {
		out = append(out, r)
	}
	return out
}

// Context bundles the shared dependencies every reasoner trigger needs.
type Context struct {
	Registry   *Registry
	Rules      *RuleSet
	Active     *ActiveSet
	DepthLimit int
	MaxWeight  int
	Bus        *eventbus.Bus
	Log        *zap.Logger
}

// ActiveRules returns every rule whose source note is active (a rule with
// no source note is always active).
func (c *Context) ActiveRules() []*assertion.Rule {
	var out []*assertion.Rule
	for _, r := range c.Rules.All() {
		if r.SourceNoteID == "" || c.Active.Contains(r.SourceNoteID) {
			out = append(out, r)
		}
	}
	return out
}

// ActiveKBs returns the global KB plus every currently-active note KB.
func (c *Context) ActiveKBs() []*kb.KB {
	out := []*kb.KB{c.Registry.Get(GlobalKBID)}
	for _, id := range c.Active.Snapshot() {
		out = append(out, c.Registry.Get(id))
	}
	return out
}

// Derive enforces the weight/depth/ground-variable-free filters from
// spec.md §4.6 and, if the candidate survives, commits it into targetKB.
// maxWeight is the caller's configured cap (ctx.MaxWeight), not the
// MaxDerivedWeight default — config.Config.MaxDerivedWeight flows through
// here. Returns (nil, false) if the candidate is filtered out or
// KB.Commit rejects it.
func Derive(targetKB *kb.KB, candidate term.Term, depthLimit int, maxWeight int, pa *assertion.PotentialAssertion) (*assertion.Assertion, bool) {
	l, ok := candidate.(*term.List)
	if !ok {
		return nil, false
	}
	if pa.Type == assertion.Ground && l.HasVars() {
		return nil, false
	}
	if l.Weight() > maxWeight {
		return nil, false
	}
	if pa.DerivationDepth > depthLimit {
		return nil, false
	}
	pa.Term = l
	return targetKB.Commit(pa, "derivation")
}

// CommonSourceNote returns the single note id that every ancestor in ids
// either names as source or inherits through support, or "" if they
// disagree or any ancestor has none.
func CommonSourceNote(ancestors []*assertion.Assertion) string {
	if len(ancestors) == 0 {
		return ""
	}
	first := ancestors[0].SourceNoteID
	if first == "" {
		return ""
	}
	for _, a := range ancestors[1:] {
		if a.SourceNoteID != first {
			return ""
		}
	}
	return first
}

// MinPriority returns the minimum priority among ancestors.
func MinPriority(ancestors []*assertion.Assertion) float64 {
	min := ancestors[0].Priority
	for _, a := range ancestors[1:] {
		if a.Priority < min {
			min = a.Priority
		}
	}
	return min
}

// MaxDepth returns the maximum derivation depth among ancestors.
func MaxDepth(ancestors []*assertion.Assertion) int {
	max := ancestors[0].DerivationDepth
	for _, a := range ancestors[1:] {
		if a.DerivationDepth > max {
			max = a.DerivationDepth
		}
	}
	return max
}

// JustificationIDs collects the ids of ancestors into a set.
func JustificationIDs(ancestors ...*assertion.Assertion) assertion.IDSet {
	ids := make([]string, len(ancestors))
	for i, a := range ancestors {
		ids[i] = a.ID
	}
	return assertion.NewIDSet(ids...)
}

var skolemCounter uint64

// NextSkolemConst mints a fresh Skolem constant atom (no free parameters).
func NextSkolemConst() *term.Atom {
	n := atomic.AddUint64(&skolemCounter, 1)
	return term.NewAtom(fmt.Sprintf("%s%d", term.SkolemConstPrefix, n))
}

// NextSkolemFunc mints a fresh Skolem function application over params.
func NextSkolemFunc(params []term.Term) *term.List {
	n := atomic.AddUint64(&skolemCounter, 1)
	head := term.NewAtom(fmt.Sprintf("%s%d", term.SkolemFuncPrefix, n))
	children := append([]term.Term{head}, params...)
	return term.NewList(children...)
}

// StripNot returns (inner, true) for `(not inner)`, else (t, false).
func StripNot(t term.Term) (term.Term, bool) {
	l, ok := t.(*term.List)
	if !ok {
		return t, false
	}
	if op, has := l.Operator(); has && op == "not" && l.Len() == 2 {
		return l.Child(1), true
	}
	return t, false
}

// SimplifyDoubleNegation collapses `(not (not X))` to `X`, recursively.
func SimplifyDoubleNegation(t term.Term) term.Term {
	l, ok := t.(*term.List)
	if !ok {
		return t
	}
	if inner, negated := StripNot(t); negated {
		if innerInner, negatedAgain := StripNot(inner); negatedAgain {
			return SimplifyDoubleNegation(innerInner)
		}
	}
	children := l.Children()
	changed := false
	out := make([]term.Term, len(children))
	for i, c := range children {
		nc := SimplifyDoubleNegation(c)
		out[i] = nc
		if nc != c {
			changed = true
		}
	}
	if !changed {
		return t
	}
	return term.NewList(out...)
}
