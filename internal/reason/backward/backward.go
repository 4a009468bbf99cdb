// Package backward implements the backward-chaining reasoner and operator
// registry (spec.md §4.9): goal-directed proof with cycle detection over a
// proof stack, the and/or/not logical connectives, registered operators,
// and fact/rule resolution across the active KBs.
package backward

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"cognote/internal/assertion"
	"cognote/internal/kb"
	"cognote/internal/reason"
	"cognote/internal/term"
	"cognote/internal/unify"
)

// Operator is a pure function from the whole goal list (operator head
// included), the current bindings and the current
// reasoning context to a term, invoked as a legitimate blocking point inside
// Prove's otherwise CPU-bound recursion (spec.md §9's "operator async
// contract" — in Go, a direct call IS the await point). The atom `true`
// succeeds with current bindings, `false` fails, any other term is unified
// against the goal. An error maps to failure (empty stream).
type Operator func(ctx context.Context, goal *term.List, bindings unify.Bindings, bc *Context) (term.Term, error)

// OperatorRegistry is a concurrent name -> Operator map.
type OperatorRegistry struct {
	mu  sync.RWMutex
	ops map[string]Operator
}

// NewOperatorRegistry returns an empty registry.
func NewOperatorRegistry() *OperatorRegistry {
	return &OperatorRegistry{ops: map[string]Operator{}}
}

// Register installs op under name, replacing any existing operator.
func (r *OperatorRegistry) Register(name string, op Operator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[name] = op
}

// Lookup returns the operator registered under name, if any.
func (r *OperatorRegistry) Lookup(name string) (Operator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	return op, ok
}

// Context bundles the reasoning Context with the operator registry and the
// fresh-variable counter used to rename rule variables uniquely per proof
// attempt (spec.md §4.9: "suffix with depth and a fresh monotonic counter").
type Context struct {
	Reason    *reason.Context
	Operators *OperatorRegistry
	MaxDepth  int

	renameCounter uint64
}

// NewContext builds a backward-chaining context with the default proof
// depth (spec.md §5 DefaultBackwardChainDepth) unless maxDepth is positive.
func NewContext(rc *reason.Context, ops *OperatorRegistry, maxDepth int) *Context {
	if maxDepth <= 0 {
		maxDepth = reason.DefaultBackwardChainDepth
	}
	return &Context{Reason: rc, Operators: ops, MaxDepth: maxDepth}
}

func (c *Context) nextSuffix() uint64 {
	return atomic.AddUint64(&c.renameCounter, 1)
}

// Prove is the top-level entry point: depth defaults to MaxDepth, bindings
// start empty, and the proof stack starts empty.
func (c *Context) Prove(ctx context.Context, goal term.Term, kbID string) ([]unify.Bindings, error) {
	return c.prove(ctx, goal, kbID, unify.Bindings{}, c.MaxDepth, map[string]struct{}{})
}

func (c *Context) prove(ctx context.Context, goal term.Term, kbID string, bindings unify.Bindings, depth int, proofStack map[string]struct{}) ([]unify.Bindings, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if depth < 0 {
		return nil, nil
	}

	substituted := unify.Subst(goal, bindings, true)
	key := substituted.String()
	if _, cycling := proofStack[key]; cycling {
		return nil, nil
	}
	nextStack := make(map[string]struct{}, len(proofStack)+1)
	for k := range proofStack {
		nextStack[k] = struct{}{}
	}
	nextStack[key] = struct{}{}

	l, ok := substituted.(*term.List)
	if !ok {
		return nil, nil
	}
	op, hasOp := l.Operator()
	if !hasOp {
		return nil, nil
	}

	var results []unify.Bindings
	var err error
	switch op {
	case "and":
		results, err = c.proveAnd(ctx, l, kbID, bindings, depth, nextStack)
	case "or":
		results, err = c.proveOr(ctx, l, kbID, bindings, depth, nextStack)
	case "not":
		results, err = c.proveNot(ctx, l, kbID, bindings, depth, nextStack)
	default:
		results, err = c.proveAtomic(ctx, l, op, kbID, bindings, depth, nextStack)
	}
	if err != nil {
		return nil, err
	}
	return dedupe(results), nil
}

func (c *Context) proveAnd(ctx context.Context, l *term.List, kbID string, bindings unify.Bindings, depth int, stack map[string]struct{}) ([]unify.Bindings, error) {
	current := []unify.Bindings{bindings}
	for i := 1; i < l.Len(); i++ {
		subgoal := l.Child(i)
		var next []unify.Bindings
		for _, b := range current {
			rs, err := c.prove(ctx, subgoal, kbID, b, depth, stack)
			if err != nil {
				return nil, err
			}
			next = append(next, rs...)
		}
		current = next
		if len(current) == 0 {
			return nil, nil
		}
	}
	return current, nil
}

func (c *Context) proveOr(ctx context.Context, l *term.List, kbID string, bindings unify.Bindings, depth int, stack map[string]struct{}) ([]unify.Bindings, error) {
	var all []unify.Bindings
	for i := 1; i < l.Len(); i++ {
		branchStack := make(map[string]struct{}, len(stack))
		for k := range stack {
			branchStack[k] = struct{}{}
		}
		rs, err := c.prove(ctx, l.Child(i), kbID, bindings, depth, branchStack)
		if err != nil {
			return nil, err
		}
		all = append(all, rs...)
	}
	return all, nil
}

func (c *Context) proveNot(ctx context.Context, l *term.List, kbID string, bindings unify.Bindings, depth int, stack map[string]struct{}) ([]unify.Bindings, error) {
	if l.Len() != 2 {
		return nil, nil
	}
	inner, err := c.prove(ctx, l.Child(1), kbID, bindings, depth, stack)
	if err != nil {
		return nil, err
	}
	if len(inner) == 0 {
		return []unify.Bindings{bindings}, nil
	}
	return nil, nil
}

func (c *Context) proveAtomic(ctx context.Context, goal *term.List, op string, kbID string, bindings unify.Bindings, depth int, stack map[string]struct{}) ([]unify.Bindings, error) {
	if operator, ok := c.Operators.Lookup(op); ok {
		result, err := operator(ctx, goal, bindings, c)
		if err != nil {
			return nil, nil
		}
		return c.foldOperatorResult(result, goal, bindings), nil
	}

	var results []unify.Bindings
	for _, kb := range c.candidateKBs(kbID) {
		for _, fact := range kb.FindUnifiable(goal) {
			if fact.Type == assertion.Universal {
				continue
			}
			if b, ok := unify.Unify(goal, fact.EffectiveTerm(), bindings); ok {
				results = append(results, b)
			}
		}
	}

	if depth <= 0 {
		return results, nil
	}
	for _, rule := range c.Reason.ActiveRules() {
		renamed := c.renameRule(rule, depth)
		b, ok := unify.Unify(goal, renamed.Consequent, bindings)
		if !ok {
			continue
		}
		sub, err := c.proveAnd(ctx, antecedentConjunction(renamed), kbID, b, depth-1, stack)
		if err != nil {
			return nil, err
		}
		results = append(results, sub...)
	}
	return results, nil
}

// foldOperatorResult interprets an operator's returned term per spec.md
// §4.9's calling convention.
func (c *Context) foldOperatorResult(result term.Term, goal *term.List, bindings unify.Bindings) []unify.Bindings {
	if a, ok := result.(*term.Atom); ok {
		switch a.Value() {
		case "true":
			return []unify.Bindings{bindings}
		case "false":
			return nil
		}
	}
	if b, ok := unify.Unify(goal, result, bindings); ok {
		return []unify.Bindings{b}
	}
	return nil
}

// candidateKBs returns the current KB, the global KB and every active note
// KB, per spec.md §4.9's "(current KB ∪ other active note KBs ∪ global KB)".
func (c *Context) candidateKBs(kbID string) []*kb.KB {
	var out []*kb.KB
	seen := map[string]struct{}{}
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, c.Reason.Registry.Get(id))
	}
	add(kbID)
	add(reason.GlobalKBID)
	for _, id := range c.Reason.Active.Snapshot() {
		add(id)
	}
	return out
}

// renameRule renames every variable in rule's form uniquely, suffixed by
// depth and a fresh monotonic counter, so that recursive invocations of the
// same rule never collide (spec.md §4.9).
func (c *Context) renameRule(rule *assertion.Rule, depth int) *assertion.Rule {
	suffix := fmt.Sprintf("_d%d_%d", depth, c.nextSuffix())
	mapping := unify.Bindings{}
	for v := range rule.Form.Vars() {
		mapping[v] = term.NewVariable(v + suffix)
	}
	renamedForm := unify.Subst(rule.Form, mapping, true).(*term.List)
	renamed, err := assertion.NewRule(rule.ID+suffix, renamedForm, rule.Priority, rule.SourceNoteID)
	if err != nil {
		return rule
	}
	return renamed
}

func antecedentConjunction(rule *assertion.Rule) *term.List {
	children := make([]term.Term, 0, len(rule.AntecedentClauses)+1)
	children = append(children, term.NewAtom("and"))
	children = append(children, rule.AntecedentClauses...)
	return term.NewList(children...)
}

// dedupe removes duplicate binding maps by their canonicalized string form.
func dedupe(bs []unify.Bindings) []unify.Bindings {
	seen := map[string]struct{}{}
	out := make([]unify.Bindings, 0, len(bs))
	for _, b := range bs {
		key := canonicalize(b)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, b)
	}
	return out
}

// Canonicalize renders bindings as a sorted "name=term" string, the key
// this package's de-duplication uses (spec.md §4.10). The query dispatcher
// builds its de-duplication key with its own function and does not call
// this one.
func Canonicalize(b unify.Bindings) string {
	return canonicalize(b)
}

func canonicalize(b unify.Bindings) string {
	names := make([]string, 0, len(b))
	for n := range b {
		names = append(names, n)
	}
	sort.Strings(names)
	s := ""
	for _, n := range names {
		s += n + "=" + b[n].String() + ";"
	}
	return s
}
