// Package unify implements unification, one-way matching, substitution and
// rewriting over the term model, pure functions threading an immutable
// bindings map (spec.md §4.1). Every recursive entry point is hard-capped at
// MaxDepth frames to bound pathological inputs.
package unify

import (
	"cognote/internal/term"
)

// MaxDepth bounds recursion in Unify, Match, Subst and Rewrite.
const MaxDepth = 50

// ReflexivePredicates is the fixed set of predicates whose self-application
// (op a a) is trivial, alongside "=" itself (spec.md §4.1).
var ReflexivePredicates = map[string]struct{}{
	"instance":    {},
	"subclass":    {},
	"subrelation": {},
	"equivalent":  {},
	"same":        {},
	"equal":       {},
	"domain":      {},
	"range":       {},
}

// Bindings maps variable name to the term it is bound to.
type Bindings map[string]term.Term

// errDepthExceeded names the depth-cap condition. The recursive functions
// do not return it: exceeding MaxDepth surfaces to callers as an ordinary
// unification/match failure.
type errDepthExceeded struct{}

func (errDepthExceeded) Error() string { return "unify: max recursion depth exceeded" }

func (b Bindings) clone() Bindings {
	out := make(Bindings, len(b)+1)
	for k, v := range b {
		out[k] = v
	}
	return out
}

func (b Bindings) extend(name string, t term.Term) Bindings {
	out := b.clone()
	out[name] = t
	return out
}

// chase follows a chain of bindings until reaching an unbound variable or a
// non-variable term.
func chase(t term.Term, b Bindings) term.Term {
	for {
		v, ok := t.(*term.Variable)
		if !ok {
			return t
		}
		next, bound := b[v.Name()]
		if !bound {
			return t
		}
		t = next
	}
}

// Unify attempts full unification of x and y under bindings b, with an
// occurs check. Returns (nil, false) on failure.
func Unify(x, y term.Term, b Bindings) (Bindings, bool) {
	return unify(x, y, b, 0)
}

func unify(x, y term.Term, b Bindings, depth int) (Bindings, bool) {
	if depth > MaxDepth {
		return nil, false
	}
	x = chase(x, b)
	y = chase(y, b)

	if x.Equal(y) {
		return b, true
	}

	if vx, ok := x.(*term.Variable); ok {
		return bindVar(vx, y, b, depth)
	}
	if vy, ok := y.(*term.Variable); ok {
		return bindVar(vy, x, b, depth)
	}

	lx, xIsList := x.(*term.List)
	ly, yIsList := y.(*term.List)
	if xIsList && yIsList {
		if lx.Len() != ly.Len() {
			return nil, false
		}
		cur := b
		for i := 0; i < lx.Len(); i++ {
			var ok bool
			cur, ok = unify(lx.Child(i), ly.Child(i), cur, depth+1)
			if !ok {
				return nil, false
			}
		}
		return cur, true
	}
	return nil, false
}

func bindVar(v *term.Variable, t term.Term, b Bindings, depth int) (Bindings, bool) {
	if occurs(v, t, b, depth+1) {
		return nil, false
	}
	return b.extend(v.Name(), t), true
}

func occurs(v *term.Variable, t term.Term, b Bindings, depth int) bool {
	if depth > MaxDepth {
		return true
	}
	t = chase(t, b)
	if ov, ok := t.(*term.Variable); ok {
		return ov.Name() == v.Name()
	}
	if l, ok := t.(*term.List); ok {
		for i := 0; i < l.Len(); i++ {
			if occurs(v, l.Child(i), b, depth+1) {
				return true
			}
		}
	}
	return false
}

// Match performs one-way matching: only variables in pattern may bind; a
// variable already bound in b must re-match against term rather than rebind.
// No occurs check, matching spec.md §4.1.
func Match(pattern, t term.Term, b Bindings) (Bindings, bool) {
	return match(pattern, t, b, 0)
}

func match(pattern, t term.Term, b Bindings, depth int) (Bindings, bool) {
	if depth > MaxDepth {
		return nil, false
	}
	if v, ok := pattern.(*term.Variable); ok {
		if bound, has := b[v.Name()]; has {
			if bound.Equal(t) {
				return b, true
			}
			return nil, false
		}
		return b.extend(v.Name(), t), true
	}

	if pattern.Equal(t) {
		return b, true
	}

	lp, pIsList := pattern.(*term.List)
	lt, tIsList := t.(*term.List)
	if pIsList && tIsList {
		if lp.Len() != lt.Len() {
			return nil, false
		}
		cur := b
		for i := 0; i < lp.Len(); i++ {
			var ok bool
			cur, ok = match(lp.Child(i), lt.Child(i), cur, depth+1)
			if !ok {
				return nil, false
			}
		}
		return cur, true
	}
	return nil, false
}

// Subst applies bindings to t. When fully is false, only the outermost
// variable replacement is made (a bound variable is replaced once, without
// chasing further); when fully is true, bindings are chased transitively.
// The original term is returned unchanged (same value, cheap identity in the
// common case) if no variable occurs in it.
func Subst(t term.Term, b Bindings, fully bool) term.Term {
	return subst(t, b, fully, 0)
}

func subst(t term.Term, b Bindings, fully bool, depth int) term.Term {
	if depth > MaxDepth || !t.HasVars() {
		return t
	}
	switch v := t.(type) {
	case *term.Variable:
		bound, ok := b[v.Name()]
		if !ok {
			return t
		}
		if !fully {
			return bound
		}
		return subst(bound, b, fully, depth+1)
	case *term.List:
		children := v.Children()
		changed := false
		out := make([]term.Term, len(children))
		for i, c := range children {
			nc := subst(c, b, fully, depth+1)
			out[i] = nc
			if nc != c {
				changed = true
			}
		}
		if !changed {
			return t
		}
		return term.NewList(out...)
	default:
		return t
	}
}

// Rewrite attempts match(lhs, target); on success returns subst(rhs,
// bindings) and true. Otherwise it recurses into target's list children,
// returning the first non-trivial rewrite found. Returns (target, false) if
// no subterm rewrites.
func Rewrite(target, lhs, rhs term.Term) (term.Term, bool) {
	return rewrite(target, lhs, rhs, 0)
}

func rewrite(target, lhs, rhs term.Term, depth int) (term.Term, bool) {
	if depth > MaxDepth {
		return target, false
	}
	if b, ok := match(lhs, target, Bindings{}, 0); ok {
		return Subst(rhs, b, true), true
	}
	l, ok := target.(*term.List)
	if !ok {
		return target, false
	}
	children := l.Children()
	for i, c := range children {
		if nc, rewritten := rewrite(c, lhs, rhs, depth+1); rewritten {
			out := make([]term.Term, len(children))
			copy(out, children)
			out[i] = nc
			return term.NewList(out...), true
		}
	}
	return target, false
}

// IsTrivial reports whether lst is trivial per spec.md §4.1: a list
// (op a a) where op is "=" or a member of ReflexivePredicates, or a negation
// of a trivial list.
func IsTrivial(t term.Term) bool {
	l, ok := t.(*term.List)
	if !ok {
		return false
	}
	op, hasOp := l.Operator()
	if hasOp && op == "not" && l.Len() == 2 {
		return IsTrivial(l.Child(1))
	}
	if !hasOp || l.Len() != 3 {
		return false
	}
	if op != "=" {
		if _, reflexive := ReflexivePredicates[op]; !reflexive {
			return false
		}
	}
	return l.Child(1).Equal(l.Child(2))
}
