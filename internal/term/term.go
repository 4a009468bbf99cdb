// Package term implements the immutable S-expression term model: atoms and
// variables, interned for cheap equality, and lists, which are not interned
// but cache their derived structural properties (KIF text, weight, variable
// set, Skolem occurrence).
package term

import (
	"fmt"
	"strings"
	"sync"
)

// Kind tags the three Term variants as a closed sum.
type Kind uint8

const (
	KindAtom Kind = iota
	KindVariable
	KindList
)

// SkolemConstPrefix and SkolemFuncPrefix identify Skolem identifiers
// introduced during existential elimination (spec.md §4.6).
const (
	SkolemConstPrefix = "skc_"
	SkolemFuncPrefix  = "skf_"
)

// Term is the immutable sum type shared by every reasoner and index.
// Terms are created by the package constructors or by Subst/Rewrite; callers
// never mutate a Term after construction.
type Term interface {
	Kind() Kind
	// String returns the canonical KIF text form; lists compute it once and
	// cache it, atoms and variables build it on each call.
	String() string
	// Weight is 1 for atoms/variables, 1+sum(children weights) for lists.
	Weight() int
	// Vars returns the set of variable names occurring anywhere in the term.
	// The returned map must not be mutated by callers.
	Vars() map[string]struct{}
	// HasVars reports whether any variable occurs in the term.
	HasVars() bool
	// HasSkolem reports whether any Skolem atom or function symbol occurs.
	HasSkolem() bool
	// Equal performs structural value equality.
	Equal(other Term) bool
}

// Atom is an interned symbol or quoted string.
type Atom struct {
	value string
}

// Variable is an interned logic variable; Name always starts with '?' and
// has length >= 2 (enforced by the interning constructor).
type Variable struct {
	name string
}

// List is an ordered sequence of child terms. Its derived properties are
// computed lazily and cached on first access, matching the immutability of
// the term model: a List is never mutated after NewList returns it.
type List struct {
	children []Term

	once     sync.Once
	kifForm  string
	weight   int
	vars     map[string]struct{}
	hasVar   bool
	hasSko   bool
}

var (
	atomMu    sync.Mutex
	atomPool  = make(map[string]*Atom)
	varMu     sync.Mutex
	varPool   = make(map[string]*Variable)
)

// NewAtom interns and returns the Atom for value.
func NewAtom(value string) *Atom {
	atomMu.Lock()
	defer atomMu.Unlock()
	if a, ok := atomPool[value]; ok {
		return a
	}
	a := &Atom{value: value}
	atomPool[value] = a
	return a
}

// NewVariable interns and returns the Variable for name. Panics if name is
// not a syntactically valid variable (caller error, not input error — the
// KIF parser validates variable syntax before ever calling this).
func NewVariable(name string) *Variable {
	if len(name) < 2 || name[0] != '?' {
		panic(fmt.Sprintf("term: invalid variable name %q", name))
	}
	varMu.Lock()
	defer varMu.Unlock()
	if v, ok := varPool[name]; ok {
		return v
	}
	v := &Variable{name: name}
	varPool[name] = v
	return v
}

// NewList builds a List over children, copying the slice defensively so the
// caller's backing array can be reused.
func NewList(children ...Term) *List {
	cp := make([]Term, len(children))
	copy(cp, children)
	return &List{children: cp}
}

func (a *Atom) Kind() Kind { return KindAtom }

// String returns the bare atom text when it is syntactically a legal bare
// atom, and a quoted, backslash-escaped form otherwise — so an atom built
// from a quoted string containing e.g. a space or reserved character still
// round-trips through Print/Parse instead of re-lexing as several tokens.
func (a *Atom) String() string {
	if isBareAtom(a.value) {
		return a.value
	}
	return quoteAtom(a.value)
}
func (a *Atom) Weight() int { return 1 }

// isBareAtom mirrors internal/kif's atom-rune grammar; it must be kept in
// sync with that package's isAtomRune, since term cannot import kif
// (kif imports term) to share the check directly.
func isBareAtom(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		ok := false
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			ok = true
		case strings.ContainsRune(`_-+*/.<>=:!#%&'`, r):
			ok = true
		}
		if !ok {
			return false
		}
	}
	return true
}

func quoteAtom(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('"')
	return sb.String()
}
func (a *Atom) Vars() map[string]struct{} { return emptyVars }
func (a *Atom) HasVars() bool  { return false }
func (a *Atom) HasSkolem() bool {
	return strings.HasPrefix(a.value, SkolemConstPrefix) || strings.HasPrefix(a.value, SkolemFuncPrefix)
}
func (a *Atom) Equal(other Term) bool {
	o, ok := other.(*Atom)
	return ok && o.value == a.value
}

// Value returns the raw atom text.
func (a *Atom) Value() string { return a.value }

func (v *Variable) Kind() Kind     { return KindVariable }
func (v *Variable) String() string { return v.name }
func (v *Variable) Weight() int    { return 1 }
func (v *Variable) Vars() map[string]struct{} {
	return map[string]struct{}{v.name: {}}
}
func (v *Variable) HasVars() bool   { return true }
func (v *Variable) HasSkolem() bool { return false }
func (v *Variable) Equal(other Term) bool {
	o, ok := other.(*Variable)
	return ok && o.name == v.name
}

// Name returns the variable's name, including the leading '?'.
func (v *Variable) Name() string { return v.name }

var emptyVars = map[string]struct{}{}

func (l *List) Kind() Kind { return KindList }

func (l *List) Children() []Term {
	out := make([]Term, len(l.children))
	copy(out, l.children)
	return out
}

// Len returns the number of children.
func (l *List) Len() int { return len(l.children) }

// Child returns the i-th child term.
func (l *List) Child(i int) Term { return l.children[i] }

// Operator returns the value of the first child when it is an Atom, and
// false otherwise (spec.md §3).
func (l *List) Operator() (string, bool) {
	if len(l.children) == 0 {
		return "", false
	}
	if a, ok := l.children[0].(*Atom); ok {
		return a.value, true
	}
	return "", false
}

func (l *List) ensure() {
	l.once.Do(func() {
		var sb strings.Builder
		sb.WriteByte('(')
		weight := 1
		vars := map[string]struct{}{}
		hasVar := false
		hasSko := false
		for i, c := range l.children {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(c.String())
			weight += c.Weight()
			if c.HasVars() {
				hasVar = true
				for name := range c.Vars() {
					vars[name] = struct{}{}
				}
			}
			if c.HasSkolem() {
				hasSko = true
			}
		}
		sb.WriteByte(')')
		l.kifForm = sb.String()
		l.weight = weight
		if len(vars) == 0 {
			vars = emptyVars
		}
		l.vars = vars
		l.hasVar = hasVar
		l.hasSko = hasSko
	})
}

func (l *List) String() string { l.ensure(); return l.kifForm }
func (l *List) Weight() int    { l.ensure(); return l.weight }
func (l *List) Vars() map[string]struct{} { l.ensure(); return l.vars }
func (l *List) HasVars() bool  { l.ensure(); return l.hasVar }
func (l *List) HasSkolem() bool { l.ensure(); return l.hasSko }

func (l *List) Equal(other Term) bool {
	o, ok := other.(*List)
	if !ok || len(o.children) != len(l.children) {
		return false
	}
	for i, c := range l.children {
		if !c.Equal(o.children[i]) {
			return false
		}
	}
	return true
}

// IsList reports whether t is a *List; a convenience used throughout the
// reasoners which only ever operate on list-shaped terms.
func IsList(t Term) bool {
	_, ok := t.(*List)
	return ok
}
