// Package pathindex implements the structural trie used for candidate
// retrieval over assertion terms (spec.md §4.2). The trie is keyed on term
// shape: an atom's value, a sentinel for variables, and either a list's
// operator (when its head is an atom) or a sentinel for operator-less lists.
//
// The three Find* primitives return an over-approximate candidate set; the
// caller is expected to apply the exact semantic relation (Unify/Match) to
// each candidate's actual term before trusting the result, as spec.md §4.2
// describes them as "candidate retrieval".
package pathindex

import (
	"sync"

	"cognote/internal/term"
)

// sentinel keys, chosen so they can never collide with a legal atom value
// (atom syntax excludes NUL and whitespace).
const (
	varKey  = "\x00var"
	listKey = "\x00list"
)

// Index is safe for concurrent readers; writers (Insert/Delete) take an
// exclusive lock, matching the single-write-lock-per-KB model the index is
// embedded in.
type Index struct {
	mu   sync.RWMutex
	root *node
}

type node struct {
	ids      map[string]struct{}
	children map[string]*node
}

func newNode() *node {
	return &node{ids: map[string]struct{}{}, children: map[string]*node{}}
}

// New returns an empty path index.
func New() *Index {
	return &Index{root: newNode()}
}

// step decomposes t into the key used at this trie level and the sequence
// of argument subterms still to be walked: for an atom-headed list the key
// is the operator and the arguments are the remaining children (the
// operator itself is already encoded in the key); for any other list it is
// the list-marker sentinel and every child is an argument.
func step(t term.Term) (key string, args []term.Term) {
	switch v := t.(type) {
	case *term.Atom:
		return v.Value(), nil
	case *term.Variable:
		return varKey, nil
	case *term.List:
		if op, ok := v.Operator(); ok {
			return op, v.Children()[1:]
		}
		return listKey, v.Children()
	}
	return listKey, nil
}

// path flattens t into the full depth-first sequence of trie keys.
func path(t term.Term) []string {
	var out []string
	var walk func(term.Term)
	walk = func(t term.Term) {
		key, args := step(t)
		out = append(out, key)
		for _, a := range args {
			walk(a)
		}
	}
	walk(t)
	return out
}

// Insert registers id under the path of t.
func (ix *Index) Insert(t term.Term, id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	n := ix.root
	n.ids[id] = struct{}{}
	for _, k := range path(t) {
		child, ok := n.children[k]
		if !ok {
			child = newNode()
			n.children[k] = child
		}
		n = child
		n.ids[id] = struct{}{}
	}
}

// Delete removes id from the path of t, pruning nodes left with no ids and
// no children.
func (ix *Index) Delete(t term.Term, id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	keys := path(t)
	chain := make([]*node, 0, len(keys)+1)
	chain = append(chain, ix.root)
	n := ix.root
	for _, k := range keys {
		child, ok := n.children[k]
		if !ok {
			return
		}
		chain = append(chain, child)
		n = child
	}
	for _, cn := range chain {
		delete(cn.ids, id)
	}
	for i := len(chain) - 1; i > 0; i-- {
		cn := chain[i]
		if len(cn.ids) == 0 && len(cn.children) == 0 {
			delete(chain[i-1].children, keys[i-1])
		} else {
			break
		}
	}
}

func unionInto(dst map[string]struct{}, n *node) {
	if n == nil {
		return
	}
	for id := range n.ids {
		dst[id] = struct{}{}
	}
}

// queue is a pending sequence of subterms still to be matched against trie
// levels below the current node, used by the Find* walks below.
type queue = []term.Term

func pushArgs(args []term.Term, rest queue) queue {
	out := make(queue, 0, len(args)+len(rest))
	out = append(out, args...)
	out = append(out, rest...)
	return out
}

// FindUnifiable returns candidate ids whose term might unify with query:
// a stored variable absorbs any query subterm, a query variable absorbs any
// stored subterm, and otherwise keys must agree.
func (ix *Index) FindUnifiable(query term.Term) map[string]struct{} {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := map[string]struct{}{}
	collect(ix.root, queue{query}, out, modeUnify)
	return out
}

// FindInstancesOf returns candidate ids whose term is an instance of
// pattern, i.e. match(pattern, term) could succeed: a pattern variable
// matches any stored subterm, while a stored variable does not stand in
// for a pattern subterm.
func (ix *Index) FindInstancesOf(pattern term.Term) map[string]struct{} {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := map[string]struct{}{}
	collect(ix.root, queue{pattern}, out, modeInstance)
	return out
}

// FindGeneralizationsOf returns candidate ids whose term generalizes query,
// i.e. match(term, query) could succeed: only a stored variable may absorb
// a query subterm.
func (ix *Index) FindGeneralizationsOf(query term.Term) map[string]struct{} {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := map[string]struct{}{}
	collect(ix.root, queue{query}, out, modeGeneralization)
	return out
}

type mode uint8

const (
	modeUnify mode = iota
	modeInstance
	modeGeneralization
)

func collect(n *node, q queue, out map[string]struct{}, m mode) {
	if n == nil {
		return
	}
	if len(q) == 0 {
		unionInto(out, n)
		return
	}
	head, rest := q[0], q[1:]

	if _, isVar := head.(*term.Variable); isVar && m != modeGeneralization {
		// A variable in the query position can bind to whatever the stored
		// term holds here; over-approximate by taking every id reachable
		// from this node (the caller will re-verify with the real relation).
		unionInto(out, n)
		return
	}

	// A stored variable at this slot absorbs the entire query subterm,
	// regardless of shape, for every mode except strict instance checking
	// (findInstancesOf requires the pattern side to hold the variable).
	if m != modeInstance {
		if vc, ok := n.children[varKey]; ok {
			collect(vc, rest, out, m)
		}
	}

	key, args := step(head)
	if sc, ok := n.children[key]; ok {
		collect(sc, pushArgs(args, rest), out, m)
	}
	if key != listKey {
		if _, isList := head.(*term.List); isList {
			if lc, ok := n.children[listKey]; ok {
				collect(lc, pushArgs(args, rest), out, m)
			}
		}
	}
}
