// Package eventbus implements the single process-wide publish/subscribe bus
// described in spec.md §4.5: subscribers register by concrete event type or
// by a term pattern matched against Asserted/TemporaryAssertion events.
// Dispatch runs on the shared executor; listener panics are recovered and
// logged so one bad listener cannot break dispatch for the rest.
package eventbus

import (
	"context"

	"go.uber.org/zap"

	"cognote/internal/event"
	"cognote/internal/executor"
	"cognote/internal/term"
	"cognote/internal/unify"
)

// Listener handles a concrete event.
type Listener func(event.Event)

// PatternListener handles an event whose term matched a registered pattern,
// along with the bindings produced by matching.
type PatternListener func(e event.Event, bindings unify.Bindings)

// Unsubscribe removes the listener it was returned from.
type Unsubscribe func()

type patternSub struct {
	id       uint64
	pattern  term.Term
	listener PatternListener
}

// Bus is safe for concurrent Publish/Subscribe/Unsubscribe from any
// goroutine, including from inside a listener it is currently dispatching.
type Bus struct {
	exec *executor.Executor
	log  *zap.Logger

	typeSubs    map[event.Kind]map[uint64]Listener
	patternSubs []patternSub
	nextID      uint64

	mu chanMutex
}

// chanMutex is a trivial channel-backed mutex. Like sync.Mutex it is not
// re-entrant: a second Lock on the same goroutine blocks. Subscribe and
// Unsubscribe are still safe to call from within a dispatched listener
// because Publish releases the lock before dispatch and listeners run on
// executor goroutines.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	m <- struct{}{}
	return m
}

func (m chanMutex) Lock()   { <-m }
func (m chanMutex) Unlock() { m <- struct{}{} }

// New returns a Bus dispatching on exec.
func New(exec *executor.Executor, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		exec:     exec,
		log:      log,
		typeSubs: map[event.Kind]map[uint64]Listener{},
		mu:       newChanMutex(),
	}
}

// Subscribe registers listener for every event whose EventKind() == kind.
func (b *Bus) Subscribe(kind event.Kind, listener Listener) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.typeSubs[kind] == nil {
		b.typeSubs[kind] = map[uint64]Listener{}
	}
	b.typeSubs[kind][id] = listener
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.typeSubs[kind], id)
	}
}

// SubscribePattern registers listener to run against the term of every
// Asserted or TemporaryAssertion event whose term matches pattern (one-way
// match: only the pattern's variables bind).
func (b *Bus) SubscribePattern(pattern term.Term, listener PatternListener) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.patternSubs = append(b.patternSubs, patternSub{id: id, pattern: pattern, listener: listener})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.patternSubs {
			if s.id == id {
				b.patternSubs = append(b.patternSubs[:i], b.patternSubs[i+1:]...)
				return
			}
		}
	}
}

// Publish dispatches e to every matching subscriber on the shared executor.
// Publish itself does not block on listener completion.
func (b *Bus) Publish(e event.Event) {
	b.mu.Lock()
	listeners := make([]Listener, 0, 4)
	for _, l := range b.typeSubs[e.EventKind()] {
		listeners = append(listeners, l)
	}
	var patternMatches []func()
	if t := event.TermOf(e); t != nil {
		for _, s := range b.patternSubs {
			s := s
			if bnd, ok := unify.Match(s.pattern, t, unify.Bindings{}); ok {
				patternMatches = append(patternMatches, func() { s.listener(e, bnd) })
			}
		}
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l := l
		b.exec.GoBackground(func() { b.safeCall(func() { l(e) }) })
	}
	for _, call := range patternMatches {
		call := call
		b.exec.GoBackground(func() { b.safeCall(call) })
	}
}

// PublishSync dispatches e like Publish but blocks until every matching
// listener has run; useful for tests and for the forward-chaining path
// where derivation must reach quiescence before commit returns (design
// note: "correctness does not depend on asynchrony").
func (b *Bus) PublishSync(ctx context.Context, e event.Event) {
	b.Publish(e)
	b.exec.Wait()
}

func (b *Bus) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus: listener panicked", zap.Any("recover", r))
		}
	}()
	fn()
}
