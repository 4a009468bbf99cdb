// Package query implements the query dispatcher (spec.md §4.10): a Query
// event is fanned out to every reasoner that supports its type, awaited
// concurrently on the shared executor, then folded into a single Answer.
package query

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"cognote/internal/event"
	"cognote/internal/eventbus"
	"cognote/internal/executor"
	"cognote/internal/reason/backward"
	"cognote/internal/term"
)

// Supporter is a reasoner capable of answering some subset of query types.
type Supporter interface {
	Supports(event.QueryType) bool
	Answer(ctx context.Context, q event.Query) event.Answer
}

// Dispatcher fans Query events out to its registered supporters and
// publishes the folded Answer back onto the bus.
type Dispatcher struct {
	bus        *eventbus.Bus
	exec       *executor.Executor
	supporters []Supporter
	unsub      func()
}

// New builds a dispatcher over supporters, subscribing to Query events.
func New(bus *eventbus.Bus, exec *executor.Executor, supporters ...Supporter) *Dispatcher {
	d := &Dispatcher{bus: bus, exec: exec, supporters: supporters}
	d.unsub = bus.Subscribe(event.KindQuery, d.onQuery)
	return d
}

// Close unsubscribes the dispatcher.
func (d *Dispatcher) Close() { d.unsub() }

func (d *Dispatcher) onQuery(e event.Event) {
	q := e.(event.Query)
	ans := d.Dispatch(context.Background(), q)
	d.bus.Publish(ans)
}

// Dispatch implements the fan-out/fold described in spec.md §4.10.
func (d *Dispatcher) Dispatch(ctx context.Context, q event.Query) event.Answer {
	var matching []Supporter
	for _, s := range d.supporters {
		if s.Supports(q.Type) {
			matching = append(matching, s)
		}
	}
	if len(matching) == 0 {
		return event.Answer{QueryID: q.ID, Status: event.Failure, Explanation: "no reasoner supports this query type"}
	}

	if q.Type == event.AchieveGoal {
		return d.dispatchFirstSuccess(ctx, q, matching)
	}
	return d.dispatchAll(ctx, q, matching)
}

// dispatchFirstSuccess cancels outstanding supporters once the first
// success arrives, since a single proof suffices for AchieveGoal.
func (d *Dispatcher) dispatchFirstSuccess(ctx context.Context, q event.Query, matching []Supporter) event.Answer {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		ans event.Answer
	}
	results := make(chan outcome, len(matching))
	var wg sync.WaitGroup
	for _, s := range matching {
		s := s
		wg.Add(1)
		d.exec.GoBackground(func() {
			defer wg.Done()
			results <- outcome{ans: s.Answer(subCtx, q)}
		})
	}
	go func() { wg.Wait(); close(results) }()

	var fallback *event.Answer
	for o := range results {
		if o.ans.Status == event.Success {
			cancel()
			return o.ans
		}
		if fallback == nil && (o.ans.Status == event.Timeout || o.ans.Status == event.Error) {
			a := o.ans
			fallback = &a
		}
	}
	if fallback != nil {
		return *fallback
	}
	return event.Answer{QueryID: q.ID, Status: event.Failure}
}

// dispatchAll awaits every supporter's answer before folding, so it needs
// no early cancellation; an errgroup.Group serves purely as a wait-for-all
// barrier here (no supporter ever returns a Go error — failure is carried
// in Answer.Status — so g.Wait()'s error is always nil and is discarded).
func (d *Dispatcher) dispatchAll(ctx context.Context, q event.Query, matching []Supporter) event.Answer {
	answers := make([]event.Answer, len(matching))
	var g errgroup.Group
	for i, s := range matching {
		i, s := i, s
		done := make(chan struct{})
		g.Go(func() error {
			d.exec.GoBackground(func() {
				answers[i] = s.Answer(ctx, q)
				close(done)
			})
			<-done
			return nil
		})
	}
	_ = g.Wait()

	var bindings []map[string]term.Term
	succeeded := false
	var fallback *event.Answer
	for _, a := range answers {
		if a.Status == event.Success {
			succeeded = true
			bindings = append(bindings, a.Bindings...)
			continue
		}
		if fallback == nil && (a.Status == event.Timeout || a.Status == event.Error) {
			fb := a
			fallback = &fb
		}
	}

	switch q.Type {
	case event.AskTrueFalse:
		if succeeded {
			return event.Answer{QueryID: q.ID, Status: event.Success, Bindings: bindings}
		}
	case event.AskBindings:
		if succeeded {
			return event.Answer{QueryID: q.ID, Status: event.Success, Bindings: dedupeBindings(bindings)}
		}
	default:
		if succeeded {
			return event.Answer{QueryID: q.ID, Status: event.Success, Bindings: bindings}
		}
	}
	if fallback != nil {
		return *fallback
	}
	return event.Answer{QueryID: q.ID, Status: event.Failure}
}

// dedupeBindings removes duplicate binding maps by their canonicalized
// string form (spec.md §4.10: "For AskBindings, de-duplicate bindings by
// their canonicalised string form before returning").
func dedupeBindings(bs []map[string]term.Term) []map[string]term.Term {
	seen := map[string]struct{}{}
	out := make([]map[string]term.Term, 0, len(bs))
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

func canonicalize(b map[string]term.Term) string {
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

// BackwardSupporter adapts a backward.Context into a Supporter, answering
// AskBindings, AskTrueFalse and AchieveGoal via Prove.
type BackwardSupporter struct {
	BC *backward.Context
}

// Supports reports true for all three query types the backward chainer
// serves (spec.md §4.9).
func (s *BackwardSupporter) Supports(t event.QueryType) bool {
	switch t {
	case event.AskBindings, event.AskTrueFalse, event.AchieveGoal:
		return true
	}
	return false
}

// Answer proves q.Pattern and translates the resulting binding stream into
// an Answer.
func (s *BackwardSupporter) Answer(ctx context.Context, q event.Query) event.Answer {
	kbID := q.TargetKBID
	results, err := s.BC.Prove(ctx, q.Pattern, kbID)
	if err != nil {
		status := event.Error
		if ctx.Err() != nil {
			status = event.Timeout
		}
		return event.Answer{QueryID: q.ID, Status: status, Explanation: err.Error()}
	}
	if len(results) == 0 {
		return event.Answer{QueryID: q.ID, Status: event.Failure}
	}
	bindings := make([]map[string]term.Term, len(results))
	for i, b := range results {
		bindings[i] = map[string]term.Term(b)
	}
	return event.Answer{QueryID: q.ID, Status: event.Success, Bindings: bindings}
}
