// Package engine wires together every reasoning-substrate package — term,
// unify, kb (wrapping pathindex), tms, eventbus, executor, the four
// reasoners, and query — into the single facade an embedding host talks to
// (spec.md §1: "a synchronous read view of assertions and rules" plus the
// event-described state-change surface). It also owns pause/resume,
// snapshot export/restore, and mapping config's contradiction-resolution
// setting onto tms.ResolutionPolicy.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cognote/internal/assertion"
	"cognote/internal/config"
	"cognote/internal/event"
	"cognote/internal/eventbus"
	"cognote/internal/executor"
	"cognote/internal/kb"
	"cognote/internal/kif"
	"cognote/internal/query"
	"cognote/internal/reason"
	"cognote/internal/reason/backward"
	"cognote/internal/reason/forward"
	"cognote/internal/reason/rewrite"
	"cognote/internal/reason/universal"
	"cognote/internal/term"
	"cognote/internal/tms"
)

// ErrorKind distinguishes the five error categories of spec.md §7.
type ErrorKind int

const (
	ErrParse ErrorKind = iota
	ErrValidation
	ErrCapacity
	ErrTMSInconsistency
	ErrOperatorQuery
)

func (k ErrorKind) String() string {
	switch k {
	case ErrParse:
		return "Parse"
	case ErrValidation:
		return "Validation"
	case ErrCapacity:
		return "Capacity"
	case ErrTMSInconsistency:
		return "TMSInconsistency"
	case ErrOperatorQuery:
		return "OperatorQuery"
	default:
		return "Unknown"
	}
}

// ReasonerError wraps a rejected operation with its category, per spec.md
// §7's recovery table: every kind here is recoverable, logged, and
// surfaces to the caller only through this type or an absent event — the
// engine never panics on malformed input.
type ReasonerError struct {
	Kind    ErrorKind
	Message string
}

func (e *ReasonerError) Error() string { return fmt.Sprintf("engine: %s: %s", e.Kind, e.Message) }

func newErr(kind ErrorKind, format string, args ...any) *ReasonerError {
	return &ReasonerError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Engine bundles the full reasoning substrate and the mutable pieces an
// embedding host needs: note activation, pause/resume, and snapshotting.
type Engine struct {
	cfg *config.Config
	log *zap.Logger

	bus      *eventbus.Bus
	exec     *executor.Executor
	tmsInst  *tms.TMS
	registry *reason.Registry
	rules    *reason.RuleSet
	active   *reason.ActiveSet
	rc       *reason.Context

	forwardR   *forward.Reasoner
	rewriteR   *rewrite.Reasoner
	universalR *universal.Reasoner
	bc         *backward.Context
	dispatcher *query.Dispatcher

	policy tms.ResolutionPolicy
	unsubContradiction eventbus.Unsubscribe

	pauseMu sync.Mutex
	pauseCV *sync.Cond
	paused  bool
	stopped bool
}

// New builds an Engine from cfg, wiring every component in the dependency
// order described in spec.md §2: term model and unifier are leaf packages
// used throughout; path index lives inside kb; tms, eventbus, executor,
// rules, the four reasoners and the query dispatcher are built here.
func New(cfg *config.Config, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	capacity := int64(cfg.ExecutorCapacity)
	var exec *executor.Executor
	if capacity > 0 {
		exec = executor.NewSized(capacity)
	} else {
		exec = executor.New()
	}
	bus := eventbus.New(exec, log)
	tmsInst := tms.New(bus, log)

	registry := reason.NewRegistry(func(id string) *kb.KB {
		kbCap := cfg.GlobalKBCapacity
		if id != reason.GlobalKBID {
			kbCap = cfg.NoteKBCapacity
		}
		return kb.New(id, kbCap, tmsInst, bus, nil, log)
	})
	rules := reason.NewRuleSet()
	active := &reason.ActiveSet{}
	rc := &reason.Context{
		Registry:   registry,
		Rules:      rules,
		Active:     active,
		DepthLimit: cfg.ReasoningDepthLimit,
		MaxWeight:  cfg.MaxDerivedWeight,
		Bus:        bus,
		Log:        log,
	}

	e := &Engine{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		exec:     exec,
		tmsInst:  tmsInst,
		registry: registry,
		rules:    rules,
		active:   active,
		rc:       rc,
	}
	e.pauseCV = sync.NewCond(&e.pauseMu)

	policy, err := policyFromString(cfg.ContradictionPolicy)
	if err != nil {
		return nil, err
	}
	e.policy = policy

	e.forwardR = forward.New(rc)
	e.rewriteR = rewrite.New(rc)
	e.universalR = universal.New(rc)
	e.bc = backward.NewContext(rc, backward.NewOperatorRegistry(), cfg.BackwardChainDepth)
	e.dispatcher = query.New(bus, exec, &query.BackwardSupporter{BC: e.bc})

	e.unsubContradiction = bus.Subscribe(event.KindContradictionDetected, e.onContradiction)

	// Always-active global KB is created eagerly so Status() reports it
	// even before the first assertion.
	registry.Get(reason.GlobalKBID)

	return e, nil
}

func policyFromString(s string) (tms.ResolutionPolicy, error) {
	switch s {
	case "", "LogOnly":
		return tms.LogOnly, nil
	case "RetractWeakest":
		return tms.RetractWeakest, nil
	default:
		return tms.LogOnly, newErr(ErrValidation, "unknown contradiction_policy %q", s)
	}
}

func (e *Engine) onContradiction(ev event.Event) {
	c := ev.(event.ContradictionDetected)
	e.tmsInst.Resolve(c.ConflictingIDs, e.policy)
}

// Operators exposes the backward chainer's operator registry so a host can
// register domain-specific operators (spec.md §4.9).
func (e *Engine) Operators() *backward.OperatorRegistry { return e.bc.Operators }

// Bus exposes the event bus for host-side subscription.
func (e *Engine) Bus() *eventbus.Bus { return e.bus }

// Rules returns every rule currently in the rule set.
func (e *Engine) Rules() []*assertion.Rule { return e.rules.All() }

// KB returns the KB named id (creating a note KB lazily), so a host can
// read its active assertions directly.
func (e *Engine) KB(id string) *kb.KB { return e.registry.Get(id) }

// Stop wakes any callers blocked in waitIfPaused, unsubscribes the
// reasoners, the query dispatcher and the contradiction handler, waits for
// every task on the executor to finish, and then publishes a final
// SystemStatus event with status "stopped". It does not cancel queries
// already in flight; it waits for them to complete. The KBs stay subscribed
// to the bus.
func (e *Engine) Stop() {
	e.pauseMu.Lock()
	e.stopped = true
	e.pauseCV.Broadcast()
	e.pauseMu.Unlock()

	e.forwardR.Close()
	e.rewriteR.Close()
	e.universalR.Close()
	e.dispatcher.Close()
	e.unsubContradiction()
	e.exec.Wait()
	e.bus.Publish(e.buildStatus("stopped"))
}

// ---- pause / resume (spec.md §5) ----

// Pause flips the pause flag; waitIfPaused blocks callers until Resume or
// Stop.
func (e *Engine) Pause() {
	e.pauseMu.Lock()
	e.paused = true
	e.pauseMu.Unlock()
}

// Resume un-pauses and wakes every waiter.
func (e *Engine) Resume() {
	e.pauseMu.Lock()
	e.paused = false
	e.pauseCV.Broadcast()
	e.pauseMu.Unlock()
}

// waitIfPaused blocks the calling goroutine while the engine is paused,
// waking early if Stop is called. AssertKIF, Assert, AssertRuleKIF, Retract,
// Query and RestoreState call it on entry. Reasoners and backward-chaining
// operators do not call it, so derivations and proofs already under way run
// to completion while the engine is paused.
func (e *Engine) waitIfPaused() {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	for e.paused && !e.stopped {
		e.pauseCV.Wait()
	}
}

// ---- notes ----

// ActivateNote marks a note's KB as active for reasoning (spec.md §1's
// `isActive(kbId)` membership predicate).
func (e *Engine) ActivateNote(id string) { e.active.Add(id) }

// DeactivateNote removes a note from the active set.
func (e *Engine) DeactivateNote(id string) { e.active.Remove(id) }

// ---- assert / retract / query ----

// AssertKIF parses text as a single term and commits it into the given KB
// (empty kbID means the global KB) with the given priority. Returns a
// ReasonerError of kind Parse or Validation on malformed input, or nil with
// a nil assertion if the KB silently rejected it (trivial, duplicate,
// subsumed, or at capacity — spec.md §7's Capacity row: "the caller learns
// through the absence of an Asserted event").
func (e *Engine) AssertKIF(text string, priority float64, sourceID string, noteID string) (*assertion.Assertion, error) {
	e.waitIfPaused()
	t, err := kif.ParseOne(text)
	if err != nil {
		return nil, &ReasonerError{Kind: ErrParse, Message: err.Error()}
	}
	l, ok := t.(*term.List)
	if !ok {
		return nil, newErr(ErrValidation, "assertion must be a list, got %s", t)
	}
	return e.Assert(l, priority, sourceID, noteID)
}

// Assert commits an externally-supplied term (derivation depth 0) into the
// KB named by noteID (or the global KB when empty).
func (e *Engine) Assert(t *term.List, priority float64, sourceID string, noteID string) (*assertion.Assertion, error) {
	e.waitIfPaused()
	typ := assertion.Ground
	var quantified []string
	if op, ok := t.Operator(); ok && op == "forall" {
		if t.Len() == 3 {
			if vars, ok := t.Child(1).(*term.List); ok {
				quantified = forallVars(vars)
			}
		}
		if len(quantified) > 0 {
			typ = assertion.Universal
		}
	}
	pa := &assertion.PotentialAssertion{
		Term:            t,
		Priority:        priority,
		SourceNoteID:    noteID,
		Justifications:  assertion.IDSet{},
		Type:            typ,
		QuantifiedVars:  quantified,
		DerivationDepth: 0,
	}
	kbID := noteID
	if kbID == "" {
		kbID = reason.GlobalKBID
	}
	targetKB := e.registry.Get(kbID)
	if e.cfg.BroadcastInputAssertions {
		e.bus.Publish(event.TemporaryAssertion{Potential: pa, KBID: kbID})
	}
	a, ok := targetKB.Commit(pa, sourceID)
	if !ok {
		e.log.Warn("engine: commit rejected", zap.String("term", t.String()), zap.String("kb", kbID))
		return nil, nil
	}
	return a, nil
}

func forallVars(l *term.List) []string {
	out := make([]string, 0, l.Len())
	for i := 0; i < l.Len(); i++ {
		if v, ok := l.Child(i).(*term.Variable); ok {
			out = append(out, v.Name())
		}
	}
	return out
}

// AssertRuleKIF parses text as a rule form and adds it to the rule set.
func (e *Engine) AssertRuleKIF(text string, priority float64, sourceNoteID string) (*assertion.Rule, error) {
	e.waitIfPaused()
	t, err := kif.ParseOne(text)
	if err != nil {
		return nil, &ReasonerError{Kind: ErrParse, Message: err.Error()}
	}
	l, ok := t.(*term.List)
	if !ok {
		return nil, newErr(ErrValidation, "rule must be a list, got %s", t)
	}
	rule, err := assertion.NewRule(uuid.NewString(), l, priority, sourceNoteID)
	if err != nil {
		return nil, &ReasonerError{Kind: ErrValidation, Message: err.Error()}
	}
	if !e.rules.Add(rule) {
		return rule, nil
	}
	e.bus.Publish(event.RuleAdded{Rule: rule})
	return rule, nil
}

// Retract dispatches a RetractionRequest per spec.md §6's four target
// types.
func (e *Engine) Retract(req event.RetractionRequest) error {
	e.waitIfPaused()
	switch req.Type {
	case event.ByID:
		e.tmsInst.Retract(req.Target, req.SourceID)
		return nil
	case event.ByNote:
		e.registry.Remove(req.Target)
		return nil
	case event.ByRuleForm:
		t, err := kif.ParseOne(req.Target)
		if err != nil {
			return &ReasonerError{Kind: ErrParse, Message: err.Error()}
		}
		l, ok := t.(*term.List)
		if !ok {
			return newErr(ErrValidation, "rule form must be a list")
		}
		probe, err := assertion.NewRule("", l, 0, "")
		if err != nil {
			return &ReasonerError{Kind: ErrValidation, Message: err.Error()}
		}
		removed := e.rules.RemoveByForm(probe)
		for _, r := range removed {
			e.bus.Publish(event.RuleRemoved{Rule: r})
		}
		return nil
	case event.ByKif:
		t, err := kif.ParseOne(req.Target)
		if err != nil {
			return &ReasonerError{Kind: ErrParse, Message: err.Error()}
		}
		kifText := t.String()
		kbID := req.NoteID
		if kbID == "" {
			kbID = reason.GlobalKBID
		}
		for _, a := range e.registry.Get(kbID).All() {
			if a.Term.String() == kifText {
				e.tmsInst.Retract(a.ID, req.SourceID)
			}
		}
		return nil
	default:
		return newErr(ErrValidation, "unknown retraction type %q", req.Type)
	}
}

// Query runs q through the dispatcher synchronously, blocking until every
// matching supporter answers or ctx is cancelled (spec.md §5's
// "blocking synchronous query helper").
func (e *Engine) Query(ctx context.Context, q event.Query) event.Answer {
	e.waitIfPaused()
	return e.dispatcher.Dispatch(ctx, q)
}

// ---- status ----

// Status builds the polled SystemStatus summary (spec.md §6).
func (e *Engine) Status() event.SystemStatus {
	return e.buildStatus("running")
}

func (e *Engine) buildStatus(msg string) event.SystemStatus {
	kbs := e.registry.All()
	capacity := e.cfg.GlobalKBCapacity
	for _, k := range kbs {
		if k.ID() != reason.GlobalKBID {
			capacity += e.cfg.NoteKBCapacity
		}
	}
	return event.SystemStatus{
		StatusMessage: msg,
		KBCount:       len(kbs),
		KBCapacity:    capacity,
		TaskQueueSize: int(e.exec.QueueSize()),
		RuleCount:     len(e.rules.All()),
	}
}
