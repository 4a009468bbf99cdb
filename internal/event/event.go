// Package event defines the boundary event types emitted and consumed by
// the reasoning core (spec.md §6). Events are a closed tagged union; every
// concrete type implements Event via Kind().
package event

import (
	"cognote/internal/assertion"
	"cognote/internal/term"
)

// Kind names a concrete event's runtime tag, used by the event bus to key
// type-based subscribers.
type Kind string

const (
	KindAsserted              Kind = "Asserted"
	KindRetracted             Kind = "Retracted"
	KindAssertionEvicted      Kind = "AssertionEvicted"
	KindAssertionStateChanged Kind = "AssertionStateChanged"
	KindRuleAdded             Kind = "RuleAdded"
	KindRuleRemoved           Kind = "RuleRemoved"
	KindContradictionDetected Kind = "ContradictionDetected"
	KindExternalInput         Kind = "ExternalInput"
	KindRetractionRequest     Kind = "RetractionRequest"
	KindQuery                 Kind = "Query"
	KindAnswer                Kind = "Answer"
	KindSystemStatus          Kind = "SystemStatus"
	KindTemporaryAssertion    Kind = "TemporaryAssertion"
)

// Event is implemented by every concrete event payload.
type Event interface {
	EventKind() Kind
}

// Asserted fires whenever a KB commits an assertion that the TMS returned
// active.
type Asserted struct {
	Assertion *assertion.Assertion
	KBID      string
}

func (Asserted) EventKind() Kind { return KindAsserted }

// Retracted fires when an active assertion is retracted.
type Retracted struct {
	Assertion *assertion.Assertion
	KBID      string
	Reason    string
}

func (Retracted) EventKind() Kind { return KindRetracted }

// AssertionEvicted fires when capacity eviction removes an assertion.
type AssertionEvicted struct {
	Assertion *assertion.Assertion
	KBID      string
}

func (AssertionEvicted) EventKind() Kind { return KindAssertionEvicted }

// AssertionStateChanged fires whenever the TMS flips isActive.
type AssertionStateChanged struct {
	AssertionID string
	IsActive    bool
	KBID        string
}

func (AssertionStateChanged) EventKind() Kind { return KindAssertionStateChanged }

// RuleAdded fires when a rule is added to the rule set.
type RuleAdded struct {
	Rule *assertion.Rule
}

func (RuleAdded) EventKind() Kind { return KindRuleAdded }

// RuleRemoved fires when a rule is removed.
type RuleRemoved struct {
	Rule *assertion.Rule
}

func (RuleRemoved) EventKind() Kind { return KindRuleRemoved }

// ContradictionDetected fires when two active assertions in the same KB
// directly negate one another.
type ContradictionDetected struct {
	ConflictingIDs []string
	KBID           string
}

func (ContradictionDetected) EventKind() Kind { return KindContradictionDetected }

// ExternalInput is the inbound event carrying a parsed term for assertion.
type ExternalInput struct {
	Term     term.Term
	SourceID string
	NoteID   string // empty means none
}

func (ExternalInput) EventKind() Kind { return KindExternalInput }

// RetractionType distinguishes how a RetractionRequest names its target.
type RetractionType string

const (
	ByID      RetractionType = "ById"
	ByNote    RetractionType = "ByNote"
	ByRuleForm RetractionType = "ByRuleForm"
	ByKif     RetractionType = "ByKif"
)

// RetractionRequest is the inbound event requesting retraction.
type RetractionRequest struct {
	Target   string
	Type     RetractionType
	SourceID string
	NoteID   string
}

func (RetractionRequest) EventKind() Kind { return KindRetractionRequest }

// QueryType distinguishes the three query shapes the backward chainer and
// dispatcher support.
type QueryType string

const (
	AskBindings QueryType = "AskBindings"
	AskTrueFalse QueryType = "AskTrueFalse"
	AchieveGoal QueryType = "AchieveGoal"
)

// Query is the inbound event requesting an answer.
type Query struct {
	ID         string
	Type       QueryType
	Pattern    term.Term
	TargetKBID string // empty means none
	Parameters map[string]any
}

func (Query) EventKind() Kind { return KindQuery }

// AnswerStatus is the closed status set for a Query's Answer.
type AnswerStatus string

const (
	Success AnswerStatus = "Success"
	Failure AnswerStatus = "Failure"
	Timeout AnswerStatus = "Timeout"
	Error   AnswerStatus = "Error"
)

// Answer is emitted in response to a Query.
type Answer struct {
	QueryID     string
	Status      AnswerStatus
	Bindings    []map[string]term.Term
	Explanation string
}

func (Answer) EventKind() Kind { return KindAnswer }

// SystemStatus is the periodic/polled status summary.
type SystemStatus struct {
	StatusMessage string
	KBCount       int
	KBCapacity    int
	TaskQueueSize int
	RuleCount     int
}

func (SystemStatus) EventKind() Kind { return KindSystemStatus }

// TemporaryAssertion fires for a proposed assertion that has not yet been
// committed, so pattern subscribers can react before commit (spec.md §4.5).
// The engine publishes one for each directly asserted input when
// BroadcastInputAssertions is set; the reasoners do not publish it.
type TemporaryAssertion struct {
	Potential *assertion.PotentialAssertion
	KBID      string
}

func (TemporaryAssertion) EventKind() Kind { return KindTemporaryAssertion }

// TermOf returns the term carried by events that pattern subscribers match
// against: Asserted and TemporaryAssertion (spec.md §4.5). Returns nil for
// every other event kind.
func TermOf(e Event) term.Term {
	switch v := e.(type) {
	case Asserted:
		return v.Assertion.Term
	case TemporaryAssertion:
		return v.Potential.Term
	default:
		return nil
	}
}
