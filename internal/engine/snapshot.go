package engine

import (
	"github.com/google/uuid"

	"cognote/internal/assertion"
	"cognote/internal/config"
	"cognote/internal/kif"
	"cognote/internal/reason"
	"cognote/internal/term"
)

// AssertionSnapshot captures every field of an active assertion named by
// spec.md §3, in the KIF textual form for the term.
type AssertionSnapshot struct {
	ID                 string   `json:"id"`
	KIF                string   `json:"kif"`
	Priority           float64  `json:"priority"`
	Timestamp          int64    `json:"timestamp"`
	SourceNoteID       string   `json:"sourceNoteId,omitempty"`
	Justifications     []string `json:"justifications,omitempty"`
	Type               string   `json:"type"`
	IsOrientedEquality bool     `json:"isOrientedEquality,omitempty"`
	QuantifiedVars     []string `json:"quantifiedVars,omitempty"`
	DerivationDepth    int      `json:"derivationDepth"`
	KBID               string   `json:"kbId"`
}

// RuleSnapshot captures id, form, priority and source note for a rule.
type RuleSnapshot struct {
	ID           string  `json:"id"`
	KIF          string  `json:"kif"`
	Priority     float64 `json:"priority"`
	SourceNoteID string  `json:"sourceNoteId,omitempty"`
}

// Snapshot is the persisted-document shape of spec.md §6, minus the
// host-owned note list.
type Snapshot struct {
	Assertions []AssertionSnapshot `json:"assertions"`
	Rules      []RuleSnapshot      `json:"rules"`
	Config     *config.Config      `json:"config"`
}

// ExportState builds a Snapshot of every currently active assertion (across
// every KB the registry has created so far) and every rule, plus the live
// configuration.
func (e *Engine) ExportState() *Snapshot {
	snap := &Snapshot{Config: e.cfg}
	for _, k := range e.registry.All() {
		for _, a := range k.All() {
			snap.Assertions = append(snap.Assertions, AssertionSnapshot{
				ID:                 a.ID,
				KIF:                kif.Print(a.Term),
				Priority:           a.Priority,
				Timestamp:          a.Timestamp,
				SourceNoteID:       a.SourceNoteID,
				Justifications:     a.Justifications.Slice(),
				Type:               a.Type.String(),
				IsOrientedEquality: a.IsOrientedEquality,
				QuantifiedVars:     a.QuantifiedVars,
				DerivationDepth:    a.DerivationDepth,
				KBID:               a.KBID,
			})
		}
	}
	for _, r := range e.rules.All() {
		snap.Rules = append(snap.Rules, RuleSnapshot{
			ID:           r.ID,
			KIF:          kif.Print(r.Form),
			Priority:     r.Priority,
			SourceNoteID: r.SourceNoteID,
		})
	}
	return snap
}

// RestoreState performs exactly the restore sequence of spec.md §6: clear
// core state, re-install config, add rules, bulk-add assertions to the
// TMS, then let each KB's own event subscriptions rebuild its path and
// universal indices as the TMS reports each restored assertion active.
//
// Ids are preserved so justification edges among restored assertions
// resolve correctly; RestoreState orders the bulk-add so that an
// assertion's justifications are always added before the assertion itself
// (justifications reference only earlier ids in a well-formed snapshot, a
// direct consequence of the DAG invariant in spec.md §9).
func (e *Engine) RestoreState(snap *Snapshot) error {
	e.waitIfPaused()
	for _, k := range e.registry.All() {
		k.Clear("restore")
	}
	e.rules = reason.NewRuleSet()
	e.rc.Rules = e.rules

	if snap.Config != nil {
		*e.cfg = *snap.Config
	}

	for _, rs := range snap.Rules {
		t, err := kif.ParseOne(rs.KIF)
		if err != nil {
			return &ReasonerError{Kind: ErrParse, Message: err.Error()}
		}
		l, ok := t.(*term.List)
		if !ok {
			return newErr(ErrValidation, "restored rule is not a list: %s", rs.KIF)
		}
		id := rs.ID
		if id == "" {
			id = uuid.NewString()
		}
		rule, err := assertion.NewRule(id, l, rs.Priority, rs.SourceNoteID)
		if err != nil {
			return &ReasonerError{Kind: ErrValidation, Message: err.Error()}
		}
		e.rules.Add(rule)
	}

	ordered, err := topoSortByJustification(snap.Assertions)
	if err != nil {
		return err
	}
	for _, as := range ordered {
		t, err := kif.ParseOne(as.KIF)
		if err != nil {
			return &ReasonerError{Kind: ErrParse, Message: err.Error()}
		}
		l, ok := t.(*term.List)
		if !ok {
			return newErr(ErrValidation, "restored assertion is not a list: %s", as.KIF)
		}
		typ, err := typeFromString(as.Type)
		if err != nil {
			return err
		}
		a := assertion.NewAssertion(as.ID, l, as.Priority, as.Timestamp, as.SourceNoteID,
			assertion.NewIDSet(as.Justifications...), typ, as.IsOrientedEquality, as.QuantifiedVars,
			as.DerivationDepth, as.KBID, len(as.Justifications) == 0)
		e.tmsInst.Add(a, a.Justifications, "restore")
	}
	return nil
}

func typeFromString(s string) (assertion.Type, error) {
	switch s {
	case "Ground":
		return assertion.Ground, nil
	case "Universal":
		return assertion.Universal, nil
	case "Skolemized":
		return assertion.Skolemized, nil
	default:
		return assertion.Ground, newErr(ErrValidation, "unknown assertion type %q", s)
	}
}

// topoSortByJustification orders snapshot assertions so that every
// assertion appears after all of its justifications, returning an error if
// the justification graph (restricted to ids present in the snapshot) has
// a cycle — which would violate the DAG invariant of spec.md §9.
func topoSortByJustification(as []AssertionSnapshot) ([]AssertionSnapshot, error) {
	byID := make(map[string]AssertionSnapshot, len(as))
	for _, a := range as {
		byID[a.ID] = a
	}
	var out []AssertionSnapshot
	state := map[string]int{} // 0=unvisited,1=in-progress,2=done
	var visit func(id string) error
	visit = func(id string) error {
		a, ok := byID[id]
		if !ok {
			return nil // justification outside the snapshot (already active elsewhere)
		}
		switch state[id] {
		case 2:
			return nil
		case 1:
			return newErr(ErrTMSInconsistency, "cycle detected restoring justification graph at %s", id)
		}
		state[id] = 1
		for _, j := range a.Justifications {
			if err := visit(j); err != nil {
				return err
			}
		}
		state[id] = 2
		out = append(out, a)
		return nil
	}
	for _, a := range as {
		if err := visit(a.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
