package assertion

import (
	"testing"

	"cognote/internal/term"
)

func atom(v string) *term.Atom        { return term.NewAtom(v) }
func vr(v string) *term.Variable      { return term.NewVariable(v) }
func list(ts ...term.Term) *term.List { return term.NewList(ts...) }

func TestNewRuleValidForm(t *testing.T) {
	form := list(atom("=>"),
		list(atom("instance"), vr("?X"), atom("Dog")),
		list(atom("attribute"), vr("?X"), atom("Canine")))
	r, err := NewRule("r1", form, 1.0, "")
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}
	if len(r.AntecedentClauses) != 1 {
		t.Fatalf("expected 1 antecedent clause, got %d", len(r.AntecedentClauses))
	}
}

func TestNewRuleRejectsBadOperator(t *testing.T) {
	form := list(atom("implies"), list(atom("p")), list(atom("q")))
	if _, err := NewRule("r1", form, 1.0, ""); err == nil {
		t.Fatalf("expected error for non-implication form")
	}
}

func TestNewRuleFlattensAnd(t *testing.T) {
	form := list(atom("=>"),
		list(atom("and"), list(atom("p"), vr("?X")), list(atom("q"), vr("?X"))),
		list(atom("r"), vr("?X")))
	r, err := NewRule("r1", form, 1.0, "")
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}
	if len(r.AntecedentClauses) != 2 {
		t.Fatalf("expected 2 flattened clauses, got %d", len(r.AntecedentClauses))
	}
}

func TestRuleEqualityByForm(t *testing.T) {
	form1 := list(atom("=>"), list(atom("p")), list(atom("q")))
	form2 := list(atom("=>"), list(atom("p")), list(atom("q")))
	r1, _ := NewRule("a", form1, 1.0, "")
	r2, _ := NewRule("b", form2, 1.0, "")
	if !r1.Equal(r2) {
		t.Fatalf("expected rules with identical form but different ids to be equal")
	}
}

func TestEffectiveTermNegated(t *testing.T) {
	inner := list(atom("believes"), atom("A"), atom("P"))
	neg := list(atom("not"), inner)
	a := NewAssertion("a1", neg, 1.0, 0, "", nil, Ground, false, nil, 0, "kb1", true)
	if !a.EffectiveTerm().Equal(inner) {
		t.Fatalf("expected effective term to strip outer not")
	}
	if !a.IsNegated {
		t.Fatalf("expected IsNegated true")
	}
}

func TestEffectiveTermUniversal(t *testing.T) {
	body := list(atom("=>"), list(atom("p"), vr("?X")), list(atom("q"), vr("?X")))
	full := list(atom("forall"), list(vr("?X")), body)
	a := NewAssertion("a1", full, 1.0, 0, "", nil, Universal, false, []string{"?X"}, 0, "kb1", true)
	if !a.EffectiveTerm().Equal(body) {
		t.Fatalf("expected effective term to be the forall body")
	}
}

func TestReferencedPredicates(t *testing.T) {
	term1 := list(atom("and"), list(atom("p"), atom("a")), list(atom("q"), atom("b")))
	a := NewAssertion("a1", list(atom("forall"), list(vr("?X")), term1), 1.0, 0, "", nil, Universal, false, []string{"?X"}, 0, "kb1", true)
	preds := a.ReferencedPredicates()
	found := map[string]bool{}
	for _, p := range preds {
		found[p] = true
	}
	if !found["p"] || !found["q"] || !found["and"] {
		t.Fatalf("expected p, q and and among referenced predicates, got %v", preds)
	}
}
