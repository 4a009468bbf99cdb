package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	assertPriority float64
	assertNote     string
	assertRule     bool
)

var assertCmd = &cobra.Command{
	Use:   "assert [kif-term]",
	Short: "Assert a fact or rule into the knowledge base",
	Long: `Parses a KIF-style S-expression and commits it as a fact, or, with
--rule, adds it to the rule set.

Examples:
  cognote assert '(instance MyDog Dog)'
  cognote assert --rule '(=> (instance ?X Dog) (attribute ?X Canine))'`,
	Args: cobra.ExactArgs(1),
	RunE: runAssert,
}

func init() {
	assertCmd.Flags().Float64Var(&assertPriority, "priority", 1.0, "Assertion priority")
	assertCmd.Flags().StringVar(&assertNote, "note", "", "Target note id (default: global KB)")
	assertCmd.Flags().BoolVar(&assertRule, "rule", false, "Add as a rule instead of a fact")
}

func runAssert(cmd *cobra.Command, args []string) error {
	text := args[0]
	if assertRule {
		rule, err := eng.AssertRuleKIF(text, assertPriority, assertNote)
		if err != nil {
			return fmt.Errorf("assert rule: %w", err)
		}
		logger.Info("rule added", zap.String("id", rule.ID), zap.String("form", rule.Form.String()))
		fmt.Printf("rule %s added\n", rule.ID)
		return nil
	}

	a, err := eng.AssertKIF(text, assertPriority, "cli", assertNote)
	if err != nil {
		return fmt.Errorf("assert: %w", err)
	}
	if a == nil {
		fmt.Println("assertion rejected (trivial, duplicate, subsumed, or at capacity)")
		return nil
	}
	fmt.Printf("asserted %s: %s\n", a.ID, a.Term.String())
	return nil
}
