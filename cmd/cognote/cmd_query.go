package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cognote/internal/event"
	"cognote/internal/kif"
)

var askType string
var askKBID string

var askCmd = &cobra.Command{
	Use:   "ask [kif-pattern]",
	Short: "Run a query against the knowledge base",
	Long: `--type selects AskBindings (enumerate satisfying binding sets),
AskTrueFalse (does at least one binding exist), or AchieveGoal (stop at
the first successful proof).

Example:
  cognote ask '(instance ?X Cat)'
  cognote ask --type AskTrueFalse '(instance MyDog Cat)'`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askType, "type", "AskBindings", "AskBindings | AskTrueFalse | AchieveGoal")
	askCmd.Flags().StringVar(&askKBID, "kb", "", "Target KB id (default: search every active KB)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	pattern, err := kif.ParseOne(args[0])
	if err != nil {
		return fmt.Errorf("parse pattern: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	q := event.Query{
		ID:         "cli",
		Type:       event.QueryType(askType),
		Pattern:    pattern,
		TargetKBID: askKBID,
	}
	ans := eng.Query(ctx, q)

	fmt.Printf("status: %s\n", ans.Status)
	if ans.Explanation != "" {
		fmt.Printf("explanation: %s\n", ans.Explanation)
	}
	for i, b := range ans.Bindings {
		if len(b) == 0 {
			fmt.Printf("  [%d] (no bindings)\n", i)
			continue
		}
		fmt.Printf("  [%d]", i)
		for name, t := range b {
			fmt.Printf(" %s=%s", name, t.String())
		}
		fmt.Println()
	}
	return nil
}
