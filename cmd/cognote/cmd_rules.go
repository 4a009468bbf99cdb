package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List every rule in the rule set",
	RunE:  runRules,
}

func runRules(cmd *cobra.Command, args []string) error {
	rules := eng.Rules()
	if len(rules) == 0 {
		fmt.Println("no rules")
		return nil
	}
	for _, r := range rules {
		note := r.SourceNoteID
		if note == "" {
			note = "-"
		}
		fmt.Printf("%s  pri=%.2f  note=%s  %s\n", r.ID, r.Priority, note, r.Form.String())
	}
	return nil
}
