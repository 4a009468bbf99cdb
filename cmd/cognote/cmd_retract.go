package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cognote/internal/event"
)

var retractType string
var retractSource string
var retractNote string

var retractCmd = &cobra.Command{
	Use:   "retract [target]",
	Short: "Retract an assertion, rule, or every assertion sourced from a note",
	Long: `--type selects how target is interpreted: ById (an assertion id), ByNote
(a note id, clearing its whole KB), ByRuleForm (a KIF rule form), or ByKif
(a KIF fact form, matched textually within --note or the global KB).`,
	Args: cobra.ExactArgs(1),
	RunE: runRetract,
}

func init() {
	retractCmd.Flags().StringVar(&retractType, "type", "ById", "ById | ByNote | ByRuleForm | ByKif")
	retractCmd.Flags().StringVar(&retractSource, "source", "cli", "Source tag recorded on the retraction")
	retractCmd.Flags().StringVar(&retractNote, "note", "", "Note id to scope a ByKif retraction")
}

func runRetract(cmd *cobra.Command, args []string) error {
	req := event.RetractionRequest{
		Target:   args[0],
		Type:     event.RetractionType(retractType),
		SourceID: retractSource,
		NoteID:   retractNote,
	}
	if err := eng.Retract(req); err != nil {
		return fmt.Errorf("retract: %w", err)
	}
	fmt.Println("retraction request processed")
	return nil
}
