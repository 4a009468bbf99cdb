package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status: KB count/capacity, task queue size, rule count",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	st := eng.Status()
	fmt.Printf("status:   %s\n", st.StatusMessage)
	fmt.Printf("kbs:      %d (capacity %d)\n", st.KBCount, st.KBCapacity)
	fmt.Printf("tasks:    %d in flight\n", st.TaskQueueSize)
	fmt.Printf("rules:    %d\n", st.RuleCount)
	return nil
}
