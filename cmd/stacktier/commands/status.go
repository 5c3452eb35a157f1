package commands

import (
	"github.com/spf13/cobra"

	"github.com/stacktier/stacktier/cmd/stacktier/handlers"
)

// Status returns the status command, which renders the persisted state of
// a stack without touching AWS.
func Status() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <stack>",
		Short: "Show the persisted state of a stack",
		Long: `Status reads the local state document for a stack and renders its
lifecycle status, resources, cost history, and rollback records.

Examples:
  stacktier status demo
  stacktier status demo --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Status(cmd.Context(), args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the raw state document as JSON")

	return cmd
}
