package commands

import (
	"github.com/spf13/cobra"

	"github.com/stacktier/stacktier/cmd/stacktier/handlers"
)

// Cost returns the cost command, which estimates the monthly cost of a
// stack configuration before deploying it.
func Cost() *cobra.Command {
	var (
		configPath string
		jsonOutput bool
		storageGB  float64
	)

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Estimate the monthly cost of a stack configuration",
		Long: `Cost calculates a monthly estimate for the configured stack: instance
fleet, shared filesystem, and load balancer. With spot placement enabled it
queries live spot prices and placement scores to show what deploy would
actually pick; without market data it prices the on-demand fallback.

Examples:
  stacktier cost -c stacktier.yaml
  stacktier cost -c production.yaml --storage-gb 200 --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Cost(cmd.Context(), configPath, jsonOutput, storageGB)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: stacktier.yaml)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the estimate as JSON")
	cmd.Flags().Float64Var(&storageGB, "storage-gb", 0, "Assumed filesystem size in GB for the estimate")

	return cmd
}
