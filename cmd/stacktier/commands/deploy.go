package commands

import (
	"github.com/spf13/cobra"

	"github.com/stacktier/stacktier/cmd/stacktier/handlers"
)

// Deploy returns the command that provisions or updates a stack.
//
// Optional flags:
//
//	--config, -c: Path to stack configuration YAML file (default: stacktier.yaml)
//
// AWS credentials are resolved through the default SDK chain (environment,
// shared config, instance role).
func Deploy() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Create or update a stack",
		Long: `Create or update an application stack on AWS.

This command provisions the stack's resources in dependency order: network,
shared storage, instance identity, compute, and (for the ha tier) a load
balancer. Progress is persisted after every step, so an interrupted
deployment resumes where it stopped. Deploying over a running stack
reconciles the instance count.

If a step fails, resources created by this tool are rolled back in reverse
order. Resources you supplied through the reuse section are never touched.

Examples:
  # Deploy the stack described by stacktier.yaml
  stacktier deploy

  # Deploy a specific configuration
  stacktier deploy -c production.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Deploy(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: stacktier.yaml)")

	return cmd
}
