package commands

import (
	"github.com/spf13/cobra"

	"github.com/stacktier/stacktier/cmd/stacktier/handlers"
)

// Destroy returns the destroy command.
//
// The destroy command tears a stack down in reverse dependency order:
// load balancer, instances, key pair, instance profile, role, mount
// targets, filesystem, security group, subnets, VPC. Only resources this
// tool created are deleted; reused resources are preserved. The state
// document is kept as an audit record.
func Destroy() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy a stack's created resources",
		Long: `Destroy removes the stack's resources from AWS.

Resources are deleted newest first so nothing is removed while something
else still depends on it. Resources recorded as reused or discovered are
preserved. The persisted state survives as an audit record with status
destroyed.

Example:
  stacktier destroy -c stacktier.yaml

WARNING: Data on the stack's filesystem and instances is lost.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Destroy(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}
