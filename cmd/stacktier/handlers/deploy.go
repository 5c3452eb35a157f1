package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/stacktier/stacktier/internal/workflow"
)

// Deploy provisions or updates a stack.
//
// It loads and validates the configuration, opens the state store, builds
// AWS clients for the configured region, and runs the tier workflow. The
// workflow persists after every step, so re-running deploy after an
// interruption resumes rather than restarts.
func Deploy(ctx context.Context, configPath string) error {
	cfg, err := loadStackConfig(configPath)
	if err != nil {
		return err
	}

	store, err := newStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	clients, err := newClients(ctx, cfg.Region)
	if err != nil {
		return err
	}

	dep, err := newWorkflow(cfg, store, clients).Deploy(ctx)
	if err != nil {
		var partial *workflow.PartialFailureError
		if errors.As(err, &partial) {
			fmt.Fprintf(stdout, "Deployment of %s failed and rollback was incomplete.\n", cfg.Stack)
			fmt.Fprintf(stdout, "Left behind: %v\n", partial.Leftover)
			return err
		}
		if dep != nil {
			fmt.Fprintf(stdout, "Deployment of %s failed; status is %s.\n", cfg.Stack, dep.Status)
		}
		return err
	}

	fmt.Fprint(stdout, renderStatus(dep))
	return nil
}
