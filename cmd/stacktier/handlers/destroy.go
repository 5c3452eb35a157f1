package handlers

import (
	"context"
	"fmt"
)

// Destroy tears a stack down.
//
// Created resources are destroyed in reverse dependency order; reused and
// discovered resources are preserved. The state document survives with
// status destroyed.
func Destroy(ctx context.Context, configPath string) error {
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

	dep, err := newWorkflow(cfg, store, clients).Destroy(ctx)
	if err != nil {
		return err
	}

	last := dep.Rollbacks[len(dep.Rollbacks)-1]
	fmt.Fprintf(stdout, "Stack %s destroyed: %d resources removed, %d preserved.\n",
		cfg.Stack, len(last.Destroyed), len(last.Preserved))
	return nil
}
