package handlers

import (
	"context"
	"encoding/json"
	"fmt"
)

// Status renders the persisted state of a stack. It never calls AWS; the
// output reflects what the last orchestration run recorded.
func Status(ctx context.Context, stack string, jsonOutput bool) error {
	store, err := newStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}

	dep, err := store.Load(ctx, stack)
	if err != nil {
		return fmt.Errorf("failed to load state for stack %s: %w", stack, err)
	}

	if jsonOutput {
		data, err := json.MarshalIndent(dep, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, string(data))
		return nil
	}

	fmt.Fprint(stdout, renderStatus(dep))
	return nil
}
