package state

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no state exists for a stack.
var ErrNotFound = errors.New("deployment state not found")

// ErrLocked is returned when another orchestration run holds the stack lock.
var ErrLocked = errors.New("deployment state is locked by another run")

// ErrSchemaVersion is returned when a persisted document carries a schema
// version this build does not understand.
var ErrSchemaVersion = errors.New("unsupported state schema version")

// Store persists deployment state. Implementations must write the full
// document on every Save; callers save after each completed step, never
// only at workflow end.
type Store interface {
	// Load returns the state for a stack, or ErrNotFound.
	Load(ctx context.Context, stack string) (*DeploymentState, error)

	// Save writes the state document for state.Stack.
	Save(ctx context.Context, st *DeploymentState) error

	// Lock acquires the exclusive per-stack writer lock. It returns a
	// release function on success and ErrLocked if another run holds it.
	// Two orchestration runs for one stack must never interleave writes.
	Lock(ctx context.Context, stack string) (func(), error)
}
