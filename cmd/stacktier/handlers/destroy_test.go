package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacktier/stacktier/internal/state"
)

func TestDestroyReportsOutcome(t *testing.T) {
	dep := state.New("demo", "basic", "us-east-1", "run-1")
	dep.Status = state.StatusDestroyed
	dep.Rollbacks = []state.RollbackRecord{{
		ID:          "rb-1",
		TriggeredBy: "teardown",
		StartedAt:   time.Now(),
		Destroyed:   []string{"i-0", "fs-1"},
		Preserved:   []string{"vpc-1"},
	}}
	out := wireFactories(t, &fakeDeployer{destroyState: dep})

	require.NoError(t, Destroy(context.Background(), "demo.yaml"))
	assert.Contains(t, out.String(), "2 resources removed")
	assert.Contains(t, out.String(), "1 preserved")
}

func TestDestroyErrorPropagates(t *testing.T) {
	wireFactories(t, &fakeDeployer{destroyErr: errors.New("deployment state not found")})

	err := Destroy(context.Background(), "demo.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
