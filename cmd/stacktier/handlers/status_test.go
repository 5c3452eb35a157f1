package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacktier/stacktier/internal/state"
)

func seedStore(t *testing.T, dep *state.DeploymentState) *bytes.Buffer {
	t.Helper()
	saveAndRestoreFactories(t)

	store := state.NewMemStore()
	require.NoError(t, store.Save(context.Background(), dep))
	newStore = func(context.Context) (state.Store, error) { return store, nil }

	var out bytes.Buffer
	stdout = &out
	return &out
}

func TestStatusRendersPersistedState(t *testing.T) {
	dep := state.New("demo", "ha", "eu-west-1", "run-1")
	dep.Status = state.StatusRunning
	require.NoError(t, dep.AddResource(state.ResourceRecord{
		Family: state.FamilyInstance, Name: "demo-node-0", ID: "i-0",
		Provenance: state.ProvenanceCreated,
	}))
	dep.CostHistory = append(dep.CostHistory, state.CostSnapshot{
		InstanceType: "c5.large", Market: "spot", HourlyUSD: 0.031,
	})
	out := seedStore(t, dep)

	require.NoError(t, Status(context.Background(), "demo", false))
	assert.Contains(t, out.String(), "stacktier: demo")
	assert.Contains(t, out.String(), "eu-west-1")
	assert.Contains(t, out.String(), "i-0")
	assert.Contains(t, out.String(), "spot c5.large")
}

func TestStatusJSONRoundTrips(t *testing.T) {
	dep := state.New("demo", "basic", "us-east-1", "run-1")
	out := seedStore(t, dep)

	require.NoError(t, Status(context.Background(), "demo", true))

	var decoded state.DeploymentState
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "demo", decoded.Stack)
	assert.Equal(t, state.SchemaVersion, decoded.SchemaVersion)
}

func TestStatusUnknownStackFails(t *testing.T) {
	seedStore(t, state.New("other", "basic", "us-east-1", "run-1"))

	err := Status(context.Background(), "demo", false)
	require.ErrorIs(t, err, state.ErrNotFound)
}
