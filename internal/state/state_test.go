package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from, to Status
		legal    bool
	}{
		{StatusPending, StatusProvisioning, true},
		{StatusProvisioning, StatusPartial, true},
		{StatusPartial, StatusRunning, true},
		{StatusRunning, StatusUpdating, true},
		{StatusUpdating, StatusRunning, true},
		{StatusProvisioning, StatusRollingBack, true},
		{StatusRollingBack, StatusRolledBack, true},
		{StatusRollingBack, StatusFailed, true},
		{StatusRunning, StatusDestroying, true},
		{StatusDestroying, StatusDestroyed, true},
		{StatusPartial, StatusProvisioning, true}, // resume path

		{StatusPending, StatusRunning, false},
		{StatusRolledBack, StatusProvisioning, false},
		{StatusDestroyed, StatusPending, false},
		{StatusRunning, StatusRollingBack, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.legal, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	t.Parallel()
	st := New("web", "ha", "us-east-1", "run-1")
	require.Error(t, st.Transition(StatusRunning))
	assert.Equal(t, StatusPending, st.Status)

	require.NoError(t, st.Transition(StatusProvisioning))
	assert.Equal(t, StatusProvisioning, st.Status)
}

func TestAddResourceProvenanceIsSetOnce(t *testing.T) {
	t.Parallel()
	st := New("web", "ha", "us-east-1", "run-1")
	require.NoError(t, st.AddResource(ResourceRecord{
		Family:     FamilyNetwork,
		Name:       "web-vpc",
		ID:         "vpc-0abc",
		Provenance: ProvenanceCreated,
	}))

	// A second record under the same family/name must not overwrite the
	// original provenance.
	err := st.AddResource(ResourceRecord{
		Family:     FamilyNetwork,
		Name:       "web-vpc",
		ID:         "vpc-0abc",
		Provenance: ProvenanceReused,
	})
	require.Error(t, err)
	assert.Equal(t, ProvenanceCreated, st.Resource(FamilyNetwork, "web-vpc").Provenance)
}

func TestAddResourceRequiresID(t *testing.T) {
	t.Parallel()
	st := New("web", "ha", "us-east-1", "run-1")
	assert.Error(t, st.AddResource(ResourceRecord{Family: FamilyNetwork, Name: "web-vpc"}))
}

func TestObserveState(t *testing.T) {
	t.Parallel()
	st := New("web", "ha", "us-east-1", "run-1")
	require.NoError(t, st.AddResource(ResourceRecord{
		Family: FamilyFilesystem, Name: "web-data", ID: "fs-1", Provenance: ProvenanceCreated,
	}))
	st.ObserveState("fs-1", "available")
	assert.Equal(t, "available", st.Resource(FamilyFilesystem, "web-data").LastState)
}

func TestStepCompletionIsIdempotent(t *testing.T) {
	t.Parallel()
	st := New("web", "ha", "us-east-1", "run-1")
	st.MarkStepComplete("network")
	st.MarkStepComplete("network")
	assert.Equal(t, []string{"network"}, st.CompletedSteps)
	assert.True(t, st.StepComplete("network"))
	assert.False(t, st.StepComplete("compute"))
}

func TestResourcesOfPreservesOrder(t *testing.T) {
	t.Parallel()
	st := New("web", "ha", "us-east-1", "run-1")
	for i, id := range []string{"i-1", "i-2", "i-3"} {
		require.NoError(t, st.AddResource(ResourceRecord{
			Family:     FamilyInstance,
			Name:       "web-node-" + string(rune('0'+i)),
			ID:         id,
			Provenance: ProvenanceCreated,
		}))
	}
	got := st.ResourcesOf(FamilyInstance)
	require.Len(t, got, 3)
	assert.Equal(t, "i-1", got[0].ID)
	assert.Equal(t, "i-3", got[2].ID)
}
