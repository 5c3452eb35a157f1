package workflow

import (
	"fmt"

	"github.com/stacktier/stacktier/internal/config"
	"github.com/stacktier/stacktier/internal/provisioning"
	"github.com/stacktier/stacktier/internal/provisioning/compute"
	"github.com/stacktier/stacktier/internal/provisioning/identity"
	"github.com/stacktier/stacktier/internal/provisioning/loadbalancer"
	"github.com/stacktier/stacktier/internal/provisioning/network"
	"github.com/stacktier/stacktier/internal/provisioning/storage"
	"github.com/stacktier/stacktier/internal/state"
)

// Step names shared between the graph, the executor, and persisted
// completion markers.
const (
	StepNetwork      = "network"
	StepStorage      = "storage"
	StepIdentity     = "identity"
	StepCompute      = "compute"
	StepLoadBalancer = "loadbalancer"
)

// StepProvisioner is the uniform per-family provisioning surface the
// executor drives.
type StepProvisioner interface {
	Provision(ctx *provisioning.Context) error
	DestroyResource(ctx *provisioning.Context, rec state.ResourceRecord) error
}

// checkpointSteps are the foundation layers. When all of them have
// completed the deployment is persisted as partial, the earliest point a
// later run can resume from.
var checkpointSteps = []string{StepNetwork, StepStorage, StepIdentity}

func baseSteps() []Step {
	return []Step{
		{Name: StepNetwork, Families: []state.Family{
			state.FamilyNetwork, state.FamilySubnet, state.FamilySecurityGroup,
		}},
		{Name: StepStorage, DependsOn: []string{StepNetwork}, Families: []state.Family{
			state.FamilyFilesystem, state.FamilyMountTarget,
		}},
		{Name: StepIdentity, Families: []state.Family{
			state.FamilyRole, state.FamilyInstanceProfile,
		}},
		{Name: StepCompute, DependsOn: []string{StepNetwork, StepStorage, StepIdentity}, Families: []state.Family{
			state.FamilyKeyPair, state.FamilyInstance,
		}},
	}
}

// TierGraph builds the dependency graph for a tier.
func TierGraph(tier config.Tier) (*Graph, error) {
	steps := baseSteps()
	switch tier {
	case config.TierBasic, config.TierStandard:
	case config.TierHA:
		steps = append(steps, Step{
			Name:      StepLoadBalancer,
			DependsOn: []string{StepCompute},
			Families:  []state.Family{state.FamilyLoadBalancer, state.FamilyTargetGroup},
		})
	default:
		return nil, fmt.Errorf("unknown tier %q", tier)
	}
	return NewGraph(steps...)
}

// defaultProvisioners wires each step to its family provisioner.
func defaultProvisioners() map[string]StepProvisioner {
	return map[string]StepProvisioner{
		StepNetwork:      network.New(),
		StepStorage:      storage.New(),
		StepIdentity:     identity.New(),
		StepCompute:      compute.New(),
		StepLoadBalancer: loadbalancer.New(),
	}
}
