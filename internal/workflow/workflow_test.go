package workflow

import (
	"context"
	"errors"
	"testing"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacktier/stacktier/internal/config"
	platformaws "github.com/stacktier/stacktier/internal/platform/aws"
	"github.com/stacktier/stacktier/internal/pricing"
	"github.com/stacktier/stacktier/internal/provisioning"
	"github.com/stacktier/stacktier/internal/retry"
	"github.com/stacktier/stacktier/internal/state"
)

// fakeProvisioner stands in for a family provisioner. Provision appends the
// step name to a shared call log and records the configured resources;
// DestroyResource appends ids to a shared destroy log.
type fakeProvisioner struct {
	name        string
	calls       *[]string
	destroyed   *[]string
	records     []state.ResourceRecord
	provisionFn func(ctx *provisioning.Context) error
	destroyErr  map[string]error
}

func (f *fakeProvisioner) Provision(ctx *provisioning.Context) error {
	*f.calls = append(*f.calls, f.name)
	if f.provisionFn != nil {
		return f.provisionFn(ctx)
	}
	for _, rec := range f.records {
		if ctx.Deployment.Resource(rec.Family, rec.Name) == nil {
			if err := ctx.Deployment.AddResource(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *fakeProvisioner) DestroyResource(ctx *provisioning.Context, rec state.ResourceRecord) error {
	if err := f.destroyErr[rec.ID]; err != nil {
		return err
	}
	*f.destroyed = append(*f.destroyed, rec.ID)
	return nil
}

type harness struct {
	calls     []string
	destroyed []string
	store     *state.MemStore
	provs     map[string]StepProvisioner
	fakes     map[string]*fakeProvisioner
}

func rec(family state.Family, name, id string, prov state.Provenance) state.ResourceRecord {
	return state.ResourceRecord{Family: family, Name: name, ID: id, Provenance: prov}
}

// newHarness wires fake provisioners that mimic a reuse-mode network layer
// (adopted VPC and security group) and created storage, identity, compute,
// and load balancer resources.
func newHarness() *harness {
	h := &harness{store: state.NewMemStore()}
	steps := map[string][]state.ResourceRecord{
		StepNetwork: {
			rec(state.FamilyNetwork, "demo-vpc", "vpc-1", state.ProvenanceReused),
			rec(state.FamilySubnet, "demo-subnet-0", "subnet-a", state.ProvenanceReused),
			rec(state.FamilySecurityGroup, "demo-app", "sg-1", state.ProvenanceReused),
		},
		StepStorage: {
			rec(state.FamilyFilesystem, "demo-data", "fs-1", state.ProvenanceCreated),
			rec(state.FamilyMountTarget, "demo-mt-0", "mt-1", state.ProvenanceCreated),
		},
		StepIdentity: {
			rec(state.FamilyRole, "demo-instance-role", "demo-instance-role", state.ProvenanceCreated),
			rec(state.FamilyInstanceProfile, "demo-instance-profile", "demo-instance-profile", state.ProvenanceCreated),
		},
		StepCompute: {
			rec(state.FamilyKeyPair, "demo-keypair", "demo-keypair", state.ProvenanceCreated),
			rec(state.FamilyInstance, "demo-node-0", "i-0", state.ProvenanceCreated),
		},
		StepLoadBalancer: {
			rec(state.FamilyLoadBalancer, "demo-alb", "arn:lb", state.ProvenanceCreated),
			rec(state.FamilyTargetGroup, "demo-tg", "arn:tg", state.ProvenanceCreated),
		},
	}

	h.provs = make(map[string]StepProvisioner, len(steps))
	h.fakes = make(map[string]*fakeProvisioner, len(steps))
	for name, records := range steps {
		f := &fakeProvisioner{
			name:      name,
			calls:     &h.calls,
			destroyed: &h.destroyed,
			records:   records,
		}
		h.provs[name] = f
		h.fakes[name] = f
	}
	return h
}

func testClients() *platformaws.Clients {
	return &platformaws.Clients{
		EC2: &platformaws.MockEC2{
			DescribeImagesFunc: func(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
				return &ec2.DescribeImagesOutput{Images: []ec2types.Image{{
					ImageId:      awsv2.String("ami-test"),
					State:        ec2types.ImageStateAvailable,
					CreationDate: awsv2.String("2026-01-01T00:00:00.000Z"),
				}}}, nil
			},
		},
	}
}

func testConfig(tier config.Tier) *config.Config {
	return &config.Config{
		Stack:  "demo",
		Tier:   tier,
		Region: "us-east-1",
		Compute: config.ComputeConfig{
			InstanceType: "m5.large",
			Count:        1,
			OSFamily:     "amazon-linux-2023",
			Architecture: "x86_64",
		},
	}
}

func testWorkflow(cfg *config.Config, h *harness) *Workflow {
	return New(cfg, h.store, testClients(),
		WithProvisioners(h.provs),
		WithObserver(provisioning.NopObserver{}),
		WithRunIDs(func() string { return "run-test" }),
	)
}

func TestDeployBasicRunsStepsInOrder(t *testing.T) {
	h := newHarness()
	w := testWorkflow(testConfig(config.TierBasic), h)

	dep, err := w.Deploy(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{StepNetwork, StepStorage, StepIdentity, StepCompute}, h.calls)
	assert.Equal(t, state.StatusRunning, dep.Status)
	assert.Equal(t, "run-test", dep.RunID)
	assert.Len(t, dep.CostHistory, 1)
	assert.Empty(t, h.destroyed)

	// One write for the provisioning transition, one after every step, one
	// for the partial checkpoint, one for the final running state.
	assert.Equal(t, 7, h.store.Saves())

	reloaded, err := h.store.Load(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, state.StatusRunning, reloaded.Status)
}

func TestDeployHAIncludesLoadBalancer(t *testing.T) {
	h := newHarness()
	dep, err := testWorkflow(testConfig(config.TierHA), h).Deploy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{StepNetwork, StepStorage, StepIdentity, StepCompute, StepLoadBalancer}, h.calls)
	assert.Equal(t, state.StatusRunning, dep.Status)
}

func TestDeployFailureRollsBackCreatedOnly(t *testing.T) {
	h := newHarness()
	h.fakes[StepCompute].provisionFn = func(ctx *provisioning.Context) error {
		return &retry.StateError{What: "filesystem demo-data", State: "error"}
	}

	dep, err := testWorkflow(testConfig(config.TierBasic), h).Deploy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step compute failed")

	// Created resources unwound newest first; adopted network left alone.
	assert.Equal(t, []string{"demo-instance-profile", "demo-instance-role", "mt-1", "fs-1"}, h.destroyed)
	assert.Equal(t, state.StatusRolledBack, dep.Status)
	assert.Empty(t, dep.CompletedSteps)

	require.Len(t, dep.Rollbacks, 1)
	rb := dep.Rollbacks[0]
	assert.Equal(t, "failure", rb.TriggeredBy)
	assert.Equal(t, []string{"demo-instance-profile", "demo-instance-role", "mt-1", "fs-1"}, rb.Destroyed)
	assert.Equal(t, []string{"sg-1", "subnet-a", "vpc-1"}, rb.Preserved)
	assert.Empty(t, rb.Leftover)
}

func TestDeployRollbackLeftoverMarksFailed(t *testing.T) {
	h := newHarness()
	h.fakes[StepCompute].provisionFn = func(ctx *provisioning.Context) error {
		return errors.New("launch rejected")
	}
	h.fakes[StepStorage].destroyErr = map[string]error{
		"fs-1": errors.New("filesystem still has mount targets"),
	}

	dep, err := testWorkflow(testConfig(config.TierBasic), h).Deploy(context.Background())
	require.Error(t, err)

	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"fs-1"}, partial.Leftover)
	assert.Equal(t, state.StatusFailed, dep.Status)
	assert.Equal(t, []string{"fs-1"}, dep.Rollbacks[0].Leftover)
}

func TestDeployResumesFromPartial(t *testing.T) {
	h := newHarness()
	seed := state.New("demo", "basic", "us-east-1", "run-0")
	require.NoError(t, seed.Transition(state.StatusProvisioning))
	for _, step := range []string{StepNetwork, StepStorage, StepIdentity} {
		for _, r := range h.fakes[step].records {
			require.NoError(t, seed.AddResource(r))
		}
		seed.MarkStepComplete(step)
	}
	require.NoError(t, seed.Transition(state.StatusPartial))
	require.NoError(t, h.store.Save(context.Background(), seed))

	var hydrated *provisioning.State
	h.fakes[StepCompute].provisionFn = func(ctx *provisioning.Context) error {
		hydrated = ctx.State
		return nil
	}

	dep, err := testWorkflow(testConfig(config.TierBasic), h).Deploy(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{StepCompute}, h.calls, "completed steps must be skipped")
	assert.Equal(t, state.StatusRunning, dep.Status)

	require.NotNil(t, hydrated)
	assert.Equal(t, "vpc-1", hydrated.NetworkID)
	assert.Equal(t, []string{"subnet-a"}, hydrated.SubnetIDs)
	assert.Equal(t, "sg-1", hydrated.SecurityGroupID)
	assert.Equal(t, "fs-1", hydrated.FilesystemID)
	assert.Equal(t, "demo-instance-profile", hydrated.ProfileName)
}

func TestDeployRejectsLockedStack(t *testing.T) {
	h := newHarness()
	unlock, err := h.store.Lock(context.Background(), "demo")
	require.NoError(t, err)
	defer unlock()

	_, err = testWorkflow(testConfig(config.TierBasic), h).Deploy(context.Background())
	require.ErrorIs(t, err, state.ErrLocked)
	assert.Empty(t, h.calls)
}

func TestDeployRefusesUnrecoverableStatus(t *testing.T) {
	h := newHarness()
	seed := state.New("demo", "basic", "us-east-1", "run-0")
	require.NoError(t, seed.Transition(state.StatusProvisioning))
	require.NoError(t, seed.Transition(state.StatusFailed))
	require.NoError(t, h.store.Save(context.Background(), seed))

	_, err := testWorkflow(testConfig(config.TierBasic), h).Deploy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destroy it before deploying again")
	assert.Empty(t, h.calls)
}

func TestDeployPreflightFailureRollsBackCleanly(t *testing.T) {
	h := newHarness()
	cfg := testConfig(config.TierBasic)
	cfg.Reuse.NetworkID = "vpc-gone"

	dep, err := testWorkflow(cfg, h).Deploy(context.Background())
	require.Error(t, err)

	var failure *provisioning.ValidationFailure
	require.ErrorAs(t, err, &failure)
	assert.Empty(t, h.calls)
	assert.Empty(t, h.destroyed)

	// With nothing created the rollback has nothing to do and settles
	// on rolled_back, never failed.
	assert.Equal(t, state.StatusRolledBack, dep.Status)
	require.Len(t, dep.Rollbacks, 1)
	assert.Equal(t, "failure", dep.Rollbacks[0].TriggeredBy)
	assert.Empty(t, dep.Rollbacks[0].Destroyed)
}

func TestDeployPreflightFailureOnResumeUnwindsEarlierRuns(t *testing.T) {
	h := newHarness()
	seed := state.New("demo", "basic", "us-east-1", "run-0")
	require.NoError(t, seed.Transition(state.StatusProvisioning))
	for _, step := range []string{StepNetwork, StepStorage, StepIdentity} {
		for _, r := range h.fakes[step].records {
			require.NoError(t, seed.AddResource(r))
		}
		seed.MarkStepComplete(step)
	}
	require.NoError(t, seed.Transition(state.StatusPartial))
	require.NoError(t, h.store.Save(context.Background(), seed))

	cfg := testConfig(config.TierBasic)
	cfg.Reuse.NetworkID = "vpc-gone"

	dep, err := testWorkflow(cfg, h).Deploy(context.Background())
	require.Error(t, err)

	var failure *provisioning.ValidationFailure
	require.ErrorAs(t, err, &failure)
	assert.Empty(t, h.calls)

	// Resources persisted by the earlier partial run are torn down.
	assert.Equal(t, []string{"demo-instance-profile", "demo-instance-role", "mt-1", "fs-1"}, h.destroyed)
	assert.Equal(t, state.StatusRolledBack, dep.Status)
	assert.Empty(t, dep.CompletedSteps)
}

func TestDeploySpotFallsBackToOnDemandOnEmptyMarket(t *testing.T) {
	h := newHarness()
	cfg := testConfig(config.TierStandard)
	cfg.Compute.Spot = config.SpotConfig{Enabled: true, RiskTolerance: "medium"}

	var placement pricing.Placement
	h.fakes[StepCompute].provisionFn = func(ctx *provisioning.Context) error {
		placement = ctx.State.Placement
		return nil
	}

	_, err := testWorkflow(cfg, h).Deploy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pricing.MarketOnDemand, placement.Market)
	assert.Equal(t, "m5.large", placement.InstanceType)
	assert.Empty(t, placement.Zone)
}

func TestDeployCancellationTriggersRollback(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	h.fakes[StepIdentity].provisionFn = func(pctx *provisioning.Context) error {
		cancel()
		return nil
	}

	dep, err := testWorkflow(testConfig(config.TierBasic), h).Deploy(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, state.StatusRolledBack, dep.Status)
	assert.Equal(t, []string{"mt-1", "fs-1"}, h.destroyed,
		"resources created before cancellation must be unwound")
}

func TestDeployUpdateReconcilesFleetCount(t *testing.T) {
	h := newHarness()
	seed := state.New("demo", "basic", "us-east-1", "run-0")
	require.NoError(t, seed.Transition(state.StatusProvisioning))
	for _, step := range []string{StepNetwork, StepStorage, StepIdentity} {
		for _, r := range h.fakes[step].records {
			require.NoError(t, seed.AddResource(r))
		}
		seed.MarkStepComplete(step)
	}
	require.NoError(t, seed.AddResource(rec(state.FamilyKeyPair, "demo-keypair", "demo-keypair", state.ProvenanceCreated)))
	for _, inst := range []struct{ name, id string }{
		{"demo-node-0", "i-0"}, {"demo-node-1", "i-1"}, {"demo-node-2", "i-2"},
	} {
		require.NoError(t, seed.AddResource(rec(state.FamilyInstance, inst.name, inst.id, state.ProvenanceCreated)))
	}
	seed.MarkStepComplete(StepCompute)
	require.NoError(t, seed.Transition(state.StatusPartial))
	require.NoError(t, seed.Transition(state.StatusRunning))
	require.NoError(t, h.store.Save(context.Background(), seed))

	cfg := testConfig(config.TierBasic)
	cfg.Compute.Count = 1

	dep, err := testWorkflow(cfg, h).Deploy(context.Background())
	require.NoError(t, err)

	// Newest extras terminated, compute re-run for the remaining fleet.
	assert.Equal(t, []string{"i-2", "i-1"}, h.destroyed)
	assert.Equal(t, []string{StepCompute}, h.calls)
	assert.Equal(t, state.StatusRunning, dep.Status)
	assert.Len(t, dep.ResourcesOf(state.FamilyInstance), 1)
	assert.Equal(t, "i-0", dep.ResourcesOf(state.FamilyInstance)[0].ID)
}

func TestDeployUpdatePreflightFailureLeavesStackRunning(t *testing.T) {
	h := newHarness()
	w := testWorkflow(testConfig(config.TierBasic), h)
	_, err := w.Deploy(context.Background())
	require.NoError(t, err)
	h.calls = nil

	cfg := testConfig(config.TierBasic)
	cfg.Reuse.NetworkID = "vpc-gone"

	dep, err := testWorkflow(cfg, h).Deploy(context.Background())
	require.Error(t, err)

	var failure *provisioning.ValidationFailure
	require.ErrorAs(t, err, &failure)
	assert.Empty(t, h.calls)
	assert.Empty(t, h.destroyed, "a failed update preflight must not touch the running stack")
	assert.Equal(t, state.StatusRunning, dep.Status)
	assert.Empty(t, dep.Rollbacks)
}

func TestDestroyTearsDownCreatedAndKeepsState(t *testing.T) {
	h := newHarness()
	w := testWorkflow(testConfig(config.TierBasic), h)
	_, err := w.Deploy(context.Background())
	require.NoError(t, err)
	h.calls = nil

	dep, err := w.Destroy(context.Background())
	require.NoError(t, err)

	assert.Equal(t, state.StatusDestroyed, dep.Status)
	assert.Equal(t, []string{"i-0", "demo-keypair", "demo-instance-profile", "demo-instance-role", "mt-1", "fs-1"}, h.destroyed)

	require.Len(t, dep.Rollbacks, 1)
	assert.Equal(t, "teardown", dep.Rollbacks[0].TriggeredBy)
	assert.Equal(t, []string{"sg-1", "subnet-a", "vpc-1"}, dep.Rollbacks[0].Preserved)

	// The document survives teardown as an audit record.
	reloaded, err := h.store.Load(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, state.StatusDestroyed, reloaded.Status)
	assert.True(t, reloaded.Status.Terminal())
}

func TestDestroyWithoutStateFails(t *testing.T) {
	h := newHarness()
	_, err := testWorkflow(testConfig(config.TierBasic), h).Destroy(context.Background())
	require.ErrorIs(t, err, state.ErrNotFound)
}
