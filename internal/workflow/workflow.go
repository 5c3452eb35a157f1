package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stacktier/stacktier/internal/config"
	"github.com/stacktier/stacktier/internal/image"
	platformaws "github.com/stacktier/stacktier/internal/platform/aws"
	"github.com/stacktier/stacktier/internal/pricing"
	"github.com/stacktier/stacktier/internal/provisioning"
	"github.com/stacktier/stacktier/internal/state"
)

// Workflow executes the tier's provisioning graph for one stack.
type Workflow struct {
	cfg      *config.Config
	store    state.Store
	clients  *platformaws.Clients
	observer provisioning.Observer
	metrics  *provisioning.Metrics
	timeouts *config.Timeouts

	provisioners map[string]StepProvisioner
	pricing      *pricing.Client
	images       *image.Resolver

	newRunID func() string
}

// Option adjusts workflow construction, mainly for tests.
type Option func(*Workflow)

// WithObserver replaces the console observer.
func WithObserver(o provisioning.Observer) Option {
	return func(w *Workflow) { w.observer = o }
}

// WithProvisioners replaces the step provisioner set.
func WithProvisioners(p map[string]StepProvisioner) Option {
	return func(w *Workflow) { w.provisioners = p }
}

// WithTimeouts replaces the polling windows.
func WithTimeouts(t *config.Timeouts) Option {
	return func(w *Workflow) { w.timeouts = t }
}

// WithRunIDs replaces the run id generator.
func WithRunIDs(gen func() string) Option {
	return func(w *Workflow) { w.newRunID = gen }
}

// New builds a workflow for a validated config.
func New(cfg *config.Config, store state.Store, clients *platformaws.Clients, opts ...Option) *Workflow {
	w := &Workflow{
		cfg:          cfg,
		store:        store,
		clients:      clients,
		observer:     provisioning.NewConsoleObserver(),
		metrics:      provisioning.NewMetrics(),
		timeouts:     config.LoadTimeouts(),
		provisioners: defaultProvisioners(),
		pricing:      pricing.NewClient(clients.EC2),
		images:       image.NewResolver(clients.EC2),
		newRunID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Metrics exposes the run's metrics registry.
func (w *Workflow) Metrics() *provisioning.Metrics {
	return w.metrics
}

// Deploy provisions the stack, resuming a partial deployment or
// reconciling a running one. The returned state reflects the final
// persisted status even when err is non-nil.
func (w *Workflow) Deploy(ctx context.Context) (*state.DeploymentState, error) {
	graph, err := TierGraph(w.cfg.Tier)
	if err != nil {
		return nil, err
	}

	unlock, err := w.store.Lock(ctx, w.cfg.Stack)
	if err != nil {
		return nil, fmt.Errorf("failed to lock stack %s: %w", w.cfg.Stack, err)
	}
	defer unlock()

	dep, updating, err := w.loadOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	pctx := w.newContext(ctx, dep)
	hydrateState(pctx)

	next := state.StatusProvisioning
	if updating {
		next = state.StatusUpdating
	}
	if err := dep.Transition(next); err != nil {
		return dep, err
	}
	if err := pctx.SaveState(); err != nil {
		return dep, err
	}

	if err := w.prepare(pctx); err != nil {
		if updating {
			// The update touched nothing yet; the stack is still the
			// healthy one the previous run left behind.
			if terr := dep.Transition(state.StatusRunning); terr == nil {
				_ = pctx.SaveState()
			}
			return dep, err
		}
		// A fresh run rolls back even when nothing was created this time:
		// a resumed partial deployment still owns resources from earlier
		// runs that must be unwound.
		return dep, w.failAndRollback(pctx, graph, "preflight", err)
	}

	if updating {
		if err := w.reconcileCompute(pctx); err != nil {
			// Scale reconciliation touches only the fleet; a failure here
			// leaves the rest of the stack intact, so no rollback.
			if terr := dep.Transition(state.StatusFailed); terr == nil {
				_ = pctx.SaveState()
			}
			return dep, err
		}
	}

	for _, name := range graph.Order() {
		if err := pctx.Context.Err(); err != nil {
			return dep, w.failAndRollback(pctx, graph, name, err)
		}
		if dep.StepComplete(name) {
			w.observer.Event(provisioning.Event{
				Type: provisioning.EventStepSkipped, Step: name,
				Message: "already completed in a previous run",
			})
			continue
		}
		if !graph.Ready(name, dep.StepComplete) {
			return dep, w.failAndRollback(pctx, graph, name,
				fmt.Errorf("step %s has unmet dependencies", name))
		}

		if err := w.runStep(pctx, name); err != nil {
			return dep, w.failAndRollback(pctx, graph, name, err)
		}

		if dep.Status == state.StatusProvisioning && stepsComplete(dep, checkpointSteps) {
			if err := dep.Transition(state.StatusPartial); err != nil {
				return dep, err
			}
			if err := pctx.SaveState(); err != nil {
				return dep, err
			}
		}
	}

	if err := dep.Transition(state.StatusRunning); err != nil {
		return dep, err
	}
	w.snapshotCost(pctx)
	if err := pctx.SaveState(); err != nil {
		return dep, err
	}
	return dep, nil
}

// Destroy tears the stack down. State is kept, transitioned to destroyed.
func (w *Workflow) Destroy(ctx context.Context) (*state.DeploymentState, error) {
	unlock, err := w.store.Lock(ctx, w.cfg.Stack)
	if err != nil {
		return nil, fmt.Errorf("failed to lock stack %s: %w", w.cfg.Stack, err)
	}
	defer unlock()

	dep, err := w.store.Load(ctx, w.cfg.Stack)
	if err != nil {
		return nil, fmt.Errorf("failed to load state for stack %s: %w", w.cfg.Stack, err)
	}

	graph, err := TierGraph(config.Tier(dep.Tier))
	if err != nil {
		return nil, err
	}

	// A deployment that crashed mid-provisioning never reached a status
	// with a destroy edge; it unwinds through the rollback states instead.
	final := state.StatusDestroyed
	if dep.Status.CanTransition(state.StatusDestroying) {
		err = dep.Transition(state.StatusDestroying)
	} else if dep.Status.CanTransition(state.StatusRollingBack) {
		final = state.StatusRolledBack
		err = dep.Transition(state.StatusRollingBack)
	} else {
		err = fmt.Errorf("stack %s is %s and cannot be destroyed", dep.Stack, dep.Status)
	}
	if err != nil {
		return dep, err
	}

	pctx := w.newContext(ctx, dep)
	if err := pctx.SaveState(); err != nil {
		return dep, err
	}

	coordinator := NewRollbackCoordinator(graph, w.provisioners)
	_, rollbackErr := coordinator.Execute(pctx, "teardown")
	if rollbackErr != nil {
		if terr := dep.Transition(state.StatusFailed); terr == nil {
			_ = pctx.SaveState()
		}
		return dep, rollbackErr
	}

	dep.ResetSteps()
	if err := dep.Transition(final); err != nil {
		return dep, err
	}
	if err := pctx.SaveState(); err != nil {
		return dep, err
	}
	return dep, nil
}

func (w *Workflow) newContext(ctx context.Context, dep *state.DeploymentState) *provisioning.Context {
	return &provisioning.Context{
		Context:    ctx,
		Config:     w.cfg,
		State:      provisioning.NewState(),
		Deployment: dep,
		Store:      w.store,
		Clients:    w.clients,
		Observer:   w.observer,
		Metrics:    w.metrics,
		Timeouts:   w.timeouts,
	}
}

func (w *Workflow) loadOrCreate(ctx context.Context) (*state.DeploymentState, bool, error) {
	dep, err := w.store.Load(ctx, w.cfg.Stack)
	if errors.Is(err, state.ErrNotFound) {
		return state.New(w.cfg.Stack, string(w.cfg.Tier), w.cfg.Region, w.newRunID()), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load state for stack %s: %w", w.cfg.Stack, err)
	}

	switch dep.Status {
	case state.StatusPending:
		return dep, false, nil
	case state.StatusPartial:
		dep.RunID = w.newRunID()
		return dep, false, nil
	case state.StatusRunning:
		dep.RunID = w.newRunID()
		return dep, true, nil
	default:
		return nil, false, fmt.Errorf("stack %s is %s; destroy it before deploying again", dep.Stack, dep.Status)
	}
}

// prepare runs the read-only phase: preflight validation, image
// resolution, and spot placement, concurrently. Nothing is created here.
func (w *Workflow) prepare(pctx *provisioning.Context) error {
	g, gctx := errgroup.WithContext(pctx.Context)

	g.Go(func() error {
		return provisioning.Preflight(pctx)
	})

	g.Go(func() error {
		id, err := w.images.Resolve(gctx, w.cfg.Region, w.cfg.Compute.OSFamily, w.cfg.Compute.Architecture)
		if err != nil {
			return fmt.Errorf("failed to resolve image: %w", err)
		}
		pctx.State.ImageID = id
		return nil
	})

	if w.cfg.WantsSpot() {
		g.Go(func() error {
			types := append([]string{w.cfg.Compute.InstanceType}, w.cfg.Compute.Spot.CandidateTypes...)
			candidates, err := w.pricing.FetchCandidates(gctx, w.cfg.Region, types)
			if err != nil {
				return fmt.Errorf("failed to fetch spot candidates: %w", err)
			}
			selector := pricing.NewSelector(w.cfg.Compute.Spot.RiskTolerance)
			pctx.State.Placement = selector.Select(candidates, w.cfg.Compute.InstanceType)
			return nil
		})
	}

	return g.Wait()
}

func (w *Workflow) runStep(pctx *provisioning.Context, name string) error {
	p, ok := w.provisioners[name]
	if !ok {
		return fmt.Errorf("no provisioner registered for step %s", name)
	}

	w.observer.Event(provisioning.Event{Type: provisioning.EventStepStarted, Step: name})
	started := time.Now()

	err := p.Provision(pctx)
	if w.metrics != nil {
		w.metrics.StepDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
	}
	if err != nil {
		if w.metrics != nil {
			w.metrics.StepExecutions.WithLabelValues(name, "failure").Inc()
		}
		w.observer.Event(provisioning.Event{
			Type: provisioning.EventStepFailed, Step: name, Message: err.Error(),
		})
		return fmt.Errorf("step %s failed: %w", name, err)
	}

	if w.metrics != nil {
		w.metrics.StepExecutions.WithLabelValues(name, "success").Inc()
	}
	pctx.Deployment.MarkStepComplete(name)
	if err := pctx.SaveState(); err != nil {
		return fmt.Errorf("step %s succeeded but state save failed: %w", name, err)
	}
	w.observer.Event(provisioning.Event{Type: provisioning.EventStepCompleted, Step: name})
	return nil
}

// failAndRollback transitions to rolling_back, unwinds created resources,
// and settles on rolled_back or failed depending on whether everything
// could be destroyed.
func (w *Workflow) failAndRollback(pctx *provisioning.Context, graph *Graph, step string, stepErr error) error {
	dep := pctx.Deployment
	if terr := dep.Transition(state.StatusRollingBack); terr != nil {
		return errors.Join(stepErr, terr)
	}
	_ = pctx.SaveState()

	// Rollback must proceed even when the failure was a cancellation.
	rctx := *pctx
	rctx.Context = context.WithoutCancel(pctx.Context)

	coordinator := NewRollbackCoordinator(graph, w.provisioners)
	_, rollbackErr := coordinator.Execute(&rctx, "failure")

	final := state.StatusRolledBack
	if rollbackErr != nil {
		final = state.StatusFailed
	}
	dep.ResetSteps()
	if terr := dep.Transition(final); terr != nil {
		rollbackErr = errors.Join(rollbackErr, terr)
	}
	_ = pctx.SaveState()

	if rollbackErr != nil {
		return errors.Join(stepErr, rollbackErr)
	}
	return stepErr
}

// reconcileCompute scales the fleet toward the configured count before the
// step loop re-runs. Scale-up happens inside the compute step, which skips
// instances already recorded; scale-down terminates the newest extras here.
func (w *Workflow) reconcileCompute(pctx *provisioning.Context) error {
	dep := pctx.Deployment
	instances := dep.ResourcesOf(state.FamilyInstance)
	desired := w.cfg.Compute.Count

	if len(instances) > desired {
		p := w.provisioners[StepCompute]
		for i := len(instances) - 1; i >= desired; i-- {
			rec := instances[i]
			provisioning.LogResourceDeleting(pctx.Observer, StepCompute, string(rec.Family), rec.ID)
			if err := p.DestroyResource(pctx, rec); err != nil {
				return fmt.Errorf("failed to scale down instance %s: %w", rec.ID, err)
			}
			dep.RemoveResource(rec.Family, rec.Name)
			provisioning.LogResourceDeleted(pctx.Observer, StepCompute, string(rec.Family), rec.ID)
		}
	}

	// Re-open the compute step so the loop launches any missing instances
	// and re-verifies the fleet is running.
	remaining := dep.CompletedSteps[:0]
	for _, s := range dep.CompletedSteps {
		if s != StepCompute && s != StepLoadBalancer {
			remaining = append(remaining, s)
		}
	}
	dep.CompletedSteps = remaining
	return pctx.SaveState()
}

func (w *Workflow) snapshotCost(pctx *provisioning.Context) {
	estimate := pricing.NewCalculator().Calculate(w.cfg, pctx.State.Placement)
	pctx.Deployment.CostHistory = append(pctx.Deployment.CostHistory, estimate.Snapshot())
}

// hydrateState rebuilds the in-memory provisioning state from persisted
// records so resumed and updating runs see the ids earlier runs created.
func hydrateState(pctx *provisioning.Context) {
	dep := pctx.Deployment
	st := pctx.State

	if recs := dep.ResourcesOf(state.FamilyNetwork); len(recs) > 0 {
		st.NetworkID = recs[0].ID
	}
	for _, rec := range dep.ResourcesOf(state.FamilySubnet) {
		st.SubnetIDs = append(st.SubnetIDs, rec.ID)
	}
	if recs := dep.ResourcesOf(state.FamilySecurityGroup); len(recs) > 0 {
		st.SecurityGroupID = recs[0].ID
	}
	if recs := dep.ResourcesOf(state.FamilyFilesystem); len(recs) > 0 {
		st.FilesystemID = recs[0].ID
	}
	for _, rec := range dep.ResourcesOf(state.FamilyMountTarget) {
		st.MountTargetIDs = append(st.MountTargetIDs, rec.ID)
	}
	if recs := dep.ResourcesOf(state.FamilyRole); len(recs) > 0 {
		st.RoleName = recs[0].ID
	}
	if recs := dep.ResourcesOf(state.FamilyInstanceProfile); len(recs) > 0 {
		st.ProfileName = recs[0].ID
	}
	if recs := dep.ResourcesOf(state.FamilyKeyPair); len(recs) > 0 {
		st.KeyPairName = recs[0].ID
	}
	for _, rec := range dep.ResourcesOf(state.FamilyInstance) {
		st.InstanceIDs = append(st.InstanceIDs, rec.ID)
	}
	if recs := dep.ResourcesOf(state.FamilyLoadBalancer); len(recs) > 0 {
		st.LoadBalancerArn = recs[0].ID
	}
	if recs := dep.ResourcesOf(state.FamilyTargetGroup); len(recs) > 0 {
		st.TargetGroupArn = recs[0].ID
	}
}

// stepsComplete reports whether every named step has completed.
func stepsComplete(dep *state.DeploymentState, names []string) bool {
	for _, n := range names {
		if !dep.StepComplete(n) {
			return false
		}
	}
	return true
}
