package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stacktier/stacktier/internal/provisioning"
	"github.com/stacktier/stacktier/internal/state"
)

// PartialFailureError reports a rollback that could not destroy every
// created resource. Leftover holds the ids still alive in the account.
type PartialFailureError struct {
	Leftover []string
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("rollback incomplete, %d resources left behind: %s",
		len(e.Leftover), strings.Join(e.Leftover, ", "))
}

// RollbackCoordinator tears down created resources in reverse persist
// order, preserving anything the deployment adopted rather than created.
type RollbackCoordinator struct {
	graph        *Graph
	provisioners map[string]StepProvisioner
}

// NewRollbackCoordinator builds a coordinator over the same graph and
// provisioner set the forward workflow used.
func NewRollbackCoordinator(graph *Graph, provisioners map[string]StepProvisioner) *RollbackCoordinator {
	return &RollbackCoordinator{graph: graph, provisioners: provisioners}
}

// Execute walks the persisted resources newest first and destroys those
// with created provenance. Reused and discovered resources are recorded as
// preserved and never touched. Destroy failures are logged and skipped so
// one stuck resource cannot strand the rest; they surface afterwards as a
// PartialFailureError.
func (c *RollbackCoordinator) Execute(ctx *provisioning.Context, trigger string) (state.RollbackRecord, error) {
	rec := state.RollbackRecord{
		ID:          uuid.NewString(),
		TriggeredBy: trigger,
		StartedAt:   time.Now().UTC(),
	}

	resources := ctx.Deployment.Resources
	for i := len(resources) - 1; i >= 0; i-- {
		res := resources[i]

		if res.Provenance != state.ProvenanceCreated {
			rec.Preserved = append(rec.Preserved, res.ID)
			ctx.Observer.Event(provisioning.Event{
				Type:     provisioning.EventResourcePreserved,
				Step:     "rollback",
				Message:  fmt.Sprintf("preserving %s %s (%s)", res.Family, res.ID, res.Provenance),
				Resource: res.ID,
			})
			if ctx.Metrics != nil {
				ctx.Metrics.RollbackResources.WithLabelValues(string(res.Family), "preserved").Inc()
			}
			continue
		}

		if err := c.destroy(ctx, res); err != nil {
			rec.Leftover = append(rec.Leftover, res.ID)
			ctx.Observer.Event(provisioning.Event{
				Type:     provisioning.EventResourceFailed,
				Step:     "rollback",
				Message:  fmt.Sprintf("failed to destroy %s %s: %v", res.Family, res.ID, err),
				Resource: res.ID,
			})
			if ctx.Metrics != nil {
				ctx.Metrics.RollbackResources.WithLabelValues(string(res.Family), "failed").Inc()
			}
			continue
		}

		rec.Destroyed = append(rec.Destroyed, res.ID)
		provisioning.LogResourceDeleted(ctx.Observer, "rollback", string(res.Family), res.ID)
		if ctx.Metrics != nil {
			ctx.Metrics.RollbackResources.WithLabelValues(string(res.Family), "destroyed").Inc()
		}
	}

	rec.CompletedAt = time.Now().UTC()
	ctx.Deployment.Rollbacks = append(ctx.Deployment.Rollbacks, rec)

	if len(rec.Leftover) > 0 {
		return rec, &PartialFailureError{Leftover: rec.Leftover}
	}
	return rec, nil
}

func (c *RollbackCoordinator) destroy(ctx *provisioning.Context, res state.ResourceRecord) error {
	step, ok := c.graph.OwnerOf(res.Family)
	if !ok {
		return fmt.Errorf("no step owns %s resources", res.Family)
	}
	p, ok := c.provisioners[step]
	if !ok {
		return fmt.Errorf("no provisioner registered for step %s", step)
	}
	provisioning.LogResourceDeleting(ctx.Observer, "rollback", string(res.Family), res.ID)
	return p.DestroyResource(ctx, res)
}
