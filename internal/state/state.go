package state

import (
	"fmt"
	"time"
)

// SchemaVersion is the current state document schema. Loaders reject
// documents with any other version instead of misinterpreting fields.
const SchemaVersion = 1

// Status is the lifecycle status of a deployment.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProvisioning Status = "provisioning"
	StatusPartial      Status = "partial"
	StatusRunning      Status = "running"
	StatusUpdating     Status = "updating"
	StatusRollingBack  Status = "rolling_back"
	StatusRolledBack   Status = "rolled_back"
	StatusDestroying   Status = "destroying"
	StatusDestroyed    Status = "destroyed"
	StatusFailed       Status = "failed"
)

// transitions enumerates the legal status edges.
var transitions = map[Status][]Status{
	StatusPending:      {StatusProvisioning},
	StatusProvisioning: {StatusPartial, StatusRollingBack, StatusFailed},
	StatusPartial:      {StatusRunning, StatusProvisioning, StatusRollingBack, StatusDestroying, StatusFailed},
	StatusRunning:      {StatusUpdating, StatusDestroying},
	StatusUpdating:     {StatusRunning, StatusRollingBack, StatusFailed},
	StatusRollingBack:  {StatusRolledBack, StatusFailed},
	StatusDestroying:   {StatusDestroyed, StatusFailed},
	StatusRolledBack:   {},
	StatusDestroyed:    {},
	StatusFailed:       {StatusDestroying},
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusRolledBack || s == StatusDestroyed
}

// Provenance records how a resource came under management.
type Provenance string

const (
	// ProvenanceCreated marks resources this tool created. Only these are
	// ever destroyed during rollback or teardown.
	ProvenanceCreated Provenance = "created"
	// ProvenanceReused marks resources the user supplied.
	ProvenanceReused Provenance = "reused"
	// ProvenanceDiscovered marks pre-existing resources found by lookup.
	ProvenanceDiscovered Provenance = "discovered"
)

// Family identifies a resource family in the provisioning graph.
type Family string

const (
	FamilyNetwork         Family = "network"
	FamilySubnet          Family = "subnet"
	FamilySecurityGroup   Family = "security-group"
	FamilyFilesystem      Family = "filesystem"
	FamilyMountTarget     Family = "mount-target"
	FamilyRole            Family = "iam-role"
	FamilyInstanceProfile Family = "instance-profile"
	FamilyKeyPair         Family = "key-pair"
	FamilyInstance        Family = "instance"
	FamilyLoadBalancer    Family = "load-balancer"
	FamilyTargetGroup     Family = "target-group"
)

// ResourceRecord is one provisioned (or adopted) resource.
type ResourceRecord struct {
	Family     Family            `json:"family"`
	Name       string            `json:"name"`
	ID         string            `json:"id"`
	Provenance Provenance        `json:"provenance"`
	Tags       map[string]string `json:"tags,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	LastState  string            `json:"last_state,omitempty"`
}

// CostSnapshot captures the compute pricing decision at a point in time.
type CostSnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	InstanceType string    `json:"instance_type"`
	Zone         string    `json:"zone,omitempty"`
	Market       string    `json:"market"` // "spot" or "on-demand"
	HourlyUSD    float64   `json:"hourly_usd"`
}

// RollbackRecord is an audit entry for one rollback or teardown pass.
type RollbackRecord struct {
	ID          string    `json:"id"`
	TriggeredBy string    `json:"triggered_by"` // "failure" or "teardown"
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Destroyed   []string  `json:"destroyed,omitempty"`
	Preserved   []string  `json:"preserved,omitempty"`
	Leftover    []string  `json:"leftover,omitempty"`
}

// DeploymentState is the persisted state of one stack.
type DeploymentState struct {
	SchemaVersion  int              `json:"schema_version"`
	Stack          string           `json:"stack"`
	Tier           string           `json:"tier"`
	Region         string           `json:"region"`
	RunID          string           `json:"run_id"`
	Status         Status           `json:"status"`
	Resources      []ResourceRecord `json:"resources"`
	CompletedSteps []string         `json:"completed_steps,omitempty"`
	CostHistory    []CostSnapshot   `json:"cost_history,omitempty"`
	Rollbacks      []RollbackRecord `json:"rollbacks,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// New creates the initial state for a deployment.
func New(stack, tier, region, runID string) *DeploymentState {
	now := time.Now().UTC()
	return &DeploymentState{
		SchemaVersion: SchemaVersion,
		Stack:         stack,
		Tier:          tier,
		Region:        region,
		RunID:         runID,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Transition moves the deployment to the next status, rejecting edges the
// state machine does not allow.
func (d *DeploymentState) Transition(next Status) error {
	if !d.Status.CanTransition(next) {
		return fmt.Errorf("illegal status transition %s -> %s for stack %s", d.Status, next, d.Stack)
	}
	d.Status = next
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// AddResource appends a record. Provenance is fixed at first persist: if a
// record for the same family and name already exists, the call fails rather
// than altering it.
func (d *DeploymentState) AddResource(rec ResourceRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("resource record for %s/%s has no id", rec.Family, rec.Name)
	}
	if existing := d.Resource(rec.Family, rec.Name); existing != nil {
		return fmt.Errorf("resource %s/%s already recorded with provenance %q", rec.Family, rec.Name, existing.Provenance)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	d.Resources = append(d.Resources, rec)
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// Resource returns the record for a family and name, or nil.
func (d *DeploymentState) Resource(family Family, name string) *ResourceRecord {
	for i := range d.Resources {
		if d.Resources[i].Family == family && d.Resources[i].Name == name {
			return &d.Resources[i]
		}
	}
	return nil
}

// RemoveResource drops the record for a family and name. Used when a
// resource has been destroyed outside a full rollback, such as a scale-down.
func (d *DeploymentState) RemoveResource(family Family, name string) {
	for i := range d.Resources {
		if d.Resources[i].Family == family && d.Resources[i].Name == name {
			d.Resources = append(d.Resources[:i], d.Resources[i+1:]...)
			d.UpdatedAt = time.Now().UTC()
			return
		}
	}
}

// ResourcesOf returns all records of a family, in persist order.
func (d *DeploymentState) ResourcesOf(family Family) []ResourceRecord {
	var out []ResourceRecord
	for _, r := range d.Resources {
		if r.Family == family {
			out = append(out, r)
		}
	}
	return out
}

// ObserveState updates the last observed control-plane state of a resource.
func (d *DeploymentState) ObserveState(id, observed string) {
	for i := range d.Resources {
		if d.Resources[i].ID == id {
			d.Resources[i].LastState = observed
			d.UpdatedAt = time.Now().UTC()
			return
		}
	}
}

// MarkStepComplete records a finished workflow step for resumability.
func (d *DeploymentState) MarkStepComplete(name string) {
	if d.StepComplete(name) {
		return
	}
	d.CompletedSteps = append(d.CompletedSteps, name)
	d.UpdatedAt = time.Now().UTC()
}

// StepComplete reports whether a workflow step already completed in a
// previous (or the current) run.
func (d *DeploymentState) StepComplete(name string) bool {
	for _, s := range d.CompletedSteps {
		if s == name {
			return true
		}
	}
	return false
}

// ResetSteps clears step completion, used when an update pass must
// re-reconcile from the beginning.
func (d *DeploymentState) ResetSteps() {
	d.CompletedSteps = nil
	d.UpdatedAt = time.Now().UTC()
}
