package provisioning

import (
	"context"

	"github.com/stacktier/stacktier/internal/config"
	platformaws "github.com/stacktier/stacktier/internal/platform/aws"
	"github.com/stacktier/stacktier/internal/pricing"
	"github.com/stacktier/stacktier/internal/state"
)

// State holds the shared results of provisioning steps. It is progressively
// populated as each step completes and is read by later steps that build on
// earlier resources.
type State struct {
	// Network results
	NetworkID       string
	SubnetIDs       []string
	SecurityGroupID string

	// Storage results
	FilesystemID   string
	MountTargetIDs []string

	// Identity results
	RoleName    string
	ProfileName string
	ProfileArn  string

	// Compute results
	KeyPairName string
	ImageID     string
	Placement   pricing.Placement
	InstanceIDs []string

	// Load balancer results
	LoadBalancerArn string
	TargetGroupArn  string
	ListenerArn     string
}

// NewState creates an empty provisioning state.
func NewState() *State {
	return &State{}
}

// Context wraps all dependencies and state needed by a provisioning step.
type Context struct {
	context.Context
	Config     *config.Config
	State      *State
	Deployment *state.DeploymentState
	Store      state.Store
	Clients    *platformaws.Clients
	Observer   Observer
	Metrics    *Metrics
	Timeouts   *config.Timeouts
}

// NewContext creates a provisioning context with a console observer and
// default timeouts.
func NewContext(
	ctx context.Context,
	cfg *config.Config,
	deployment *state.DeploymentState,
	store state.Store,
	clients *platformaws.Clients,
) *Context {
	return &Context{
		Context:    ctx,
		Config:     cfg,
		State:      NewState(),
		Deployment: deployment,
		Store:      store,
		Clients:    clients,
		Observer:   NewConsoleObserver(),
		Metrics:    NewMetrics(),
		Timeouts:   config.LoadTimeouts(),
	}
}

// SaveState persists the deployment state through the configured store.
func (c *Context) SaveState() error {
	return c.Store.Save(c, c.Deployment)
}
