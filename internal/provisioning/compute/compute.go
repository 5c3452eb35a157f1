// Package compute provisions the instance fleet: key pair import, launch
// with the selected placement, and the wait to running.
package compute

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/stacktier/stacktier/internal/keygen"
	platformaws "github.com/stacktier/stacktier/internal/platform/aws"
	"github.com/stacktier/stacktier/internal/pricing"
	"github.com/stacktier/stacktier/internal/provisioning"
	"github.com/stacktier/stacktier/internal/retry"
	"github.com/stacktier/stacktier/internal/state"
	"github.com/stacktier/stacktier/internal/util/naming"
	"github.com/stacktier/stacktier/internal/util/tags"
)

const step = "compute"

// Provisioner launches the instance fleet.
type Provisioner struct {
	attempt retry.AttemptOptions

	// keyDir is where generated private keys are written. Defaults to
	// ~/.stacktier/keys.
	keyDir string
}

// New creates a compute provisioner with the default propagation-retry
// window.
func New() *Provisioner {
	return &Provisioner{attempt: retry.DefaultAttemptOptions()}
}

// NewWithOptions creates a compute provisioner with explicit retry options
// and key directory.
func NewWithOptions(attempt retry.AttemptOptions, keyDir string) *Provisioner {
	return &Provisioner{attempt: attempt, keyDir: keyDir}
}

// Provision imports a key pair, launches the fleet under the placement
// already selected in the provisioning state, retries launches rejected by
// identity-profile propagation delay, and waits for every instance to reach
// running.
func (p *Provisioner) Provision(ctx *provisioning.Context) error {
	if ctx.State.ImageID == "" {
		return fmt.Errorf("no image resolved before compute launch")
	}
	if ctx.State.Placement.Market == "" {
		// Selection is skipped entirely for tiers without spot support.
		ctx.State.Placement = pricing.Placement{
			Market:       pricing.MarketOnDemand,
			InstanceType: ctx.Config.Compute.InstanceType,
			HourlyPrice:  pricing.OnDemandPrice(ctx.Config.Compute.InstanceType),
		}
	}

	if err := p.importKeyPair(ctx); err != nil {
		return err
	}
	if err := p.launchInstances(ctx); err != nil {
		return err
	}
	return p.waitInstancesRunning(ctx)
}

func (p *Provisioner) importKeyPair(ctx *provisioning.Context) error {
	cfg := ctx.Config
	name := naming.KeyPair(cfg.Stack)

	// A resumed run keeps the key pair from the interrupted one.
	if existing := ctx.Deployment.Resource(state.FamilyKeyPair, name); existing != nil {
		ctx.State.KeyPairName = existing.ID
		provisioning.LogResourceReused(ctx.Observer, step, "key pair", existing.ID)
		return nil
	}

	kp, err := keygen.GenerateED25519KeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate key pair: %w", err)
	}

	provisioning.LogResourceCreating(ctx.Observer, step, "key pair", name)
	out, err := ctx.Clients.EC2.ImportKeyPair(ctx, &ec2.ImportKeyPairInput{
		KeyName:           awsv2.String(name),
		PublicKeyMaterial: kp.PublicKey,
		TagSpecifications: []ec2types.TagSpecification{
			platformaws.EC2TagSpec(ec2types.ResourceTypeKeyPair,
				tags.NewBuilder(cfg.Stack).WithTier(string(cfg.Tier)).Build()),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to import key pair: %w", err)
	}

	if err := p.writePrivateKey(cfg.Stack, kp.PrivateKey); err != nil {
		return err
	}

	ctx.State.KeyPairName = name
	if err := ctx.Deployment.AddResource(state.ResourceRecord{
		Family:     state.FamilyKeyPair,
		Name:       name,
		ID:         name,
		Provenance: state.ProvenanceCreated,
	}); err != nil {
		return err
	}
	provisioning.LogResourceCreated(ctx.Observer, step, "key pair", name, awsv2.ToString(out.KeyPairId))
	return nil
}

func (p *Provisioner) writePrivateKey(stack string, pemBytes []byte) error {
	dir := p.keyDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to locate home directory: %w", err)
		}
		dir = filepath.Join(home, ".stacktier", "keys")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	path := filepath.Join(dir, stack+".pem")
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	return nil
}

func (p *Provisioner) launchInstances(ctx *provisioning.Context) error {
	cfg := ctx.Config
	placement := ctx.State.Placement

	if len(ctx.State.SubnetIDs) == 0 {
		return fmt.Errorf("no subnets available to place instances in")
	}

	for i := 0; i < cfg.Compute.Count; i++ {
		name := naming.Instance(cfg.Stack, i)
		if existing := ctx.Deployment.Resource(state.FamilyInstance, name); existing != nil {
			ctx.State.InstanceIDs = append(ctx.State.InstanceIDs, existing.ID)
			continue
		}
		tagSet := tags.NewBuilder(cfg.Stack).WithTier(string(cfg.Tier)).WithName(name).Build()
		subnetID := ctx.State.SubnetIDs[i%len(ctx.State.SubnetIDs)]

		input := &ec2.RunInstancesInput{
			ImageId:      awsv2.String(ctx.State.ImageID),
			InstanceType: ec2types.InstanceType(placement.InstanceType),
			MinCount:     awsv2.Int32(1),
			MaxCount:     awsv2.Int32(1),
			KeyName:      awsv2.String(ctx.State.KeyPairName),
			SubnetId:     awsv2.String(subnetID),
			SecurityGroupIds: []string{
				ctx.State.SecurityGroupID,
			},
			IamInstanceProfile: &ec2types.IamInstanceProfileSpecification{
				Name: awsv2.String(ctx.State.ProfileName),
			},
			TagSpecifications: []ec2types.TagSpecification{
				platformaws.EC2TagSpec(ec2types.ResourceTypeInstance, tagSet),
			},
		}
		if cfg.BootstrapScript != "" {
			// Opaque payload from the template collaborator; encoded,
			// never parsed.
			input.UserData = awsv2.String(base64.StdEncoding.EncodeToString([]byte(cfg.BootstrapScript)))
		}
		if placement.Market == pricing.MarketSpot {
			input.InstanceMarketOptions = &ec2types.InstanceMarketOptionsRequest{
				MarketType: ec2types.MarketTypeSpot,
				SpotOptions: &ec2types.SpotMarketOptions{
					SpotInstanceType:             ec2types.SpotInstanceTypeOneTime,
					InstanceInterruptionBehavior: ec2types.InstanceInterruptionBehaviorTerminate,
				},
			}
		}

		provisioning.LogResourceCreating(ctx.Observer, step, "instance", name)
		out, err := retry.Attempt(ctx, p.attempt,
			func(c context.Context) (*ec2.RunInstancesOutput, error) {
				return ctx.Clients.EC2.RunInstances(c, input)
			},
			func(err error) bool {
				if platformaws.IsProfilePropagation(err) {
					if ctx.Metrics != nil {
						ctx.Metrics.PropagationRetries.Inc()
					}
					ctx.Observer.Printf("launch of %s rejected by profile propagation delay, retrying", name)
					return true
				}
				return false
			},
		)
		if err != nil {
			return fmt.Errorf("failed to launch instance %s: %w", name, err)
		}
		if len(out.Instances) == 0 {
			return fmt.Errorf("launch of %s returned no instances", name)
		}

		id := awsv2.ToString(out.Instances[0].InstanceId)
		ctx.State.InstanceIDs = append(ctx.State.InstanceIDs, id)
		if err := ctx.Deployment.AddResource(state.ResourceRecord{
			Family:     state.FamilyInstance,
			Name:       name,
			ID:         id,
			Provenance: state.ProvenanceCreated,
			Tags:       tagSet,
			LastState:  string(out.Instances[0].State.Name),
		}); err != nil {
			return err
		}
		provisioning.LogResourceCreated(ctx.Observer, step, "instance", name, id)
	}
	return nil
}

// fatalInstanceStates are states a freshly launched instance cannot leave.
var fatalInstanceStates = map[ec2types.InstanceStateName]bool{
	ec2types.InstanceStateNameShuttingDown: true,
	ec2types.InstanceStateNameTerminated:   true,
	ec2types.InstanceStateNameStopping:     true,
	ec2types.InstanceStateNameStopped:      true,
}

func (p *Provisioner) waitInstancesRunning(ctx *provisioning.Context) error {
	ids := ctx.State.InstanceIDs

	states, err := retry.Poll(ctx,
		retry.PollOptions{
			MaxAttempts: ctx.Timeouts.InstanceAttempts,
			Delay:       ctx.Timeouts.InstanceDelay,
			What:        fmt.Sprintf("instances %s", strings.Join(ids, ",")),
		},
		func(c context.Context) (map[string]ec2types.InstanceStateName, error) {
			out, err := ctx.Clients.EC2.DescribeInstances(c, &ec2.DescribeInstancesInput{
				InstanceIds: ids,
			})
			if err != nil {
				return nil, err
			}
			observed := make(map[string]ec2types.InstanceStateName, len(ids))
			for _, res := range out.Reservations {
				for _, inst := range res.Instances {
					observed[awsv2.ToString(inst.InstanceId)] = inst.State.Name
				}
			}
			return observed, nil
		},
		func(observed map[string]ec2types.InstanceStateName) bool {
			for _, id := range ids {
				if observed[id] != ec2types.InstanceStateNameRunning {
					return false
				}
			}
			return true
		},
		func(observed map[string]ec2types.InstanceStateName) bool {
			for _, s := range observed {
				if fatalInstanceStates[s] {
					return true
				}
			}
			return false
		},
		summarizeInstanceStates,
	)

	for id, s := range states {
		ctx.Deployment.ObserveState(id, string(s))
	}
	return err
}

func summarizeInstanceStates(observed map[string]ec2types.InstanceStateName) string {
	counts := make(map[ec2types.InstanceStateName]int)
	for _, s := range observed {
		counts[s]++
	}
	parts := make([]string, 0, len(counts))
	for s, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", s, n))
	}
	return strings.Join(parts, " ")
}

// DestroyResource terminates one compute resource.
func (p *Provisioner) DestroyResource(ctx *provisioning.Context, rec state.ResourceRecord) error {
	switch rec.Family {
	case state.FamilyInstance:
		_, err := ctx.Clients.EC2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
			InstanceIds: []string{rec.ID},
		})
		return err
	case state.FamilyKeyPair:
		_, err := ctx.Clients.EC2.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
			KeyName: awsv2.String(rec.ID),
		})
		return err
	default:
		return fmt.Errorf("compute provisioner cannot destroy %s resources", rec.Family)
	}
}
