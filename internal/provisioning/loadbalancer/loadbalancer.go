// Package loadbalancer provisions the application load balancer, target
// group, and listener for tiers that front the fleet with one.
package loadbalancer

import (
	"context"
	"fmt"
	"strings"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	platformaws "github.com/stacktier/stacktier/internal/platform/aws"
	"github.com/stacktier/stacktier/internal/provisioning"
	"github.com/stacktier/stacktier/internal/retry"
	"github.com/stacktier/stacktier/internal/state"
	"github.com/stacktier/stacktier/internal/util/naming"
	"github.com/stacktier/stacktier/internal/util/tags"
)

const step = "loadbalancer"

// Provisioner creates the load balancer stack and registers the fleet.
type Provisioner struct{}

func New() *Provisioner {
	return &Provisioner{}
}

// Provision creates the load balancer, target group, and listener, registers
// every launched instance, and waits until all targets report healthy.
func (p *Provisioner) Provision(ctx *provisioning.Context) error {
	if len(ctx.State.InstanceIDs) == 0 {
		return fmt.Errorf("no instances launched before load balancer attachment")
	}

	// A re-run against a scaled stack keeps the balancer from the first
	// deployment and only refreshes target registration.
	resumed := ctx.Deployment.Resource(state.FamilyLoadBalancer, naming.LoadBalancer(ctx.Config.Stack)) != nil &&
		ctx.Deployment.Resource(state.FamilyTargetGroup, naming.TargetGroup(ctx.Config.Stack)) != nil

	if err := p.createLoadBalancer(ctx); err != nil {
		return err
	}
	if err := p.createTargetGroup(ctx); err != nil {
		return err
	}
	if !resumed {
		if err := p.createListener(ctx); err != nil {
			return err
		}
	}
	if err := p.registerTargets(ctx); err != nil {
		return err
	}
	return p.waitTargetsHealthy(ctx)
}

func (p *Provisioner) createLoadBalancer(ctx *provisioning.Context) error {
	cfg := ctx.Config
	name := naming.LoadBalancer(cfg.Stack)

	if existing := ctx.Deployment.Resource(state.FamilyLoadBalancer, name); existing != nil {
		ctx.State.LoadBalancerArn = existing.ID
		provisioning.LogResourceReused(ctx.Observer, step, "load balancer", existing.ID)
		return nil
	}

	provisioning.LogResourceCreating(ctx.Observer, step, "load balancer", name)
	out, err := ctx.Clients.ELB.CreateLoadBalancer(ctx, &elbv2.CreateLoadBalancerInput{
		Name:           awsv2.String(name),
		Type:           elbv2types.LoadBalancerTypeEnumApplication,
		Scheme:         elbv2types.LoadBalancerSchemeEnumInternetFacing,
		Subnets:        ctx.State.SubnetIDs,
		SecurityGroups: []string{ctx.State.SecurityGroupID},
		Tags: platformaws.ELBTags(
			tags.NewBuilder(cfg.Stack).WithTier(string(cfg.Tier)).WithName(name).Build()),
	})
	if err != nil {
		return fmt.Errorf("failed to create load balancer %s: %w", name, err)
	}
	if len(out.LoadBalancers) == 0 {
		return fmt.Errorf("load balancer creation returned no descriptors")
	}

	lb := out.LoadBalancers[0]
	arn := awsv2.ToString(lb.LoadBalancerArn)
	lastState := ""
	if lb.State != nil {
		lastState = string(lb.State.Code)
	}
	ctx.State.LoadBalancerArn = arn
	if err := ctx.Deployment.AddResource(state.ResourceRecord{
		Family:     state.FamilyLoadBalancer,
		Name:       name,
		ID:         arn,
		Provenance: state.ProvenanceCreated,
		LastState:  lastState,
	}); err != nil {
		return err
	}
	provisioning.LogResourceCreated(ctx.Observer, step, "load balancer", name, arn)
	return nil
}

func (p *Provisioner) createTargetGroup(ctx *provisioning.Context) error {
	cfg := ctx.Config
	name := naming.TargetGroup(cfg.Stack)

	if existing := ctx.Deployment.Resource(state.FamilyTargetGroup, name); existing != nil {
		ctx.State.TargetGroupArn = existing.ID
		provisioning.LogResourceReused(ctx.Observer, step, "target group", existing.ID)
		return nil
	}

	provisioning.LogResourceCreating(ctx.Observer, step, "target group", name)
	out, err := ctx.Clients.ELB.CreateTargetGroup(ctx, &elbv2.CreateTargetGroupInput{
		Name:            awsv2.String(name),
		Protocol:        elbv2types.ProtocolEnumHttp,
		Port:            awsv2.Int32(cfg.LoadBalancer.Port),
		VpcId:           awsv2.String(ctx.State.NetworkID),
		TargetType:      elbv2types.TargetTypeEnumInstance,
		HealthCheckPath: awsv2.String(cfg.LoadBalancer.HealthCheckPath),
		Tags: platformaws.ELBTags(
			tags.NewBuilder(cfg.Stack).WithTier(string(cfg.Tier)).WithName(name).Build()),
	})
	if err != nil {
		return fmt.Errorf("failed to create target group %s: %w", name, err)
	}
	if len(out.TargetGroups) == 0 {
		return fmt.Errorf("target group creation returned no descriptors")
	}

	arn := awsv2.ToString(out.TargetGroups[0].TargetGroupArn)
	ctx.State.TargetGroupArn = arn
	if err := ctx.Deployment.AddResource(state.ResourceRecord{
		Family:     state.FamilyTargetGroup,
		Name:       name,
		ID:         arn,
		Provenance: state.ProvenanceCreated,
	}); err != nil {
		return err
	}
	provisioning.LogResourceCreated(ctx.Observer, step, "target group", name, arn)
	return nil
}

func (p *Provisioner) createListener(ctx *provisioning.Context) error {
	out, err := ctx.Clients.ELB.CreateListener(ctx, &elbv2.CreateListenerInput{
		LoadBalancerArn: awsv2.String(ctx.State.LoadBalancerArn),
		Protocol:        elbv2types.ProtocolEnumHttp,
		Port:            awsv2.Int32(ctx.Config.LoadBalancer.Port),
		DefaultActions: []elbv2types.Action{{
			Type:           elbv2types.ActionTypeEnumForward,
			TargetGroupArn: awsv2.String(ctx.State.TargetGroupArn),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	if len(out.Listeners) > 0 {
		ctx.State.ListenerArn = awsv2.ToString(out.Listeners[0].ListenerArn)
	}
	return nil
}

func (p *Provisioner) registerTargets(ctx *provisioning.Context) error {
	targets := make([]elbv2types.TargetDescription, 0, len(ctx.State.InstanceIDs))
	for _, id := range ctx.State.InstanceIDs {
		targets = append(targets, elbv2types.TargetDescription{Id: awsv2.String(id)})
	}
	_, err := ctx.Clients.ELB.RegisterTargets(ctx, &elbv2.RegisterTargetsInput{
		TargetGroupArn: awsv2.String(ctx.State.TargetGroupArn),
		Targets:        targets,
	})
	if err != nil {
		return fmt.Errorf("failed to register targets: %w", err)
	}
	return nil
}

func (p *Provisioner) waitTargetsHealthy(ctx *provisioning.Context) error {
	ids := ctx.State.InstanceIDs

	_, err := retry.Poll(ctx,
		retry.PollOptions{
			MaxAttempts: ctx.Timeouts.TargetHealthAttempts,
			Delay:       ctx.Timeouts.TargetHealthDelay,
			What:        fmt.Sprintf("target group %s", naming.TargetGroup(ctx.Config.Stack)),
		},
		func(c context.Context) (map[string]elbv2types.TargetHealthStateEnum, error) {
			out, err := ctx.Clients.ELB.DescribeTargetHealth(c, &elbv2.DescribeTargetHealthInput{
				TargetGroupArn: awsv2.String(ctx.State.TargetGroupArn),
			})
			if err != nil {
				return nil, err
			}
			observed := make(map[string]elbv2types.TargetHealthStateEnum, len(ids))
			for _, desc := range out.TargetHealthDescriptions {
				if desc.Target == nil || desc.TargetHealth == nil {
					continue
				}
				observed[awsv2.ToString(desc.Target.Id)] = desc.TargetHealth.State
			}
			return observed, nil
		},
		func(observed map[string]elbv2types.TargetHealthStateEnum) bool {
			for _, id := range ids {
				if observed[id] != elbv2types.TargetHealthStateEnumHealthy {
					return false
				}
			}
			return true
		},
		func(observed map[string]elbv2types.TargetHealthStateEnum) bool {
			// A target the balancer has given up on will not recover
			// without a new deployment.
			for _, s := range observed {
				if s == elbv2types.TargetHealthStateEnumUnhealthy {
					return true
				}
			}
			return false
		},
		summarizeTargetStates,
	)
	return err
}

func summarizeTargetStates(observed map[string]elbv2types.TargetHealthStateEnum) string {
	counts := make(map[elbv2types.TargetHealthStateEnum]int)
	for _, s := range observed {
		counts[s]++
	}
	parts := make([]string, 0, len(counts))
	for s, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", s, n))
	}
	return strings.Join(parts, " ")
}

// DestroyResource removes one load balancing resource. Listener removal is
// implicit in load balancer deletion.
func (p *Provisioner) DestroyResource(ctx *provisioning.Context, rec state.ResourceRecord) error {
	switch rec.Family {
	case state.FamilyLoadBalancer:
		_, err := ctx.Clients.ELB.DeleteLoadBalancer(ctx, &elbv2.DeleteLoadBalancerInput{
			LoadBalancerArn: awsv2.String(rec.ID),
		})
		return err
	case state.FamilyTargetGroup:
		_, err := ctx.Clients.ELB.DeleteTargetGroup(ctx, &elbv2.DeleteTargetGroupInput{
			TargetGroupArn: awsv2.String(rec.ID),
		})
		return err
	default:
		return fmt.Errorf("loadbalancer provisioner cannot destroy %s resources", rec.Family)
	}
}
