// Package network provisions the VPC, subnets and security group for a
// stack, or adopts user-supplied ones.
package network

import (
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	platformaws "github.com/stacktier/stacktier/internal/platform/aws"
	"github.com/stacktier/stacktier/internal/provisioning"
	"github.com/stacktier/stacktier/internal/retry"
	"github.com/stacktier/stacktier/internal/state"
	"github.com/stacktier/stacktier/internal/util/naming"
	"github.com/stacktier/stacktier/internal/util/tags"
)

const step = "network"

// Provisioner creates or adopts the network layer.
type Provisioner struct {
	backoff []retry.Option
}

// New creates a network provisioner.
func New() *Provisioner {
	return &Provisioner{}
}

// NewWithBackoff creates a network provisioner with custom backoff options
// for the security group delete.
func NewWithBackoff(opts ...retry.Option) *Provisioner {
	return &Provisioner{backoff: opts}
}

// Provision ensures the VPC, subnets and security group exist and records
// them in the deployment state. With a user-supplied network the create
// calls are replaced by read+validate adoption.
func (p *Provisioner) Provision(ctx *provisioning.Context) error {
	if ctx.Config.Reuse.NetworkID != "" {
		return p.adopt(ctx)
	}
	if err := p.createNetwork(ctx); err != nil {
		return err
	}
	if err := p.createSubnets(ctx); err != nil {
		return err
	}
	return p.createSecurityGroup(ctx)
}

func (p *Provisioner) createNetwork(ctx *provisioning.Context) error {
	cfg := ctx.Config
	name := naming.Network(cfg.Stack)
	tagSet := tags.NewBuilder(cfg.Stack).WithTier(string(cfg.Tier)).WithName(name).Build()

	provisioning.LogResourceCreating(ctx.Observer, step, "vpc", name)
	out, err := ctx.Clients.EC2.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: awsv2.String(cfg.Network.CIDR),
		TagSpecifications: []ec2types.TagSpecification{
			platformaws.EC2TagSpec(ec2types.ResourceTypeVpc, tagSet),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create vpc: %w", err)
	}

	id := awsv2.ToString(out.Vpc.VpcId)
	ctx.State.NetworkID = id
	if err := ctx.Deployment.AddResource(state.ResourceRecord{
		Family:     state.FamilyNetwork,
		Name:       name,
		ID:         id,
		Provenance: state.ProvenanceCreated,
		Tags:       tagSet,
	}); err != nil {
		return err
	}
	provisioning.LogResourceCreated(ctx.Observer, step, "vpc", name, id)
	return nil
}

func (p *Provisioner) createSubnets(ctx *provisioning.Context) error {
	cfg := ctx.Config
	for i, cidr := range cfg.Network.SubnetCIDRs {
		name := naming.Subnet(cfg.Stack, i)
		tagSet := tags.NewBuilder(cfg.Stack).WithTier(string(cfg.Tier)).WithName(name).Build()

		input := &ec2.CreateSubnetInput{
			VpcId:     awsv2.String(ctx.State.NetworkID),
			CidrBlock: awsv2.String(cidr),
			TagSpecifications: []ec2types.TagSpecification{
				platformaws.EC2TagSpec(ec2types.ResourceTypeSubnet, tagSet),
			},
		}
		if i < len(cfg.Network.Zones) {
			input.AvailabilityZone = awsv2.String(cfg.Network.Zones[i])
		}

		provisioning.LogResourceCreating(ctx.Observer, step, "subnet", name)
		out, err := ctx.Clients.EC2.CreateSubnet(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to create subnet %s: %w", cidr, err)
		}

		id := awsv2.ToString(out.Subnet.SubnetId)
		ctx.State.SubnetIDs = append(ctx.State.SubnetIDs, id)
		if err := ctx.Deployment.AddResource(state.ResourceRecord{
			Family:     state.FamilySubnet,
			Name:       name,
			ID:         id,
			Provenance: state.ProvenanceCreated,
			Tags:       tagSet,
		}); err != nil {
			return err
		}
		provisioning.LogResourceCreated(ctx.Observer, step, "subnet", name, id)
	}
	return nil
}

func (p *Provisioner) createSecurityGroup(ctx *provisioning.Context) error {
	cfg := ctx.Config
	name := naming.SecurityGroup(cfg.Stack)
	tagSet := tags.NewBuilder(cfg.Stack).WithTier(string(cfg.Tier)).WithName(name).Build()

	provisioning.LogResourceCreating(ctx.Observer, step, "security group", name)
	out, err := ctx.Clients.EC2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   awsv2.String(name),
		Description: awsv2.String(fmt.Sprintf("application ingress for stack %s", cfg.Stack)),
		VpcId:       awsv2.String(ctx.State.NetworkID),
		TagSpecifications: []ec2types.TagSpecification{
			platformaws.EC2TagSpec(ec2types.ResourceTypeSecurityGroup, tagSet),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create security group: %w", err)
	}
	id := awsv2.ToString(out.GroupId)

	permissions := make([]ec2types.IpPermission, 0, len(cfg.Network.IngressPorts))
	for _, port := range cfg.Network.IngressPorts {
		permissions = append(permissions, ec2types.IpPermission{
			IpProtocol: awsv2.String("tcp"),
			FromPort:   awsv2.Int32(port),
			ToPort:     awsv2.Int32(port),
			IpRanges:   []ec2types.IpRange{{CidrIp: awsv2.String("0.0.0.0/0")}},
		})
	}
	if _, err := ctx.Clients.EC2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       awsv2.String(id),
		IpPermissions: permissions,
	}); err != nil {
		return fmt.Errorf("failed to authorize ingress on %s: %w", id, err)
	}

	ctx.State.SecurityGroupID = id
	if err := ctx.Deployment.AddResource(state.ResourceRecord{
		Family:     state.FamilySecurityGroup,
		Name:       name,
		ID:         id,
		Provenance: state.ProvenanceCreated,
		Tags:       tagSet,
	}); err != nil {
		return err
	}
	provisioning.LogResourceCreated(ctx.Observer, step, "security group", name, id)
	return nil
}

// adopt records user-supplied network resources without creating anything.
// Compatibility was already confirmed by pre-flight validation; reused
// records are never destroyed.
func (p *Provisioner) adopt(ctx *provisioning.Context) error {
	cfg := ctx.Config

	ctx.State.NetworkID = cfg.Reuse.NetworkID
	if err := ctx.Deployment.AddResource(state.ResourceRecord{
		Family:     state.FamilyNetwork,
		Name:       naming.Network(cfg.Stack),
		ID:         cfg.Reuse.NetworkID,
		Provenance: state.ProvenanceReused,
	}); err != nil {
		return err
	}
	provisioning.LogResourceReused(ctx.Observer, step, "vpc", cfg.Reuse.NetworkID)

	subnetIDs := cfg.Reuse.SubnetIDs
	provenance := state.ProvenanceReused
	if len(subnetIDs) == 0 {
		discovered, err := p.discoverSubnets(ctx)
		if err != nil {
			return err
		}
		subnetIDs = discovered
		provenance = state.ProvenanceDiscovered
	}
	for i, id := range subnetIDs {
		ctx.State.SubnetIDs = append(ctx.State.SubnetIDs, id)
		if err := ctx.Deployment.AddResource(state.ResourceRecord{
			Family:     state.FamilySubnet,
			Name:       naming.Subnet(cfg.Stack, i),
			ID:         id,
			Provenance: provenance,
		}); err != nil {
			return err
		}
		provisioning.LogResourceReused(ctx.Observer, step, "subnet", id)
	}

	if cfg.Reuse.SecurityGroupID != "" {
		ctx.State.SecurityGroupID = cfg.Reuse.SecurityGroupID
		if err := ctx.Deployment.AddResource(state.ResourceRecord{
			Family:     state.FamilySecurityGroup,
			Name:       naming.SecurityGroup(cfg.Stack),
			ID:         cfg.Reuse.SecurityGroupID,
			Provenance: state.ProvenanceReused,
		}); err != nil {
			return err
		}
		provisioning.LogResourceReused(ctx.Observer, step, "security group", cfg.Reuse.SecurityGroupID)
		return nil
	}

	// No group supplied: create one inside the reused network. It carries
	// created provenance and is cleaned up like any other owned resource.
	return p.createSecurityGroup(ctx)
}

func (p *Provisioner) discoverSubnets(ctx *provisioning.Context) ([]string, error) {
	out, err := ctx.Clients.EC2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{
			{Name: awsv2.String("vpc-id"), Values: []string{ctx.State.NetworkID}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover subnets in %s: %w", ctx.State.NetworkID, err)
	}
	if len(out.Subnets) == 0 {
		return nil, fmt.Errorf("network %s has no subnets to adopt", ctx.State.NetworkID)
	}
	ids := make([]string, 0, len(out.Subnets))
	for _, s := range out.Subnets {
		ids = append(ids, awsv2.ToString(s.SubnetId))
	}
	return ids, nil
}

// DestroyResource deletes one network-layer resource.
func (p *Provisioner) DestroyResource(ctx *provisioning.Context, rec state.ResourceRecord) error {
	switch rec.Family {
	case state.FamilySecurityGroup:
		// Instance network interfaces can linger for a short while after
		// termination, so the delete is retried while it reports a
		// dependency violation.
		return retry.WithExponentialBackoff(ctx, func() error {
			_, err := ctx.Clients.EC2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
				GroupId: awsv2.String(rec.ID),
			})
			if err != nil && !platformaws.IsDependencyViolation(err) {
				return retry.Fatal(err)
			}
			return err
		}, p.backoff...)
	case state.FamilySubnet:
		_, err := ctx.Clients.EC2.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{
			SubnetId: awsv2.String(rec.ID),
		})
		return err
	case state.FamilyNetwork:
		_, err := ctx.Clients.EC2.DeleteVpc(ctx, &ec2.DeleteVpcInput{
			VpcId: awsv2.String(rec.ID),
		})
		return err
	default:
		return fmt.Errorf("network provisioner cannot destroy %s resources", rec.Family)
	}
}
