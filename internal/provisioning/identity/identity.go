// Package identity provisions the instance role and profile the compute
// fleet launches with.
package identity

import (
	"context"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	platformaws "github.com/stacktier/stacktier/internal/platform/aws"
	"github.com/stacktier/stacktier/internal/provisioning"
	"github.com/stacktier/stacktier/internal/retry"
	"github.com/stacktier/stacktier/internal/state"
	"github.com/stacktier/stacktier/internal/util/naming"
	"github.com/stacktier/stacktier/internal/util/tags"
)

const step = "identity"

// assumeRolePolicy lets EC2 instances assume the role.
const assumeRolePolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Principal": {"Service": "ec2.amazonaws.com"},
      "Action": "sts:AssumeRole"
    }
  ]
}`

// managedPolicyArn grants the fleet session access without SSH exposure.
const managedPolicyArn = "arn:aws:iam::aws:policy/AmazonSSMManagedInstanceCore"

// Provisioner creates the identity layer.
type Provisioner struct{}

// New creates an identity provisioner.
func New() *Provisioner {
	return &Provisioner{}
}

// Provision creates the role and instance profile, attaches the role, and
// waits until a profile read reflects the attachment. The identity service
// is eventually consistent relative to readers, so the wait confirms the
// write is visible before any launch references the profile.
func (p *Provisioner) Provision(ctx *provisioning.Context) error {
	if err := p.createRole(ctx); err != nil {
		return err
	}
	if err := p.createProfile(ctx); err != nil {
		return err
	}
	return p.waitProfileShowsRole(ctx)
}

func (p *Provisioner) createRole(ctx *provisioning.Context) error {
	cfg := ctx.Config
	name := naming.Role(cfg.Stack)
	tagSet := tags.NewBuilder(cfg.Stack).WithTier(string(cfg.Tier)).Build()

	provisioning.LogResourceCreating(ctx.Observer, step, "iam role", name)
	if _, err := ctx.Clients.IAM.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 awsv2.String(name),
		AssumeRolePolicyDocument: awsv2.String(assumeRolePolicy),
		Tags:                     platformaws.IAMTags(tagSet),
	}); err != nil {
		return fmt.Errorf("failed to create role %s: %w", name, err)
	}

	if _, err := ctx.Clients.IAM.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  awsv2.String(name),
		PolicyArn: awsv2.String(managedPolicyArn),
	}); err != nil {
		return fmt.Errorf("failed to attach policy to %s: %w", name, err)
	}

	ctx.State.RoleName = name
	if err := ctx.Deployment.AddResource(state.ResourceRecord{
		Family:     state.FamilyRole,
		Name:       name,
		ID:         name,
		Provenance: state.ProvenanceCreated,
		Tags:       tagSet,
	}); err != nil {
		return err
	}
	provisioning.LogResourceCreated(ctx.Observer, step, "iam role", name, name)
	return nil
}

func (p *Provisioner) createProfile(ctx *provisioning.Context) error {
	cfg := ctx.Config
	name := naming.InstanceProfile(cfg.Stack)
	tagSet := tags.NewBuilder(cfg.Stack).WithTier(string(cfg.Tier)).Build()

	provisioning.LogResourceCreating(ctx.Observer, step, "instance profile", name)
	out, err := ctx.Clients.IAM.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
		InstanceProfileName: awsv2.String(name),
		Tags:                platformaws.IAMTags(tagSet),
	})
	if err != nil {
		return fmt.Errorf("failed to create instance profile %s: %w", name, err)
	}

	if _, err := ctx.Clients.IAM.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
		InstanceProfileName: awsv2.String(name),
		RoleName:            awsv2.String(ctx.State.RoleName),
	}); err != nil {
		return fmt.Errorf("failed to add role to profile %s: %w", name, err)
	}

	ctx.State.ProfileName = name
	ctx.State.ProfileArn = awsv2.ToString(out.InstanceProfile.Arn)
	if err := ctx.Deployment.AddResource(state.ResourceRecord{
		Family:     state.FamilyInstanceProfile,
		Name:       name,
		ID:         name,
		Provenance: state.ProvenanceCreated,
		Tags:       tagSet,
	}); err != nil {
		return err
	}
	provisioning.LogResourceCreated(ctx.Observer, step, "instance profile", name, ctx.State.ProfileArn)
	return nil
}

func (p *Provisioner) waitProfileShowsRole(ctx *provisioning.Context) error {
	name := ctx.State.ProfileName
	role := ctx.State.RoleName

	_, err := retry.Poll(ctx,
		retry.PollOptions{
			MaxAttempts: ctx.Timeouts.IdentityAttempts,
			Delay:       ctx.Timeouts.IdentityDelay,
			What:        fmt.Sprintf("instance profile %s", name),
		},
		func(c context.Context) (bool, error) {
			out, err := ctx.Clients.IAM.GetInstanceProfile(c, &iam.GetInstanceProfileInput{
				InstanceProfileName: awsv2.String(name),
			})
			if err != nil {
				if platformaws.IsNotFound(err) {
					// The profile write itself may not be visible yet.
					return false, nil
				}
				return false, err
			}
			for _, r := range out.InstanceProfile.Roles {
				if awsv2.ToString(r.RoleName) == role {
					return true, nil
				}
			}
			return false, nil
		},
		func(ok bool) bool { return ok },
		nil,
		func(ok bool) string {
			if ok {
				return "role attached"
			}
			return "role not yet visible"
		},
	)
	if err != nil {
		return err
	}
	ctx.Deployment.ObserveState(name, "role attached")
	return nil
}

// DestroyResource deletes one identity resource. The profile's role
// attachment and the role's managed policies are detached first, since
// the service refuses to delete entities with attachments.
func (p *Provisioner) DestroyResource(ctx *provisioning.Context, rec state.ResourceRecord) error {
	switch rec.Family {
	case state.FamilyInstanceProfile:
		return p.destroyProfile(ctx, rec.ID)
	case state.FamilyRole:
		return p.destroyRole(ctx, rec.ID)
	default:
		return fmt.Errorf("identity provisioner cannot destroy %s resources", rec.Family)
	}
}

func (p *Provisioner) destroyProfile(ctx *provisioning.Context, name string) error {
	out, err := ctx.Clients.IAM.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{
		InstanceProfileName: awsv2.String(name),
	})
	if err != nil {
		if platformaws.IsNotFound(err) {
			return nil
		}
		return err
	}
	for _, role := range out.InstanceProfile.Roles {
		if _, err := ctx.Clients.IAM.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
			InstanceProfileName: awsv2.String(name),
			RoleName:            role.RoleName,
		}); err != nil {
			return err
		}
	}
	_, err = ctx.Clients.IAM.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{
		InstanceProfileName: awsv2.String(name),
	})
	return err
}

func (p *Provisioner) destroyRole(ctx *provisioning.Context, name string) error {
	policies, err := ctx.Clients.IAM.ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: awsv2.String(name),
	})
	if err != nil {
		if platformaws.IsNotFound(err) {
			return nil
		}
		return err
	}
	for _, policy := range policies.AttachedPolicies {
		if _, err := ctx.Clients.IAM.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  awsv2.String(name),
			PolicyArn: policy.PolicyArn,
		}); err != nil {
			return err
		}
	}
	_, err = ctx.Clients.IAM.DeleteRole(ctx, &iam.DeleteRoleInput{
		RoleName: awsv2.String(name),
	})
	return err
}
