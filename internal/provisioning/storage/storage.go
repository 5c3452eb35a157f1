// Package storage provisions the shared filesystem and its per-subnet
// mount targets.
package storage

import (
	"context"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/efs"
	efstypes "github.com/aws/aws-sdk-go-v2/service/efs/types"

	platformaws "github.com/stacktier/stacktier/internal/platform/aws"
	"github.com/stacktier/stacktier/internal/provisioning"
	"github.com/stacktier/stacktier/internal/retry"
	"github.com/stacktier/stacktier/internal/state"
	"github.com/stacktier/stacktier/internal/util/naming"
	"github.com/stacktier/stacktier/internal/util/tags"
)

const step = "storage"

// Provisioner creates the shared filesystem layer.
type Provisioner struct{}

// New creates a storage provisioner.
func New() *Provisioner {
	return &Provisioner{}
}

// Provision creates the filesystem, waits for it to become available, then
// creates one mount target per subnet. Mount target creation against a
// filesystem that is not yet available fails, so the wait is not optional.
func (p *Provisioner) Provision(ctx *provisioning.Context) error {
	if err := p.createFilesystem(ctx); err != nil {
		return err
	}
	if err := p.waitFilesystemAvailable(ctx); err != nil {
		return err
	}
	return p.createMountTargets(ctx)
}

func (p *Provisioner) createFilesystem(ctx *provisioning.Context) error {
	cfg := ctx.Config
	name := naming.Filesystem(cfg.Stack)
	tagSet := tags.NewBuilder(cfg.Stack).WithTier(string(cfg.Tier)).WithName(name).Build()

	provisioning.LogResourceCreating(ctx.Observer, step, "filesystem", name)
	out, err := ctx.Clients.EFS.CreateFileSystem(ctx, &efs.CreateFileSystemInput{
		CreationToken:   awsv2.String(name),
		PerformanceMode: efstypes.PerformanceMode(cfg.Storage.PerformanceMode),
		Encrypted:       awsv2.Bool(cfg.Storage.Encrypted),
		Tags:            platformaws.EFSTags(tagSet),
	})
	if err != nil {
		return fmt.Errorf("failed to create filesystem: %w", err)
	}

	id := awsv2.ToString(out.FileSystemId)
	ctx.State.FilesystemID = id
	if err := ctx.Deployment.AddResource(state.ResourceRecord{
		Family:     state.FamilyFilesystem,
		Name:       name,
		ID:         id,
		Provenance: state.ProvenanceCreated,
		Tags:       tagSet,
		LastState:  string(out.LifeCycleState),
	}); err != nil {
		return err
	}
	provisioning.LogResourceCreated(ctx.Observer, step, "filesystem", name, id)
	return nil
}

// fatalLifecycle lists the states a filesystem or mount target cannot
// recover from.
var fatalLifecycle = map[efstypes.LifeCycleState]bool{
	efstypes.LifeCycleStateDeleting: true,
	efstypes.LifeCycleStateDeleted:  true,
	efstypes.LifeCycleStateError:    true,
}

func (p *Provisioner) waitFilesystemAvailable(ctx *provisioning.Context) error {
	id := ctx.State.FilesystemID

	last, err := retry.Poll(ctx,
		retry.PollOptions{
			MaxAttempts: ctx.Timeouts.FilesystemAttempts,
			Delay:       ctx.Timeouts.FilesystemDelay,
			What:        fmt.Sprintf("filesystem %s", id),
		},
		func(c context.Context) (efstypes.LifeCycleState, error) {
			out, err := ctx.Clients.EFS.DescribeFileSystems(c, &efs.DescribeFileSystemsInput{
				FileSystemId: awsv2.String(id),
			})
			if err != nil {
				return "", err
			}
			if len(out.FileSystems) == 0 {
				return efstypes.LifeCycleStateDeleted, nil
			}
			return out.FileSystems[0].LifeCycleState, nil
		},
		func(s efstypes.LifeCycleState) bool { return s == efstypes.LifeCycleStateAvailable },
		func(s efstypes.LifeCycleState) bool { return fatalLifecycle[s] },
		func(s efstypes.LifeCycleState) string { return string(s) },
	)
	ctx.Deployment.ObserveState(id, string(last))
	return err
}

func (p *Provisioner) createMountTargets(ctx *provisioning.Context) error {
	cfg := ctx.Config
	for i, subnetID := range ctx.State.SubnetIDs {
		name := naming.MountTarget(cfg.Stack, i)

		provisioning.LogResourceCreating(ctx.Observer, step, "mount target", name)
		out, err := ctx.Clients.EFS.CreateMountTarget(ctx, &efs.CreateMountTargetInput{
			FileSystemId:   awsv2.String(ctx.State.FilesystemID),
			SubnetId:       awsv2.String(subnetID),
			SecurityGroups: []string{ctx.State.SecurityGroupID},
		})
		if err != nil {
			return fmt.Errorf("failed to create mount target in %s: %w", subnetID, err)
		}

		id := awsv2.ToString(out.MountTargetId)
		ctx.State.MountTargetIDs = append(ctx.State.MountTargetIDs, id)
		if err := ctx.Deployment.AddResource(state.ResourceRecord{
			Family:     state.FamilyMountTarget,
			Name:       name,
			ID:         id,
			Provenance: state.ProvenanceCreated,
			LastState:  string(out.LifeCycleState),
		}); err != nil {
			return err
		}

		if err := p.waitMountTargetAvailable(ctx, id); err != nil {
			return err
		}
		provisioning.LogResourceCreated(ctx.Observer, step, "mount target", name, id)
	}
	return nil
}

func (p *Provisioner) waitMountTargetAvailable(ctx *provisioning.Context, id string) error {
	last, err := retry.Poll(ctx,
		retry.PollOptions{
			MaxAttempts: ctx.Timeouts.MountTargetAttempts,
			Delay:       ctx.Timeouts.MountTargetDelay,
			What:        fmt.Sprintf("mount target %s", id),
		},
		func(c context.Context) (efstypes.LifeCycleState, error) {
			out, err := ctx.Clients.EFS.DescribeMountTargets(c, &efs.DescribeMountTargetsInput{
				MountTargetId: awsv2.String(id),
			})
			if err != nil {
				return "", err
			}
			if len(out.MountTargets) == 0 {
				return efstypes.LifeCycleStateDeleted, nil
			}
			return out.MountTargets[0].LifeCycleState, nil
		},
		func(s efstypes.LifeCycleState) bool { return s == efstypes.LifeCycleStateAvailable },
		func(s efstypes.LifeCycleState) bool { return fatalLifecycle[s] },
		func(s efstypes.LifeCycleState) string { return string(s) },
	)
	ctx.Deployment.ObserveState(id, string(last))
	return err
}

// DestroyResource deletes one storage resource.
func (p *Provisioner) DestroyResource(ctx *provisioning.Context, rec state.ResourceRecord) error {
	switch rec.Family {
	case state.FamilyMountTarget:
		_, err := ctx.Clients.EFS.DeleteMountTarget(ctx, &efs.DeleteMountTargetInput{
			MountTargetId: awsv2.String(rec.ID),
		})
		return err
	case state.FamilyFilesystem:
		_, err := ctx.Clients.EFS.DeleteFileSystem(ctx, &efs.DeleteFileSystemInput{
			FileSystemId: awsv2.String(rec.ID),
		})
		return err
	default:
		return fmt.Errorf("storage provisioner cannot destroy %s resources", rec.Family)
	}
}
