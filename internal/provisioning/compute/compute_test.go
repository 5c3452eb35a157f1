package compute

import (
	"context"
	"testing"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacktier/stacktier/internal/config"
	platformaws "github.com/stacktier/stacktier/internal/platform/aws"
	"github.com/stacktier/stacktier/internal/pricing"
	"github.com/stacktier/stacktier/internal/provisioning"
	"github.com/stacktier/stacktier/internal/retry"
	"github.com/stacktier/stacktier/internal/state"
)

func testProvisioner(t *testing.T) *Provisioner {
	t.Helper()
	return NewWithOptions(retry.AttemptOptions{MaxAttempts: 5, Delay: 0}, t.TempDir())
}

func newTestContext(mock *platformaws.MockEC2, count int) *provisioning.Context {
	cfg := &config.Config{
		Stack:   "demo",
		Tier:    config.TierStandard,
		Region:  "us-east-1",
		Compute: config.ComputeConfig{InstanceType: "m5.large", Count: count},
	}
	timeouts := config.LoadTimeouts()
	timeouts.InstanceDelay = 0

	pctx := &provisioning.Context{
		Context:    context.Background(),
		Config:     cfg,
		State:      provisioning.NewState(),
		Deployment: state.New(cfg.Stack, string(cfg.Tier), cfg.Region, "run-1"),
		Clients:    &platformaws.Clients{EC2: mock},
		Observer:   provisioning.NopObserver{},
		Metrics:    provisioning.NewMetrics(),
		Timeouts:   timeouts,
	}
	pctx.State.ImageID = "ami-123"
	pctx.State.SubnetIDs = []string{"subnet-a", "subnet-b"}
	pctx.State.SecurityGroupID = "sg-1"
	pctx.State.ProfileName = "demo-instance-profile"
	pctx.State.Placement = pricing.Placement{
		Market:       pricing.MarketOnDemand,
		InstanceType: "m5.large",
		HourlyPrice:  0.096,
	}
	return pctx
}

func runningDescribe(ids *[]string) func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
		instances := make([]ec2types.Instance, 0, len(params.InstanceIds))
		for _, id := range params.InstanceIds {
			instances = append(instances, ec2types.Instance{
				InstanceId: awsv2.String(id),
				State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
			})
		}
		if ids != nil {
			*ids = params.InstanceIds
		}
		return &ec2.DescribeInstancesOutput{
			Reservations: []ec2types.Reservation{{Instances: instances}},
		}, nil
	}
}

func launchMock(launches *int, failFirst int, failErr error) *platformaws.MockEC2 {
	seq := 0
	return &platformaws.MockEC2{
		RunInstancesFunc: func(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
			*launches++
			if *launches <= failFirst {
				return nil, failErr
			}
			seq++
			id := awsv2.String("i-" + string(rune('0'+seq)))
			return &ec2.RunInstancesOutput{
				Instances: []ec2types.Instance{{
					InstanceId: id,
					State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
				}},
			}, nil
		},
		DescribeInstancesFunc: runningDescribe(nil),
	}
}

func propagationError() error {
	return &smithy.GenericAPIError{
		Code:    "InvalidParameterValue",
		Message: "Value (demo-instance-profile) for parameter iamInstanceProfile.name is invalid. Invalid IAM Instance Profile name",
	}
}

func TestProvisionRetriesProfilePropagation(t *testing.T) {
	launches := 0
	mock := launchMock(&launches, 2, propagationError())

	ctx := newTestContext(mock, 1)
	require.NoError(t, testProvisioner(t).Provision(ctx))

	// Rejected on attempts 1-2, accepted on attempt 3.
	assert.Equal(t, 3, launches)
	assert.Len(t, ctx.State.InstanceIDs, 1)
}

func TestProvisionDoesNotRetryUnrelatedInvalidParameter(t *testing.T) {
	launches := 0
	mock := launchMock(&launches, 1, &smithy.GenericAPIError{
		Code:    "InvalidParameterValue",
		Message: "Value () for parameter groupId is invalid",
	})

	err := testProvisioner(t).Provision(newTestContext(mock, 1))
	require.Error(t, err)
	assert.Equal(t, 1, launches, "ambiguous invalid-parameter errors must not be retried")
}

func TestProvisionDoesNotRetryQuotaErrors(t *testing.T) {
	launches := 0
	mock := launchMock(&launches, 1, &smithy.GenericAPIError{
		Code:    "InstanceLimitExceeded",
		Message: "You have requested more instances than your current instance limit",
	})

	err := testProvisioner(t).Provision(newTestContext(mock, 1))
	require.Error(t, err)
	assert.Equal(t, 1, launches)
}

func TestProvisionSpotPlacementSetsMarketOptions(t *testing.T) {
	var marketOptions *ec2types.InstanceMarketOptionsRequest
	mock := &platformaws.MockEC2{
		RunInstancesFunc: func(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
			marketOptions = params.InstanceMarketOptions
			return &ec2.RunInstancesOutput{
				Instances: []ec2types.Instance{{
					InstanceId: awsv2.String("i-1"),
					State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
				}},
			}, nil
		},
		DescribeInstancesFunc: runningDescribe(nil),
	}

	ctx := newTestContext(mock, 1)
	ctx.State.Placement = pricing.Placement{
		Market:       pricing.MarketSpot,
		InstanceType: "c5.large",
		Zone:         "us-east-1b",
		HourlyPrice:  0.031,
	}

	require.NoError(t, testProvisioner(t).Provision(ctx))
	require.NotNil(t, marketOptions)
	assert.Equal(t, ec2types.MarketTypeSpot, marketOptions.MarketType)
}

func TestProvisionPassesBootstrapPayloadThrough(t *testing.T) {
	var userData string
	mock := &platformaws.MockEC2{
		RunInstancesFunc: func(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
			userData = awsv2.ToString(params.UserData)
			return &ec2.RunInstancesOutput{
				Instances: []ec2types.Instance{{
					InstanceId: awsv2.String("i-1"),
					State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
				}},
			}, nil
		},
		DescribeInstancesFunc: runningDescribe(nil),
	}

	ctx := newTestContext(mock, 1)
	ctx.Config.BootstrapScript = "#!/bin/sh\nmount -a\n"

	require.NoError(t, testProvisioner(t).Provision(ctx))
	assert.Equal(t, "IyEvYmluL3NoCm1vdW50IC1hCg==", userData)
}

func TestProvisionWaitsForAllInstancesRunning(t *testing.T) {
	describes := 0
	mock := &platformaws.MockEC2{
		RunInstancesFunc: func(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
			id := awsv2.String("i-" + awsv2.ToString(params.SubnetId))
			return &ec2.RunInstancesOutput{
				Instances: []ec2types.Instance{{
					InstanceId: id,
					State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
				}},
			}, nil
		},
		DescribeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			describes++
			name := ec2types.InstanceStateNamePending
			if describes >= 2 {
				name = ec2types.InstanceStateNameRunning
			}
			instances := make([]ec2types.Instance, 0, len(params.InstanceIds))
			for _, id := range params.InstanceIds {
				instances = append(instances, ec2types.Instance{
					InstanceId: awsv2.String(id),
					State:      &ec2types.InstanceState{Name: name},
				})
			}
			return &ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{Instances: instances}},
			}, nil
		},
	}

	ctx := newTestContext(mock, 2)
	require.NoError(t, testProvisioner(t).Provision(ctx))

	assert.Equal(t, 2, describes)
	assert.Len(t, ctx.State.InstanceIDs, 2)
	for _, rec := range ctx.Deployment.ResourcesOf(state.FamilyInstance) {
		assert.Equal(t, "running", rec.LastState)
	}
}

func TestProvisionTerminatedInstanceIsFatal(t *testing.T) {
	mock := &platformaws.MockEC2{
		RunInstancesFunc: func(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
			return &ec2.RunInstancesOutput{
				Instances: []ec2types.Instance{{
					InstanceId: awsv2.String("i-1"),
					State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
				}},
			}, nil
		},
		DescribeInstancesFunc: func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			return &ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{{
					InstanceId: awsv2.String("i-1"),
					State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNameTerminated},
				}}}},
			}, nil
		},
	}

	err := testProvisioner(t).Provision(newTestContext(mock, 1))
	var stateErr *retry.StateError
	require.ErrorAs(t, err, &stateErr)
}

func TestProvisionFailsWithoutSubnets(t *testing.T) {
	launched := 0
	mock := &platformaws.MockEC2{
		RunInstancesFunc: func(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
			launched++
			return &ec2.RunInstancesOutput{}, nil
		},
	}

	pctx := newTestContext(mock, 1)
	pctx.State.SubnetIDs = nil

	err := testProvisioner(t).Provision(pctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no subnets")
	assert.Zero(t, launched)
}

func TestDestroyResourceDispatch(t *testing.T) {
	var terminated, deletedKeys []string
	mock := &platformaws.MockEC2{
		TerminateInstancesFunc: func(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
			terminated = append(terminated, params.InstanceIds...)
			return &ec2.TerminateInstancesOutput{}, nil
		},
		DeleteKeyPairFunc: func(ctx context.Context, params *ec2.DeleteKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.DeleteKeyPairOutput, error) {
			deletedKeys = append(deletedKeys, awsv2.ToString(params.KeyName))
			return &ec2.DeleteKeyPairOutput{}, nil
		},
	}

	ctx := newTestContext(mock, 1)
	p := testProvisioner(t)
	require.NoError(t, p.DestroyResource(ctx, state.ResourceRecord{Family: state.FamilyInstance, ID: "i-9"}))
	require.NoError(t, p.DestroyResource(ctx, state.ResourceRecord{Family: state.FamilyKeyPair, ID: "demo-keypair"}))
	assert.Equal(t, []string{"i-9"}, terminated)
	assert.Equal(t, []string{"demo-keypair"}, deletedKeys)
}
