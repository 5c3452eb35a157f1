package provisioning

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"golang.org/x/sync/errgroup"
)

// ValidationError describes one pre-flight violation or warning.
type ValidationError struct {
	Field    string
	Message  string
	Severity string // "error" or "warning"
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", ve.Severity, ve.Field, ve.Message)
}

// IsError reports whether this is an error rather than a warning.
func (ve ValidationError) IsError() bool {
	return ve.Severity == "error"
}

// ValidationFailure aggregates the pre-flight errors for one run. It is
// raised before any resource is created, so no partial resources ever
// exist for this failure class.
type ValidationFailure struct {
	Violations []ValidationError
}

// Error implements the error interface.
func (vf *ValidationFailure) Error() string {
	msgs := make([]string, 0, len(vf.Violations))
	for _, v := range vf.Violations {
		msgs = append(msgs, v.Error())
	}
	return fmt.Sprintf("pre-flight validation failed:\n  %s", strings.Join(msgs, "\n  "))
}

// Preflight validates user-supplied resources and account quota before any
// creation begins. The checks are read-only and independent, so they run
// concurrently.
func Preflight(ctx *Context) error {
	ctx.Observer.Printf("running pre-flight validation")

	var reuseErrs, quotaErrs []ValidationError

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		reuseErrs, err = validateReuse(gctx, ctx)
		return err
	})
	g.Go(func() error {
		var err error
		quotaErrs, err = checkQuota(gctx, ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("pre-flight checks could not complete: %w", err)
	}

	all := append(reuseErrs, quotaErrs...)
	var violations []ValidationError
	for _, v := range all {
		if !v.IsError() {
			ctx.Observer.Event(Event{
				Type:    EventValidationError,
				Message: "validation warning: " + v.Message,
				Fields:  map[string]string{"field": v.Field},
			})
			continue
		}
		violations = append(violations, v)
	}

	if len(violations) > 0 {
		return &ValidationFailure{Violations: violations}
	}

	ctx.Observer.Printf("pre-flight validation passed")
	return nil
}

// validateReuse confirms that every user-supplied resource exists, belongs
// to the supplied network and exposes the required ports.
func validateReuse(ctx context.Context, pctx *Context) ([]ValidationError, error) {
	reuse := pctx.Config.Reuse
	if reuse.NetworkID == "" {
		return nil, nil
	}

	var errs []ValidationError

	vpcs, err := pctx.Clients.EC2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		VpcIds: []string{reuse.NetworkID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe network %s: %w", reuse.NetworkID, err)
	}
	if len(vpcs.Vpcs) == 0 {
		errs = append(errs, ValidationError{
			Field:    "reuse.network_id",
			Message:  fmt.Sprintf("network %s does not exist", reuse.NetworkID),
			Severity: "error",
		})
		return errs, nil
	}

	if len(reuse.SubnetIDs) > 0 {
		subnets, err := pctx.Clients.EC2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
			SubnetIds: reuse.SubnetIDs,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe subnets: %w", err)
		}
		found := make(map[string]string, len(subnets.Subnets))
		for _, s := range subnets.Subnets {
			found[awsv2.ToString(s.SubnetId)] = awsv2.ToString(s.VpcId)
		}
		for _, id := range reuse.SubnetIDs {
			vpcID, ok := found[id]
			if !ok {
				errs = append(errs, ValidationError{
					Field:    "reuse.subnet_ids",
					Message:  fmt.Sprintf("subnet %s does not exist", id),
					Severity: "error",
				})
				continue
			}
			if vpcID != reuse.NetworkID {
				errs = append(errs, ValidationError{
					Field:    "reuse.subnet_ids",
					Message:  fmt.Sprintf("subnet %s belongs to %s, not %s", id, vpcID, reuse.NetworkID),
					Severity: "error",
				})
			}
		}
	}

	if reuse.SecurityGroupID != "" {
		errs = append(errs, validateReusedSecurityGroup(ctx, pctx)...)
	}
	return errs, nil
}

func validateReusedSecurityGroup(ctx context.Context, pctx *Context) []ValidationError {
	reuse := pctx.Config.Reuse

	groups, err := pctx.Clients.EC2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{reuse.SecurityGroupID},
	})
	if err != nil || len(groups.SecurityGroups) == 0 {
		return []ValidationError{{
			Field:    "reuse.security_group_id",
			Message:  fmt.Sprintf("security group %s does not exist", reuse.SecurityGroupID),
			Severity: "error",
		}}
	}

	var errs []ValidationError
	group := groups.SecurityGroups[0]
	if awsv2.ToString(group.VpcId) != reuse.NetworkID {
		errs = append(errs, ValidationError{
			Field: "reuse.security_group_id",
			Message: fmt.Sprintf("security group %s belongs to %s, not %s",
				reuse.SecurityGroupID, awsv2.ToString(group.VpcId), reuse.NetworkID),
			Severity: "error",
		})
	}

	for _, port := range pctx.Config.Network.IngressPorts {
		if !allowsPort(group.IpPermissions, port) {
			errs = append(errs, ValidationError{
				Field:    "reuse.security_group_id",
				Message:  fmt.Sprintf("security group %s does not allow ingress on port %d", reuse.SecurityGroupID, port),
				Severity: "error",
			})
		}
	}
	return errs
}

func allowsPort(permissions []ec2types.IpPermission, port int32) bool {
	for _, p := range permissions {
		proto := awsv2.ToString(p.IpProtocol)
		if proto != "-1" && proto != "tcp" {
			continue
		}
		if proto == "-1" {
			return true
		}
		if awsv2.ToInt32(p.FromPort) <= port && port <= awsv2.ToInt32(p.ToPort) {
			return true
		}
	}
	return false
}

// checkQuota verifies the account instance quota covers the requested
// fleet. A missing or unparsable attribute downgrades to a warning since
// the launch itself will enforce the real quota.
func checkQuota(ctx context.Context, pctx *Context) ([]ValidationError, error) {
	out, err := pctx.Clients.EC2.DescribeAccountAttributes(ctx, &ec2.DescribeAccountAttributesInput{
		// The SDK enum does not define a constant for max-instances, but the
		// API accepts it as an attribute name.
		AttributeNames: []ec2types.AccountAttributeName{ec2types.AccountAttributeName("max-instances")},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read account attributes: %w", err)
	}

	for _, attr := range out.AccountAttributes {
		if awsv2.ToString(attr.AttributeName) != "max-instances" || len(attr.AttributeValues) == 0 {
			continue
		}
		max, err := strconv.Atoi(awsv2.ToString(attr.AttributeValues[0].AttributeValue))
		if err != nil {
			break
		}
		if pctx.Config.Compute.Count > max {
			return []ValidationError{{
				Field:    "compute.count",
				Message:  fmt.Sprintf("requested %d instances but the account quota is %d", pctx.Config.Compute.Count, max),
				Severity: "error",
			}}, nil
		}
		return nil, nil
	}

	return []ValidationError{{
		Field:    "compute.count",
		Message:  "could not determine the account instance quota",
		Severity: "warning",
	}}, nil
}
