package aws

import (
	"sort"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	efstypes "github.com/aws/aws-sdk-go-v2/service/efs/types"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
)

// sortedKeys keeps tag output deterministic for tests and request logs.
func sortedKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EC2Tags converts a tag map to the EC2 wire form.
func EC2Tags(tags map[string]string) []ec2types.Tag {
	out := make([]ec2types.Tag, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		out = append(out, ec2types.Tag{Key: awsv2.String(k), Value: awsv2.String(tags[k])})
	}
	return out
}

// EC2TagSpec builds a creation-time tag specification for one resource type.
func EC2TagSpec(resourceType ec2types.ResourceType, tags map[string]string) ec2types.TagSpecification {
	return ec2types.TagSpecification{
		ResourceType: resourceType,
		Tags:         EC2Tags(tags),
	}
}

// EFSTags converts a tag map to the EFS wire form.
func EFSTags(tags map[string]string) []efstypes.Tag {
	out := make([]efstypes.Tag, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		out = append(out, efstypes.Tag{Key: awsv2.String(k), Value: awsv2.String(tags[k])})
	}
	return out
}

// IAMTags converts a tag map to the IAM wire form.
func IAMTags(tags map[string]string) []iamtypes.Tag {
	out := make([]iamtypes.Tag, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		out = append(out, iamtypes.Tag{Key: awsv2.String(k), Value: awsv2.String(tags[k])})
	}
	return out
}

// ELBTags converts a tag map to the load balancer wire form.
func ELBTags(tags map[string]string) []elbv2types.Tag {
	out := make([]elbv2types.Tag, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		out = append(out, elbv2types.Tag{Key: awsv2.String(k), Value: awsv2.String(tags[k])})
	}
	return out
}
