// Package image resolves a launchable machine image for a region, OS family
// and architecture.
//
// Resolution prefers a curated table of validated image ids. Because table
// entries age out when vendors deregister images, every table hit is
// verified against the control plane; a not-found or malformed-id answer
// falls back to a filtered search over vendor-owned images, newest first.
// Any other describe failure propagates unchanged.
package image

import (
	"context"
	"fmt"
	"sort"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	platformaws "github.com/stacktier/stacktier/internal/platform/aws"
)

// osProfile describes where to search when the table misses.
type osProfile struct {
	owner       string
	namePattern string
}

var osProfiles = map[string]osProfile{
	"amazon-linux-2023": {owner: "amazon", namePattern: "al2023-ami-2023*"},
	"amazon-linux-2":    {owner: "amazon", namePattern: "amzn2-ami-hvm-*"},
	"ubuntu-22.04":      {owner: "099720109477", namePattern: "ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-*"},
}

// knownImages maps region|osFamily|arch to a previously validated image id.
var knownImages = map[string]string{
	"us-east-1|amazon-linux-2023|x86_64":    "ami-0c7217cdde317cfec",
	"us-east-1|amazon-linux-2023|arm64":     "ami-05d47d29a4c2d19e1",
	"us-west-2|amazon-linux-2023|x86_64":    "ami-0efcece6bed30fd98",
	"eu-west-1|amazon-linux-2023|x86_64":    "ami-0905a3c97561e0b69",
	"eu-central-1|amazon-linux-2023|x86_64": "ami-0faab6bdbac9486fb",
	"us-east-1|ubuntu-22.04|x86_64":         "ami-0fc5d935ebf8bc3bc",
	"eu-west-1|ubuntu-22.04|x86_64":         "ami-0694d931cee176e7d",
}

func tableKey(region, osFamily, arch string) string {
	return fmt.Sprintf("%s|%s|%s", region, osFamily, arch)
}

// Resolver finds launchable images.
type Resolver struct {
	client platformaws.EC2API
}

// NewResolver creates an image resolver over the given EC2 client.
func NewResolver(client platformaws.EC2API) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns a launchable image id for the triple, validating table
// hits and falling back to a vendor search when the table entry is stale.
func (r *Resolver) Resolve(ctx context.Context, region, osFamily, arch string) (string, error) {
	profile, ok := osProfiles[osFamily]
	if !ok {
		return "", fmt.Errorf("unknown OS family %q", osFamily)
	}

	if id, ok := knownImages[tableKey(region, osFamily, arch)]; ok {
		available, err := r.validate(ctx, id)
		if err != nil {
			// Only a stale or malformed table entry triggers the fallback
			// search; permission and throttling failures propagate.
			if platformaws.IsNotFound(err) || platformaws.IsMalformedID(err) {
				return r.search(ctx, profile, arch)
			}
			return "", fmt.Errorf("failed to validate image %s: %w", id, err)
		}
		if available {
			return id, nil
		}
	}

	return r.search(ctx, profile, arch)
}

// validate reports whether the image exists and is in the available state.
func (r *Resolver) validate(ctx context.Context, id string) (bool, error) {
	out, err := r.client.DescribeImages(ctx, &ec2.DescribeImagesInput{
		ImageIds: []string{id},
	})
	if err != nil {
		return false, err
	}
	if len(out.Images) == 0 {
		return false, nil
	}
	return out.Images[0].State == ec2types.ImageStateAvailable, nil
}

// search finds the newest available vendor image matching the OS profile.
func (r *Resolver) search(ctx context.Context, profile osProfile, arch string) (string, error) {
	out, err := r.client.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners: []string{profile.owner},
		Filters: []ec2types.Filter{
			{Name: awsv2.String("name"), Values: []string{profile.namePattern}},
			{Name: awsv2.String("architecture"), Values: []string{arch}},
			{Name: awsv2.String("state"), Values: []string{string(ec2types.ImageStateAvailable)}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("image search failed: %w", err)
	}
	if len(out.Images) == 0 {
		return "", fmt.Errorf("no available image matches %q for %s", profile.namePattern, arch)
	}

	images := out.Images
	sort.Slice(images, func(i, j int) bool {
		return awsv2.ToString(images[i].CreationDate) > awsv2.ToString(images[j].CreationDate)
	})
	return awsv2.ToString(images[0].ImageId), nil
}
