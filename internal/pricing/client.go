// Package pricing provides spot market data, placement selection and cost
// estimation for stacktier deployments.
package pricing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	platformaws "github.com/stacktier/stacktier/internal/platform/aws"
)

// productDescription scopes the spot price query to plain Linux capacity.
const productDescription = "Linux/UNIX"

// priceHistoryWindow bounds how far back the spot price query looks. The
// newest observation per (type, zone) wins.
const priceHistoryWindow = 3 * time.Hour

// Candidate is one (instance type, zone) spot placement option.
type Candidate struct {
	InstanceType string
	Zone         string
	SpotPrice    float64
	OnDemand     float64

	// Score is the control plane's placement score in [1,10]. Higher
	// means a spot launch in this zone is more likely to succeed and
	// keep running.
	Score int32
}

// Client fetches spot market data from the control plane.
type Client struct {
	ec2 platformaws.EC2API
}

// NewClient creates a pricing client over the given EC2 client.
func NewClient(ec2Client platformaws.EC2API) *Client {
	return &Client{ec2: ec2Client}
}

// FetchCandidates returns one candidate per (type, zone) pair that has both
// a recent spot price and a placement score. Pairs missing either datum are
// dropped rather than guessed at. An empty result is not an error; the
// selector treats it as "no viable spot capacity".
func (c *Client) FetchCandidates(ctx context.Context, region string, instanceTypes []string) ([]Candidate, error) {
	prices, err := c.fetchSpotPrices(ctx, instanceTypes)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, nil
	}

	scores, err := c.fetchPlacementScores(ctx, region, instanceTypes)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for key, price := range prices {
		score, ok := scores[key.zone]
		if !ok {
			continue
		}
		candidates = append(candidates, Candidate{
			InstanceType: key.instanceType,
			Zone:         key.zone,
			SpotPrice:    price,
			OnDemand:     OnDemandPrice(key.instanceType),
			Score:        score,
		})
	}
	return candidates, nil
}

type priceKey struct {
	instanceType string
	zone         string
}

// fetchSpotPrices returns the newest spot price per (type, zone).
func (c *Client) fetchSpotPrices(ctx context.Context, instanceTypes []string) (map[priceKey]float64, error) {
	types := make([]ec2types.InstanceType, 0, len(instanceTypes))
	for _, t := range instanceTypes {
		types = append(types, ec2types.InstanceType(t))
	}

	start := time.Now().Add(-priceHistoryWindow)
	out, err := c.ec2.DescribeSpotPriceHistory(ctx, &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       types,
		ProductDescriptions: []string{productDescription},
		StartTime:           awsv2.Time(start),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch spot price history: %w", err)
	}

	prices := make(map[priceKey]float64)
	newest := make(map[priceKey]time.Time)
	for _, p := range out.SpotPriceHistory {
		price, err := strconv.ParseFloat(awsv2.ToString(p.SpotPrice), 64)
		if err != nil {
			continue
		}
		key := priceKey{
			instanceType: string(p.InstanceType),
			zone:         awsv2.ToString(p.AvailabilityZone),
		}
		ts := awsv2.ToTime(p.Timestamp)
		if seen, ok := newest[key]; ok && !ts.After(seen) {
			continue
		}
		newest[key] = ts
		prices[key] = price
	}
	return prices, nil
}

// fetchPlacementScores returns the placement score keyed by zone name.
// The scores API reports zone ids while the price history reports zone
// names, so the ids are resolved through a zone describe first.
func (c *Client) fetchPlacementScores(ctx context.Context, region string, instanceTypes []string) (map[string]int32, error) {
	out, err := c.ec2.GetSpotPlacementScores(ctx, &ec2.GetSpotPlacementScoresInput{
		InstanceTypes:          instanceTypes,
		TargetCapacity:         awsv2.Int32(1),
		SingleAvailabilityZone: awsv2.Bool(true),
		RegionNames:            []string{region},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch placement scores: %w", err)
	}
	if len(out.SpotPlacementScores) == 0 {
		return nil, nil
	}

	zoneNames, err := c.zoneNamesByID(ctx)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]int32, len(out.SpotPlacementScores))
	for _, s := range out.SpotPlacementScores {
		name, ok := zoneNames[awsv2.ToString(s.AvailabilityZoneId)]
		if !ok {
			continue
		}
		scores[name] = awsv2.ToInt32(s.Score)
	}
	return scores, nil
}

func (c *Client) zoneNamesByID(ctx context.Context) (map[string]string, error) {
	out, err := c.ec2.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to describe availability zones: %w", err)
	}
	names := make(map[string]string, len(out.AvailabilityZones))
	for _, z := range out.AvailabilityZones {
		names[awsv2.ToString(z.ZoneId)] = awsv2.ToString(z.ZoneName)
	}
	return names, nil
}
