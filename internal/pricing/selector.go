package pricing

import "sort"

// Market describes how compute capacity is purchased.
type Market string

const (
	MarketSpot     Market = "spot"
	MarketOnDemand Market = "on-demand"
)

// Minimum placement scores per risk tolerance. A lower tolerance demands
// a higher score before spot capacity is considered safe enough.
const (
	MinScoreLow    int32 = 8
	MinScoreMedium int32 = 5
	MinScoreHigh   int32 = 3
)

// MinScore maps a risk tolerance name to its minimum acceptable placement
// score. Unknown names get the medium threshold.
func MinScore(riskTolerance string) int32 {
	switch riskTolerance {
	case "low":
		return MinScoreLow
	case "high":
		return MinScoreHigh
	default:
		return MinScoreMedium
	}
}

// Placement is the selector's decision for the compute step.
type Placement struct {
	Market       Market
	InstanceType string

	// Zone is set for spot placements only. On-demand launches leave
	// zone choice to the subnet.
	Zone string

	// HourlyPrice is the expected per-instance price in USD.
	HourlyPrice float64

	// Reason records why this placement was chosen, for operator output.
	Reason string
}

// Selector picks a cost-optimal compute placement from spot candidates.
type Selector struct {
	minScore int32
}

// NewSelector creates a selector for the given risk tolerance.
func NewSelector(riskTolerance string) *Selector {
	return &Selector{minScore: MinScore(riskTolerance)}
}

// Select picks the cheapest candidate whose placement score clears the
// risk threshold. When no candidate qualifies, or the market returned no
// data at all, it falls back to on-demand for the primary type. Missing
// pricing data never blocks a deployment.
func (s *Selector) Select(candidates []Candidate, primaryType string) Placement {
	if len(candidates) == 0 {
		return s.onDemand(primaryType, "no spot market data")
	}

	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= s.minScore {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return s.onDemand(primaryType, "no candidate cleared the risk threshold")
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].SpotPrice != eligible[j].SpotPrice {
			return eligible[i].SpotPrice < eligible[j].SpotPrice
		}
		// Equal prices: prefer the safer zone.
		return eligible[i].Score > eligible[j].Score
	})

	best := eligible[0]
	return Placement{
		Market:       MarketSpot,
		InstanceType: best.InstanceType,
		Zone:         best.Zone,
		HourlyPrice:  best.SpotPrice,
		Reason:       "cheapest spot candidate above risk threshold",
	}
}

func (s *Selector) onDemand(primaryType, reason string) Placement {
	return Placement{
		Market:       MarketOnDemand,
		InstanceType: primaryType,
		HourlyPrice:  OnDemandPrice(primaryType),
		Reason:       reason,
	}
}

// onDemandPrices holds approximate hourly on-demand prices in USD (us-east-1,
// Linux), used for estimates and the on-demand fallback.
var onDemandPrices = map[string]float64{
	"t3.micro":   0.0104,
	"t3.small":   0.0208,
	"t3.medium":  0.0416,
	"t3.large":   0.0832,
	"m5.large":   0.0960,
	"m5.xlarge":  0.1920,
	"m6i.large":  0.0960,
	"m6i.xlarge": 0.1920,
	"c5.large":   0.0850,
	"c5.xlarge":  0.1700,
	"c6i.large":  0.0850,
	"r5.large":   0.1260,
}

// defaultOnDemandPrice covers instance types missing from the table so an
// estimate is always produced.
const defaultOnDemandPrice = 0.10

// OnDemandPrice returns the approximate hourly on-demand price for an
// instance type.
func OnDemandPrice(instanceType string) float64 {
	if p, ok := onDemandPrices[instanceType]; ok {
		return p
	}
	return defaultOnDemandPrice
}
