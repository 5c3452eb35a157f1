package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacktier/stacktier/internal/config"
)

func testConfig(tier config.Tier, count int) *config.Config {
	return &config.Config{
		Stack:  "demo",
		Tier:   tier,
		Region: "us-east-1",
		Compute: config.ComputeConfig{
			InstanceType: "m5.large",
			Count:        count,
		},
	}
}

func TestCalculateBasicTier(t *testing.T) {
	placement := Placement{
		Market:       MarketOnDemand,
		InstanceType: "m5.large",
		HourlyPrice:  OnDemandPrice("m5.large"),
	}

	e := NewCalculator().Calculate(testConfig(config.TierBasic, 1), placement)

	require.Len(t, e.Items, 2, "basic tier has no load balancer line")

	wantInstances := OnDemandPrice("m5.large") * HoursPerMonth
	wantStorage := DefaultStorageGB * FilesystemGBMonthRate
	assert.InDelta(t, wantInstances, e.Items[0].Total, 1e-6)
	assert.InDelta(t, wantStorage, e.Items[1].Total, 1e-6)
	assert.InDelta(t, wantInstances+wantStorage, e.MonthlyTotal, 1e-6)
	assert.InDelta(t, e.MonthlyTotal*12, e.AnnualTotal(), 1e-6)
	assert.Zero(t, e.SpotSavings)
}

func TestCalculateHATierIncludesLoadBalancer(t *testing.T) {
	placement := Placement{
		Market:       MarketSpot,
		InstanceType: "m5.large",
		Zone:         "us-east-1a",
		HourlyPrice:  0.035,
	}

	e := NewCalculator().Calculate(testConfig(config.TierHA, 3), placement)

	require.Len(t, e.Items, 3)
	assert.Equal(t, "Load balancer", e.Items[2].Description)
	assert.InDelta(t, LoadBalancerHourlyRate*HoursPerMonth, e.Items[2].Total, 1e-6)

	wantSavings := (OnDemandPrice("m5.large") - 0.035) * HoursPerMonth * 3
	assert.InDelta(t, wantSavings, e.SpotSavings, 1e-6)
}

func TestCalculateCustomStorageFootprint(t *testing.T) {
	placement := Placement{Market: MarketOnDemand, InstanceType: "t3.micro", HourlyPrice: OnDemandPrice("t3.micro")}

	e := NewCalculatorWithStorage(100).Calculate(testConfig(config.TierBasic, 1), placement)

	assert.InDelta(t, 100*FilesystemGBMonthRate, e.Items[1].Total, 1e-6)
}

func TestEstimateSnapshot(t *testing.T) {
	placement := Placement{
		Market:       MarketSpot,
		InstanceType: "c5.large",
		Zone:         "us-east-1b",
		HourlyPrice:  0.028,
	}

	snap := NewCalculator().Calculate(testConfig(config.TierStandard, 2), placement).Snapshot()

	assert.Equal(t, "c5.large", snap.InstanceType)
	assert.Equal(t, "us-east-1b", snap.Zone)
	assert.Equal(t, string(MarketSpot), snap.Market)
	assert.InDelta(t, 0.028, snap.HourlyUSD, 1e-9)
	assert.False(t, snap.Timestamp.IsZero())
}
