package handlers

import (
	"context"
	"fmt"

	"github.com/stacktier/stacktier/internal/pricing"
)

// Cost estimates the monthly cost of a stack configuration before
// deploying it. With spot enabled it prices against the live market the
// same way deploy would; otherwise (or when the market is empty) it prices
// the on-demand fallback.
func Cost(ctx context.Context, configPath string, jsonOutput bool, storageGB float64) error {
	cfg, err := loadStackConfig(configPath)
	if err != nil {
		return err
	}

	placement := pricing.Placement{
		Market:       pricing.MarketOnDemand,
		InstanceType: cfg.Compute.InstanceType,
		HourlyPrice:  pricing.OnDemandPrice(cfg.Compute.InstanceType),
	}
	if cfg.WantsSpot() {
		clients, err := newClients(ctx, cfg.Region)
		if err != nil {
			return err
		}
		types := append([]string{cfg.Compute.InstanceType}, cfg.Compute.Spot.CandidateTypes...)
		candidates, err := pricing.NewClient(clients.EC2).FetchCandidates(ctx, cfg.Region, types)
		if err != nil {
			return fmt.Errorf("failed to fetch spot candidates: %w", err)
		}
		placement = pricing.NewSelector(cfg.Compute.Spot.RiskTolerance).Select(candidates, cfg.Compute.InstanceType)
	}

	calculator := pricing.NewCalculator()
	if storageGB > 0 {
		calculator = pricing.NewCalculatorWithStorage(storageGB)
	}
	estimate := calculator.Calculate(cfg, placement)

	formatter := pricing.NewFormatter()
	if jsonOutput {
		fmt.Fprintln(stdout, formatter.FormatJSON(estimate))
		return nil
	}
	fmt.Fprint(stdout, formatter.Format(estimate))
	return nil
}
