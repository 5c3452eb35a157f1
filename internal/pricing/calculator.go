package pricing

import (
	"fmt"
	"time"

	"github.com/stacktier/stacktier/internal/config"
	"github.com/stacktier/stacktier/internal/state"
)

// HoursPerMonth is the billing convention for monthly estimates.
const HoursPerMonth = 730

// Infrastructure rates in USD (us-east-1, approximate).
const (
	// FilesystemGBMonthRate is the standard-class shared filesystem rate.
	FilesystemGBMonthRate = 0.30

	// LoadBalancerHourlyRate is the base ALB rate, capacity units excluded.
	LoadBalancerHourlyRate = 0.0225
)

// DefaultStorageGB is the assumed shared filesystem footprint when the user
// gives no estimate. Shared filesystems bill by usage, not capacity.
const DefaultStorageGB = 20

// Calculator estimates the monthly cost of a deployment.
type Calculator struct {
	storageGB float64
}

// NewCalculator creates a calculator with the default storage assumption.
func NewCalculator() *Calculator {
	return &Calculator{storageGB: DefaultStorageGB}
}

// NewCalculatorWithStorage creates a calculator assuming the given shared
// filesystem footprint in GB.
func NewCalculatorWithStorage(gb float64) *Calculator {
	return &Calculator{storageGB: gb}
}

// LineItem is a single cost line in an estimate.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	Unit        string  `json:"unit"`
	UnitMonthly float64 `json:"unit_monthly_usd"`
	Total       float64 `json:"total_monthly_usd"`
}

// String renders the line item for log output.
func (l LineItem) String() string {
	return fmt.Sprintf("%s: %d x %s @ $%.2f = $%.2f/mo",
		l.Description, l.Quantity, l.Unit, l.UnitMonthly, l.Total)
}

// Estimate is the full monthly cost estimate for one deployment.
type Estimate struct {
	Stack  string      `json:"stack"`
	Tier   config.Tier `json:"tier"`
	Region string      `json:"region"`

	Placement Placement  `json:"placement"`
	Items     []LineItem `json:"items"`

	// MonthlyTotal is the sum of all line items.
	MonthlyTotal float64 `json:"monthly_total_usd"`

	// SpotSavings is the monthly amount saved versus running the same
	// fleet on demand. Zero for on-demand placements.
	SpotSavings float64 `json:"spot_savings_usd"`
}

// AnnualTotal returns the estimated annual cost.
func (e *Estimate) AnnualTotal() float64 {
	return e.MonthlyTotal * 12
}

// Snapshot converts the estimate's placement into a cost history entry.
func (e *Estimate) Snapshot() state.CostSnapshot {
	return state.CostSnapshot{
		Timestamp:    time.Now().UTC(),
		InstanceType: e.Placement.InstanceType,
		Zone:         e.Placement.Zone,
		Market:       string(e.Placement.Market),
		HourlyUSD:    e.Placement.HourlyPrice,
	}
}

// Calculate estimates the monthly cost of the configured stack under the
// given compute placement.
func (c *Calculator) Calculate(cfg *config.Config, placement Placement) *Estimate {
	e := &Estimate{
		Stack:     cfg.Stack,
		Tier:      cfg.Tier,
		Region:    cfg.Region,
		Placement: placement,
		Items:     make([]LineItem, 0, 3),
	}

	instanceMonthly := placement.HourlyPrice * HoursPerMonth
	instanceTotal := float64(cfg.Compute.Count) * instanceMonthly
	e.Items = append(e.Items, LineItem{
		Description: fmt.Sprintf("Instances (%s)", placement.Market),
		Quantity:    cfg.Compute.Count,
		Unit:        placement.InstanceType,
		UnitMonthly: instanceMonthly,
		Total:       instanceTotal,
	})

	storageTotal := c.storageGB * FilesystemGBMonthRate
	e.Items = append(e.Items, LineItem{
		Description: "Shared filesystem",
		Quantity:    1,
		Unit:        fmt.Sprintf("%.0f GB", c.storageGB),
		UnitMonthly: storageTotal,
		Total:       storageTotal,
	})

	if cfg.WantsLoadBalancer() {
		lbTotal := LoadBalancerHourlyRate * HoursPerMonth
		e.Items = append(e.Items, LineItem{
			Description: "Load balancer",
			Quantity:    1,
			Unit:        "alb",
			UnitMonthly: lbTotal,
			Total:       lbTotal,
		})
	}

	for _, item := range e.Items {
		e.MonthlyTotal += item.Total
	}

	if placement.Market == MarketSpot {
		onDemandTotal := OnDemandPrice(placement.InstanceType) * HoursPerMonth * float64(cfg.Compute.Count)
		if onDemandTotal > instanceTotal {
			e.SpotSavings = onDemandTotal - instanceTotal
		}
	}

	return e
}
