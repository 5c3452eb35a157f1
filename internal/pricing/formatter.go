package pricing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	costColorGreen = lipgloss.Color("#22c55e")
	costColorBlue  = lipgloss.Color("#3b82f6")
	costColorDim   = lipgloss.Color("#6b7280")
	costColorWhite = lipgloss.Color("#f9fafb")
)

var (
	costTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(costColorWhite)

	costSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(costColorBlue)

	costDimStyle = lipgloss.NewStyle().
			Foreground(costColorDim)

	costGreenStyle = lipgloss.NewStyle().
			Foreground(costColorGreen)
)

// Formatter renders cost estimates for terminal display.
type Formatter struct{}

// NewFormatter creates a formatter.
func NewFormatter() *Formatter {
	return &Formatter{}
}

// Format returns a styled multi-line cost estimate.
func (f *Formatter) Format(e *Estimate) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(costTitleStyle.Render(fmt.Sprintf("  stacktier cost: %s", e.Stack)))
	b.WriteString("\n")
	b.WriteString(costDimStyle.Render("  " + strings.Repeat("═", 30)))
	b.WriteString("\n\n")

	b.WriteString(costSectionStyle.Render(fmt.Sprintf("  Resources (%s tier, %s)", e.Tier, e.Region)))
	b.WriteString("\n")
	b.WriteString(costDimStyle.Render("  " + strings.Repeat("─", 50)))
	b.WriteString("\n")
	b.WriteString(costDimStyle.Render(fmt.Sprintf("  %-24s %4s %-12s %10s", "Resource", "Qty", "Unit", "Total/mo")))
	b.WriteString("\n")

	for _, item := range e.Items {
		fmt.Fprintf(&b, "  %-24s x%-3d %-12s $ %7.2f\n",
			item.Description, item.Quantity, item.Unit, item.Total)
	}

	b.WriteString(costDimStyle.Render("  " + strings.Repeat("─", 50)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %-24s %18s $ %7.2f\n", "Total", "", e.MonthlyTotal)
	fmt.Fprintf(&b, "  %-24s %18s $ %7.2f\n", "Annual estimate", "", e.AnnualTotal())

	if e.Placement.Market == MarketSpot {
		b.WriteString("\n")
		b.WriteString(costGreenStyle.Render(fmt.Sprintf(
			"  Spot placement in %s saves ~$%.2f/mo vs on-demand",
			e.Placement.Zone, e.SpotSavings)))
		b.WriteString("\n")
	} else if e.Placement.Reason != "" {
		b.WriteString("\n")
		b.WriteString(costDimStyle.Render("  On-demand: " + e.Placement.Reason))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(costDimStyle.Render("  Note: filesystem cost is an estimate based on configured/default GB."))
	b.WriteString("\n")

	return b.String()
}

// FormatCompact returns a single-line cost summary.
func (f *Formatter) FormatCompact(e *Estimate) string {
	return fmt.Sprintf("%s (%s): $%.2f/mo on %s %s ($%.2f/yr)",
		e.Stack, e.Tier, e.MonthlyTotal, e.Placement.Market, e.Placement.InstanceType, e.AnnualTotal())
}

// FormatJSON returns the estimate as indented JSON.
func (f *Formatter) FormatJSON(e *Estimate) string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}
