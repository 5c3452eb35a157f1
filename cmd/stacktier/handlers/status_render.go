package handlers

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/stacktier/stacktier/internal/state"
)

// Colors matching the pricing formatter palette.
var (
	statusColorGreen = lipgloss.Color("#22c55e")
	statusColorRed   = lipgloss.Color("#ef4444")
	statusColorBlue  = lipgloss.Color("#3b82f6")
	statusColorDim   = lipgloss.Color("#6b7280")
	statusColorWhite = lipgloss.Color("#f9fafb")
)

var (
	statusTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(statusColorWhite)

	statusSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(statusColorBlue)

	statusDimStyle = lipgloss.NewStyle().
			Foreground(statusColorDim)

	statusGoodStyle = lipgloss.NewStyle().
			Foreground(statusColorGreen)

	statusBadStyle = lipgloss.NewStyle().
			Foreground(statusColorRed)
)

func statusStyle(s state.Status) lipgloss.Style {
	switch s {
	case state.StatusRunning, state.StatusRolledBack, state.StatusDestroyed:
		return statusGoodStyle
	case state.StatusFailed:
		return statusBadStyle
	default:
		return statusDimStyle
	}
}

// renderStatus produces a lipgloss-styled view of a state document.
func renderStatus(dep *state.DeploymentState) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(statusTitleStyle.Render(fmt.Sprintf("  stacktier: %s", dep.Stack)))
	b.WriteString("\n")
	b.WriteString(statusDimStyle.Render("  " + strings.Repeat("═", 30)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("    Tier:     %s\n", dep.Tier))
	b.WriteString(fmt.Sprintf("    Region:   %s\n", dep.Region))
	b.WriteString(fmt.Sprintf("    Status:   %s\n", statusStyle(dep.Status).Render(string(dep.Status))))
	b.WriteString(fmt.Sprintf("    Updated:  %s\n", dep.UpdatedAt.Format("2006-01-02 15:04:05 MST")))

	if len(dep.Resources) > 0 {
		b.WriteString("\n")
		b.WriteString(statusSectionStyle.Render("  Resources"))
		b.WriteString("\n")
		b.WriteString(statusDimStyle.Render("  " + strings.Repeat("─", 35)))
		b.WriteString("\n")
		for _, r := range dep.Resources {
			line := fmt.Sprintf("    %-18s %-24s %s", r.Family, r.ID, r.Provenance)
			if r.Provenance == state.ProvenanceCreated {
				b.WriteString(line)
			} else {
				b.WriteString(statusDimStyle.Render(line))
			}
			b.WriteString("\n")
		}
	}

	if len(dep.CostHistory) > 0 {
		latest := dep.CostHistory[len(dep.CostHistory)-1]
		b.WriteString("\n")
		b.WriteString(statusSectionStyle.Render("  Cost"))
		b.WriteString("\n")
		b.WriteString(statusDimStyle.Render("  " + strings.Repeat("─", 35)))
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("    %s %s at $%.4f/hr\n", latest.Market, latest.InstanceType, latest.HourlyUSD))
	}

	if len(dep.Rollbacks) > 0 {
		latest := dep.Rollbacks[len(dep.Rollbacks)-1]
		b.WriteString("\n")
		b.WriteString(statusSectionStyle.Render("  Last rollback"))
		b.WriteString("\n")
		b.WriteString(statusDimStyle.Render("  " + strings.Repeat("─", 35)))
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("    trigger: %s, destroyed: %d, preserved: %d\n",
			latest.TriggeredBy, len(latest.Destroyed), len(latest.Preserved)))
		if len(latest.Leftover) > 0 {
			b.WriteString(statusBadStyle.Render(fmt.Sprintf("    leftover: %s", strings.Join(latest.Leftover, ", "))))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	return b.String()
}
