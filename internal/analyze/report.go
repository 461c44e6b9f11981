package analyze

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	matchStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	missStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statStyle   = lipgloss.NewStyle().Bold(true)
)

// Render formats the report for the terminal: a per-problem table
// followed by summary statistics, mismatches, and missing problems.
func Render(r *Report) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("Accuracy report (%s)", orAny(r.ModelName))))
	b.WriteString("\n\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-15s %-12s %-18s %-18s %-6s", "Problem", "Status", "Expected", "Output", "Match")))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(strings.Repeat("-", 72)))
	b.WriteString("\n")

	for _, rec := range r.Records {
		line := fmt.Sprintf("%-15s %-12s %-18s %-18s %-6s",
			rec.Problem, rec.Status, renderObj(rec.Expected), renderObj(rec.Output), yesNo(rec))
		switch {
		case rec.Status == StatusInfeasible:
			b.WriteString(dimStyle.Render(line))
		case rec.Match:
			b.WriteString(matchStyle.Render(line))
		default:
			b.WriteString(missStyle.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(statStyle.Render("Summary"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Total problems:      %d\n", r.Total)
	fmt.Fprintf(&b, "  Infeasible:          %d\n", r.Infeasible)
	fmt.Fprintf(&b, "  Feasible:            %d\n", r.Feasible)
	fmt.Fprintf(&b, "  Missing output:      %d\n", r.Missing)
	fmt.Fprintf(&b, "  Accurate (matching): %d\n", r.Accurate)
	if r.Feasible > 0 {
		fmt.Fprintf(&b, "  Accuracy:            %.2f%% (%d/%d)\n", r.Accuracy(), r.Accurate, r.Feasible)
	}

	if mismatches := r.Mismatches(); len(mismatches) > 0 {
		b.WriteString("\n")
		b.WriteString(missStyle.Render(fmt.Sprintf("Mismatches (%d)", len(mismatches))))
		b.WriteString("\n")
		for _, rec := range mismatches {
			fmt.Fprintf(&b, "  %s: expected %s, got %s\n", rec.Problem, renderObj(rec.Expected), renderObj(rec.Output))
		}
	}
	if len(r.MissingProblems) > 0 {
		b.WriteString("\n")
		b.WriteString(missStyle.Render(fmt.Sprintf("Missing output (%d)", len(r.MissingProblems))))
		b.WriteString("\n  " + strings.Join(r.MissingProblems, ", ") + "\n")
	}
	return b.String()
}

func renderObj(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%g", *v)
}

func yesNo(rec Record) string {
	if rec.Status == StatusInfeasible {
		return "N/A"
	}
	if rec.Match {
		return "YES"
	}
	return "NO"
}

func orAny(model string) string {
	if model == "" {
		return "all models"
	}
	return model
}
