package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/pario-ai/querygate/pkg/ledger"
	"github.com/pario-ai/querygate/pkg/models"
)

// FormatStatus formats the cost status as text.
func FormatStatus(s models.CostStatus) string {
	var b strings.Builder
	mode := s.Mode.String()
	if s.Overridden {
		mode += fmt.Sprintf(" (override; natural mode %s)", s.NaturalMode)
	}
	fmt.Fprintf(&b, "Cost Status\n")
	fmt.Fprintf(&b, "  Mode:              %s\n", mode)
	fmt.Fprintf(&b, "  Daily spent:       %s\n", spentOf(s.DailySpent, s.Limits.DailyLimit))
	fmt.Fprintf(&b, "  Weekly spent:      %s\n", spentOf(s.WeeklySpent, s.Limits.WeeklyLimit))
	fmt.Fprintf(&b, "  Monthly spent:     %s\n", spentOf(s.MonthlySpent, s.Limits.MonthlyLimit))
	fmt.Fprintf(&b, "  Monthly budget:    %.2f (%.1f%% used, %.2f remaining)\n",
		s.Limits.MonthlyBudget, s.BudgetPercentage, s.RemainingBudget)
	fmt.Fprintf(&b, "  Projected monthly: %.2f\n", s.ProjectedMonthly)
	fmt.Fprintf(&b, "  Days remaining:    %s\n", daysRemaining(s.DaysRemaining))
	if s.Override != nil {
		fmt.Fprintf(&b, "  Override:          set by %s at %s", s.Override.SetBy, s.Override.SetAt.Format("2006-01-02 15:04:05"))
		if s.Override.Reason != "" {
			fmt.Fprintf(&b, " (%s)", s.Override.Reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func spentOf(spent, limit float64) string {
	if limit <= 0 {
		return fmt.Sprintf("%.2f (no limit)", spent)
	}
	return fmt.Sprintf("%.2f of %.2f", spent, limit)
}

func daysRemaining(n int) string {
	if n >= ledger.NoExhaustion {
		return "n/a"
	}
	return fmt.Sprintf("%d", n)
}

// FormatHistory formats history buckets as a text table.
func FormatHistory(entries []models.HistoryEntry) string {
	if len(entries) == 0 {
		return "No usage data found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-10s %12s %8s %12s\n", "Start", "End", "Cost", "Queries", "Exec Time")
	b.WriteString(strings.Repeat("-", 56) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-10s %-10s %12.4f %8d %12s\n",
			e.Start, e.End, e.Cost, e.QueryCount, e.ExecutionTime.Round(time.Millisecond))
	}
	return b.String()
}

// FormatForecast formats a forecast as text.
func FormatForecast(f models.Forecast) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Forecast\n")
	fmt.Fprintf(&b, "  Daily average (7d): %.4f\n", f.DailyAverage)
	fmt.Fprintf(&b, "  Month so far:       %.2f\n", f.MonthlySoFar)
	fmt.Fprintf(&b, "  Projected monthly:  %.2f\n", f.ProjectedMonthly)
	fmt.Fprintf(&b, "  Days remaining:     %s\n", daysRemaining(f.DaysRemaining))
	if len(f.Points) == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "%-10s %12s %12s %6s\n", "Date", "Projected", "Cumulative", "Over")
	b.WriteString(strings.Repeat("-", 43) + "\n")
	for _, p := range f.Points {
		over := ""
		if p.OverBudget {
			over = "yes"
		}
		fmt.Fprintf(&b, "%-10s %12.4f %12.4f %6s\n", p.Date, p.ProjectedCost, p.CumulativeCost, over)
	}
	return b.String()
}

// FormatAlerts formats alerts as a text table.
func FormatAlerts(alerts []models.Alert) string {
	if len(alerts) == 0 {
		return "No alerts.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-9s %-11s %-11s %10s  %s\n", "Time", "Severity", "From", "To", "Amount", "Message")
	b.WriteString(strings.Repeat("-", 90) + "\n")
	for _, a := range alerts {
		fmt.Fprintf(&b, "%-20s %-9s %-11s %-11s %10.2f  %s\n",
			a.Timestamp.Format("2006-01-02 15:04:05"),
			a.Severity, a.FromMode, a.ToMode, a.TriggeringAmount, a.Message)
	}
	return b.String()
}

// FormatCacheStats formats cache stats as text.
func FormatCacheStats(stats models.CacheStats) string {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	return fmt.Sprintf("Cache Statistics (%s)\n"+
		"  Entries:  %d\n"+
		"  Hits:     %d\n"+
		"  Misses:   %d\n"+
		"  Hit Rate: %.1f%%\n",
		stats.Backend, stats.Entries, stats.Hits, stats.Misses, hitRate)
}
