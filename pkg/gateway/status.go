package gateway

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pario-ai/querygate/pkg/models"
	"github.com/pario-ai/querygate/pkg/report"
)

// CostStatus summarizes current spend against the budget.
func (g *Gateway) CostStatus(ctx context.Context) models.CostStatus {
	now := g.engine.Now()
	eval := g.engine.Evaluate(ctx, now)
	snap := g.ledger.Snapshot(ctx)
	cfg := g.engine.Config()

	st := models.CostStatus{
		DailySpent:       eval.Daily,
		WeeklySpent:      eval.Weekly,
		MonthlySpent:     eval.Monthly,
		Mode:             eval.Mode,
		NaturalMode:      eval.Natural,
		Overridden:       eval.Overridden,
		Override:         eval.Override,
		ProjectedMonthly: snap.ProjectedMonthly(now),
		DaysRemaining:    snap.DaysUntilExhausted(now, cfg.MonthlyBudget),
		Limits:           cfg,
		GeneratedAt:      now,
	}
	if cfg.MonthlyBudget > 0 {
		st.BudgetPercentage = eval.Monthly / cfg.MonthlyBudget * 100
		st.RemainingBudget = max(cfg.MonthlyBudget-eval.Monthly, 0)
	}
	g.metrics.ObserveSpend(eval.Daily, eval.Weekly, eval.Monthly, eval.Mode)
	return st
}

// CostHistory returns spend buckets, newest first.
func (g *Gateway) CostHistory(ctx context.Context, period models.HistoryPeriod, limit int) ([]models.HistoryEntry, error) {
	return g.ledger.History(ctx, g.engine.Now(), period, limit)
}

// CostForecast projects spend over the next days.
func (g *Gateway) CostForecast(ctx context.Context, days int) models.Forecast {
	return g.ledger.Forecast(ctx, g.engine.Now(), days, g.engine.Config().MonthlyBudget)
}

// ResetRestrictions lifts budget restrictions for the context's override
// scope until the current week or month ends. The reset is logged and
// recorded as an info alert.
func (g *Gateway) ResetRestrictions(ctx context.Context, actor, reason string) (models.ManualOverride, error) {
	o, err := g.engine.ResetRestrictions(ctx, actor, reason)
	if err != nil {
		return o, err
	}
	eval := g.engine.Evaluate(ctx, o.SetAt)
	msg := fmt.Sprintf("restrictions reset by %s", actor)
	if reason != "" {
		msg += ": " + reason
	}
	if _, err := g.alerts.Emit(ctx, models.SeverityInfo, eval.Natural, eval.Mode, msg, eval.Monthly); err != nil {
		g.logger.Error("reset alert not recorded", zap.Error(err))
	}
	return o, nil
}

// ClearOverride removes the context's manual override.
func (g *Gateway) ClearOverride(ctx context.Context, actor string) bool {
	return g.engine.ClearOverride(ctx, actor)
}

// Alerts returns recent alerts, newest first.
func (g *Gateway) Alerts(ctx context.Context, limit int) ([]models.Alert, error) {
	return g.alerts.List(ctx, limit)
}

// CacheStats returns result cache statistics.
func (g *Gateway) CacheStats(ctx context.Context) (models.CacheStats, error) {
	return g.cache.Stats(ctx)
}

// ClearCache removes expired entries, or all entries if expiredOnly is false.
func (g *Gateway) ClearCache(ctx context.Context, expiredOnly bool) error {
	return g.cache.Clear(ctx, expiredOnly)
}

// Report assembles a full cost report.
func (g *Gateway) Report(ctx context.Context) (*report.Report, error) {
	now := g.engine.Now()
	r := &report.Report{
		GeneratedAt: now,
		Status:      g.CostStatus(ctx),
		Forecast:    g.CostForecast(ctx, 0),
	}
	var err error
	if r.Daily, err = g.ledger.History(ctx, now, models.PeriodDaily, 0); err != nil {
		return nil, err
	}
	if r.Weekly, err = g.ledger.History(ctx, now, models.PeriodWeekly, 0); err != nil {
		return nil, err
	}
	if r.Monthly, err = g.ledger.History(ctx, now, models.PeriodMonthly, 0); err != nil {
		return nil, err
	}
	if r.Alerts, err = g.alerts.List(ctx, 20); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return r, nil
}

// ExportCostReport renders the cost report in the named format.
func (g *Gateway) ExportCostReport(ctx context.Context, format string) ([]byte, report.Format, error) {
	f, err := report.ParseFormat(format)
	if err != nil {
		return nil, "", err
	}
	r, err := g.Report(ctx)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	if err := report.Write(&buf, f, r); err != nil {
		return nil, "", fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), f, nil
}
