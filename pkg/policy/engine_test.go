package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pario-ai/querygate/pkg/ledger"
	"github.com/pario-ai/querygate/pkg/models"
)

// Wednesday; the week runs 2026-03-16 to 2026-03-22.
var wednesday = time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)

var defaultBudget = models.BudgetConfig{
	DailyLimit:       5,
	WeeklyLimit:      25,
	MonthlyLimit:     100,
	MonthlyBudget:    100,
	WarningThreshold: 0.90,
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newEngine(t *testing.T, cfg models.BudgetConfig, c *clock, logger *zap.Logger) (*Engine, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore(), time.UTC, nil)
	return New(l, cfg, c.Now, logger), l
}

func record(t *testing.T, l *ledger.Ledger, at time.Time, cost float64) {
	t.Helper()
	if err := l.Record(context.Background(), at, cost, 0, "h"); err != nil {
		t.Fatal(err)
	}
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name    string
		cfg     models.BudgetConfig
		weekly  float64
		monthly float64
		want    models.OperatingMode
		scope   models.LimitScope
	}{
		{"normal", defaultBudget, 10, 50, models.ModeNormal, models.ScopeNone},
		{"monthly and weekly crossed", defaultBudget, 30, 120, models.ModeSuspended, models.ScopeMonthly},
		{"weekly crossed", defaultBudget, 25, 60, models.ModeRestricted, models.ScopeWeekly},
		{"warning ratio", defaultBudget, 10, 91, models.ModeCacheOnly, models.ScopeWarning},
		{"just below warning ratio", defaultBudget, 10, 89.99, models.ModeNormal, models.ScopeNone},
		{"hard limit below budget", models.BudgetConfig{WeeklyLimit: 25, MonthlyLimit: 80, MonthlyBudget: 100, WarningThreshold: 0.9}, 10, 80, models.ModeSuspended, models.ScopeMonthly},
		{"zero limits not enforced", models.BudgetConfig{WarningThreshold: 0.9}, 1e6, 1e6, models.ModeNormal, models.ScopeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, scope, _, _ := Derive(tt.cfg, tt.weekly, tt.monthly)
			if mode != tt.want || scope != tt.scope {
				t.Errorf("Derive = %v/%q, want %v/%q", mode, scope, tt.want, tt.scope)
			}
		})
	}
}

func TestPrecedenceSuspendedOverRestricted(t *testing.T) {
	c := &clock{wednesday}
	e, l := newEngine(t, defaultBudget, c, nil)
	record(t, l, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), 80)
	record(t, l, wednesday, 30)

	ev := e.Evaluate(context.Background(), wednesday)
	if ev.Mode != models.ModeSuspended {
		t.Errorf("mode = %v, want suspended", ev.Mode)
	}
	if ev.Scope != models.ScopeMonthly || ev.Limit != 100 || ev.Spent != 110 {
		t.Errorf("trigger = %q %v %v", ev.Scope, ev.Limit, ev.Spent)
	}
}

func TestCurrentModeIdempotent(t *testing.T) {
	c := &clock{wednesday}
	e, l := newEngine(t, defaultBudget, c, nil)
	record(t, l, wednesday, 26)

	ctx := context.Background()
	first := e.CurrentMode(ctx)
	second := e.CurrentMode(ctx)
	if first != second || first != models.ModeRestricted {
		t.Errorf("modes = %v, %v; want restricted twice", first, second)
	}
}

func TestDailyLimitIsInformational(t *testing.T) {
	c := &clock{wednesday}
	e, l := newEngine(t, defaultBudget, c, nil)
	record(t, l, wednesday, 6)

	ev := e.Evaluate(context.Background(), wednesday)
	if ev.Daily != 6 {
		t.Errorf("daily = %v, want 6", ev.Daily)
	}
	if ev.Mode != models.ModeNormal {
		t.Errorf("mode = %v, want normal", ev.Mode)
	}
}

func TestCacheOnlyAtWarningRatio(t *testing.T) {
	c := &clock{wednesday}
	e, l := newEngine(t, models.BudgetConfig{WeeklyLimit: 50, MonthlyLimit: 150, MonthlyBudget: 100, WarningThreshold: 0.90}, c, nil)
	record(t, l, time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC), 71)
	record(t, l, wednesday, 20)

	ev := e.Evaluate(context.Background(), wednesday)
	if ev.Monthly != 91 || ev.Weekly != 20 {
		t.Fatalf("totals = %v/%v", ev.Weekly, ev.Monthly)
	}
	if ev.Mode != models.ModeCacheOnly {
		t.Errorf("mode = %v, want cache_only", ev.Mode)
	}
}

func TestHardLimitBelowBudgetSuspends(t *testing.T) {
	c := &clock{wednesday}
	e, l := newEngine(t, models.BudgetConfig{WeeklyLimit: 50, MonthlyLimit: 80, MonthlyBudget: 100, WarningThreshold: 0.90}, c, nil)
	record(t, l, time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC), 60)
	record(t, l, wednesday, 20)

	if mode := e.CurrentMode(context.Background()); mode != models.ModeSuspended {
		t.Errorf("mode = %v, want suspended", mode)
	}
}

func TestMonthRolloverRecovers(t *testing.T) {
	c := &clock{time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)}
	e, l := newEngine(t, defaultBudget, c, nil)
	record(t, l, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), 100)

	if mode := e.CurrentMode(context.Background()); mode != models.ModeSuspended {
		t.Fatalf("mode = %v, want suspended", mode)
	}
	c.t = time.Date(2026, 4, 1, 0, 0, 1, 0, time.UTC)
	if mode := e.CurrentMode(context.Background()); mode != models.ModeNormal {
		t.Errorf("mode after rollover = %v, want normal", mode)
	}
}

func TestResetRestrictionsLifetime(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := &clock{wednesday}
	e, l := newEngine(t, defaultBudget, c, zap.New(core))
	record(t, l, wednesday, 30)

	scope := NewOverrideScope()
	ctx := WithOverride(context.Background(), scope)

	if mode := e.CurrentMode(ctx); mode != models.ModeRestricted {
		t.Fatalf("mode = %v, want restricted", mode)
	}

	o, err := e.ResetRestrictions(ctx, "ops@example.com", "quarter-end reporting")
	if err != nil {
		t.Fatal(err)
	}
	if !o.Active || o.SetBy != "ops@example.com" || !o.SetAt.Equal(wednesday) {
		t.Errorf("override = %+v", o)
	}
	audit := logs.FilterMessage("restrictions reset by operator").All()
	if len(audit) != 1 || audit[0].ContextMap()["actor"] != "ops@example.com" {
		t.Errorf("expected one audit entry naming the actor, got %v", audit)
	}

	// More spend in the same week keeps the override in force.
	c.t = wednesday.Add(48 * time.Hour)
	record(t, l, c.t, 10)
	ev := e.Evaluate(ctx, c.t)
	if ev.Mode != models.ModeNormal || !ev.Overridden || ev.Natural != models.ModeRestricted {
		t.Errorf("in-week evaluation = %+v", ev)
	}

	// Without the scope the same ledger is still restricted.
	if mode := e.Evaluate(context.Background(), c.t).Mode; mode != models.ModeRestricted {
		t.Errorf("mode without scope = %v, want restricted", mode)
	}

	// Sunday 23:59 is still the same week.
	c.t = time.Date(2026, 3, 22, 23, 59, 0, 0, time.UTC)
	if ev := e.Evaluate(ctx, c.t); !ev.Overridden {
		t.Error("override should last through Sunday")
	}

	// Monday starts a new week and clears the override.
	c.t = time.Date(2026, 3, 23, 0, 0, 1, 0, time.UTC)
	ev = e.Evaluate(ctx, c.t)
	if ev.Overridden {
		t.Error("override should be cleared at the weekly rollover")
	}
	if _, ok := scope.Current(); ok {
		t.Error("scope should be empty after expiry")
	}
	if logs.FilterMessage("manual override expired at window rollover").Len() != 1 {
		t.Error("expected expiry to be logged")
	}
}

func TestOverrideClearedAtMonthBoundaryMidWeek(t *testing.T) {
	// 2026-03-31 is a Tuesday; 2026-04-01 is in the same week.
	c := &clock{time.Date(2026, 3, 31, 10, 0, 0, 0, time.UTC)}
	e, l := newEngine(t, defaultBudget, c, nil)
	record(t, l, c.t, 100)

	ctx := WithOverride(context.Background(), NewOverrideScope())
	if _, err := e.ResetRestrictions(ctx, "ops", ""); err != nil {
		t.Fatal(err)
	}
	if ev := e.Evaluate(ctx, c.t); ev.Mode != models.ModeNormal || ev.Natural != models.ModeSuspended {
		t.Fatalf("evaluation = %+v", ev)
	}

	c.t = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	record(t, l, c.t, 26)
	ev := e.Evaluate(ctx, c.t)
	if ev.Overridden {
		t.Error("override should be cleared in a new month")
	}
	if ev.Mode != models.ModeRestricted {
		t.Errorf("mode = %v, want restricted from the week spanning the boundary", ev.Mode)
	}
}

func TestClearOverride(t *testing.T) {
	c := &clock{wednesday}
	e, l := newEngine(t, defaultBudget, c, nil)
	record(t, l, wednesday, 30)

	ctx := WithOverride(context.Background(), NewOverrideScope())
	if _, err := e.ResetRestrictions(ctx, "ops", "test"); err != nil {
		t.Fatal(err)
	}
	if !e.ClearOverride(ctx, "ops") {
		t.Error("expected an override to clear")
	}
	if e.ClearOverride(ctx, "ops") {
		t.Error("second clear should report nothing to clear")
	}
	if mode := e.CurrentMode(ctx); mode != models.ModeRestricted {
		t.Errorf("mode = %v, want restricted", mode)
	}
}

func TestResetRestrictionsWithoutScope(t *testing.T) {
	e, _ := newEngine(t, defaultBudget, &clock{wednesday}, nil)
	if _, err := e.ResetRestrictions(context.Background(), "ops", ""); !errors.Is(err, ErrNoOverrideScope) {
		t.Errorf("expected ErrNoOverrideScope, got %v", err)
	}
}
