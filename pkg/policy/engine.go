// Package policy derives the gateway's operating mode from recorded spend.
package policy

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/querygate/pkg/ledger"
	"github.com/pario-ai/querygate/pkg/logging"
	"github.com/pario-ai/querygate/pkg/models"
)

// ErrNoOverrideScope is returned by ResetRestrictions when the context
// carries no OverrideScope.
var ErrNoOverrideScope = errors.New("no override scope in context")

// Evaluation is the outcome of one mode derivation.
type Evaluation struct {
	// Mode is the effective mode after any manual override.
	Mode models.OperatingMode
	// Natural is the mode the ledger alone implies.
	Natural    models.OperatingMode
	Overridden bool
	Override   *models.ManualOverride
	// Scope, Limit and Spent describe the threshold behind Natural.
	Scope   models.LimitScope
	Limit   float64
	Spent   float64
	Daily   float64
	Weekly  float64
	Monthly float64
	At      time.Time
}

// Engine evaluates budget policy against the ledger.
type Engine struct {
	ledger *ledger.Ledger
	cfg    models.BudgetConfig
	clock  func() time.Time
	logger *zap.Logger
}

// New creates an Engine. clock defaults to time.Now.
func New(l *ledger.Ledger, cfg models.BudgetConfig, clock func() time.Time, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		ledger: l,
		cfg:    cfg,
		clock:  clock,
		logger: logging.OrNop(logger).Named("policy"),
	}
}

// Config returns the budget configuration.
func (e *Engine) Config() models.BudgetConfig { return e.cfg }

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.clock() }

// Derive maps window totals to a mode. Checks run in precedence order:
// monthly hard limit, weekly limit, then the monthly warning ratio. A zero
// limit is not enforced and the daily limit never changes the mode.
func Derive(cfg models.BudgetConfig, weekly, monthly float64) (models.OperatingMode, models.LimitScope, float64, float64) {
	if cfg.MonthlyLimit > 0 && monthly >= cfg.MonthlyLimit {
		return models.ModeSuspended, models.ScopeMonthly, cfg.MonthlyLimit, monthly
	}
	if cfg.WeeklyLimit > 0 && weekly >= cfg.WeeklyLimit {
		return models.ModeRestricted, models.ScopeWeekly, cfg.WeeklyLimit, weekly
	}
	if warn := cfg.MonthlyBudget * cfg.WarningThreshold; warn > 0 && monthly >= warn {
		return models.ModeCacheOnly, models.ScopeWarning, warn, monthly
	}
	return models.ModeNormal, models.ScopeNone, 0, 0
}

// Evaluate derives the mode at now and applies the context's manual
// override. An override set in an earlier week or month is cleared here.
func (e *Engine) Evaluate(ctx context.Context, now time.Time) Evaluation {
	snap := e.ledger.Snapshot(ctx)
	ev := Evaluation{
		Daily:   snap.Daily(now),
		Weekly:  snap.Weekly(now),
		Monthly: snap.Monthly(now),
		At:      now,
	}
	ev.Natural, ev.Scope, ev.Limit, ev.Spent = Derive(e.cfg, ev.Weekly, ev.Monthly)
	ev.Mode = ev.Natural

	scope := OverrideFromContext(ctx)
	if scope == nil {
		return ev
	}
	active, expired := scope.expireAt(now, e.ledger.Location())
	if expired != nil {
		e.logger.Info("manual override expired at window rollover",
			zap.String("set_by", expired.SetBy),
			zap.Time("set_at", expired.SetAt),
			zap.Stringer("natural_mode", ev.Natural),
		)
	}
	if active != nil {
		ev.Mode = models.ModeNormal
		ev.Overridden = true
		ev.Override = active
	}
	return ev
}

// CurrentMode returns the effective mode now.
func (e *Engine) CurrentMode(ctx context.Context) models.OperatingMode {
	return e.Evaluate(ctx, e.clock()).Mode
}

// ResetRestrictions forces Normal mode in the context's override scope
// until the current week or month ends.
func (e *Engine) ResetRestrictions(ctx context.Context, actor, reason string) (models.ManualOverride, error) {
	scope := OverrideFromContext(ctx)
	if scope == nil {
		return models.ManualOverride{}, ErrNoOverrideScope
	}
	now := e.clock()
	ev := e.Evaluate(ctx, now)

	o := models.ManualOverride{Active: true, Reason: reason, SetBy: actor, SetAt: now}
	scope.Set(o)

	e.logger.Warn("restrictions reset by operator",
		zap.String("actor", actor),
		zap.String("reason", reason),
		zap.Time("at", now),
		zap.Stringer("natural_mode", ev.Natural),
		zap.Float64("weekly_spent", ev.Weekly),
		zap.Float64("monthly_spent", ev.Monthly),
	)
	return o, nil
}

// ClearOverride removes the context's manual override.
func (e *Engine) ClearOverride(ctx context.Context, actor string) bool {
	scope := OverrideFromContext(ctx)
	if scope == nil {
		return false
	}
	o, ok := scope.Clear()
	if ok {
		e.logger.Info("manual override cleared",
			zap.String("actor", actor),
			zap.String("set_by", o.SetBy),
		)
	}
	return ok
}
