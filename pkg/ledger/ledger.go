// Package ledger accumulates query spend per calendar day and answers
// window totals for budget enforcement.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/querygate/pkg/logging"
	"github.com/pario-ai/querygate/pkg/models"
)

// NoExhaustion is returned by DaysUntilBudgetExhausted when nothing has
// been spent today.
const NoExhaustion = 9999

// ErrSave marks a failure to persist the ledger.
var ErrSave = errors.New("ledger save failed")

// Ledger is the usage ledger. Writes are serialized; reads load a snapshot.
type Ledger struct {
	store  Store
	loc    *time.Location
	logger *zap.Logger
	mu     sync.Mutex
}

// New creates a Ledger over store. Dates are computed in loc (UTC if nil).
func New(store Store, loc *time.Location, logger *zap.Logger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{
		store:  store,
		loc:    loc,
		logger: logging.OrNop(logger).Named("ledger"),
	}
}

// Location returns the time zone dates are computed in.
func (l *Ledger) Location() *time.Location { return l.loc }

// DateKey returns the ledger key for the day containing t.
func (l *Ledger) DateKey(t time.Time) string {
	return t.In(l.loc).Format(models.DateLayout)
}

// Record adds one executed query to the day containing at.
func (l *Ledger) Record(ctx context.Context, at time.Time, cost float64, execTime time.Duration, queryHash string) error {
	if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return fmt.Errorf("record: invalid cost %v", cost)
	}

	entry := models.QueryLogEntry{
		Timestamp:     at,
		Cost:          cost,
		ExecutionTime: execTime,
		QueryHash:     queryHash,
	}
	key := l.DateKey(at)

	l.mu.Lock()
	defer l.mu.Unlock()

	if appender, ok := l.store.(Appender); ok {
		if err := appender.Append(ctx, key, entry); err != nil {
			return fmt.Errorf("%w: %w", ErrSave, err)
		}
		return nil
	}

	if locker, ok := l.store.(Locker); ok {
		unlock, err := locker.Lock(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSave, err)
		}
		defer unlock()
	}

	days := l.load(ctx)
	rec, ok := days[key]
	if !ok {
		rec = models.UsageRecord{Date: key}
	}
	rec.Append(entry)
	days[key] = rec

	if err := l.store.Save(ctx, days); err != nil {
		return fmt.Errorf("%w: %w", ErrSave, err)
	}
	return nil
}

// Snapshot loads the ledger once for several window computations.
func (l *Ledger) Snapshot(ctx context.Context) *Snapshot {
	return &Snapshot{days: l.load(ctx), loc: l.loc}
}

// DailyTotal returns the spend on the day containing t.
func (l *Ledger) DailyTotal(ctx context.Context, t time.Time) float64 {
	return l.Snapshot(ctx).Daily(t)
}

// WeeklyTotal returns the spend of the Monday-starting week containing t.
func (l *Ledger) WeeklyTotal(ctx context.Context, t time.Time) float64 {
	return l.Snapshot(ctx).Weekly(t)
}

// MonthlyTotal returns the spend from the 1st of t's month through t.
func (l *Ledger) MonthlyTotal(ctx context.Context, t time.Time) float64 {
	return l.Snapshot(ctx).Monthly(t)
}

// ProjectedMonthlyTotal extrapolates the month's spend at the current rate.
func (l *Ledger) ProjectedMonthlyTotal(ctx context.Context, t time.Time) float64 {
	return l.Snapshot(ctx).ProjectedMonthly(t)
}

// DaysUntilBudgetExhausted estimates how many days of today's spend rate the
// remaining monthly budget covers.
func (l *Ledger) DaysUntilBudgetExhausted(ctx context.Context, t time.Time, monthlyBudget float64) int {
	return l.Snapshot(ctx).DaysUntilExhausted(t, monthlyBudget)
}

// History returns spend buckets ending with the one containing t, newest first.
func (l *Ledger) History(ctx context.Context, t time.Time, period models.HistoryPeriod, limit int) ([]models.HistoryEntry, error) {
	return l.Snapshot(ctx).History(t, period, limit)
}

// Forecast projects spend for the days after t.
func (l *Ledger) Forecast(ctx context.Context, t time.Time, days int, monthlyBudget float64) models.Forecast {
	return l.Snapshot(ctx).Forecast(t, days, monthlyBudget)
}

// Day returns the record for an ISO date.
func (l *Ledger) Day(ctx context.Context, date string) (models.UsageRecord, bool) {
	rec, ok := l.load(ctx)[date]
	return rec, ok
}

// Days returns all records ordered by date.
func (l *Ledger) Days(ctx context.Context) []models.UsageRecord {
	days := l.load(ctx)
	out := make([]models.UsageRecord, 0, len(days))
	for _, r := range days {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// load returns the stored days, or an empty ledger if the store is unreadable.
func (l *Ledger) load(ctx context.Context) map[string]models.UsageRecord {
	days, err := l.store.Load(ctx)
	if err != nil {
		l.logger.Warn("ledger unreadable, starting empty", zap.Error(err))
		return make(map[string]models.UsageRecord)
	}
	if days == nil {
		days = make(map[string]models.UsageRecord)
	}
	return days
}
