package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/pario-ai/querygate/pkg/models"
)

// Snapshot is a point-in-time copy of the ledger.
type Snapshot struct {
	days map[string]models.UsageRecord
	loc  *time.Location
}

// Daily returns the spend on the day containing t.
func (s *Snapshot) Daily(t time.Time) float64 {
	return s.days[s.key(s.midnight(t))].TotalCost
}

// Weekly returns the spend of the Monday-starting week containing t.
func (s *Snapshot) Weekly(t time.Time) float64 {
	start := weekStart(s.midnight(t))
	return s.sum(start, start.AddDate(0, 0, 6)).Cost
}

// Monthly returns the spend from the 1st of t's month through t.
func (s *Snapshot) Monthly(t time.Time) float64 {
	day := s.midnight(t)
	return s.sum(monthStart(day), day).Cost
}

// ProjectedMonthly is the month's spend so far scaled to the whole month.
func (s *Snapshot) ProjectedMonthly(t time.Time) float64 {
	day := s.midnight(t)
	dom := day.Day()
	if dom == 0 {
		return 0
	}
	return s.Monthly(t) / float64(dom) * float64(daysIn(day))
}

// DaysUntilExhausted returns floor((budget - monthly) / today). It returns
// NoExhaustion when nothing was spent today or no budget is set, and 0 when
// the budget is already spent.
func (s *Snapshot) DaysUntilExhausted(t time.Time, monthlyBudget float64) int {
	if monthlyBudget <= 0 {
		return NoExhaustion
	}
	monthly := s.Monthly(t)
	if monthly >= monthlyBudget {
		return 0
	}
	today := s.Daily(t)
	if today <= 0 {
		return NoExhaustion
	}
	days := math.Floor((monthlyBudget - monthly) / today)
	if days > NoExhaustion {
		return NoExhaustion
	}
	return int(days)
}

// Default bucket counts when History is called without a limit.
const (
	defaultDailyBuckets   = 30
	defaultWeeklyBuckets  = 12
	defaultMonthlyBuckets = 12
)

// History returns limit buckets of the given period ending with the one
// containing t, newest first. Empty buckets are included.
func (s *Snapshot) History(t time.Time, period models.HistoryPeriod, limit int) ([]models.HistoryEntry, error) {
	day := s.midnight(t)
	var start func(i int) (time.Time, time.Time)

	switch period {
	case models.PeriodDaily, "":
		period = models.PeriodDaily
		if limit <= 0 {
			limit = defaultDailyBuckets
		}
		start = func(i int) (time.Time, time.Time) {
			d := day.AddDate(0, 0, -i)
			return d, d
		}
	case models.PeriodWeekly:
		if limit <= 0 {
			limit = defaultWeeklyBuckets
		}
		ws := weekStart(day)
		start = func(i int) (time.Time, time.Time) {
			from := ws.AddDate(0, 0, -7*i)
			return from, from.AddDate(0, 0, 6)
		}
	case models.PeriodMonthly:
		if limit <= 0 {
			limit = defaultMonthlyBuckets
		}
		ms := monthStart(day)
		start = func(i int) (time.Time, time.Time) {
			from := ms.AddDate(0, -i, 0)
			return from, from.AddDate(0, 1, -1)
		}
	default:
		return nil, fmt.Errorf("unknown history period %q", period)
	}

	out := make([]models.HistoryEntry, 0, limit)
	for i := 0; i < limit; i++ {
		from, to := start(i)
		agg := s.sum(from, to)
		out = append(out, models.HistoryEntry{
			Period:        string(period),
			Start:         s.key(from),
			End:           s.key(to),
			Cost:          agg.Cost,
			QueryCount:    agg.Count,
			ExecutionTime: agg.Exec,
		})
	}
	return out, nil
}

const (
	forecastWindow      = 7
	defaultForecastDays = 7
	maxForecastDays     = 366
)

// Forecast projects the trailing 7-day average daily spend over the days
// after t. Cumulative cost starts from the month's spend so far and restarts
// at each month boundary.
func (s *Snapshot) Forecast(t time.Time, days int, monthlyBudget float64) models.Forecast {
	if days <= 0 {
		days = defaultForecastDays
	}
	if days > maxForecastDays {
		days = maxForecastDays
	}

	day := s.midnight(t)
	avg := s.sum(day.AddDate(0, 0, -(forecastWindow-1)), day).Cost / forecastWindow
	monthly := s.Monthly(t)

	f := models.Forecast{
		GeneratedAt:      t,
		DailyAverage:     avg,
		MonthlySoFar:     monthly,
		ProjectedMonthly: s.ProjectedMonthly(t),
		MonthlyBudget:    monthlyBudget,
		DaysRemaining:    s.DaysUntilExhausted(t, monthlyBudget),
		Points:           make([]models.ForecastPoint, 0, days),
	}

	cumulative := monthly
	prev := day
	for i := 1; i <= days; i++ {
		d := day.AddDate(0, 0, i)
		if d.Month() != prev.Month() {
			cumulative = 0
		}
		cumulative += avg
		f.Points = append(f.Points, models.ForecastPoint{
			Date:           s.key(d),
			ProjectedCost:  avg,
			CumulativeCost: cumulative,
			OverBudget:     monthlyBudget > 0 && cumulative > monthlyBudget,
		})
		prev = d
	}
	return f
}

type aggregate struct {
	Cost  float64
	Count int
	Exec  time.Duration
}

// sum aggregates the inclusive day range [from, to].
func (s *Snapshot) sum(from, to time.Time) aggregate {
	var agg aggregate
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		r, ok := s.days[s.key(d)]
		if !ok {
			continue
		}
		agg.Cost += r.TotalCost
		agg.Count += r.QueryCount
		agg.Exec += r.TotalExecutionTime
	}
	return agg
}

func (s *Snapshot) midnight(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
}

func (s *Snapshot) key(d time.Time) string {
	return d.Format(models.DateLayout)
}

func weekStart(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func monthStart(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
}

func daysIn(day time.Time) int {
	return time.Date(day.Year(), day.Month()+1, 0, 0, 0, 0, 0, day.Location()).Day()
}
