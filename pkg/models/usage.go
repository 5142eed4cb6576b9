package models

import "time"

// DateLayout is the ISO calendar-day key used by the usage ledger.
const DateLayout = "2006-01-02"

// QueryLogEntry is a single recorded query execution.
type QueryLogEntry struct {
	Timestamp     time.Time     `json:"timestamp"`
	Cost          float64       `json:"cost"`
	ExecutionTime time.Duration `json:"execution_time"`
	QueryHash     string        `json:"query_hash"`
}

// UsageRecord aggregates spend for one calendar day.
// TotalCost always equals the sum of QueryLog costs and QueryCount equals len(QueryLog).
type UsageRecord struct {
	Date               string          `json:"date"`
	TotalCost          float64         `json:"total_cost"`
	QueryCount         int             `json:"query_count"`
	TotalExecutionTime time.Duration   `json:"total_execution_time"`
	QueryLog           []QueryLogEntry `json:"query_log"`
}

// Append adds an entry to the day's log and updates the aggregates.
func (r *UsageRecord) Append(e QueryLogEntry) {
	r.QueryLog = append(r.QueryLog, e)
	r.TotalCost += e.Cost
	r.QueryCount++
	r.TotalExecutionTime += e.ExecutionTime
}

// Clone returns a deep copy of the record.
func (r UsageRecord) Clone() UsageRecord {
	out := r
	if r.QueryLog != nil {
		out.QueryLog = make([]QueryLogEntry, len(r.QueryLog))
		copy(out.QueryLog, r.QueryLog)
	}
	return out
}

// HistoryPeriod selects the bucket size for cost history.
type HistoryPeriod string

const (
	PeriodDaily   HistoryPeriod = "daily"
	PeriodWeekly  HistoryPeriod = "weekly"
	PeriodMonthly HistoryPeriod = "monthly"
)

// HistoryEntry is one bucket of historical spend.
type HistoryEntry struct {
	Period        string        `json:"period"`
	Start         string        `json:"start"`
	End           string        `json:"end"`
	Cost          float64       `json:"cost"`
	QueryCount    int           `json:"query_count"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// ForecastPoint is the projected spend for a future day.
type ForecastPoint struct {
	Date           string  `json:"date"`
	ProjectedCost  float64 `json:"projected_cost"`
	CumulativeCost float64 `json:"cumulative_cost"`
	OverBudget     bool    `json:"over_budget"`
}

// Forecast summarizes projected spend over the coming days.
type Forecast struct {
	GeneratedAt      time.Time       `json:"generated_at"`
	DailyAverage     float64         `json:"daily_average"`
	MonthlySoFar     float64         `json:"monthly_so_far"`
	ProjectedMonthly float64         `json:"projected_monthly"`
	MonthlyBudget    float64         `json:"monthly_budget"`
	DaysRemaining    int             `json:"days_remaining"`
	Points           []ForecastPoint `json:"points"`
}
