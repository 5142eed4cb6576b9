package models

import (
	"fmt"
	"strings"
	"time"
)

// BudgetConfig holds the spend limits the policy engine enforces.
// A zero limit is not enforced.
type BudgetConfig struct {
	DailyLimit       float64 `json:"daily_limit" yaml:"daily_limit"`
	WeeklyLimit      float64 `json:"weekly_limit" yaml:"weekly_limit"`
	MonthlyLimit     float64 `json:"monthly_limit" yaml:"monthly_limit"`
	MonthlyBudget    float64 `json:"monthly_budget" yaml:"monthly_budget"`
	WarningThreshold float64 `json:"warning_threshold" yaml:"warning_threshold"`
}

// OperatingMode is the gateway's service-degradation tier.
// Values are ordered by severity.
type OperatingMode int

const (
	ModeNormal OperatingMode = iota
	ModeCacheOnly
	ModeRestricted
	ModeSuspended
)

var modeNames = [...]string{"normal", "cache_only", "restricted", "suspended"}

func (m OperatingMode) String() string {
	if m < ModeNormal || m > ModeSuspended {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// MarshalText implements encoding.TextMarshaler.
func (m OperatingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *OperatingMode) UnmarshalText(b []byte) error {
	mode, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseMode converts a mode name back to an OperatingMode.
func ParseMode(s string) (OperatingMode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return OperatingMode(i), nil
		}
	}
	return ModeNormal, fmt.Errorf("unknown operating mode %q", s)
}

// LimitScope names the window whose limit triggered a mode.
type LimitScope string

const (
	ScopeNone    LimitScope = ""
	ScopeWeekly  LimitScope = "weekly"
	ScopeMonthly LimitScope = "monthly"
	// ScopeWarning is the soft monthly budget warning ratio.
	ScopeWarning LimitScope = "monthly_budget"
)

// ManualOverride forces Normal mode regardless of ledger contents.
type ManualOverride struct {
	Active bool      `json:"active"`
	Reason string    `json:"reason,omitempty"`
	SetBy  string    `json:"set_by,omitempty"`
	SetAt  time.Time `json:"set_at"`
}

// CostStatus is the snapshot returned to dashboards.
type CostStatus struct {
	DailySpent       float64         `json:"daily_spent"`
	WeeklySpent      float64         `json:"weekly_spent"`
	MonthlySpent     float64         `json:"monthly_spent"`
	BudgetPercentage float64         `json:"budget_percentage"`
	RemainingBudget  float64         `json:"remaining_budget"`
	Mode             OperatingMode   `json:"mode"`
	NaturalMode      OperatingMode   `json:"natural_mode"`
	Overridden       bool            `json:"overridden"`
	Override         *ManualOverride `json:"override,omitempty"`
	ProjectedMonthly float64         `json:"projected_monthly"`
	DaysRemaining    int             `json:"days_remaining"`
	Limits           BudgetConfig    `json:"limits"`
	GeneratedAt      time.Time       `json:"generated_at"`
}
