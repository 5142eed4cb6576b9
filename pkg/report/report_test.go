package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pario-ai/querygate/pkg/ledger"
	"github.com/pario-ai/querygate/pkg/models"
)

func sampleReport() *Report {
	at := time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)
	return &Report{
		GeneratedAt: at,
		Status: models.CostStatus{
			DailySpent:       9,
			WeeklySpent:      12,
			MonthlySpent:     14,
			BudgetPercentage: 14,
			RemainingBudget:  86,
			Mode:             models.ModeNormal,
			NaturalMode:      models.ModeRestricted,
			Overridden:       true,
			Override:         &models.ManualOverride{Active: true, SetBy: "ops", SetAt: at, Reason: "month end"},
			ProjectedMonthly: 24.11,
			DaysRemaining:    ledger.NoExhaustion,
			Limits:           models.BudgetConfig{WeeklyLimit: 25, MonthlyLimit: 100, MonthlyBudget: 100, WarningThreshold: 0.9},
			GeneratedAt:      at,
		},
		Daily: []models.HistoryEntry{
			{Period: "daily", Start: "2026-03-18", End: "2026-03-18", Cost: 9, QueryCount: 2, ExecutionTime: 1500 * time.Millisecond},
			{Period: "daily", Start: "2026-03-17", End: "2026-03-17"},
		},
		Monthly: []models.HistoryEntry{
			{Period: "monthly", Start: "2026-03-01", End: "2026-03-31", Cost: 14, QueryCount: 4},
		},
		Forecast: models.Forecast{
			DailyAverage: 2,
			Points:       []models.ForecastPoint{{Date: "2026-03-19", ProjectedCost: 2, CumulativeCost: 16}},
		},
		Alerts: []models.Alert{{ID: "a1", Timestamp: at, Severity: models.SeverityWarning, ToMode: models.ModeCacheOnly, Message: "escalated"}},
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{"": FormatJSON, "JSON": FormatJSON, "csv": FormatCSV, "yml": FormatYAML, "text": FormatText, "txt": FormatText}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, sampleReport()); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	status := decoded["status"].(map[string]any)
	if status["mode"] != "normal" || status["natural_mode"] != "restricted" {
		t.Errorf("status = %v", status)
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatYAML, sampleReport()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "{") {
		t.Errorf("expected block style YAML, got:\n%s", out)
	}
	var decoded struct {
		Status struct {
			MonthlySpent float64 `yaml:"monthly_spent"`
			Mode         string  `yaml:"mode"`
		} `yaml:"status"`
		Daily []struct {
			Start string `yaml:"start"`
		} `yaml:"daily"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Status.MonthlySpent != 14 || decoded.Status.Mode != "normal" {
		t.Errorf("status = %+v", decoded.Status)
	}
	if len(decoded.Daily) != 2 || decoded.Daily[0].Start != "2026-03-18" {
		t.Errorf("daily = %+v", decoded.Daily)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatCSV, sampleReport()); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want header + 3", len(rows))
	}
	if rows[0][0] != "period" || rows[1][1] != "2026-03-18" || rows[1][3] != "9.000000" || rows[1][5] != "1.500" {
		t.Errorf("unexpected rows %v", rows[:2])
	}
	if rows[3][0] != "monthly" {
		t.Errorf("last row = %v", rows[3])
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatText, sampleReport()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"override; natural mode restricted",
		"12.00 of 25.00",
		"9.00 (no limit)",
		"Days remaining:    n/a",
		"set by ops",
		"2026-03-19",
		"escalated",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text report missing %q:\n%s", want, out)
		}
	}
}

func TestFormatCacheStats(t *testing.T) {
	out := FormatCacheStats(models.CacheStats{Backend: "memory", Entries: 3, Hits: 3, Misses: 1})
	if !strings.Contains(out, "Hit Rate: 75.0%") || !strings.Contains(out, "(memory)") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestFormatEmpty(t *testing.T) {
	if got := FormatHistory(nil); !strings.Contains(got, "No usage data") {
		t.Errorf("FormatHistory(nil) = %q", got)
	}
	if got := FormatAlerts(nil); !strings.Contains(got, "No alerts") {
		t.Errorf("FormatAlerts(nil) = %q", got)
	}
}
