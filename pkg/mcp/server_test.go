package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/querygate/pkg/models"
)

type fakeReporter struct {
	status    models.CostStatus
	history   []models.HistoryEntry
	forecast  models.Forecast
	stats     models.CacheStats
	statsErr  error
	alerts    []models.Alert
	gotPeriod models.HistoryPeriod
	gotLimit  int
	gotDays   int
}

func (f *fakeReporter) CostStatus(context.Context) models.CostStatus { return f.status }

func (f *fakeReporter) CostHistory(_ context.Context, period models.HistoryPeriod, limit int) ([]models.HistoryEntry, error) {
	f.gotPeriod, f.gotLimit = period, limit
	if period == "hourly" {
		return nil, errors.New(`unknown history period "hourly"`)
	}
	return f.history, nil
}

func (f *fakeReporter) CostForecast(_ context.Context, days int) models.Forecast {
	f.gotDays = days
	return f.forecast
}

func (f *fakeReporter) CacheStats(context.Context) (models.CacheStats, error) {
	return f.stats, f.statsErr
}

func (f *fakeReporter) Alerts(_ context.Context, limit int) ([]models.Alert, error) {
	f.gotLimit = limit
	return f.alerts, nil
}

func sendAndReceive(t *testing.T, srv *Server, req rpcRequest) rpcResponse {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) toolResult {
	t.Helper()
	p := toolCallParams{Name: name}
	if args != "" {
		p.Arguments = json.RawMessage(args)
	}
	params, _ := json.Marshal(p)
	resp := sendAndReceive(t, srv, rpcRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`3`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result toolResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := New(&fakeReporter{}, "test", nil)
	resp := sendAndReceive(t, srv, rpcRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result initializeResult
	json.Unmarshal(data, &result)

	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocol version = %s, want 2024-11-05", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "querygate" || result.ServerInfo.Version != "test" {
		t.Errorf("server info = %+v", result.ServerInfo)
	}
}

func TestToolsList(t *testing.T) {
	srv := New(&fakeReporter{}, "test", nil)
	resp := sendAndReceive(t, srv, rpcRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	data, _ := json.Marshal(resp.Result)
	var result toolList
	json.Unmarshal(data, &result)

	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(toolHandlers))
	}
	for _, tool := range result.Tools {
		if _, ok := toolHandlers[tool.Name]; !ok {
			t.Errorf("listed tool %s has no handler", tool.Name)
		}
	}
}

func TestToolCallCostStatus(t *testing.T) {
	srv := New(&fakeReporter{status: models.CostStatus{
		WeeklySpent: 30,
		Mode:        models.ModeNormal,
		NaturalMode: models.ModeRestricted,
		Overridden:  true,
		Override:    &models.ManualOverride{Active: true, SetBy: "ops", Reason: "incident"},
		Limits:      models.BudgetConfig{WeeklyLimit: 25},
	}}, "test", nil)

	text := callTool(t, srv, "querygate_cost_status", "").Content[0].Text
	for _, want := range []string{"normal (override; natural mode restricted)", "30.00 of 25.00", "set by ops", "(incident)"} {
		if !strings.Contains(text, want) {
			t.Errorf("status output missing %q:\n%s", want, text)
		}
	}
}

func TestToolCallCostHistory(t *testing.T) {
	fr := &fakeReporter{history: []models.HistoryEntry{
		{Period: "weekly", Start: "2026-03-16", End: "2026-03-22", Cost: 12.5, QueryCount: 3, ExecutionTime: 2 * time.Second},
	}}
	srv := New(fr, "test", nil)

	text := callTool(t, srv, "querygate_cost_history", `{"period":"weekly","limit":4}`).Content[0].Text
	if !strings.Contains(text, "2026-03-16") || !strings.Contains(text, "12.5000") {
		t.Errorf("unexpected history output:\n%s", text)
	}
	if fr.gotPeriod != models.PeriodWeekly || fr.gotLimit != 4 {
		t.Errorf("reporter called with %q/%d", fr.gotPeriod, fr.gotLimit)
	}

	if res := callTool(t, srv, "querygate_cost_history", `{"period":"hourly"}`); !res.IsError {
		t.Error("expected isError=true for unknown period")
	}
	if res := callTool(t, srv, "querygate_cost_history", `{"limit":"ten"}`); !res.IsError {
		t.Error("expected isError=true for malformed arguments")
	}
}

func TestToolCallCostForecast(t *testing.T) {
	fr := &fakeReporter{forecast: models.Forecast{
		DailyAverage:  1.5,
		DaysRemaining: 9999,
		Points:        []models.ForecastPoint{{Date: "2026-03-19", ProjectedCost: 1.5, CumulativeCost: 21.5}},
	}}
	srv := New(fr, "test", nil)

	text := callTool(t, srv, "querygate_cost_forecast", `{"days":1}`).Content[0].Text
	if !strings.Contains(text, "2026-03-19") || !strings.Contains(text, "n/a") {
		t.Errorf("unexpected forecast output:\n%s", text)
	}
	if fr.gotDays != 1 {
		t.Errorf("days = %d, want 1", fr.gotDays)
	}
	if res := callTool(t, srv, "querygate_cost_forecast", `{"days":-1}`); !res.IsError {
		t.Error("expected isError=true for negative days")
	}
}

func TestToolCallCacheStats(t *testing.T) {
	srv := New(&fakeReporter{stats: models.CacheStats{Backend: "redis", Entries: 42, Hits: 10, Misses: 5}}, "test", nil)

	text := callTool(t, srv, "querygate_cache_stats", "").Content[0].Text
	if !strings.Contains(text, "42") || !strings.Contains(text, "66.7%") || !strings.Contains(text, "redis") {
		t.Errorf("unexpected cache stats output: %s", text)
	}

	srv = New(&fakeReporter{statsErr: errors.New("connection refused")}, "test", nil)
	if res := callTool(t, srv, "querygate_cache_stats", ""); !res.IsError {
		t.Error("expected isError=true when stats fail")
	}
}

func TestToolCallAlerts(t *testing.T) {
	fr := &fakeReporter{alerts: []models.Alert{{
		Timestamp:        time.Date(2026, 3, 18, 9, 30, 0, 0, time.UTC),
		Severity:         models.SeverityWarning,
		FromMode:         models.ModeNormal,
		ToMode:           models.ModeCacheOnly,
		Message:          "monthly spend reached the warning threshold",
		TriggeringAmount: 90.5,
	}}}
	srv := New(fr, "test", nil)

	text := callTool(t, srv, "querygate_alerts", `{"limit":5}`).Content[0].Text
	if !strings.Contains(text, "cache_only") || !strings.Contains(text, "90.50") {
		t.Errorf("unexpected alerts output:\n%s", text)
	}
	if fr.gotLimit != 5 {
		t.Errorf("limit = %d, want 5", fr.gotLimit)
	}
}

func TestUnknownTool(t *testing.T) {
	srv := New(&fakeReporter{}, "test", nil)
	res := callTool(t, srv, "querygate_stats", "")
	if !res.IsError || !strings.Contains(res.Content[0].Text, "unknown tool") {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv := New(&fakeReporter{}, "test", nil)

	for _, method := range []string{"notifications/initialized", "notifications/cancelled"} {
		line, _ := json.Marshal(rpcRequest{
			JSONRPC: "2.0",
			Method:  method,
		})
		line = append(line, '\n')

		var out bytes.Buffer
		_ = srv.Run(context.Background(), bytes.NewReader(line), &out)

		if out.Len() != 0 {
			t.Errorf("%s: expected no output, got: %s", method, out.String())
		}
	}
}

func TestParseError(t *testing.T) {
	srv := New(&fakeReporter{}, "test", nil)
	var out bytes.Buffer
	if err := srv.Run(context.Background(), strings.NewReader("{not json\n"), &out); err != nil {
		t.Fatal(err)
	}
	var resp rpcResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Errorf("expected parse error, got %+v", resp)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := New(&fakeReporter{}, "test", nil)
	resp := sendAndReceive(t, srv, rpcRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`9`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != codeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, codeMethodNotFound)
	}
}
