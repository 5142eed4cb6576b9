package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pario-ai/querygate/pkg/models"
	"github.com/pario-ai/querygate/pkg/report"
)

type historyArgs struct {
	Period string `json:"period"`
	Limit  int    `json:"limit"`
}

type forecastArgs struct {
	Days int `json:"days"`
}

type limitArgs struct {
	Limit int `json:"limit"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) toolResult

var toolHandlers = map[string]toolHandler{
	"querygate_cost_status":   handleCostStatus,
	"querygate_cost_history":  handleCostHistory,
	"querygate_cost_forecast": handleCostForecast,
	"querygate_cache_stats":   handleCacheStats,
	"querygate_alerts":        handleAlerts,
}

var allTools = []toolSpec{
	{
		Name:        "querygate_cost_status",
		Description: "Show current spend against the daily, weekly and monthly limits and the operating mode.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "querygate_cost_history",
		Description: "Show historical spend in daily, weekly or monthly buckets, newest first.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"period": map[string]any{
					"type":        "string",
					"enum":        []string{"daily", "weekly", "monthly"},
					"description": "Bucket size (optional, defaults to daily)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Number of buckets (optional, defaults to 30 days or 12 weeks/months)",
				},
			},
		},
	},
	{
		Name:        "querygate_cost_forecast",
		Description: "Project spend for the coming days from the trailing 7-day average.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"days": map[string]any{
					"type":        "integer",
					"description": "Days to project (optional, defaults to 7)",
				},
			},
		},
	},
	{
		Name:        "querygate_cache_stats",
		Description: "Show result cache statistics (entries, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "querygate_alerts",
		Description: "List recent budget alerts, newest first.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum alerts to return (optional, defaults to 100)",
				},
			},
		},
	},
}

func textResult(text string) toolResult {
	return toolResult{
		Content: []textBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) toolResult {
	return toolResult{
		Content: []textBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

// decodeArgs unmarshals optional tool arguments into v.
func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func handleCostStatus(ctx context.Context, s *Server, _ json.RawMessage) toolResult {
	return textResult(report.FormatStatus(s.reporter.CostStatus(ctx)))
}

func handleCostHistory(ctx context.Context, s *Server, rawArgs json.RawMessage) toolResult {
	var args historyArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult(err.Error())
	}
	if args.Limit < 0 {
		return errorResult("limit must not be negative")
	}
	entries, err := s.reporter.CostHistory(ctx, models.HistoryPeriod(args.Period), args.Limit)
	if err != nil {
		return errorResult("Error fetching cost history: " + err.Error())
	}
	return textResult(report.FormatHistory(entries))
}

func handleCostForecast(ctx context.Context, s *Server, rawArgs json.RawMessage) toolResult {
	var args forecastArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult(err.Error())
	}
	if args.Days < 0 {
		return errorResult("days must not be negative")
	}
	return textResult(report.FormatForecast(s.reporter.CostForecast(ctx, args.Days)))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) toolResult {
	stats, err := s.reporter.CacheStats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(report.FormatCacheStats(stats))
}

func handleAlerts(ctx context.Context, s *Server, rawArgs json.RawMessage) toolResult {
	var args limitArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult(err.Error())
	}
	alerts, err := s.reporter.Alerts(ctx, args.Limit)
	if err != nil {
		return errorResult("Error fetching alerts: " + err.Error())
	}
	return textResult(report.FormatAlerts(alerts))
}
