// Package report renders cost reports for export.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pario-ai/querygate/pkg/models"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// ParseFormat validates a format name. An empty name is JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatYAML, FormatText:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want json, csv, yaml or text)", s)
	}
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatYAML:
		return "application/yaml"
	case FormatText:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}

// Report is a full cost report.
type Report struct {
	GeneratedAt time.Time             `json:"generated_at"`
	Status      models.CostStatus     `json:"status"`
	Daily       []models.HistoryEntry `json:"daily"`
	Weekly      []models.HistoryEntry `json:"weekly"`
	Monthly     []models.HistoryEntry `json:"monthly"`
	Forecast    models.Forecast       `json:"forecast"`
	Alerts      []models.Alert        `json:"alerts"`
}

// Write renders r to w in format f.
func Write(w io.Writer, f Format, r *Report) error {
	switch f {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		return writeYAML(w, r)
	case FormatCSV:
		return writeCSV(w, r)
	case FormatText:
		_, err := io.WriteString(w, Text(r))
		return err
	default:
		return fmt.Errorf("unknown report format %q", f)
	}
}

// writeYAML emits the JSON field names and order as block-style YAML.
func writeYAML(w io.Writer, r *Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("convert report: %w", err)
	}
	blockStyle(&doc)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// writeCSV writes one row per history bucket, daily then weekly then monthly.
func writeCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"period", "start", "end", "cost", "query_count", "execution_seconds"}); err != nil {
		return err
	}
	for _, group := range [][]models.HistoryEntry{r.Daily, r.Weekly, r.Monthly} {
		for _, e := range group {
			row := []string{
				e.Period,
				e.Start,
				e.End,
				strconv.FormatFloat(e.Cost, 'f', 6, 64),
				strconv.Itoa(e.QueryCount),
				strconv.FormatFloat(e.ExecutionTime.Seconds(), 'f', 3, 64),
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// Text renders the whole report as plain text.
func Text(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cost Report (%s)\n\n", r.GeneratedAt.Format(time.RFC3339))
	b.WriteString(FormatStatus(r.Status))
	if len(r.Daily) > 0 {
		b.WriteString("\nDaily\n")
		b.WriteString(FormatHistory(r.Daily))
	}
	if len(r.Weekly) > 0 {
		b.WriteString("\nWeekly\n")
		b.WriteString(FormatHistory(r.Weekly))
	}
	if len(r.Monthly) > 0 {
		b.WriteString("\nMonthly\n")
		b.WriteString(FormatHistory(r.Monthly))
	}
	b.WriteString("\n")
	b.WriteString(FormatForecast(r.Forecast))
	if len(r.Alerts) > 0 {
		b.WriteString("\nRecent Alerts\n")
		b.WriteString(FormatAlerts(r.Alerts))
	}
	return b.String()
}
