package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pario-ai/querygate/pkg/models"
	"github.com/pario-ai/querygate/pkg/report"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCmd(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show spend against budget limits and the operating mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.gw.CostStatus(cmd.Context())
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), report.FormatStatus(st))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newHistoryCmd(configPath *string) *cobra.Command {
	var (
		period string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show historical spend",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.gw.CostHistory(cmd.Context(), models.HistoryPeriod(period), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), report.FormatHistory(entries))
			return err
		},
	}
	cmd.Flags().StringVar(&period, "period", "daily", "bucket size: daily, weekly or monthly")
	cmd.Flags().IntVar(&limit, "limit", 0, "number of buckets (0 for the default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newForecastCmd(configPath *string) *cobra.Command {
	var (
		days   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Project spend from the trailing 7-day average",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			f := a.gw.CostForecast(cmd.Context(), days)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), f)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), report.FormatForecast(f))
			return err
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "days to project")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newExportCmd(configPath *string) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a cost report (json, csv, yaml or text)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			data, _, err := a.gw.ExportCostReport(cmd.Context(), format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "report format")
	return cmd
}

func newAlertsCmd(configPath *string) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List recent budget alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()

			alerts, err := a.gw.Alerts(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), alerts)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), report.FormatAlerts(alerts))
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum alerts to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
