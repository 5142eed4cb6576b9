package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "querygate",
		Short:         "QueryGate: cost-governed query gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "querygate.yaml", "path to config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newQueryCmd(&configPath),
		newStatusCmd(&configPath),
		newHistoryCmd(&configPath),
		newForecastCmd(&configPath),
		newExportCmd(&configPath),
		newAlertsCmd(&configPath),
		newCacheCmd(&configPath),
		newResetCmd(&configPath),
		newMCPCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
