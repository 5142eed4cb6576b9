package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newQueryCmd(configPath *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Run one query through the budget policy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readQuery(args, file)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), *configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.gw.Execute(cmd.Context(), sql)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the query from a file (- for stdin)")
	return cmd
}

func readQuery(args []string, file string) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", fmt.Errorf("pass the query as an argument or with --file, not both")
	case len(args) == 1:
		return args[0], nil
	case file == "-":
		b, err := io.ReadAll(os.Stdin)
		return strings.TrimSpace(string(b)), err
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read query: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	default:
		return "", fmt.Errorf("no query given")
	}
}
