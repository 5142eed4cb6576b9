package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/querygate/pkg/api"
	"github.com/pario-ai/querygate/pkg/config"
)

// newResetCmd lifts restrictions on a running server. Overrides live in the
// serving process, so this talks to it over HTTP instead of opening the ledger.
func newResetCmd(configPath *string) *cobra.Command {
	var (
		server        string
		actor         string
		reason        string
		clearOverride bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset budget restrictions on a running gateway until the week or month ends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if actor == "" {
				actor = os.Getenv("USER")
			}
			if actor == "" {
				return fmt.Errorf("--actor is required")
			}
			token, err := api.SignAdminToken(cfg.Admin, actor, 5*time.Minute)
			if err != nil {
				return err
			}

			method, path := http.MethodPost, "/v1/cost/reset"
			var body io.Reader
			if clearOverride {
				method, path = http.MethodDelete, "/v1/cost/override"
			} else {
				b, err := json.Marshal(map[string]string{"reason": reason})
				if err != nil {
					return err
				}
				body = bytes.NewReader(b)
			}

			req, err := http.NewRequestWithContext(cmd.Context(), method, strings.TrimRight(server, "/")+path, body)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+token)
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			client := &http.Client{Timeout: 30 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("contact gateway: %w", err)
			}
			defer resp.Body.Close()

			out, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("gateway returned %s: %s", resp.Status, strings.TrimSpace(string(out)))
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, out, "", "  "); err != nil {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			pretty.WriteByte('\n')
			_, err = pretty.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "gateway base URL")
	cmd.Flags().StringVar(&actor, "actor", "", "operator name recorded with the override (defaults to $USER)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the override")
	cmd.Flags().BoolVar(&clearOverride, "clear", false, "remove the active override instead of setting one")
	return cmd
}
