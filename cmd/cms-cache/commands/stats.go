package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func (c *CLI) newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print cache statistics of a running server",
		Long:  "Reads /debug/cache of a running cms-cache. The server must run with server.debug enabled.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(addr, "/")+"/debug/cache", nil)
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("stats: read body: %w", err)
			}
			if resp.StatusCode == http.StatusNotFound {
				return fmt.Errorf("stats: %s has no debug endpoints (server.debug disabled?)", addr)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("stats: unexpected status %d", resp.StatusCode)
			}

			var out bytes.Buffer
			if err := json.Indent(&out, body, "", "  "); err != nil {
				return fmt.Errorf("stats: decode: %w", err)
			}
			out.WriteByte('\n')
			_, err = out.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().String("addr", "http://localhost:8080", "Base URL of the running server")
	return cmd
}
