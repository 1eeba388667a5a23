// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package servers

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

func newLogsCommand() *cobra.Command {
	var (
		lines int
		since time.Duration
	)

	cmd := &cobra.Command{
		Use:   "logs <name>",
		Short: "Show captured server output",
		Long: `Show the stderr and transport output captured for a server.

Examples:
  mcphost servers logs github
  mcphost servers logs github --lines 50
  mcphost servers logs github --since 5m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			q := url.Values{}
			q.Set("lines", strconv.Itoa(lines))
			if since > 0 {
				q.Set("since", time.Now().Add(-since).UTC().Format(time.RFC3339))
			}

			var entries []mcp.LogEntry
			path := shared.SessionPath(sessionFlag, "servers", args[0], "logs") + "?" + q.Encode()
			if err := client.Get(cmd.Context(), path, &entries); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintf(out, "No logs available for MCP server: %s\n", args[0])
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "[%s] %s: %s\n", e.Timestamp.Format(time.RFC3339), e.Source, e.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "Number of lines to show")
	cmd.Flags().DurationVar(&since, "since", 0, "Show logs newer than this age (e.g. 5m, 1h)")

	return cmd
}
