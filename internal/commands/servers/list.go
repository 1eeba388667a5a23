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
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List servers and their run state",
		Example: `  # List servers of the local session
  mcphost servers list

  # Extract running server names for scripting
  mcphost servers list --json | jq -r '.[] | select(.isStarted) | .name'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			var servers []mcp.ServerInfo
			if err := client.Get(cmd.Context(), shared.SessionPath(sessionFlag, "servers"), &servers); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, servers)
			}
			if len(servers) == 0 {
				fmt.Fprintln(out, "No MCP servers registered.")
				fmt.Fprintln(out, "\nAdd servers to servers.yaml and the host picks them up.")
				return nil
			}

			fmt.Fprintf(out, "%-24s %-9s %-8s %-8s %s\n", "NAME", "KIND", "ENABLED", "STATUS", "TOOLS")
			fmt.Fprintln(out, strings.Repeat("-", 60))
			for _, s := range servers {
				status := "stopped"
				if s.IsStarted {
					status = "running"
				}
				fmt.Fprintf(out, "%-24s %-9s %-8t %-8s %d\n", truncate(s.Name, 24), s.Kind, s.Enabled, status, len(s.Tools))
			}
			return nil
		},
	}
}
