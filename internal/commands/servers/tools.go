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

func newToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools <name>",
		Short: "List the tools a running server exposes",
		Long: `List the tools a running server exposes, after include and exclude
filtering, under their server-local names.

Examples:
  mcphost servers tools github
  mcphost servers tools github --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			var descs []mcp.ToolDescriptor
			if err := client.Get(cmd.Context(), shared.SessionPath(sessionFlag, "servers", args[0], "tools"), &descs); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, descs)
			}
			if len(descs) == 0 {
				fmt.Fprintln(out, "No tools available from this server.")
				return nil
			}

			fmt.Fprintf(out, "Tools from %s:\n\n", args[0])
			for _, t := range descs {
				fmt.Fprintf(out, "  %s\n", t.Name)
				if t.Description != "" {
					for _, line := range strings.Split(wrapText(t.Description, 60), "\n") {
						fmt.Fprintf(out, "    %s\n", line)
					}
				}
			}
			return nil
		},
	}
}

func wrapText(text string, width int) string {
	words := strings.Fields(text)
	var lines []string
	var line strings.Builder
	for _, word := range words {
		if line.Len() > 0 && line.Len()+len(word)+1 > width {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteString(" ")
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}
