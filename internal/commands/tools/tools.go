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

// Package tools implements the 'tools' command, which lists and calls the
// canonical tools of a session.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/host"
	"github.com/tombee/mcphost/internal/mcp"
	pkgtools "github.com/tombee/mcphost/pkg/tools"
)

// NewCommand creates the tools command.
func NewCommand() *cobra.Command {
	var (
		session  string
		provider string
	)

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools published for a session",
		Long: `List the tools published for a session under the names tool consumers
call them by. Builtin tools keep their own names; server tools are named
mcp_<server>_<tool>.`,
		Example: `  mcphost tools
  mcphost tools --provider github
  mcphost tools --session 3f2c... --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := shared.NewAPIClient(shared.GetAddr())
			if err != nil {
				return err
			}

			var listed []pkgtools.ToolRequest
			if err := client.Get(cmd.Context(), shared.SessionPath(session, "tools"), &listed); err != nil {
				return err
			}
			if provider != "" {
				kept := listed[:0]
				for _, t := range listed {
					if t.ProviderName == provider {
						kept = append(kept, t)
					}
				}
				listed = kept
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, listed)
			}
			if len(listed) == 0 {
				fmt.Fprintln(out, "No tools published.")
				return nil
			}

			fmt.Fprintf(out, "%-40s %-16s %s\n", "NAME", "PROVIDER", "DESCRIPTION")
			fmt.Fprintln(out, strings.Repeat("-", 80))
			for _, t := range listed {
				fmt.Fprintf(out, "%-40s %-16s %s\n", t.Name, t.ProviderName, firstLine(t.Description))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&session, "session", host.LocalSession, "Session to operate on")
	cmd.Flags().StringVar(&provider, "provider", "", "Only list tools of this provider")

	cmd.AddCommand(newCallCommand(&session))
	return cmd
}

func newCallCommand(session *string) *cobra.Command {
	return &cobra.Command{
		Use:     "call <tool> [arguments]",
		Short:   "Invoke a tool with a JSON argument object",
		Example: `  mcphost tools call mcp_files_read '{"path":"README.md"}'`,
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments := "{}"
			if len(args) == 2 {
				arguments = args[1]
			}
			if !json.Valid([]byte(arguments)) {
				return shared.NewInvalidError("arguments must be a JSON object", nil)
			}

			client, err := shared.NewAPIClient(shared.GetAddr())
			if err != nil {
				return err
			}

			var result mcp.ToolResult
			path := shared.SessionPath(*session, "tools", args[0], "invoke")
			if err := client.Post(cmd.Context(), path, json.RawMessage(arguments), &result); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, result)
			}
			if result.IsError {
				return &shared.ExitError{Code: shared.ExitFailed, Message: "tool returned an error: " + result.Message}
			}
			fmt.Fprintln(out, result.Text())
			return nil
		},
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}
