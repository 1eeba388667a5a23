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

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/shared"
)

// newLifecycleCommand builds start, stop and sync, which differ only in
// the endpoint they post to.
func newLifecycleCommand(op, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			if err := client.Post(cmd.Context(), shared.SessionPath(sessionFlag, "servers", args[0], op), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s MCP server: %s\n", done, args[0])
			return nil
		},
	}
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Stop and forget a server",
		Long: `Stop and forget a server in one session.

The server comes back when servers.yaml is next applied; remove it from
the file to drop it for good.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			if err := client.Delete(cmd.Context(), shared.SessionPath(sessionFlag, "servers", args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed MCP server: %s\n", args[0])
			return nil
		},
	}
}
