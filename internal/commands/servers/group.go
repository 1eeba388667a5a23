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

// Package servers implements the 'servers' command group, a client of the
// host HTTP API.
package servers

import (
	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/host"
)

var sessionFlag string

// NewCommand creates the servers command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage the tool servers of a running host",
		Long: `Manage the tool servers of a running mcphost.

Commands:
  list      List servers and their run state
  start     Start a server
  stop      Stop a server
  sync      Restart a running server with its current configuration
  remove    Stop and forget a server
  tools     List the tools a running server exposes
  logs      Show captured server output`,
	}

	cmd.PersistentFlags().StringVar(&sessionFlag, "session", host.LocalSession, "Session to operate on")

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newLifecycleCommand("start", "Start a server", "Started"))
	cmd.AddCommand(newLifecycleCommand("stop", "Stop a server", "Stopped"))
	cmd.AddCommand(newLifecycleCommand("sync", "Restart a running server with its current configuration", "Synced"))
	cmd.AddCommand(newRemoveCommand())
	cmd.AddCommand(newToolsCommand())
	cmd.AddCommand(newLogsCommand())

	return cmd
}

func newClient() (*shared.APIClient, error) {
	return shared.NewAPIClient(shared.GetAddr())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
