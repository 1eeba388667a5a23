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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/serve"
	"github.com/tombee/mcphost/internal/commands/servers"
	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/commands/tools"
	"github.com/tombee/mcphost/internal/commands/validate"
	versioncmd "github.com/tombee/mcphost/internal/commands/version"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcphost",
		Short: "mcphost - MCP tool server host",
		Long: `mcphost starts, stops and supervises MCP tool servers and publishes
their tools to a single invocation registry under collision-free names.

Run 'mcphost serve' to start the host, then manage it with
'mcphost servers' and 'mcphost tools'.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	verbose, json, config, addr := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to settings file (default: ~/.config/mcphost/config.yaml)")
	cmd.PersistentFlags().StringVar(addr, "addr", "", "Host address (default: "+shared.DefaultAddr+")")

	cmd.AddCommand(serve.NewCommand())
	cmd.AddCommand(servers.NewCommand())
	cmd.AddCommand(tools.NewCommand())
	cmd.AddCommand(validate.NewCommand())
	cmd.AddCommand(versioncmd.NewVersionCommand())

	return cmd
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
