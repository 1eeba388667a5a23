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

package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

// Info is the version report. It carries the standard --json envelope.
type Info struct {
	shared.JSONResponse
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Protocol  string `json:"mcp_protocol"`
	GoVersion string `json:"go_version"`
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the mcphost version, commit and build date, and the MCP
protocol revision offered to tool servers.`,
		Args: cobra.NoArgs,
		RunE: runVersion,
	}
}

func current() Info {
	v, c, b := shared.GetVersion()
	return Info{
		JSONResponse: shared.JSONResponse{Version: "1.0", Command: "version", Success: true},
		Version:      v,
		Commit:       c,
		BuildDate:    b,
		Protocol:     mcp.ProtocolVersion,
		GoVersion:    runtime.Version(),
	}
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := current()
	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), info)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "mcphost version %s\n", info.Version)
	fmt.Fprintf(out, "  commit:       %s\n", info.Commit)
	fmt.Fprintf(out, "  build date:   %s\n", info.BuildDate)
	fmt.Fprintf(out, "  mcp protocol: %s\n", info.Protocol)
	return nil
}
