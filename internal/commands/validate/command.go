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

package validate

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/config"
	"github.com/tombee/mcphost/internal/mcp"
)

// Result is the --json output of validate.
type Result struct {
	shared.JSONResponse
	File     string                 `json:"file"`
	Servers  []mcp.ServerDescriptor `json:"servers"`
	Errors   []string               `json:"errors,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
}

// NewCommand creates the validate command
func NewCommand() *cobra.Command {
	var skipCommands bool

	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a servers.yaml descriptor file",
		Long: `Validate checks a descriptor file offline: YAML syntax, server names,
kinds, arguments, env keys and endpoint URLs. Commands of process servers
are looked up on PATH unless --skip-commands is given; a missing command
is a warning, not an error.

Without a file argument the default servers.yaml in the config directory
is validated.`,
		Example: `  # Validate the default descriptor file
  mcphost validate

  # Validate a specific file and print the parsed servers
  mcphost validate ./servers.yaml --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(cmd, path, skipCommands)
		},
	}

	cmd.Flags().BoolVar(&skipCommands, "skip-commands", false, "Do not look up process commands on PATH")

	return cmd
}

func runValidate(cmd *cobra.Command, path string, skipCommands bool) error {
	if path == "" {
		p, err := config.ServersPath()
		if err != nil {
			return err
		}
		path = p
	}

	result := Result{
		JSONResponse: shared.JSONResponse{Version: "1.0", Command: "validate"},
		File:         path,
		Servers:      []mcp.ServerDescriptor{},
	}

	if _, err := os.Stat(path); err != nil {
		return report(cmd, result, shared.NewInvalidError("cannot read servers file", err))
	}

	descs, err := mcp.LoadServers(path)
	if err != nil {
		return report(cmd, result, shared.NewInvalidError("invalid servers file", err))
	}
	for _, d := range descs {
		result.Servers = append(result.Servers, d.Redact())
	}

	if err := mcp.ValidateServers(descs); err != nil {
		return report(cmd, result, shared.NewInvalidError("invalid servers file", err))
	}

	if !skipCommands {
		for _, d := range descs {
			if d.EffectiveKind() != mcp.KindProcess {
				continue
			}
			if err := mcp.CheckCommand(d.Command); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", d.Name, err))
			}
		}
	}

	result.Success = true
	return report(cmd, result, nil)
}

func report(cmd *cobra.Command, result Result, err error) error {
	if err != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				result.Errors = append(result.Errors, errorText(e))
			}
		} else {
			result.Errors = append(result.Errors, errorText(err))
		}
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if jsonErr := shared.EmitJSON(out, result); jsonErr != nil {
			return jsonErr
		}
		return err
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if err == nil {
		fmt.Fprintf(out, "%s is valid (%d servers)\n", result.File, len(result.Servers))
	}
	return err
}

func errorText(err error) string {
	if mcpErr := mcp.GetMCPError(err); mcpErr != nil {
		if mcpErr.Name != "" {
			return fmt.Sprintf("%s: %s", mcpErr.Name, mcpErr.UserMessage())
		}
		return mcpErr.UserMessage()
	}
	return err.Error()
}
