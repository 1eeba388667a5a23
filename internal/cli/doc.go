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

/*
Package cli provides the root command of the mcphost CLI.

The root owns the persistent flags shared by every subcommand and the build
version. Individual commands live in the internal/commands subpackages.

# Command Tree

	mcphost
	├── serve         Run the host
	├── servers       Manage the tool servers of a running host
	│   ├── list
	│   ├── start | stop | sync | remove
	│   ├── tools
	│   └── logs
	├── tools         List and call the tools of a session
	├── validate      Validate a servers.yaml file offline
	└── version       Show version

# Global Flags

	--verbose, -v   Enable debug logging
	--json          Machine-readable output
	--config        Settings file (default: ~/.config/mcphost/config.yaml)
	--addr          Host address for serve and the API client commands
*/
package cli
