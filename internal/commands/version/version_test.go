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
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

func runWithRoot(t *testing.T, args ...string) string {
	t.Helper()
	shared.SetVersion("1.4.0", "abc1234", "2025-12-22")
	t.Cleanup(func() {
		shared.SetVersion("dev", "unknown", "unknown")
		shared.ResetFlagsForTest()
	})

	root := &cobra.Command{Use: "mcphost"}
	_, jsonPtr, _, _ := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVar(jsonPtr, "json", false, "JSON output")
	root.AddCommand(NewVersionCommand())

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return buf.String()
}

func TestVersion_ReportsProtocolRevision(t *testing.T) {
	out := runWithRoot(t, "version")

	assert.Contains(t, out, "mcphost version 1.4.0")
	assert.Contains(t, out, "abc1234")
	assert.Contains(t, out, "mcp protocol: "+mcp.ProtocolVersion)
}

func TestVersion_JSONEnvelope(t *testing.T) {
	out := runWithRoot(t, "version", "--json")

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &raw))
	assert.Equal(t, "version", raw["command"])
	assert.Equal(t, true, raw["success"])
	assert.Equal(t, "1.0", raw["@version"])
	assert.Equal(t, "1.4.0", raw["version"])
	assert.Equal(t, "2025-12-22", raw["build_date"])
	assert.Equal(t, mcp.ProtocolVersion, raw["mcp_protocol"])
	assert.NotEmpty(t, raw["go_version"])
}

func TestVersion_RejectsArguments(t *testing.T) {
	cmd := NewVersionCommand()
	cmd.SetArgs([]string{"extra"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
