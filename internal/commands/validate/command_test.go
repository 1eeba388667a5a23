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
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcphost/internal/commands/shared"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	shared.ResetFlagsForTest()
	t.Cleanup(shared.ResetFlagsForTest)

	root := &cobra.Command{Use: "mcphost", SilenceUsage: true, SilenceErrors: true}
	_, jsonPtr, _, _ := shared.RegisterFlagPointers()
	root.PersistentFlags().BoolVar(jsonPtr, "json", false, "")
	root.AddCommand(NewCommand())

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs(append([]string{"validate"}, args...))
	err := root.Execute()
	return buf.String(), err
}

const validFile = `servers:
  - name: files
    enabled: true
    command: definitely-not-installed-mcp-server
    env:
      API_TOKEN: secret
  - name: remote
    enabled: false
    endpoint: https://example.com/mcp
`

func TestValidFile(t *testing.T) {
	path := writeFile(t, validFile)

	out, err := execute(t, path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid (2 servers)")
	assert.Contains(t, out, "warning: files: command not found in PATH")
}

func TestSkipCommands(t *testing.T) {
	path := writeFile(t, validFile)

	out, err := execute(t, path, "--skip-commands")
	require.NoError(t, err)
	assert.NotContains(t, out, "warning:")
}

func TestValidFileJSONRedactsSecrets(t *testing.T) {
	path := writeFile(t, validFile)

	out, err := execute(t, "--json", path, "--skip-commands")
	require.NoError(t, err)

	var result Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "validate", result.Command)
	require.Len(t, result.Servers, 2)
	require.NotNil(t, result.Servers[0].Env["API_TOKEN"])
	assert.NotEqual(t, "secret", *result.Servers[0].Env["API_TOKEN"])
	assert.NotContains(t, out, "secret\"")
}

func TestInvalidFileListsEveryError(t *testing.T) {
	path := writeFile(t, `servers:
  - name: "1bad"
    command: echo
  - name: dup
    command: echo
  - name: dup
    command: echo
`)

	out, err := execute(t, "--json", path)
	var exitErr *shared.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, shared.ExitInvalid, exitErr.Code)

	var result Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Success)
	assert.Len(t, result.Errors, 2)
}

func TestMalformedYAML(t *testing.T) {
	path := writeFile(t, "servers: [")

	_, err := execute(t, path)
	var exitErr *shared.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, shared.ExitInvalid, exitErr.Code)
}

func TestMissingFile(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "nope.yaml"))
	var exitErr *shared.ExitError
	require.True(t, errors.As(err, &exitErr))
}
