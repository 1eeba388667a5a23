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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hosterrors "github.com/tombee/mcphost/pkg/errors"
)

func TestConfigDir_RespectsXDG(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "mcphost"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	servers, err := ServersPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "mcphost", "servers.yaml"), servers)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	s, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8375", s.Listen)
	assert.Zero(t, s.ConnectTimeout)
	assert.Equal(t, 60*time.Second, s.CallTimeout)
	assert.Equal(t, "NODE_BINARY_PATH", s.RuntimePaths["node"])
	assert.Equal(t, "none", s.Trace.Exporter)
	assert.True(t, s.WatchServers)
	assert.Equal(t, "servers.yaml", filepath.Base(s.ServersFile))
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: 127.0.0.1:9000
connect_timeout: 5s
servers_file: /tmp/servers.yaml
trace:
  exporter: stdout
`), 0600))

	t.Setenv("MCPHOST_CALL_TIMEOUT", "2s")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("addr", "", "")
	require.NoError(t, fs.Parse([]string{"--addr", "127.0.0.1:9100"}))

	s, err := Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", s.Listen, "flag wins over file")
	assert.Equal(t, 5*time.Second, s.ConnectTimeout)
	assert.Equal(t, 2*time.Second, s.CallTimeout, "env wins over default")
	assert.Equal(t, "/tmp/servers.yaml", s.ServersFile)
	assert.Equal(t, "stdout", s.Trace.Exporter)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)

	var cfgErr *hosterrors.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantKey string
	}{
		{name: "valid defaults", mutate: func(*Settings) {}},
		{name: "bad listen", mutate: func(s *Settings) { s.Listen = "nope" }, wantKey: "listen"},
		{name: "negative timeout", mutate: func(s *Settings) { s.CallTimeout = -time.Second }, wantKey: "call_timeout"},
		{name: "unknown exporter", mutate: func(s *Settings) { s.Trace.Exporter = "jaeger" }, wantKey: "trace.exporter"},
		{name: "otlp without endpoint", mutate: func(s *Settings) { s.Trace.Exporter = "otlp" }, wantKey: "trace.endpoint"},
		{name: "sample rate range", mutate: func(s *Settings) { s.Trace.SampleRate = 2 }, wantKey: "trace.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)

			err := s.Validate()
			if tt.wantKey == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *hosterrors.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.wantKey, cfgErr.Key)
		})
	}
}
