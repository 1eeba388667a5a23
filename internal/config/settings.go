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
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	hosterrors "github.com/tombee/mcphost/pkg/errors"
)

// Settings are the host-level options. Server descriptors live in a
// separate file (see ServersFile).
type Settings struct {
	// Listen is the HTTP listen address for the API and the UI websocket.
	Listen string `mapstructure:"listen"`

	// ServersFile is the path to the server descriptor YAML file.
	ServersFile string `mapstructure:"servers_file"`

	// WatchServers re-applies ServersFile whenever it changes on disk.
	WatchServers bool `mapstructure:"watch_servers"`

	// LogLevel and LogFormat override the environment-derived log config.
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// ConnectTimeout bounds process spawn/handshake and stream connect.
	// Zero keeps the per-kind defaults (30s process, 15s stream).
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// CallTimeout bounds a single tool call.
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	// StrictArguments rejects tool calls whose argument payload is not
	// valid JSON instead of logging and calling with empty arguments.
	StrictArguments bool `mapstructure:"strict_arguments"`

	// RuntimePaths maps a runtime command name to the environment variable
	// that holds its explicit binary path (e.g. node -> NODE_BINARY_PATH).
	RuntimePaths map[string]string `mapstructure:"runtime_paths"`

	// Trace configures span export.
	Trace TraceSettings `mapstructure:"trace"`
}

// TraceSettings configures OpenTelemetry span export.
type TraceSettings struct {
	// Exporter is "none", "stdout" or "otlp".
	Exporter string `mapstructure:"exporter"`

	// Endpoint is the OTLP/HTTP collector host:port.
	Endpoint string `mapstructure:"endpoint"`

	// SampleRate is the fraction of tool calls traced (0..1).
	SampleRate float64 `mapstructure:"sample_rate"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Listen:       "127.0.0.1:8375",
		WatchServers: true,
		CallTimeout:  60 * time.Second,
		RuntimePaths: map[string]string{"node": "NODE_BINARY_PATH"},
		Trace: TraceSettings{
			Exporter:   "none",
			SampleRate: 1,
		},
	}
}

// flagKeys maps settings keys to the CLI flags that may override them.
var flagKeys = map[string]string{
	"listen":           "addr",
	"servers_file":     "servers",
	"log_level":        "log-level",
	"strict_arguments": "strict-arguments",
	"trace.exporter":   "trace",
}

// Load reads settings from path (or config.yaml in ConfigDir when empty),
// MCPHOST_* environment variables and any flags in fs, in increasing order
// of precedence. A missing default file is not an error.
func Load(path string, fs *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	d := Defaults()
	v.SetDefault("listen", d.Listen)
	v.SetDefault("servers_file", "")
	v.SetDefault("log_level", "")
	v.SetDefault("log_format", "")
	v.SetDefault("strict_arguments", false)
	v.SetDefault("trace.endpoint", "")
	v.SetDefault("watch_servers", d.WatchServers)
	v.SetDefault("connect_timeout", d.ConnectTimeout)
	v.SetDefault("call_timeout", d.CallTimeout)
	v.SetDefault("runtime_paths", d.RuntimePaths)
	v.SetDefault("trace.exporter", d.Trace.Exporter)
	v.SetDefault("trace.sample_rate", d.Trace.SampleRate)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		dir, err := ConfigDir()
		if err != nil {
			return nil, &hosterrors.ConfigError{Reason: "cannot resolve config directory", Cause: err}
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("MCPHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, &hosterrors.ConfigError{Reason: "cannot read settings file", Cause: err}
		}
	}

	if fs != nil {
		for key, name := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, &hosterrors.ConfigError{Key: key, Reason: "cannot bind flag", Cause: err}
				}
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, &hosterrors.ConfigError{Reason: "cannot decode settings", Cause: err}
	}

	if s.ServersFile == "" {
		p, err := ServersPath()
		if err != nil {
			return nil, &hosterrors.ConfigError{Key: "servers_file", Reason: "cannot resolve default path", Cause: err}
		}
		s.ServersFile = p
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings for values the host cannot run with.
func (s *Settings) Validate() error {
	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		return &hosterrors.ConfigError{Key: "listen", Reason: fmt.Sprintf("invalid address %q", s.Listen), Cause: err}
	}
	if s.ConnectTimeout < 0 {
		return &hosterrors.ConfigError{Key: "connect_timeout", Reason: "must be non-negative"}
	}
	if s.CallTimeout < 0 {
		return &hosterrors.ConfigError{Key: "call_timeout", Reason: "must be non-negative"}
	}
	switch s.Trace.Exporter {
	case "", "none", "stdout":
	case "otlp":
		if s.Trace.Endpoint == "" {
			return &hosterrors.ConfigError{Key: "trace.endpoint", Reason: "required for the otlp exporter"}
		}
	default:
		return &hosterrors.ConfigError{Key: "trace.exporter", Reason: fmt.Sprintf("unknown exporter %q", s.Trace.Exporter)}
	}
	if s.Trace.SampleRate < 0 || s.Trace.SampleRate > 1 {
		return &hosterrors.ConfigError{Key: "trace.sample_rate", Reason: "must be between 0 and 1"}
	}
	return nil
}
