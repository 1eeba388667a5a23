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

package mcp

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// ServerNameRegex validates server names.
// Names must start with a letter and contain only letters, numbers, hyphens, and underscores.
// Maximum length is 64 characters.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

var envKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ServersFile is the on-disk descriptor list.
type ServersFile struct {
	Servers []ServerDescriptor `yaml:"servers"`
}

// LoadServers reads the descriptor file at path. A missing file is an
// empty list.
func LoadServers(path string) ([]ServerDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []ServerDescriptor{}, nil
		}
		return nil, fmt.Errorf("failed to read servers file: %w", err)
	}

	var file ServersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse servers file: %w", err)
	}
	if file.Servers == nil {
		file.Servers = []ServerDescriptor{}
	}
	return file.Servers, nil
}

// SaveServers writes the descriptor list to path atomically.
func SaveServers(path string, servers []ServerDescriptor) error {
	data, err := yaml.Marshal(ServersFile{Servers: servers})
	if err != nil {
		return fmt.Errorf("failed to marshal servers: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write to temp file first, then rename (atomic operation)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write servers file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return fmt.Errorf("failed to save servers file: %w", err)
	}

	return nil
}

// ValidateServers validates every descriptor and rejects duplicate names.
func ValidateServers(servers []ServerDescriptor) error {
	seen := make(map[string]bool, len(servers))
	var errs []error
	for _, d := range servers {
		if seen[d.Name] {
			errs = append(errs, ErrInvalidConfig(d.Name, fmt.Sprintf("duplicate server name %q", d.Name)))
			continue
		}
		seen[d.Name] = true
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks a descriptor's structure. It does not touch the
// filesystem; see CheckCommand.
func (d ServerDescriptor) Validate() error {
	if err := ValidateServerName(d.Name); err != nil {
		return ErrInvalidServerName(d.Name).WithCause(err)
	}

	invalid := func(format string, args ...any) error {
		return ErrInvalidConfig(d.Name, fmt.Sprintf(format, args...))
	}

	switch d.EffectiveKind() {
	case KindProcess:
		if d.Command == "" {
			return invalid("command is required for process servers")
		}
		if d.Endpoint != "" {
			return invalid("endpoint is not used by process servers")
		}
		for i, arg := range d.Args {
			if err := ValidateArg(arg); err != nil {
				return invalid("args[%d]: %v", i, err)
			}
		}
		for key, value := range d.Env {
			if err := ValidateEnv(key, value); err != nil {
				return invalid("env %s: %v", key, err)
			}
		}
	case KindStream:
		if err := ValidateEndpoint(d.Endpoint); err != nil {
			return invalid("%v", err)
		}
		if d.Command != "" {
			return invalid("command is not used by stream servers")
		}
	case KindBuiltin:
		if d.Name != BuiltinServerName {
			return invalid("builtin server must be named %q", BuiltinServerName)
		}
	default:
		return invalid("invalid kind: %s (must be 'process', 'stream', or 'builtin')", d.Kind)
	}

	if d.ConnectTimeout < 0 {
		return invalid("connect_timeout must be non-negative")
	}
	if d.CallTimeout < 0 {
		return invalid("call_timeout must be non-negative")
	}
	if d.RateLimit < 0 {
		return invalid("rate_limit must be non-negative")
	}
	if d.RateBurst < 0 {
		return invalid("rate_burst must be non-negative")
	}

	for _, p := range append(append([]string(nil), d.Include...), d.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return invalid("invalid tool pattern %q", p)
		}
	}
	return nil
}

// ValidateServerName validates a server name.
func ValidateServerName(name string) error {
	if name == "" {
		return fmt.Errorf("server name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("server name exceeds 64 character limit")
	}
	if !ServerNameRegex.MatchString(name) {
		return fmt.Errorf("invalid server name: must start with a letter and contain only letters, numbers, hyphens, and underscores")
	}
	return nil
}

// ValidateEndpoint checks a stream endpoint is an absolute http(s) URL.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("endpoint is required for stream servers")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must use http or https: %s", endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint has no host: %s", endpoint)
	}
	return nil
}

// CheckCommand verifies a command resolves to an executable file.
func CheckCommand(cmd string) error {
	if cmd == "" {
		return fmt.Errorf("command is required")
	}

	if filepath.IsAbs(cmd) {
		info, err := os.Stat(cmd)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("command not found: %s", cmd)
			}
			return fmt.Errorf("cannot access command: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("command is a directory: %s", cmd)
		}
		if info.Mode()&0111 == 0 {
			return fmt.Errorf("command is not executable: %s", cmd)
		}
		return nil
	}

	if _, err := exec.LookPath(cmd); err != nil {
		return fmt.Errorf("command not found in PATH: %s", cmd)
	}
	return nil
}

// shellInjectionPatterns are patterns that could indicate shell injection attempts.
var shellInjectionPatterns = []string{
	";", "&&", "||", "|", "`", "$(", "\n", "\r",
}

// ValidateArg validates a command argument for shell injection.
func ValidateArg(arg string) error {
	for _, pattern := range shellInjectionPatterns {
		if strings.Contains(arg, pattern) {
			return fmt.Errorf("argument contains potentially unsafe pattern %q", pattern)
		}
	}
	return nil
}

// ValidateEnv validates one configured environment entry. A nil value is
// valid and removes the key.
func ValidateEnv(key string, value *string) error {
	if key == "" {
		return fmt.Errorf("environment variable key is required")
	}
	if !envKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid environment variable key: %s", key)
	}
	if value != nil && strings.ContainsAny(*value, "\n\r") {
		return fmt.Errorf("environment value contains a line break")
	}
	return nil
}

// sensitiveKeyPatterns are patterns that indicate a sensitive value.
var sensitiveKeyPatterns = []string{
	"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL", "AUTH",
}

// IsSensitiveEnvKey returns true if the key appears to contain sensitive data.
func IsSensitiveEnvKey(key string) bool {
	upperKey := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upperKey, pattern) {
			return true
		}
	}
	return false
}

const redacted = "***REDACTED***"

// Redact returns a copy of d with sensitive env values and all header
// values masked for display.
func (d ServerDescriptor) Redact() ServerDescriptor {
	out := d
	if d.Env != nil {
		out.Env = make(map[string]*string, len(d.Env))
		for k, v := range d.Env {
			if v != nil && IsSensitiveEnvKey(k) {
				masked := redacted
				v = &masked
			}
			out.Env[k] = v
		}
	}
	if d.Headers != nil {
		out.Headers = make(map[string]string, len(d.Headers))
		for k := range d.Headers {
			out.Headers[k] = redacted
		}
	}
	return out
}
