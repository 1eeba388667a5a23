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
	"os"
	"strings"
)

// DefaultRuntimePaths maps runtime binaries to the environment variable
// holding the explicit path of the installation to use.
var DefaultRuntimePaths = map[string]string{
	"node": "NODE_BINARY_PATH",
}

// MergeEnv overlays configured on the base environment ("KEY=VALUE" pairs).
// Configured values win. A nil value removes the key.
func MergeEnv(base []string, configured map[string]*string) []string {
	merged := make(map[string]string, len(base)+len(configured))
	order := make([]string, 0, len(base)+len(configured))

	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = v
	}

	for k, v := range configured {
		if v == nil {
			delete(merged, k)
			continue
		}
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] = *v
	}

	env := make([]string, 0, len(merged))
	for _, k := range order {
		v, ok := merged[k]
		if !ok {
			continue
		}
		env = append(env, k+"="+v)
	}
	return env
}

// resolveCommand substitutes the configured runtime path for a bare runtime
// binary name. lookup reads the merged child environment first.
func resolveCommand(command string, runtimes map[string]string, lookup func(string) (string, bool)) string {
	key, ok := runtimes[command]
	if !ok {
		return command
	}
	if p, ok := lookup(key); ok && p != "" {
		return p
	}
	return command
}

// envLookup returns a lookup over a "KEY=VALUE" slice falling back to the
// host environment.
func envLookup(env []string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		prefix := key + "="
		for i := len(env) - 1; i >= 0; i-- {
			if strings.HasPrefix(env[i], prefix) {
				return env[i][len(prefix):], true
			}
		}
		return os.LookupEnv(key)
	}
}
