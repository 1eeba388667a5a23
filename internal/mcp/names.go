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
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

const (
	// MaxToolNameLength is the longest tool name downstream consumers accept.
	MaxToolNameLength = 64

	// canonicalPrefix prefixes every non-builtin canonical tool name.
	canonicalPrefix = "mcp_"

	// hashSuffixLength is the length of "_" plus eight hex digits.
	hashSuffixLength = 9
)

// disallowed matches every rune outside ASCII letters, digits, '_' and '-'.
var disallowed = runes.Predicate(func(r rune) bool {
	if r > unicode.MaxASCII {
		return true
	}
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case r == '_' || r == '-':
		return false
	}
	return true
})

// SanitizeToolName strips every character outside the allowed charset.
func SanitizeToolName(name string) string {
	out, _, err := transform.String(runes.Remove(disallowed), name)
	if err != nil {
		return strings.Map(func(r rune) rune {
			if disallowed.Contains(r) {
				return -1
			}
			return r
		}, name)
	}
	return out
}

// CanonicalToolName returns the name under which tool is published for
// server. Builtin tools keep their bare name.
func CanonicalToolName(server, tool string) string {
	if server == BuiltinServerName {
		return tool
	}
	return truncate(canonicalPrefix+SanitizeToolName(server)+"_"+tool, MaxToolNameLength)
}

// WithHashSuffix makes name distinct by appending a short hash of original,
// keeping the result within MaxToolNameLength.
func WithHashSuffix(name, original string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(original))
	suffix := fmt.Sprintf("_%08x", h.Sum32())
	return truncate(name, MaxToolNameLength-hashSuffixLength) + suffix
}

// uniqueName returns name when it is free, else a hash-suffixed form of
// it that taken does not report. Repeated collisions rehash with a
// counter.
func uniqueName(name, original string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}
	candidate := WithHashSuffix(name, original)
	for i := 1; taken(candidate); i++ {
		candidate = WithHashSuffix(name, fmt.Sprintf("%s#%d", original, i))
	}
	return candidate
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// toolNameMap maps sanitized tool names back to the provider's originals.
// Only names changed by sanitizing are present. A map is never mutated
// after it has been published.
type toolNameMap map[string]string

// original returns the provider name for a sanitized name.
func (m toolNameMap) original(name string) string {
	if orig, ok := m[name]; ok {
		return orig
	}
	return name
}

// buildToolNames sanitizes the names of one listing, resolving collisions
// inside the listing with a hash suffix. It returns the sanitized names in
// input order and a fresh reverse map.
func buildToolNames(originals []string) ([]string, toolNameMap) {
	names := make([]string, len(originals))
	m := make(toolNameMap)
	used := make(map[string]bool, len(originals))

	for i, orig := range originals {
		name := uniqueName(SanitizeToolName(orig), orig, func(n string) bool { return used[n] })
		used[name] = true
		names[i] = name
		if name != orig {
			m[name] = orig
		}
	}
	return names, m
}
