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
	"github.com/bmatcuk/doublestar/v4"
)

// toolFilter keeps tools whose original name matches an include glob (or
// any, when there are none) and no exclude glob.
type toolFilter struct {
	include []string
	exclude []string
}

func newToolFilter(include, exclude []string) toolFilter {
	return toolFilter{include: include, exclude: exclude}
}

func (f toolFilter) empty() bool {
	return len(f.include) == 0 && len(f.exclude) == 0
}

func (f toolFilter) allows(name string) bool {
	if len(f.include) > 0 && !matchAny(f.include, name) {
		return false
	}
	return !matchAny(f.exclude, name)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
