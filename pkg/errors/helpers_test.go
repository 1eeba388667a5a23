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

package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hosterrors "github.com/tombee/mcphost/pkg/errors"
)

func TestWrap(t *testing.T) {
	t.Run("wraps error with context", func(t *testing.T) {
		original := errors.New("connection refused")
		wrapped := hosterrors.Wrap(original, "starting server")

		require.Error(t, wrapped)
		assert.Equal(t, "starting server: connection refused", wrapped.Error())
		assert.ErrorIs(t, wrapped, original)
	})

	t.Run("returns nil for nil error", func(t *testing.T) {
		assert.NoError(t, hosterrors.Wrap(nil, "context"))
		assert.NoError(t, hosterrors.Wrapf(nil, "context %d", 1))
	})

	t.Run("formats context", func(t *testing.T) {
		wrapped := hosterrors.Wrapf(errors.New("eof"), "reading %s", "servers.yaml")
		assert.Equal(t, "reading servers.yaml: eof", wrapped.Error())
	})
}

func TestIsNotFound(t *testing.T) {
	err := fmt.Errorf("lookup: %w", &hosterrors.NotFoundError{Resource: "tool", ID: "mcp_s1_read"})

	assert.True(t, hosterrors.IsNotFound(err))
	assert.False(t, hosterrors.IsNotFound(errors.New("other")))
	assert.Equal(t, "lookup: tool not found: mcp_s1_read", err.Error())
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "validation with field",
			err:  &hosterrors.ValidationError{Field: "name", Message: "required"},
			want: "validation failed on name: required",
		},
		{
			name: "validation without field",
			err:  &hosterrors.ValidationError{Message: "empty descriptor"},
			want: "validation failed: empty descriptor",
		},
		{
			name: "config with key",
			err:  &hosterrors.ConfigError{Key: "listen", Reason: "invalid address"},
			want: "config error at listen: invalid address",
		},
		{
			name: "config without key",
			err:  &hosterrors.ConfigError{Reason: "unreadable"},
			want: "config error: unreadable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestConfigErrorUnwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := &hosterrors.ConfigError{Key: "servers_file", Reason: "cannot read", Cause: cause}

	assert.ErrorIs(t, err, cause)

	var cfgErr *hosterrors.ConfigError
	require.True(t, hosterrors.As(fmt.Errorf("wrap: %w", err), &cfgErr))
	assert.Equal(t, "servers_file", cfgErr.Key)
}
