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

package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNewProvider_StdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	p, err := NewProvider(ctx, Config{
		ServiceName:    "mcphost",
		ServiceVersion: "test",
		Exporter:       "stdout",
		SampleRate:     1,
		Writer:         &buf,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "mcp.tool_call")
	span.End()

	require.NoError(t, p.ForceFlush(ctx))
	require.NoError(t, p.Shutdown(ctx))
	assert.Contains(t, buf.String(), "mcp.tool_call")
	assert.Contains(t, buf.String(), "mcphost")
}

func TestNewProvider_Exporters(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "none", cfg: Config{Exporter: "none"}},
		{name: "empty", cfg: Config{}},
		{name: "otlp", cfg: Config{Exporter: "otlp", Endpoint: "127.0.0.1:4318", Insecure: true}},
		{name: "otlp without endpoint", cfg: Config{Exporter: "otlp"}, wantErr: true},
		{name: "unknown", cfg: Config{Exporter: "jaeger"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(context.Background(), tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, p.Shutdown(context.Background()))
		})
	}
}
