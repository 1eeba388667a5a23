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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/mcphost/internal/log"
	"github.com/tombee/mcphost/pkg/tools"
)

const tracerName = "github.com/tombee/mcphost/internal/mcp"

// ToolCaller routes a call to the server owning a tool.
type ToolCaller interface {
	CallTool(ctx context.Context, server, tool, invocationID, args string) (*ToolResult, error)
}

// Bridge publishes server tools as tool requests in the session-keyed
// invocation registry.
type Bridge struct {
	tools  *tools.Registry
	logger *slog.Logger
	tracer trace.Tracer
}

// NewBridge creates a bridge over reg.
func NewBridge(reg *tools.Registry, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		tools:  reg,
		logger: log.WithComponent(logger, "bridge"),
		tracer: otel.Tracer(tracerName),
	}
}

// Tools returns the underlying invocation registry.
func (b *Bridge) Tools() *tools.Registry {
	return b.tools
}

// Register replaces the session's tool requests for server with one per
// descriptor and returns the canonical names in descriptor order. A
// canonical name already owned by another provider in the session gets a
// hash suffix.
func (b *Bridge) Register(sessionID, server string, caller ToolCaller, descs []ToolDescriptor) ([]string, error) {
	b.tools.UnregisterProvider(sessionID, server)

	names := make([]string, 0, len(descs))
	taken := make(map[string]bool, len(descs))
	for _, d := range descs {
		canonical := CanonicalToolName(server, d.Name)
		name := uniqueName(canonical, server+"/"+d.Name, func(n string) bool {
			return taken[n] || b.ownedByOther(sessionID, n, server)
		})
		if name != canonical {
			b.logger.Warn("canonical tool name collision",
				slog.String(log.SessionKey, sessionID),
				slog.String(log.ServerKey, server),
				slog.String("canonical", canonical),
				slog.String("resolved", name))
		}
		taken[name] = true

		req := tools.ToolRequest{
			ID:           name,
			Name:         name,
			ProviderName: server,
			Description:  d.Description,
			Parameters:   d.InputSchema,
			Handler:      b.handler(sessionID, server, d.Name, caller),
		}
		if err := b.tools.Register(sessionID, req); err != nil {
			return names, fmt.Errorf("failed to register tool %s: %w", name, err)
		}
		names = append(names, name)
	}

	b.logger.Debug("registered server tools",
		slog.String(log.SessionKey, sessionID),
		slog.String(log.ServerKey, server),
		slog.Int("count", len(names)))
	return names, nil
}

// Unregister removes the session's tool requests for server.
func (b *Bridge) Unregister(sessionID, server string) int {
	return b.tools.UnregisterProvider(sessionID, server)
}

func (b *Bridge) ownedByOther(sessionID, name, server string) bool {
	existing, err := b.tools.Get(sessionID, name)
	return err == nil && existing.ProviderName != server
}

// handler calls tool on server through caller and returns the JSON
// encoded ToolResult. Errors from caller propagate unchanged.
func (b *Bridge) handler(sessionID, server, tool string, caller ToolCaller) tools.Handler {
	return func(ctx context.Context, args, invocationID string) (string, error) {
		ctx, span := b.tracer.Start(ctx, "mcp.tool_call",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("mcp.session", sessionID),
				attribute.String("mcp.server", server),
				attribute.String("mcp.tool", tool),
				attribute.String("mcp.invocation_id", invocationID),
			))
		defer span.End()

		result, err := caller.CallTool(ctx, server, tool, invocationID, args)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			b.logger.Warn("tool call failed",
				slog.String(log.SessionKey, sessionID),
				slog.String(log.ServerKey, server),
				slog.String(log.ToolKey, tool),
				slog.String(log.InvocationKey, invocationID),
				log.Error(err))
			return "", err
		}

		if result.IsError {
			span.SetStatus(codes.Error, result.Message)
		} else {
			span.SetStatus(codes.Ok, "")
		}

		out, err := json.Marshal(result)
		if err != nil {
			return "", fmt.Errorf("failed to encode tool result: %w", err)
		}
		return string(out), nil
	}
}
