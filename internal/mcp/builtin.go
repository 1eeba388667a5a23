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

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tombee/mcphost/internal/log"
)

// BuiltinSource provides the tools served by the builtin server. The
// cross-realm proxy is the production implementation.
type BuiltinSource interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	// OnToolsChanged registers fn for tool set changes and returns a
	// function that removes it.
	OnToolsChanged(fn func()) func()
}

var defaultSchema = json.RawMessage(`{"type":"object"}`)

// BuiltinClient is an in-process MCP server whose tools are mirrored from
// a BuiltinSource, reached through an in-process MCP client. Callers
// cannot tell it apart from a process or stream server.
type BuiltinClient struct {
	*connection

	source BuiltinSource
	server *server.MCPServer
}

// NewBuiltinClient creates a stopped builtin client.
func NewBuiltinClient(desc ServerDescriptor, source BuiltinSource, opts ClientOptions) *BuiltinClient {
	if desc.Name == "" {
		desc.Name = BuiltinServerName
	}
	opts = opts.withDefaults()
	b := &BuiltinClient{
		connection: newConnection(desc, KindBuiltin, opts),
		source:     source,
		server:     server.NewMCPServer(desc.Name, opts.Version, server.WithToolCapabilities(true)),
	}
	b.connection.connect = b.connect
	return b
}

// Update applies the call settings; a builtin server has no connection
// parameters.
func (b *BuiltinClient) Update(desc ServerDescriptor) error {
	if kind := desc.EffectiveKind(); kind != KindBuiltin {
		return ErrKindMismatch(b.name, KindBuiltin, kind)
	}
	b.applySettings(desc)
	return nil
}

// ListTools re-syncs the server's tools from the source, then lists them
// through the protocol.
func (b *BuiltinClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if b.IsStarted() {
		b.syncTools(ctx)
	}
	return b.connection.ListTools(ctx)
}

func (b *BuiltinClient) connect(ctx context.Context) (session, error) {
	b.syncTools(ctx)

	c, err := client.NewInProcessClient(b.server)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-process client: %w", err)
	}
	if err := handshake(ctx, c, b.opts.Version); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// syncTools replaces the server's tool set with the source's current one.
// A source that cannot be reached leaves the server with no tools.
func (b *BuiltinClient) syncTools(ctx context.Context) {
	var descs []ToolDescriptor
	if b.source != nil {
		var err error
		descs, err = b.source.ListTools(ctx)
		if err != nil {
			b.logger.Warn("failed to list builtin tools", log.Error(err))
			descs = nil
		}
	}

	tools := make([]server.ServerTool, 0, len(descs))
	for _, d := range descs {
		schema := d.InputSchema
		if len(schema) == 0 {
			schema = defaultSchema
		}
		tools = append(tools, server.ServerTool{
			Tool:    mcp.NewToolWithRawSchema(d.Name, d.Description, schema),
			Handler: b.handler(d.Name),
		})
	}
	b.server.SetTools(tools...)
}

func (b *BuiltinClient) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if b.source == nil {
			return mcp.NewToolResultError("builtin tool source is not attached"), nil
		}
		result, err := b.source.CallTool(ctx, name, req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toMCPResult(result), nil
	}
}
