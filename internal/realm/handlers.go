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

package realm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tombee/mcphost/internal/log"
	"github.com/tombee/mcphost/internal/mcp"
	"github.com/tombee/mcphost/internal/rpc"
	"github.com/tombee/mcphost/pkg/tools"
)

// Handlers provides the backend RPC surface of one session: server
// lifecycle operations for the UI and the tool invocation surface.
type Handlers struct {
	registry *mcp.Registry
	tools    *tools.Registry
	logger   *slog.Logger
}

// NewHandlers creates the RPC handlers for registry's session.
func NewHandlers(registry *mcp.Registry, toolReg *tools.Registry, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		registry: registry,
		tools:    toolReg,
		logger:   log.WithSession(log.WithComponent(logger, "realm-handlers"), registry.SessionID()),
	}
}

// Register registers all handlers with the RPC registry.
func (h *Handlers) Register(reg *rpc.Registry) {
	reg.Register("getServers", h.handleGetServers)
	reg.Register("startServer", h.byName(h.registry.Start))
	reg.Register("stopServer", h.byName(h.registry.Stop))
	reg.Register("removeServer", h.byName(h.registry.Remove))
	reg.Register("syncServer", h.byName(h.registry.Sync))
	reg.Register("addOrUpdateServer", h.handleAddOrUpdate)
	reg.Register("tools.list", h.handleToolsList)
	reg.Register("tools.invoke", h.handleToolsInvoke)
}

// Bind pushes servers.changed to n on every server set or run state
// change.
func (h *Handlers) Bind(n Notifier) func() {
	return h.registry.Subscribe(func(e mcp.ServerEvent) {
		if err := n.Notify(NotifyServersChanged, e); err != nil {
			h.logger.Debug("failed to push server change", slog.String(log.ServerKey, e.ServerName), log.Error(err))
		}
	})
}

func (h *Handlers) handleGetServers(ctx context.Context, req *rpc.Message) (*rpc.Message, error) {
	return rpc.NewResponse(req.CorrelationID, h.registry.Servers())
}

// NameRequest is the payload of the by-name server operations.
type NameRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) byName(op func(ctx context.Context, name string) error) rpc.Handler {
	return func(ctx context.Context, req *rpc.Message) (*rpc.Message, error) {
		var params NameRequest
		if err := req.UnmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		if params.Name == "" {
			return nil, invalidParams(fmt.Errorf("server name is required"))
		}
		if err := op(ctx, params.Name); err != nil {
			return nil, toRPCError(err)
		}
		return rpc.NewResponse(req.CorrelationID, nil)
	}
}

func (h *Handlers) handleAddOrUpdate(ctx context.Context, req *rpc.Message) (*rpc.Message, error) {
	var desc mcp.ServerDescriptor
	if err := req.UnmarshalParams(&desc); err != nil {
		return nil, invalidParams(err)
	}
	if desc.EffectiveKind() == mcp.KindBuiltin {
		return nil, toRPCError(mcp.ErrInvalidConfig(desc.Name, "the builtin server cannot be configured"))
	}
	if err := h.registry.AddOrUpdate(ctx, desc); err != nil {
		return nil, toRPCError(err)
	}
	return rpc.NewResponse(req.CorrelationID, nil)
}

func (h *Handlers) handleToolsList(ctx context.Context, req *rpc.Message) (*rpc.Message, error) {
	return rpc.NewResponse(req.CorrelationID, h.tools.List(h.registry.SessionID()))
}

// InvokeRequest is the tools.invoke payload. Arguments is the JSON
// argument string passed to the tool unchanged.
type InvokeRequest struct {
	Name         string `json:"name"`
	Arguments    string `json:"arguments"`
	InvocationID string `json:"invocationId,omitempty"`
}

func (h *Handlers) handleToolsInvoke(ctx context.Context, req *rpc.Message) (*rpc.Message, error) {
	var params InvokeRequest
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, invalidParams(err)
	}
	if params.Name == "" {
		return nil, invalidParams(fmt.Errorf("tool name is required"))
	}

	out, err := h.tools.Invoke(ctx, h.registry.SessionID(), params.Name, params.Arguments, params.InvocationID)
	if err != nil {
		return nil, toRPCError(err)
	}
	return rpc.NewResponse(req.CorrelationID, json.RawMessage(out))
}
