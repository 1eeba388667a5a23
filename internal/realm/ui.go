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
	"sort"
	"sync"

	"github.com/tombee/mcphost/internal/log"
	"github.com/tombee/mcphost/internal/mcp"
	"github.com/tombee/mcphost/internal/rpc"
)

// UIToolHandler runs a UI realm tool.
type UIToolHandler func(ctx context.Context, args map[string]any) (*mcp.ToolResult, error)

// UITool is a tool implemented in the UI realm.
type UITool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     UIToolHandler
}

// Notifier sends notifications to the backend.
type Notifier interface {
	Notify(method string, params interface{}) error
}

// UIRegistry holds the UI realm's tools and serves them to the backend
// proxy. The tool list it exposes never carries handlers.
type UIRegistry struct {
	logger *slog.Logger

	mu      sync.RWMutex
	tools   map[string]UITool
	subs    map[uint64]func()
	nextSub uint64
}

// NewUIRegistry creates an empty UI tool registry.
func NewUIRegistry(logger *slog.Logger) *UIRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &UIRegistry{
		logger: log.WithComponent(logger, "ui-registry"),
		tools:  make(map[string]UITool),
		subs:   make(map[uint64]func()),
	}
}

// Register adds or replaces a tool.
func (r *UIRegistry) Register(tool UITool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil: %s", tool.Name)
	}

	r.mu.Lock()
	r.tools[tool.Name] = tool
	r.mu.Unlock()

	r.changed()
	return nil
}

// Unregister removes a tool and reports whether it existed.
func (r *UIRegistry) Unregister(name string) bool {
	r.mu.Lock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	r.mu.Unlock()

	if ok {
		r.changed()
	}
	return ok
}

// ListTools returns the tools sorted by name, tagged with the builtin
// provider.
func (r *UIRegistry) ListTools() []mcp.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]mcp.ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, mcp.ToolDescriptor{
			Name:         t.Name,
			Description:  t.Description,
			InputSchema:  t.InputSchema,
			ProviderName: mcp.BuiltinServerName,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CallTool runs the named tool.
func (r *UIRegistry) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, mcp.ErrToolNotFound(mcp.BuiltinServerName, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return tool.Handler(ctx, args)
}

// OnChange registers fn for tool set changes and returns a function that
// removes it.
func (r *UIRegistry) OnChange(fn func()) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSub++
	id := r.nextSub
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Bind announces every tool set change to the backend.
func (r *UIRegistry) Bind(n Notifier) func() {
	return r.OnChange(func() {
		if err := n.Notify(NotifyToolsChanged, nil); err != nil {
			r.logger.Debug("failed to announce tool change", log.Error(err))
		}
	})
}

// Serve registers ui.listTools and ui.callTool on reg.
func (r *UIRegistry) Serve(reg *rpc.Registry) {
	reg.Register(MethodListTools, func(ctx context.Context, req *rpc.Message) (*rpc.Message, error) {
		return rpc.NewResponse(req.CorrelationID, r.ListTools())
	})

	reg.Register(MethodCallTool, func(ctx context.Context, req *rpc.Message) (*rpc.Message, error) {
		var params callToolParams
		if err := req.UnmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		if params.Name == "" {
			return nil, invalidParams(fmt.Errorf("tool name is required"))
		}

		result, err := r.CallTool(ctx, params.Name, params.Arguments)
		if err != nil {
			return nil, toRPCError(err)
		}
		return rpc.NewResponse(req.CorrelationID, result)
	})
}

func (r *UIRegistry) changed() {
	r.mu.RLock()
	subs := make([]func(), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
}
