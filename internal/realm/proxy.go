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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/mcphost/internal/log"
	"github.com/tombee/mcphost/internal/mcp"
	"github.com/tombee/mcphost/internal/rpc"
)

// Conn is the part of an RPC peer the proxy needs.
type Conn interface {
	Call(ctx context.Context, method string, params, result interface{}) error
	OnNotify(method string, fn func(params json.RawMessage)) func()
}

const defaultRemoteTimeout = 30 * time.Second

// BackendProxy forwards builtin tool listing and calls to the UI realm.
// It implements mcp.BuiltinSource.
type BackendProxy struct {
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	conn     Conn
	unnotify func()
	subs     map[uint64]func()
	nextSub  uint64
}

// NewBackendProxy creates a detached proxy. timeout bounds every remote
// call; zero means 30s.
func NewBackendProxy(logger *slog.Logger, timeout time.Duration) *BackendProxy {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout == 0 {
		timeout = defaultRemoteTimeout
	}
	return &BackendProxy{
		logger:  log.WithComponent(logger, "realm-proxy"),
		timeout: timeout,
		subs:    make(map[uint64]func()),
	}
}

// Attach routes calls through conn and follows its tool change
// notifications. Subscribers are told the tool set may have changed.
func (p *BackendProxy) Attach(conn Conn) {
	p.mu.Lock()
	if p.unnotify != nil {
		p.unnotify()
	}
	p.conn = conn
	p.unnotify = conn.OnNotify(NotifyToolsChanged, func(json.RawMessage) {
		p.logger.Debug("UI realm tools changed")
		p.changed()
	})
	p.mu.Unlock()

	p.changed()
}

// Detach drops the connection; later calls fail with ErrNotInitialized.
func (p *BackendProxy) Detach() {
	p.mu.Lock()
	if p.conn == nil {
		p.mu.Unlock()
		return
	}
	if p.unnotify != nil {
		p.unnotify()
		p.unnotify = nil
	}
	p.conn = nil
	p.mu.Unlock()

	p.changed()
}

// Attached reports whether a UI realm is connected.
func (p *BackendProxy) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

func (p *BackendProxy) current() (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil, ErrNotInitialized
	}
	return p.conn, nil
}

// ListTools asks the UI realm for its tools.
func (p *BackendProxy) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	conn, err := p.current()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var tools []mcp.ToolDescriptor
	if err := conn.Call(ctx, MethodListTools, nil, &tools); err != nil {
		return nil, fmt.Errorf("failed to list UI realm tools: %w", err)
	}
	for i := range tools {
		tools[i].ProviderName = mcp.BuiltinServerName
	}
	return tools, nil
}

// CallTool runs a UI realm tool.
func (p *BackendProxy) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	conn, err := p.current()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var result mcp.ToolResult
	if err := conn.Call(ctx, MethodCallTool, callToolParams{Name: name, Arguments: args}, &result); err != nil {
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) && rpcErr.Code == string(mcp.ErrorCodeToolNotFound) {
			return nil, mcp.ErrToolNotFound(mcp.BuiltinServerName, name)
		}
		return nil, fmt.Errorf("UI realm tool %s failed: %w", name, err)
	}
	return &result, nil
}

// OnToolsChanged registers fn for UI realm tool changes and attach or
// detach events.
func (p *BackendProxy) OnToolsChanged(fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextSub++
	id := p.nextSub
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *BackendProxy) changed() {
	p.mu.Lock()
	subs := make([]func(), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

var _ mcp.BuiltinSource = (*BackendProxy)(nil)
