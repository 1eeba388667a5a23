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

// Package testing provides a fake mcp.Client for registry tests.
package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/tombee/mcphost/internal/mcp"
)

// Call records one CallTool invocation.
type Call struct {
	Tool         string
	InvocationID string
	Args         string
}

// MockClient implements mcp.Client in memory.
type MockClient struct {
	mu       sync.RWMutex
	name     string
	kind     mcp.Kind
	desc     mcp.ServerDescriptor
	tools    []mcp.ToolDescriptor
	started  bool
	startErr error
	callFunc func(ctx context.Context, tool, args string) (*mcp.ToolResult, error)
	onExit   func(err error)

	starts  int
	stops   int
	updates int
	calls   []Call
}

// NewMockClient creates a stopped mock client for desc.
func NewMockClient(desc mcp.ServerDescriptor, tools ...mcp.ToolDescriptor) *MockClient {
	return &MockClient{
		name:  desc.Name,
		kind:  desc.EffectiveKind(),
		desc:  desc,
		tools: tools,
	}
}

func (c *MockClient) Name() string   { return c.name }
func (c *MockClient) Kind() mcp.Kind { return c.kind }

// Start counts a connect unless already started.
func (c *MockClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.starts++
	if c.startErr != nil {
		return c.startErr
	}
	c.started = true
	return nil
}

// Stop counts a disconnect unless already stopped.
func (c *MockClient) Stop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.stops++
	c.started = false
}

// Update stores the new descriptor.
func (c *MockClient) Update(desc mcp.ServerDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates++
	c.desc = desc
	return nil
}

// CallTool records the call and runs the configured handler, or echoes
// the arguments.
func (c *MockClient) CallTool(ctx context.Context, tool, invocationID, args string) (*mcp.ToolResult, error) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil, mcp.ErrServerNotRunning(c.name)
	}
	c.calls = append(c.calls, Call{Tool: tool, InvocationID: invocationID, Args: args})
	fn := c.callFunc
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, tool, args)
	}
	return mcp.TextResult(fmt.Sprintf("%s(%s)", tool, args)), nil
}

// ListTools returns the configured tools with the provider set.
func (c *MockClient) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.started {
		return nil, mcp.ErrServerNotRunning(c.name)
	}
	out := make([]mcp.ToolDescriptor, len(c.tools))
	for i, t := range c.tools {
		t.ProviderName = c.name
		out[i] = t
	}
	return out, nil
}

// IsStarted reports the run state.
func (c *MockClient) IsStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// OnExit implements mcp.ExitNotifier.
func (c *MockClient) OnExit(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExit = fn
}

// Exit simulates the transport ending on its own.
func (c *MockClient) Exit(err error) {
	c.mu.Lock()
	c.started = false
	fn := c.onExit
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// SetStartError makes subsequent starts fail.
func (c *MockClient) SetStartError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startErr = err
}

// SetCallFunc sets a custom tool handler.
func (c *MockClient) SetCallFunc(fn func(ctx context.Context, tool, args string) (*mcp.ToolResult, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callFunc = fn
}

// SetTools replaces the listed tools.
func (c *MockClient) SetTools(tools ...mcp.ToolDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
}

// Starts returns the number of underlying connects.
func (c *MockClient) Starts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.starts
}

// Stops returns the number of underlying disconnects.
func (c *MockClient) Stops() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stops
}

// Updates returns the number of Update calls.
func (c *MockClient) Updates() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updates
}

// Descriptor returns the last applied descriptor.
func (c *MockClient) Descriptor() mcp.ServerDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.desc
}

// Calls returns the recorded calls.
func (c *MockClient) Calls() []Call {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Call(nil), c.calls...)
}

// Factory hands out a MockClient per descriptor and remembers them by
// name. Tools set with SetTools are given to clients created afterwards.
type Factory struct {
	mu      sync.Mutex
	clients map[string]*MockClient
	tools   map[string][]mcp.ToolDescriptor
	created int
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{
		clients: make(map[string]*MockClient),
		tools:   make(map[string][]mcp.ToolDescriptor),
	}
}

// SetTools configures the tools for clients later created for server.
func (f *Factory) SetTools(server string, tools ...mcp.ToolDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools[server] = tools
}

// New implements mcp.ClientFactory.
func (f *Factory) New(desc mcp.ServerDescriptor, _ mcp.ClientOptions) (mcp.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := NewMockClient(desc, f.tools[desc.Name]...)
	f.clients[desc.Name] = c
	f.created++
	return c, nil
}

// Client returns the most recent client created for name.
func (f *Factory) Client(name string) *MockClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[name]
}

// Created returns the number of clients built.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

var (
	_ mcp.Client       = (*MockClient)(nil)
	_ mcp.ExitNotifier = (*MockClient)(nil)
)
