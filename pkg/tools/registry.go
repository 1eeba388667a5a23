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

// Package tools holds the session-scoped tool invocation registry that
// agents consult to find callable tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tombee/mcphost/pkg/errors"
)

// Handler executes a tool. args is the raw JSON argument string and
// invocationID correlates the call across logs and transports.
type Handler func(ctx context.Context, args string, invocationID string) (string, error)

// ToolRequest is a callable tool published for one session.
type ToolRequest struct {
	// ID is the stable identifier; it equals Name for published tools
	ID string `json:"id"`

	// Name is the canonical tool name consumers call
	Name string `json:"name"`

	// ProviderName is the owning server
	ProviderName string `json:"providerName"`

	// Description explains what the tool does
	Description string `json:"description,omitempty"`

	// Parameters is the JSON Schema of the tool arguments
	Parameters json.RawMessage `json:"parameters,omitempty"`

	// Handler runs the tool; never serialized
	Handler Handler `json:"-"`
}

// Registry maintains tool requests keyed by session, then by name.
// Sessions never see each other's tools.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*ToolRequest
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*ToolRequest),
	}
}

// Register adds or replaces a tool for the session.
func (r *Registry) Register(sessionID string, req ToolRequest) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if req.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if req.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil: %s", req.Name)
	}
	if req.ID == "" {
		req.ID = req.Name
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tools, ok := r.sessions[sessionID]
	if !ok {
		tools = make(map[string]*ToolRequest)
		r.sessions[sessionID] = tools
	}
	tools[req.Name] = &req
	return nil
}

// Unregister removes a tool from the session.
func (r *Registry) Unregister(sessionID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tools := r.sessions[sessionID]
	if _, exists := tools[name]; !exists {
		return &errors.NotFoundError{
			Resource: "tool",
			ID:       name,
		}
	}

	delete(tools, name)
	return nil
}

// UnregisterProvider removes every tool the provider published for the
// session and returns how many were removed.
func (r *Registry) UnregisterProvider(sessionID, provider string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for name, req := range r.sessions[sessionID] {
		if req.ProviderName == provider {
			delete(r.sessions[sessionID], name)
			removed++
		}
	}
	return removed
}

// Get retrieves a tool by name.
func (r *Registry) Get(sessionID, name string) (*ToolRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, exists := r.sessions[sessionID][name]
	if !exists {
		return nil, &errors.NotFoundError{
			Resource: "tool",
			ID:       name,
		}
	}

	clone := *req
	return &clone, nil
}

// Has checks if a tool is registered for the session.
func (r *Registry) Has(sessionID, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.sessions[sessionID][name]
	return exists
}

// List returns the session's tools sorted by name.
func (r *Registry) List(sessionID string) []ToolRequest {
	return r.filter(sessionID, func(*ToolRequest) bool { return true })
}

// ListProvider returns the session's tools owned by provider.
func (r *Registry) ListProvider(sessionID, provider string) []ToolRequest {
	return r.filter(sessionID, func(req *ToolRequest) bool {
		return req.ProviderName == provider
	})
}

func (r *Registry) filter(sessionID string, keep func(*ToolRequest) bool) []ToolRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolRequest, 0, len(r.sessions[sessionID]))
	for _, req := range r.sessions[sessionID] {
		if keep(req) {
			out = append(out, *req)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs the named tool. An empty invocationID gets a generated one.
func (r *Registry) Invoke(ctx context.Context, sessionID, name, args, invocationID string) (string, error) {
	req, err := r.Get(sessionID, name)
	if err != nil {
		return "", err
	}

	if invocationID == "" {
		invocationID = uuid.NewString()
	}

	return req.Handler(ctx, args, invocationID)
}

// DropSession forgets every tool of the session and returns how many were
// dropped.
func (r *Registry) DropSession(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.sessions[sessionID])
	delete(r.sessions, sessionID)
	return n
}

// Sessions returns the ids of sessions that have at least one tool.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id, tools := range r.sessions {
		if len(tools) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
