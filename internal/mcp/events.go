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
	"log/slog"
	"sync"
	"time"
)

// EventType represents the type of server event.
type EventType string

const (
	// EventAdded indicates a server was registered.
	EventAdded EventType = "added"
	// EventUpdated indicates a server's descriptor changed.
	EventUpdated EventType = "updated"
	// EventRemoved indicates a server was removed.
	EventRemoved EventType = "removed"
	// EventStarted indicates a server has started.
	EventStarted EventType = "started"
	// EventStopped indicates a server has stopped.
	EventStopped EventType = "stopped"
	// EventFailed indicates a server failed to start.
	EventFailed EventType = "failed"
	// EventToolsChanged indicates the server's tool list has changed.
	EventToolsChanged EventType = "tools_changed"
)

// ServerEvent is a change to the server set or a server's run state.
type ServerEvent struct {
	Type       EventType      `json:"type"`
	SessionID  string         `json:"sessionId"`
	ServerName string         `json:"serverName"`
	Timestamp  time.Time      `json:"timestamp"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// EventEmitter logs server events and fans them out to subscribers.
type EventEmitter struct {
	logger    *slog.Logger
	sessionID string

	mu     sync.RWMutex
	nextID int
	subs   map[int]func(ServerEvent)
}

// NewEventEmitter creates a new event emitter.
func NewEventEmitter(logger *slog.Logger, sessionID string) *EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{
		logger:    logger,
		sessionID: sessionID,
		subs:      make(map[int]func(ServerEvent)),
	}
}

// Subscribe registers fn for every subsequent event and returns a function
// that removes it.
func (e *EventEmitter) Subscribe(fn func(ServerEvent)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Emit logs an event and delivers it synchronously to subscribers.
func (e *EventEmitter) Emit(event ServerEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.SessionID = e.sessionID

	attrs := []any{
		"server", event.ServerName,
		"type", string(event.Type),
	}
	if event.Message != "" {
		attrs = append(attrs, "message", event.Message)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}
	e.logger.Debug("MCP server event", attrs...)

	e.mu.RLock()
	subs := make([]func(ServerEvent), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
}

func (e *EventEmitter) emit(t EventType, server, message string) {
	e.Emit(ServerEvent{Type: t, ServerName: server, Message: message})
}

// EmitFailed emits a server failed event.
func (e *EventEmitter) EmitFailed(server string, err error) {
	e.Emit(ServerEvent{
		Type:       EventFailed,
		ServerName: server,
		Message:    "Server failed to start",
		Details:    map[string]any{"error": err.Error()},
	})
}

// EmitToolsChanged emits a tools changed event.
func (e *EventEmitter) EmitToolsChanged(server string, toolCount int) {
	e.Emit(ServerEvent{
		Type:       EventToolsChanged,
		ServerName: server,
		Message:    "Server tools changed",
		Details:    map[string]any{"tool_count": toolCount},
	})
}
