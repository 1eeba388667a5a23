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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/mcphost/internal/log"
)

// ClientFactory builds the client for a descriptor.
type ClientFactory func(desc ServerDescriptor, opts ClientOptions) (Client, error)

// DefaultClientFactory builds process and stream clients. The builtin
// client is only created through Registry.InitBuiltin.
func DefaultClientFactory(desc ServerDescriptor, opts ClientOptions) (Client, error) {
	switch kind := desc.EffectiveKind(); kind {
	case KindProcess:
		return NewProcessClient(desc, opts), nil
	case KindStream:
		return NewStreamClient(desc, opts), nil
	case KindBuiltin:
		return nil, ErrInvalidConfig(desc.Name, "the builtin server is registered by the host, not by descriptor")
	default:
		return nil, ErrInvalidConfig(desc.Name, fmt.Sprintf("invalid kind: %s", kind))
	}
}

// applyParallelism bounds concurrent starts during Apply.
const applyParallelism = 4

// RegistryConfig configures a session's server registry.
type RegistryConfig struct {
	// SessionID scopes every published tool request (required)
	SessionID string

	// Bridge publishes tools into the invocation registry (required)
	Bridge *Bridge

	// Client holds the settings shared by every client
	Client ClientOptions

	// Factory builds clients (defaults to DefaultClientFactory)
	Factory ClientFactory

	// Logger is used for structured logging (optional)
	Logger *slog.Logger
}

type entry struct {
	desc   ServerDescriptor
	client Client
	tools  []ToolDescriptor
}

// Registry owns the servers of one session by name.
type Registry struct {
	sessionID string
	bridge    *Bridge
	opts      ClientOptions
	factory   ClientFactory
	logger    *slog.Logger
	events    *EventEmitter

	// mu protects entries; it is never held across I/O
	mu      sync.RWMutex
	entries map[string]*entry

	// nameLocks serialize lifecycle operations on one name; an entry lives
	// while someone holds or waits for it
	nameMu    sync.Mutex
	nameLocks map[string]*nameLock

	// closed and builtinUnsub are protected by mu
	closed       bool
	builtinUnsub func()
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry creates an empty registry for one session.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = log.WithSession(log.WithComponent(logger, "registry"), cfg.SessionID)

	factory := cfg.Factory
	if factory == nil {
		factory = DefaultClientFactory
	}

	opts := cfg.Client
	if opts.Logger == nil {
		opts.Logger = logger
	}

	return &Registry{
		sessionID: cfg.SessionID,
		bridge:    cfg.Bridge,
		opts:      opts,
		factory:   factory,
		logger:    logger,
		events:    NewEventEmitter(logger, cfg.SessionID),
		entries:   make(map[string]*entry),
		nameLocks: make(map[string]*nameLock),
	}, nil
}

// SessionID returns the session the registry publishes tools for.
func (r *Registry) SessionID() string {
	return r.sessionID
}

// Subscribe registers fn for server set and run state changes.
func (r *Registry) Subscribe(fn func(ServerEvent)) func() {
	return r.events.Subscribe(fn)
}

// lock serializes lifecycle operations on name.
func (r *Registry) lock(name string) func() {
	r.nameMu.Lock()
	l, ok := r.nameLocks[name]
	if !ok {
		l = &nameLock{}
		r.nameLocks[name] = l
	}
	l.refs++
	r.nameMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.nameMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(r.nameLocks, name)
		}
		r.nameMu.Unlock()
	}
}

// insert stores e under name unless the registry has been closed.
func (r *Registry) insert(name string, e *entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("registry for session %s is closed", r.sessionID)
	}
	r.entries[name] = e
	return nil
}

func (r *Registry) get(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// AddOrUpdate registers a stopped client for a new name, or updates the
// existing client's parameters without changing its run state. A kind
// change replaces the client; a running server is restarted on the new
// one.
func (r *Registry) AddOrUpdate(ctx context.Context, desc ServerDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	unlock := r.lock(desc.Name)
	defer unlock()

	e, exists := r.get(desc.Name)
	if exists && e.client.Kind() == desc.EffectiveKind() {
		if err := e.client.Update(desc); err != nil {
			return err
		}
		r.mu.Lock()
		e.desc = desc
		r.mu.Unlock()
		r.events.emit(EventUpdated, desc.Name, "Server configuration updated")
		return nil
	}

	client, err := r.factory(desc, r.opts)
	if err != nil {
		return err
	}

	wasStarted := false
	if exists {
		r.logger.Info("MCP server kind changed, replacing client",
			slog.String(log.ServerKey, desc.Name),
			"from", string(e.client.Kind()),
			"to", string(client.Kind()))
		wasStarted = e.client.IsStarted()
		r.stopLocked(ctx, e)
	}

	replacement := &entry{desc: desc, client: client}
	if err := r.insert(desc.Name, replacement); err != nil {
		return err
	}
	r.watch(client)

	if !exists {
		if r.opts.Logs != nil {
			r.opts.Logs.Retain(desc.Name)
		}
		r.events.emit(EventAdded, desc.Name, "Server added")
		return nil
	}

	r.events.emit(EventUpdated, desc.Name, "Server replaced")
	if wasStarted {
		return r.startLocked(ctx, replacement)
	}
	return nil
}

// watch stops tracking a client as running once its transport ends on
// its own.
func (r *Registry) watch(c Client) {
	if n, ok := c.(ExitNotifier); ok {
		n.OnExit(func(err error) { r.exited(c, err) })
	}
}

func (r *Registry) exited(c Client, err error) {
	name := c.Name()
	unlock := r.lock(name)
	defer unlock()

	e, ok := r.get(name)
	if !ok || e.client != c || c.IsStarted() {
		return
	}

	r.bridge.Unregister(r.sessionID, name)
	r.mu.Lock()
	e.tools = nil
	r.mu.Unlock()

	r.logger.Warn("MCP server exited", slog.String(log.ServerKey, name), log.Error(err))
	r.events.Emit(ServerEvent{
		Type:       EventFailed,
		ServerName: name,
		Message:    "Server exited unexpectedly",
		Details:    map[string]any{"error": err.Error()},
	})
	r.events.emit(EventStopped, name, "Server exited")
}

// Remove stops and forgets a server. Removing an unknown name logs a
// warning and succeeds.
func (r *Registry) Remove(ctx context.Context, name string) error {
	unlock := r.lock(name)
	defer unlock()

	e, ok := r.get(name)
	if !ok {
		r.logger.Warn("cannot remove unknown MCP server", slog.String(log.ServerKey, name))
		return nil
	}

	r.stopLocked(ctx, e)

	r.mu.Lock()
	delete(r.entries, name)
	r.mu.Unlock()

	if r.opts.Logs != nil {
		r.opts.Logs.Release(name)
	}
	r.events.emit(EventRemoved, name, "Server removed")
	return nil
}

// Start connects a server and publishes its tools. Starting a running
// server is a no-op.
func (r *Registry) Start(ctx context.Context, name string) error {
	unlock := r.lock(name)
	defer unlock()

	e, ok := r.get(name)
	if !ok {
		return ErrServerNotFound(name)
	}
	return r.startLocked(ctx, e)
}

func (r *Registry) startLocked(ctx context.Context, e *entry) error {
	name := e.client.Name()
	if e.client.IsStarted() {
		return nil
	}

	if err := e.client.Start(ctx); err != nil {
		r.events.EmitFailed(name, err)
		return ErrStartFailed(name, err)
	}
	r.events.emit(EventStarted, name, "Server started")

	r.publishLocked(ctx, e)
	return nil
}

// publishLocked lists the server's tools and republishes them for the
// session. A listing failure leaves the server running without tools.
func (r *Registry) publishLocked(ctx context.Context, e *entry) {
	name := e.client.Name()

	tools, err := e.client.ListTools(ctx)
	if err != nil {
		r.logger.Warn("failed to list MCP server tools", slog.String(log.ServerKey, name), log.Error(err))
		r.bridge.Unregister(r.sessionID, name)
		return
	}

	if _, err := r.bridge.Register(r.sessionID, name, r, tools); err != nil {
		r.logger.Warn("failed to publish MCP server tools", slog.String(log.ServerKey, name), log.Error(err))
	}

	r.mu.Lock()
	e.tools = tools
	r.mu.Unlock()
	r.events.EmitToolsChanged(name, len(tools))
}

// Stop unpublishes a server's tools and disconnects it. Stopping a
// stopped server is a no-op.
func (r *Registry) Stop(ctx context.Context, name string) error {
	unlock := r.lock(name)
	defer unlock()

	e, ok := r.get(name)
	if !ok {
		return ErrServerNotFound(name)
	}
	r.stopLocked(ctx, e)
	return nil
}

func (r *Registry) stopLocked(ctx context.Context, e *entry) {
	name := e.client.Name()
	r.bridge.Unregister(r.sessionID, name)

	r.mu.Lock()
	e.tools = nil
	r.mu.Unlock()

	if !e.client.IsStarted() {
		return
	}
	e.client.Stop(ctx)
	r.events.emit(EventStopped, name, "Server stopped")
}

// Sync restarts a running server so it picks up a fresh environment.
// A stopped server is left alone.
func (r *Registry) Sync(ctx context.Context, name string) error {
	unlock := r.lock(name)
	defer unlock()

	e, ok := r.get(name)
	if !ok {
		return ErrServerNotFound(name)
	}
	if !e.client.IsStarted() {
		return nil
	}
	r.stopLocked(ctx, e)
	return r.startLocked(ctx, e)
}

// Refresh republishes a running server's tools.
func (r *Registry) Refresh(ctx context.Context, name string) error {
	unlock := r.lock(name)
	defer unlock()

	e, ok := r.get(name)
	if !ok {
		return ErrServerNotFound(name)
	}
	if !e.client.IsStarted() {
		return ErrServerNotRunning(name)
	}
	r.publishLocked(ctx, e)
	return nil
}

// StartedServers returns the sorted names of running servers.
func (r *Registry) StartedServers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, e := range r.entries {
		if e.client.IsStarted() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ServerNames returns the sorted names of all registered servers.
func (r *Registry) ServerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.entries)
}

// Servers returns the getServers projection, sorted by name. Tools are
// those published by the last start or refresh.
func (r *Registry) Servers() []ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ServerInfo, 0, len(r.entries))
	for _, name := range sortedKeys(r.entries) {
		e := r.entries[name]
		infos = append(infos, ServerInfo{
			Name:      name,
			Kind:      e.client.Kind(),
			Enabled:   e.desc.Enabled,
			IsStarted: e.client.IsStarted(),
			Tools:     append([]ToolDescriptor(nil), e.tools...),
		})
	}
	return infos
}

// Descriptor returns the registered descriptor for name.
func (r *Registry) Descriptor(name string) (ServerDescriptor, error) {
	e, ok := r.get(name)
	if !ok {
		return ServerDescriptor{}, ErrServerNotFound(name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.desc, nil
}

// CallTool routes a call to server. Calls are not serialized per name.
func (r *Registry) CallTool(ctx context.Context, server, tool, invocationID, args string) (*ToolResult, error) {
	e, ok := r.get(server)
	if !ok {
		return nil, ErrServerNotFound(server)
	}
	return e.client.CallTool(ctx, tool, invocationID, args)
}

// ListTools queries a running server for its current tools.
func (r *Registry) ListTools(ctx context.Context, server string) ([]ToolDescriptor, error) {
	e, ok := r.get(server)
	if !ok {
		return nil, ErrServerNotFound(server)
	}
	if !e.client.IsStarted() {
		return nil, ErrServerNotRunning(server)
	}
	return e.client.ListTools(ctx)
}

// InitBuiltin registers the builtin server directly and, when enabled,
// starts it and publishes its tools. The source's change notifications
// republish the tools.
func (r *Registry) InitBuiltin(ctx context.Context, source BuiltinSource, enabled bool) error {
	desc := ServerDescriptor{Name: BuiltinServerName, Kind: KindBuiltin, Enabled: enabled}

	unlock := r.lock(BuiltinServerName)
	e, exists := r.get(BuiltinServerName)
	if exists {
		unlock()
		return fmt.Errorf("builtin server already initialized for session %s", r.sessionID)
	}
	e = &entry{desc: desc, client: NewBuiltinClient(desc, source, r.opts)}
	if err := r.insert(BuiltinServerName, e); err != nil {
		unlock()
		return err
	}
	r.events.emit(EventAdded, BuiltinServerName, "Builtin server added")

	var err error
	if enabled {
		err = r.startLocked(ctx, e)
	}
	unlock()

	if source != nil {
		unsub := source.OnToolsChanged(func() {
			if err := r.Refresh(context.Background(), BuiltinServerName); err != nil && !HasCode(err, ErrorCodeNotRunning) {
				r.logger.Warn("failed to refresh builtin tools", log.Error(err))
			}
		})
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			unsub()
			return err
		}
		r.builtinUnsub = unsub
		r.mu.Unlock()
	}
	return err
}

// Apply reconciles the registry with a descriptor list: unknown names are
// removed, the rest added or updated, enabled servers started and
// disabled ones stopped. The builtin server is never removed or
// reconfigured here. Every descriptor is attempted; the failures are
// joined.
func (r *Registry) Apply(ctx context.Context, descs []ServerDescriptor) error {
	desired := make(map[string]ServerDescriptor, len(descs))
	for _, d := range descs {
		if d.EffectiveKind() == KindBuiltin {
			continue
		}
		desired[d.Name] = d
	}

	var errs []error
	for _, name := range r.ServerNames() {
		if name == BuiltinServerName {
			continue
		}
		if _, ok := desired[name]; !ok {
			if err := r.Remove(ctx, name); err != nil {
				errs = append(errs, err)
			}
		}
	}

	var (
		g     errgroup.Group
		errMu sync.Mutex
	)
	g.SetLimit(applyParallelism)
	for _, name := range sortedKeys(desired) {
		d := desired[name]
		if err := r.AddOrUpdate(ctx, d); err != nil {
			r.logger.Error("failed to apply MCP server", slog.String(log.ServerKey, name), log.Error(err))
			errMu.Lock()
			errs = append(errs, err)
			errMu.Unlock()
			continue
		}
		g.Go(func() error {
			var err error
			if d.Enabled {
				err = r.Start(ctx, d.Name)
			} else {
				err = r.Stop(ctx, d.Name)
			}
			if err != nil {
				r.logger.Error("failed to reconcile MCP server run state", slog.String(log.ServerKey, d.Name), log.Error(err))
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Close stops every server and drops the session's tool requests. A
// closed registry accepts no new servers.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unsub := r.builtinUnsub
	r.builtinUnsub = nil
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	for _, name := range r.ServerNames() {
		unlock := r.lock(name)
		if e, ok := r.get(name); ok {
			r.stopLocked(ctx, e)
			if r.opts.Logs != nil && name != BuiltinServerName {
				r.opts.Logs.Release(name)
			}
		}
		unlock()
	}
	r.bridge.Tools().DropSession(r.sessionID)
}
