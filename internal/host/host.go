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

// Package host owns the shared collaborators of a running mcphost and the
// per-session server registries built on top of them.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	internallog "github.com/tombee/mcphost/internal/log"
	"github.com/tombee/mcphost/internal/mcp"
	"github.com/tombee/mcphost/internal/realm"
	"github.com/tombee/mcphost/internal/rpc"
	"github.com/tombee/mcphost/pkg/tools"
)

// LocalSession is the headless session serving the HTTP API and CLI.
const LocalSession = "local"

// Config configures a Host.
type Config struct {
	// ServersFile is the descriptor file applied to every session (required)
	ServersFile string

	// Watch re-applies ServersFile whenever it changes on disk
	Watch bool

	// Client holds the settings shared by every client
	Client mcp.ClientOptions

	// Factory builds clients (defaults to mcp.DefaultClientFactory)
	Factory mcp.ClientFactory

	// RealmTimeout bounds calls into a UI realm (defaults to 30s)
	RealmTimeout time.Duration

	// Logger is used for structured logging (optional)
	Logger *slog.Logger
}

// Session is one registry with its UI realm wiring. The local session has
// no proxy.
type Session struct {
	ID       string
	Registry *mcp.Registry
	Proxy    *realm.BackendProxy

	cancel   context.CancelFunc
	starting sync.WaitGroup
	teardown []func()
}

// Host creates sessions, applies the descriptor file to them and tears
// them down.
type Host struct {
	cfg      Config
	logger   *slog.Logger
	tools    *tools.Registry
	bridge   *mcp.Bridge
	logs     *mcp.LogCapture
	acceptor *rpc.Acceptor

	mu       sync.RWMutex
	sessions map[string]*Session
	descs    []mcp.ServerDescriptor
	watcher  *mcp.ConfigWatcher
	started  bool
}

// New creates a host. Nothing runs until Start.
func New(cfg Config) (*Host, error) {
	if cfg.ServersFile == "" {
		return nil, fmt.Errorf("servers file is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logs := cfg.Client.Logs
	if logs == nil {
		logs = mcp.NewLogCapture(0)
		cfg.Client.Logs = logs
	}
	if cfg.Client.Logger == nil {
		cfg.Client.Logger = logger
	}

	toolReg := tools.NewRegistry()
	h := &Host{
		cfg:      cfg,
		logger:   internallog.WithComponent(logger, "host"),
		tools:    toolReg,
		bridge:   mcp.NewBridge(toolReg, logger),
		logs:     logs,
		sessions: make(map[string]*Session),
	}
	h.acceptor = rpc.NewAcceptor(rpc.AcceptorConfig{
		OnConnect: h.connect,
		Logger:    logger,
	})
	return h, nil
}

// Start loads the descriptor file, creates the local session and applies
// the descriptors to it. Start failures of individual servers are logged,
// not returned.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("host already started")
	}
	h.started = true
	h.mu.Unlock()

	descs, err := mcp.LoadServers(h.cfg.ServersFile)
	if err != nil {
		return err
	}
	if err := mcp.ValidateServers(descs); err != nil {
		return err
	}

	h.mu.Lock()
	h.descs = descs
	h.mu.Unlock()

	local, err := h.newSession(LocalSession, nil)
	if err != nil {
		return err
	}
	h.applyTo(ctx, local, descs)

	if h.cfg.Watch {
		w, err := mcp.NewConfigWatcher(mcp.ConfigWatcherConfig{
			Path:     h.cfg.ServersFile,
			OnChange: func(descs []mcp.ServerDescriptor) { h.Apply(context.Background(), descs) },
			Logger:   h.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to watch servers file: %w", err)
		}
		h.mu.Lock()
		h.watcher = w
		h.mu.Unlock()
	}

	h.logger.Info("host started",
		"servers_file", h.cfg.ServersFile,
		"servers", len(descs),
		"watch", h.cfg.Watch)
	return nil
}

// Acceptor returns the UI realm websocket handler.
func (h *Host) Acceptor() *rpc.Acceptor {
	return h.acceptor
}

// Tools returns the shared tool invocation registry.
func (h *Host) Tools() *tools.Registry {
	return h.tools
}

// Logs returns the captured server logs.
func (h *Host) Logs() *mcp.LogCapture {
	return h.logs
}

// Descriptors returns the descriptor list last applied.
func (h *Host) Descriptors() []mcp.ServerDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]mcp.ServerDescriptor(nil), h.descs...)
}

// Session returns a live session.
func (h *Host) Session(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Sessions returns the ids of live sessions, sorted.
func (h *Host) Sessions() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Apply stores descs and reconciles every session with them.
func (h *Host) Apply(ctx context.Context, descs []mcp.ServerDescriptor) {
	h.mu.Lock()
	h.descs = descs
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		h.applyTo(ctx, s, descs)
	}
}

func (h *Host) applyTo(ctx context.Context, s *Session, descs []mcp.ServerDescriptor) {
	if err := s.Registry.Apply(ctx, descs); err != nil {
		h.logger.Warn("some MCP servers could not be applied",
			slog.String(internallog.SessionKey, s.ID),
			internallog.Error(err))
	}
}

func (h *Host) newSession(id string, peer *rpc.Peer) (*Session, error) {
	reg, err := mcp.NewRegistry(mcp.RegistryConfig{
		SessionID: id,
		Bridge:    h.bridge,
		Client:    h.cfg.Client,
		Factory:   h.cfg.Factory,
		Logger:    h.cfg.Client.Logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{ID: id, Registry: reg}
	if peer != nil {
		s.Proxy = realm.NewBackendProxy(h.cfg.Client.Logger, h.cfg.RealmTimeout)
		s.Proxy.Attach(peer)

		handlers := realm.NewHandlers(reg, h.tools, h.cfg.Client.Logger)
		handlers.Register(peer.Registry())
		s.teardown = append(s.teardown, handlers.Bind(peer), s.Proxy.Detach)
	}

	h.mu.Lock()
	h.sessions[id] = s
	h.mu.Unlock()

	h.logger.Debug("session created", slog.String(internallog.SessionKey, id))
	return s, nil
}

// connect builds the session of a new UI realm connection. Initialization
// calls into the UI realm, so it runs once the peer is serving.
func (h *Host) connect(peer *rpc.Peer) func() {
	s, err := h.newSession(peer.SessionID(), peer)
	if err != nil {
		h.logger.Error("failed to create session", slog.String(internallog.SessionKey, peer.SessionID()), internallog.Error(err))
		peer.Close()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.starting.Add(1)
	go func() {
		defer s.starting.Done()
		if err := s.Registry.InitBuiltin(ctx, s.Proxy, true); err != nil {
			h.logger.Warn("failed to start builtin server", slog.String(internallog.SessionKey, s.ID), internallog.Error(err))
		}
		h.applyTo(ctx, s, h.Descriptors())
	}()

	return func() { h.dropSession(context.Background(), s.ID) }
}

func (h *Host) dropSession(ctx context.Context, id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if !ok {
		return
	}

	if s.cancel != nil {
		s.cancel()
	}
	for _, fn := range s.teardown {
		fn()
	}
	s.starting.Wait()
	s.Registry.Close(ctx)
	h.logger.Debug("session closed", slog.String(internallog.SessionKey, id))
}

// Shutdown disconnects UI realms, stops the watcher and stops every
// server of every session.
func (h *Host) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	watcher := h.watcher
	h.watcher = nil
	h.mu.Unlock()

	h.logger.Info("graceful shutdown initiated", slog.Int("sessions", len(h.Sessions())))

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			h.logger.Warn("failed to close servers file watcher", internallog.Error(err))
		}
	}

	var shutdownErr error
	if err := h.acceptor.Shutdown(ctx); err != nil && err != rpc.ErrServerClosed {
		shutdownErr = err
	}

	for _, id := range h.Sessions() {
		h.dropSession(ctx, id)
	}

	h.logger.Info("graceful shutdown complete")
	return shutdownErr
}
