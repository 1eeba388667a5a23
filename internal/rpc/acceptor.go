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

package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tombee/mcphost/internal/log"
)

var (
	// ErrServerClosed is returned when operations are attempted on a closed acceptor.
	ErrServerClosed = errors.New("rpc: server closed")

	// ErrShutdownTimeout is returned when graceful shutdown exceeds the deadline.
	ErrShutdownTimeout = errors.New("rpc: shutdown timeout exceeded")
)

// AcceptorConfig configures the websocket upgrade handler.
type AcceptorConfig struct {
	// OnConnect wires a new peer before it starts serving and returns the
	// teardown run after it disconnects (optional)
	OnConnect func(p *Peer) func()

	// CheckOrigin overrides the upgrader origin check; all origins are
	// allowed when nil
	CheckOrigin func(r *http.Request) bool

	// Logger is used for structured logging (optional)
	Logger *slog.Logger
}

// Acceptor is an http.Handler that upgrades requests to websocket peers.
// Every connection gets its own session id and serves until it closes.
type Acceptor struct {
	config   AcceptorConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	peers  map[*Peer]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewAcceptor creates an upgrade handler.
func NewAcceptor(config AcceptorConfig) *Acceptor {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Acceptor{
		config: config,
		logger: log.WithComponent(logger, "rpc"),
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin,
		},
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[*Peer]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()
	defer a.wg.Done()

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("websocket upgrade failed", "remote", r.RemoteAddr, log.Error(err))
		return
	}

	sessionID := uuid.NewString()
	peer := NewPeer(conn, PeerConfig{SessionID: sessionID, Logger: a.logger})

	a.mu.Lock()
	a.peers[peer] = struct{}{}
	a.mu.Unlock()

	var teardown func()
	if a.config.OnConnect != nil {
		teardown = a.config.OnConnect(peer)
	}

	a.logger.Info("websocket connection established", "remote", r.RemoteAddr, slog.String(log.SessionKey, sessionID))

	if err := peer.Serve(a.ctx); err != nil {
		a.logger.Warn("websocket read error", slog.String(log.SessionKey, sessionID), log.Error(err))
	}

	if teardown != nil {
		teardown()
	}

	a.mu.Lock()
	delete(a.peers, peer)
	a.mu.Unlock()

	a.logger.Info("websocket connection closed", "remote", r.RemoteAddr, slog.String(log.SessionKey, sessionID))
}

// Peers returns the number of connected peers.
func (a *Acceptor) Peers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.peers)
}

// Shutdown closes every connection and waits for their teardowns.
func (a *Acceptor) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrServerClosed
	}
	a.closed = true
	peers := make([]*Peer, 0, len(a.peers))
	for p := range a.peers {
		peers = append(peers, p)
	}
	a.mu.Unlock()

	a.logger.Info("rpc acceptor shutting down", "peers", len(peers))
	for _, p := range peers {
		p.Close()
	}
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrShutdownTimeout
	}
}
