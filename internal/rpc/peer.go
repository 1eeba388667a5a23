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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tombee/mcphost/internal/log"
)

// ErrPeerClosed is returned for calls on a peer whose connection is gone.
var ErrPeerClosed = errors.New("rpc: peer closed")

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// PeerConfig configures one end of a websocket RPC channel.
type PeerConfig struct {
	// Registry holds the methods served to the remote side (optional)
	Registry *Registry

	// SessionID is attached to request logs (optional)
	SessionID string

	// Logger is used for structured logging (optional)
	Logger *slog.Logger
}

// Peer is one end of a symmetric websocket RPC channel. Either side can
// call methods on the other and send notifications.
type Peer struct {
	conn       *websocket.Conn
	registry   *Registry
	sessionID  string
	logger     *slog.Logger
	middleware *log.RPCMiddleware

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *Message
	notify  map[string]map[uint64]func(json.RawMessage)
	nextSub uint64
	queue   []*Message
	closed  bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewPeer wraps an established websocket connection. Nothing is read
// until Serve runs.
func NewPeer(conn *websocket.Conn, cfg PeerConfig) *Peer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = log.WithComponent(logger, "rpc")
	if cfg.SessionID != "" {
		logger = log.WithSession(logger, cfg.SessionID)
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Peer{
		conn:       conn,
		registry:   registry,
		sessionID:  cfg.SessionID,
		logger:     logger,
		middleware: log.NewRPCMiddleware(logger),
		pending:    make(map[string]chan *Message),
		notify:     make(map[string]map[uint64]func(json.RawMessage)),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// SessionID returns the session the peer serves.
func (p *Peer) SessionID() string {
	return p.sessionID
}

// Registry returns the methods served to the remote side.
func (p *Peer) Registry() *Registry {
	return p.registry
}

// Done is closed once the connection is gone.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Serve reads messages until the connection closes or ctx is done.
// Requests are dispatched concurrently. Notification handlers run in order
// off the read loop, so they may call back into the peer.
func (p *Peer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer p.shutdown()

	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go p.keepAlive(ctx)
	go p.runNotifications()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
				return nil
			default:
			}
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("rpc: read failed: %w", err)
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := ParseMessage(data)
		if err != nil {
			p.logger.Warn("dropping malformed rpc message", log.Error(err))
			continue
		}

		switch msg.Type {
		case MessageTypeRequest:
			go p.dispatch(ctx, msg)
		case MessageTypeResponse, MessageTypeError:
			p.deliver(msg)
		case MessageTypeNotification:
			p.fire(msg)
		}
	}
}

// keepAlive pings the remote side and closes the connection when ctx ends,
// which unblocks the read loop.
func (p *Peer) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.logger.Debug("ping failed", log.Error(err))
				p.shutdown()
				return
			}
		}
	}
}

// Call invokes method on the remote side and decodes the result into
// result, which may be nil. Error responses are returned as *Error.
func (p *Peer) Call(ctx context.Context, method string, params, result interface{}) error {
	req, err := NewRequest(method, params)
	if err != nil {
		return err
	}

	ch := make(chan *Message, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	p.pending[req.CorrelationID] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, req.CorrelationID)
		p.mu.Unlock()
	}()

	if err := p.write(req); err != nil {
		return err
	}

	select {
	case resp := <-ch:
		if resp.Type == MessageTypeError {
			return &Error{Code: resp.Error.Code, Message: resp.Error.Message, Details: resp.Error.Details}
		}
		if result != nil {
			if err := resp.UnmarshalResult(result); err != nil {
				return fmt.Errorf("rpc: failed to decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPeerClosed
	}
}

// Notify sends a notification to the remote side.
func (p *Peer) Notify(method string, params interface{}) error {
	msg, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	return p.write(msg)
}

// OnNotify registers fn for notifications of method and returns a
// function that removes it.
func (p *Peer) OnNotify(method string, fn func(params json.RawMessage)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextSub++
	id := p.nextSub
	subs, ok := p.notify[method]
	if !ok {
		subs = make(map[uint64]func(json.RawMessage))
		p.notify[method] = subs
	}
	subs[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.notify[method], id)
	}
}

// Close sends a close frame and tears the connection down.
func (p *Peer) Close() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	_ = p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	p.shutdown()
	return nil
}

func (p *Peer) shutdown() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.done)
		p.conn.Close()
	})
}

func (p *Peer) write(msg *Message) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("rpc: write failed: %w", err)
	}
	return nil
}

func (p *Peer) deliver(msg *Message) {
	p.mu.Lock()
	ch, ok := p.pending[msg.CorrelationID]
	p.mu.Unlock()

	if !ok {
		p.logger.Debug("dropping response for unknown request", "correlation_id", msg.CorrelationID)
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

func (p *Peer) fire(msg *Message) {
	p.mu.Lock()
	p.queue = append(p.queue, msg)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// runNotifications delivers queued notifications in arrival order.
func (p *Peer) runNotifications() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		for {
			p.mu.Lock()
			if len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			msg := p.queue[0]
			p.queue = p.queue[1:]
			subs := make([]func(json.RawMessage), 0, len(p.notify[msg.Method]))
			for _, fn := range p.notify[msg.Method] {
				subs = append(subs, fn)
			}
			p.mu.Unlock()

			for _, fn := range subs {
				fn(msg.Params)
			}
		}
	}
}

func (p *Peer) dispatch(ctx context.Context, req *Message) {
	var resp *Message

	_ = p.middleware.Handler(&log.RPCRequest{
		Method:        req.Method,
		CorrelationID: req.CorrelationID,
		SessionID:     p.sessionID,
	}, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("rpc: handler for %s panicked: %v", req.Method, r)
				resp = errorMessage(req.CorrelationID, err)
			}
		}()

		resp, err = p.registry.Handle(ctx, req)
		if err != nil {
			resp = errorMessage(req.CorrelationID, err)
			return err
		}
		if resp == nil {
			resp, err = NewResponse(req.CorrelationID, nil)
		}
		resp.CorrelationID = req.CorrelationID
		return err
	})

	if err := p.write(resp); err != nil && !errors.Is(err, ErrPeerClosed) {
		p.logger.Debug("failed to write rpc response", "method", req.Method, log.Error(err))
	}
}

func errorMessage(correlationID string, err error) *Message {
	var rpcErr *Error
	switch {
	case errors.As(err, &rpcErr):
		return NewErrorResponse(correlationID, rpcErr.Code, rpcErr.Message, rpcErr.Details)
	case errors.Is(err, ErrMethodNotFound):
		return NewErrorResponse(correlationID, CodeMethodNotFound, err.Error(), nil)
	default:
		return NewErrorResponse(correlationID, CodeInternal, err.Error(), nil)
	}
}

// Dial connects to a websocket RPC endpoint and serves the connection in
// the background until it closes.
func Dial(ctx context.Context, url string, header http.Header, cfg PeerConfig) (*Peer, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("rpc: dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("rpc: dial %s: %w", url, err)
	}

	p := NewPeer(conn, cfg)
	go func() {
		if err := p.Serve(context.Background()); err != nil {
			p.logger.Debug("rpc connection ended", log.Error(err))
		}
	}()
	return p, nil
}
