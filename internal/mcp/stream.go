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
	"fmt"
	"maps"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/tombee/mcphost/internal/log"
)

// StreamClient reaches a remote server over streamable HTTP with a
// persistent server-to-client event stream.
type StreamClient struct {
	*connection

	mu       sync.Mutex
	endpoint string
	headers  map[string]string
}

// NewStreamClient creates a stopped stream client.
func NewStreamClient(desc ServerDescriptor, opts ClientOptions) *StreamClient {
	s := &StreamClient{connection: newConnection(desc, KindStream, opts)}
	s.setParams(desc)
	s.connection.connect = s.connect
	return s
}

// Update changes the endpoint and headers used by the next Start.
func (s *StreamClient) Update(desc ServerDescriptor) error {
	if kind := desc.EffectiveKind(); kind != KindStream {
		return ErrKindMismatch(s.name, KindStream, kind)
	}
	s.setParams(desc)
	s.applySettings(desc)
	return nil
}

// Endpoint returns the endpoint used by the next Start.
func (s *StreamClient) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

func (s *StreamClient) setParams(desc ServerDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = desc.Endpoint
	s.headers = maps.Clone(desc.Headers)
}

func (s *StreamClient) connect(ctx context.Context) (session, error) {
	s.mu.Lock()
	endpoint, headers := s.endpoint, s.headers
	s.mu.Unlock()

	if endpoint == "" {
		return nil, ErrInvalidConfig(s.name, "endpoint is required for stream servers")
	}

	opts := []transport.StreamableHTTPCOption{transport.WithContinuousListening()}
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}

	c, err := client.NewStreamableHttpClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream client for %s: %w", endpoint, err)
	}

	// Transient stream failures are reported here and never surface to
	// callers.
	c.OnConnectionLost(func(err error) {
		s.logger.Warn("MCP stream connection lost", log.Error(err))
		s.capture("transport", fmt.Sprintf("connection lost: %v", err))
	})

	if err := handshake(ctx, c, s.opts.Version); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}
