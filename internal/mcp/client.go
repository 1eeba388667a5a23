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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/time/rate"

	"github.com/tombee/mcphost/internal/log"
)

// Client is one connection to one tool server. Start and Stop are
// idempotent; Stop never fails.
type Client interface {
	Name() string
	Kind() Kind
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	Update(desc ServerDescriptor) error
	CallTool(ctx context.Context, name, invocationID, args string) (*ToolResult, error)
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	IsStarted() bool
}

// ExitNotifier is implemented by clients whose transport can end without
// a Stop, such as a child process that exits. fn runs after the client
// has marked itself stopped.
type ExitNotifier interface {
	OnExit(fn func(err error))
}

// session is the part of an mcp-go client a Client talks through.
type session interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// exitingSession is a session whose transport reports its own end.
type exitingSession interface {
	session
	Exited() <-chan struct{}
}

var _ session = (*client.Client)(nil)

// ClientOptions are the host-wide settings shared by every client.
type ClientOptions struct {
	// Logger receives lifecycle and call logs (defaults to slog.Default)
	Logger *slog.Logger

	// Logs captures process stderr and transport errors; may be nil
	Logs *LogCapture

	// ConnectTimeout bounds the handshake when a descriptor sets none
	ConnectTimeout time.Duration

	// CallTimeout bounds a tool call when a descriptor sets none
	CallTimeout time.Duration

	// StrictArguments fails calls whose argument payload is not JSON
	// instead of proceeding with empty arguments
	StrictArguments bool

	// RuntimePaths maps runtime binaries to the env var holding their path
	RuntimePaths map[string]string

	// Environ returns the inherited environment (defaults to os.Environ)
	Environ func() []string

	// Version is reported to servers in the initialize handshake
	Version string
}

var errServerExited = errors.New("server exited")

// ProtocolVersion is the MCP revision offered in the initialize handshake.
const ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION

const (
	defaultProcessConnectTimeout = 30 * time.Second
	defaultStreamConnectTimeout  = 15 * time.Second
	defaultCallTimeout           = 60 * time.Second
)

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultCallTimeout
	}
	if o.RuntimePaths == nil {
		o.RuntimePaths = DefaultRuntimePaths
	}
	if o.Environ == nil {
		o.Environ = os.Environ
	}
	if o.Version == "" {
		o.Version = "dev"
	}
	return o
}

// connection carries the lifecycle and call logic every variant shares.
// The variant supplies connect.
type connection struct {
	name     string
	kind     Kind
	opts     ClientOptions
	logger   *slog.Logger
	sanitize bool
	connect  func(ctx context.Context) (session, error)

	// lifecycle is held for reading by calls and for writing by Start and
	// Stop, so Stop waits for in-flight calls before closing.
	lifecycle sync.RWMutex
	sess      session
	live      context.Context
	endLive   context.CancelFunc
	started   atomic.Bool
	onExit    atomic.Pointer[func(error)]

	names    atomic.Pointer[toolNameMap]
	settings atomic.Pointer[callSettings]
}

// callSettings are the descriptor-derived knobs that Update may replace
// while a connection is live.
type callSettings struct {
	connectTimeout time.Duration
	callTimeout    time.Duration
	filter         toolFilter
	limiter        *rate.Limiter
}

func newConnection(desc ServerDescriptor, kind Kind, opts ClientOptions) *connection {
	opts = opts.withDefaults()
	c := &connection{
		name:     desc.Name,
		kind:     kind,
		opts:     opts,
		logger:   log.WithServer(opts.Logger, desc.Name).With("kind", string(kind)),
		sanitize: kind != KindBuiltin,
	}
	empty := toolNameMap{}
	c.names.Store(&empty)
	c.applySettings(desc)
	return c
}

func (c *connection) applySettings(desc ServerDescriptor) {
	s := &callSettings{
		connectTimeout: time.Duration(desc.ConnectTimeout) * time.Second,
		callTimeout:    time.Duration(desc.CallTimeout) * time.Second,
		filter:         newToolFilter(desc.Include, desc.Exclude),
	}
	if s.connectTimeout <= 0 {
		s.connectTimeout = c.opts.ConnectTimeout
	}
	if s.connectTimeout <= 0 {
		s.connectTimeout = defaultProcessConnectTimeout
		if c.kind == KindStream {
			s.connectTimeout = defaultStreamConnectTimeout
		}
	}
	if s.callTimeout <= 0 {
		s.callTimeout = c.opts.CallTimeout
	}
	if desc.RateLimit > 0 {
		burst := desc.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(desc.RateLimit), burst)
	}
	c.settings.Store(s)
}

// Name returns the server name.
func (c *connection) Name() string { return c.name }

// Kind returns the transport variant.
func (c *connection) Kind() Kind { return c.kind }

// IsStarted reports whether the transport is connected.
func (c *connection) IsStarted() bool { return c.started.Load() }

// Start connects the transport. It is a no-op when already started.
func (c *connection) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.sess != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.settings.Load().connectTimeout)
	defer cancel()

	start := time.Now()
	sess, err := c.connect(ctx)
	recordStart(c.name, c.kind, err)
	if err != nil {
		c.logger.Error("failed to start MCP server", log.Error(err))
		c.capture("transport", err.Error())
		return err
	}

	live, endLive := context.WithCancel(context.Background())
	c.sess, c.live, c.endLive = sess, live, endLive
	c.started.Store(true)
	if es, ok := sess.(exitingSession); ok {
		go c.watchExit(live, endLive, es)
	}
	c.logger.Info("MCP server started", slog.Int64(log.DurationKey, time.Since(start).Milliseconds()))
	return nil
}

// OnExit registers fn for transport ends that did not come from Stop.
func (c *connection) OnExit(fn func(err error)) {
	c.onExit.Store(&fn)
}

// watchExit marks the client stopped when sess ends on its own. In-flight
// calls are cancelled before the lifecycle lock is taken.
func (c *connection) watchExit(live context.Context, endLive context.CancelFunc, sess exitingSession) {
	select {
	case <-live.Done():
		return
	case <-sess.Exited():
	}
	endLive()

	c.lifecycle.Lock()
	if c.sess != sess {
		c.lifecycle.Unlock()
		return
	}
	c.sess = nil
	c.started.Store(false)
	empty := toolNameMap{}
	c.names.Store(&empty)
	c.lifecycle.Unlock()

	err := sess.Close()
	recordStop(c.name, c.kind)
	if err == nil {
		err = errServerExited
	}
	c.logger.Warn("MCP server exited unexpectedly", log.Error(err))
	c.capture("transport", fmt.Sprintf("server exited: %v", err))

	if fn := c.onExit.Load(); fn != nil {
		(*fn)(err)
	}
}

// Stop closes the transport. It is a no-op when not started and logs
// rather than returns close failures.
func (c *connection) Stop(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.sess == nil {
		return
	}
	sess := c.sess
	c.sess = nil
	c.endLive()
	c.started.Store(false)
	empty := toolNameMap{}
	c.names.Store(&empty)
	defer recordStop(c.name, c.kind)

	done := make(chan error, 1)
	go func() { done <- sess.Close() }()

	select {
	case err := <-done:
		if err != nil {
			c.logger.Warn("error closing MCP server", log.Error(err))
			return
		}
	case <-ctx.Done():
		c.logger.Warn("timed out closing MCP server", log.Error(ctx.Err()))
		return
	}
	c.logger.Info("MCP server stopped")
}

// ListTools enumerates the server's tools, applying the include and
// exclude filters and publishing a fresh reverse name map.
func (c *connection) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	if c.sess == nil {
		return nil, ErrServerNotRunning(c.name)
	}

	settings := c.settings.Load()
	ctx, cancel := context.WithTimeout(ctx, settings.callTimeout)
	defer cancel()

	result, err := c.sess.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	listed := make([]mcp.Tool, 0, len(result.Tools))
	for _, tool := range result.Tools {
		if settings.filter.empty() || settings.filter.allows(tool.Name) {
			listed = append(listed, tool)
		}
	}

	originals := make([]string, len(listed))
	for i, tool := range listed {
		originals[i] = tool.Name
	}

	names := originals
	reverse := toolNameMap{}
	if c.sanitize {
		names, reverse = buildToolNames(originals)
	}

	tools := make([]ToolDescriptor, len(listed))
	for i, tool := range listed {
		schema, err := inputSchema(tool)
		if err != nil {
			return nil, err
		}
		tools[i] = ToolDescriptor{
			Name:         names[i],
			Description:  tool.Description,
			InputSchema:  schema,
			ProviderName: c.name,
		}
		if names[i] != tool.Name {
			tools[i].OriginalName = tool.Name
		}
	}

	c.names.Store(&reverse)
	return tools, nil
}

// CallTool invokes a tool by its sanitized name. Tool failures and
// transport failures during the call come back as error results.
func (c *connection) CallTool(ctx context.Context, name, invocationID, args string) (*ToolResult, error) {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	if c.sess == nil {
		return nil, ErrServerNotRunning(c.name)
	}

	logger := c.logger.With(slog.String(log.ToolKey, name), slog.String(log.InvocationKey, invocationID))

	arguments, err := parseArguments(args)
	if err != nil {
		recordParseFailure(c.name)
		logger.Error("failed to parse tool arguments", log.Error(err))
		if c.opts.StrictArguments {
			return ErrorResult(ErrInvalidArguments(c.name, name, err).UserMessage()), nil
		}
		arguments = map[string]any{}
	}

	settings := c.settings.Load()
	if settings.limiter != nil {
		if err := settings.limiter.Wait(ctx); err != nil {
			recordCall(c.name, "rate_limited", time.Now())
			return ErrorResult(fmt.Sprintf("rate limit wait failed: %v", err)), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, settings.callTimeout)
	defer cancel()
	live := c.live
	defer context.AfterFunc(live, cancel)()

	original := (*c.names.Load()).original(name)
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      original,
			Arguments: arguments,
		},
	}
	if invocationID != "" {
		req.Params.Meta = &mcp.Meta{AdditionalFields: map[string]any{"invocationId": invocationID}}
	}

	start := time.Now()
	result, err := c.sess.CallTool(ctx, req)
	if err != nil && live.Err() != nil {
		recordCall(c.name, "transport_error", start)
		logger.Warn("MCP server exited during tool call", log.Error(err))
		return ErrorResult(fmt.Sprintf("tool call failed: MCP server %s exited", c.name)), nil
	}
	if err != nil {
		recordCall(c.name, "transport_error", start)
		logger.Warn("tool call failed", log.Error(err))
		c.capture("transport", err.Error())
		return ErrorResult(fmt.Sprintf("tool call failed: %v", err)), nil
	}

	out := convertResult(result)
	outcome := "ok"
	if out.IsError {
		outcome = "tool_error"
	}
	recordCall(c.name, outcome, start)
	log.Trace(logger, "tool call completed", slog.Int64(log.DurationKey, time.Since(start).Milliseconds()))
	return out, nil
}

func (c *connection) capture(source, message string) {
	if c.opts.Logs != nil {
		c.opts.Logs.Add(c.name, source, message)
	}
}

// handshake runs the initialize exchange on a freshly created client.
// The transport outlives ctx, so it is started on an uncancelled copy.
func handshake(ctx context.Context, c *client.Client, version string) error {
	if err := c.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "mcphost",
				Version: version,
			},
		},
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}
	return nil
}

// parseArguments decodes a JSON object argument payload. Blank input is
// an empty object.
func parseArguments(args string) (map[string]any, error) {
	if strings.TrimSpace(args) == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(args), &out); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// inputSchema returns the tool's JSON schema, preferring the raw form.
func inputSchema(tool mcp.Tool) (json.RawMessage, error) {
	if len(tool.RawInputSchema) > 0 {
		return tool.RawInputSchema, nil
	}

	toolBytes, err := tool.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool %s: %w", tool.Name, err)
	}
	var toolMap map[string]json.RawMessage
	if err := json.Unmarshal(toolBytes, &toolMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool %s: %w", tool.Name, err)
	}
	return toolMap["inputSchema"], nil
}

// convertResult maps an mcp-go result onto ToolResult.
func convertResult(result *mcp.CallToolResult) *ToolResult {
	out := &ToolResult{
		IsError: result.IsError,
		Content: make([]ContentItem, 0, len(result.Content)),
	}

	for _, content := range result.Content {
		item := ContentItem{}
		if text, ok := mcp.AsTextContent(content); ok {
			item.Type = text.Type
			item.Text = text.Text
		} else if image, ok := mcp.AsImageContent(content); ok {
			item.Type = image.Type
			item.Data = image.Data
			item.MimeType = image.MIMEType
		} else {
			// Fallback: marshal to JSON to extract fields
			raw, err := json.Marshal(content)
			if err != nil {
				continue
			}
			var fields struct {
				Type     string `json:"type"`
				Text     string `json:"text"`
				Data     string `json:"data"`
				MimeType string `json:"mimeType"`
			}
			if err := json.Unmarshal(raw, &fields); err != nil {
				continue
			}
			item = ContentItem(fields)
		}
		out.Content = append(out.Content, item)
	}

	if out.IsError {
		out.Message = out.Text()
		if out.Message == "" {
			out.Message = "tool reported an error"
		}
	}
	return out
}

// toMCPResult maps a ToolResult onto an mcp-go result.
func toMCPResult(result *ToolResult) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: result.IsError}
	for _, item := range result.Content {
		switch item.Type {
		case "image":
			out.Content = append(out.Content, mcp.NewImageContent(item.Data, item.MimeType))
		default:
			out.Content = append(out.Content, mcp.NewTextContent(item.Text))
		}
	}
	if len(out.Content) == 0 && result.Message != "" {
		out.Content = append(out.Content, mcp.NewTextContent(result.Message))
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
