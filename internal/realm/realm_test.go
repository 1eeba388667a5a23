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

package realm_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcphost/internal/mcp"
	mcptest "github.com/tombee/mcphost/internal/mcp/testing"
	"github.com/tombee/mcphost/internal/realm"
	"github.com/tombee/mcphost/internal/rpc"
	"github.com/tombee/mcphost/pkg/tools"
)

type backend struct {
	tools    *tools.Registry
	factory  *mcptest.Factory
	sessions chan *mcp.Registry
	url      string
}

// startBackend serves a websocket endpoint that wires a session registry,
// proxy and handlers per connection the way the host does.
func startBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{
		tools:    tools.NewRegistry(),
		factory:  mcptest.NewFactory(),
		sessions: make(chan *mcp.Registry, 1),
	}

	acceptor := rpc.NewAcceptor(rpc.AcceptorConfig{
		OnConnect: func(p *rpc.Peer) func() {
			reg, err := mcp.NewRegistry(mcp.RegistryConfig{
				SessionID: p.SessionID(),
				Bridge:    mcp.NewBridge(b.tools, nil),
				Factory:   b.factory.New,
			})
			if err != nil {
				t.Error(err)
				return nil
			}

			proxy := realm.NewBackendProxy(nil, 2*time.Second)
			proxy.Attach(p)
			handlers := realm.NewHandlers(reg, b.tools, nil)
			handlers.Register(p.Registry())
			unbind := handlers.Bind(p)

			go func() {
				assert.NoError(t, reg.InitBuiltin(context.Background(), proxy, true))
				b.sessions <- reg
			}()

			return func() {
				unbind()
				proxy.Detach()
				reg.Close(context.Background())
			}
		},
	})
	srv := httptest.NewServer(acceptor)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = acceptor.Shutdown(ctx)
		srv.Close()
	})

	b.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return b
}

func connectUI(t *testing.T, b *backend, ui *realm.UIRegistry) (*rpc.Peer, *mcp.Registry) {
	t.Helper()
	methods := rpc.NewRegistry()
	ui.Serve(methods)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	peer, err := rpc.Dial(ctx, b.url, nil, rpc.PeerConfig{Registry: methods})
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })
	unbind := ui.Bind(peer)
	t.Cleanup(unbind)

	select {
	case reg := <-b.sessions:
		return peer, reg
	case <-time.After(5 * time.Second):
		t.Fatal("session not initialized")
		return nil, nil
	}
}

func openTool(name string) realm.UITool {
	return realm.UITool{
		Name:        name,
		Description: "Open a file in the editor",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`),
		Handler: func(ctx context.Context, args map[string]any) (*mcp.ToolResult, error) {
			return mcp.TextResult("opened " + args["path"].(string)), nil
		},
	}
}

func TestBuiltinToolsRoundTripThroughUIRealm(t *testing.T) {
	b := startBackend(t)
	ui := realm.NewUIRegistry(nil)
	require.NoError(t, ui.Register(openTool("editor.open")))

	_, reg := connectUI(t, b, ui)
	session := reg.SessionID()

	require.Eventually(t, func() bool { return b.tools.Has(session, "editor.open") }, 2*time.Second, 10*time.Millisecond)

	out, err := b.tools.Invoke(context.Background(), session, "editor.open", `{"path":"main.go"}`, "call-1")
	require.NoError(t, err)
	var result mcp.ToolResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.IsError)
	assert.Equal(t, "opened main.go", result.Text())

	require.NoError(t, ui.Register(openTool("editor.save")))
	assert.Eventually(t, func() bool { return b.tools.Has(session, "editor.save") }, 2*time.Second, 10*time.Millisecond)

	ui.Unregister("editor.open")
	assert.Eventually(t, func() bool { return !b.tools.Has(session, "editor.open") }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlers_ServerLifecycle(t *testing.T) {
	b := startBackend(t)
	b.factory.SetTools("files", mcp.ToolDescriptor{Name: "read"})
	peer, reg := connectUI(t, b, realm.NewUIRegistry(nil))
	ctx := context.Background()

	changes := make(chan mcp.ServerEvent, 16)
	peer.OnNotify(realm.NotifyServersChanged, func(params json.RawMessage) {
		var e mcp.ServerEvent
		if json.Unmarshal(params, &e) == nil {
			changes <- e
		}
	})

	require.NoError(t, peer.Call(ctx, "addOrUpdateServer", mcp.ServerDescriptor{Name: "files", Command: "npx"}, nil))
	require.NoError(t, peer.Call(ctx, "startServer", realm.NameRequest{Name: "files"}, nil))

	var servers []mcp.ServerInfo
	require.NoError(t, peer.Call(ctx, "getServers", nil, &servers))
	require.Len(t, servers, 2)
	assert.Equal(t, mcp.BuiltinServerName, servers[0].Name)
	assert.Equal(t, "files", servers[1].Name)
	assert.True(t, servers[1].IsStarted)

	var listed []tools.ToolRequest
	require.NoError(t, peer.Call(ctx, "tools.list", nil, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "mcp_files_read", listed[0].Name)

	var result mcp.ToolResult
	require.NoError(t, peer.Call(ctx, "tools.invoke", realm.InvokeRequest{Name: "mcp_files_read", Arguments: `{"p":1}`, InvocationID: "inv-1"}, &result))
	assert.Equal(t, `read({"p":1})`, result.Text())

	require.NoError(t, peer.Call(ctx, "syncServer", realm.NameRequest{Name: "files"}, nil))
	require.NoError(t, peer.Call(ctx, "stopServer", realm.NameRequest{Name: "files"}, nil))
	require.NoError(t, peer.Call(ctx, "removeServer", realm.NameRequest{Name: "files"}, nil))
	assert.Equal(t, []string{mcp.BuiltinServerName}, reg.ServerNames())

	seen := map[mcp.EventType]bool{}
	timeout := time.After(2 * time.Second)
	for !seen[mcp.EventRemoved] {
		select {
		case e := <-changes:
			seen[e.Type] = true
		case <-timeout:
			t.Fatalf("servers.changed not pushed, saw %v", seen)
		}
	}
	assert.True(t, seen[mcp.EventAdded])
	assert.True(t, seen[mcp.EventStarted])
	assert.True(t, seen[mcp.EventStopped])
}

func TestHandlers_ErrorsKeepCodes(t *testing.T) {
	b := startBackend(t)
	peer, _ := connectUI(t, b, realm.NewUIRegistry(nil))
	ctx := context.Background()

	tests := []struct {
		name   string
		method string
		params interface{}
		code   string
	}{
		{name: "unknown server", method: "startServer", params: realm.NameRequest{Name: "missing"}, code: string(mcp.ErrorCodeNotFound)},
		{name: "missing name", method: "stopServer", params: realm.NameRequest{}, code: rpc.CodeInvalidParams},
		{name: "invalid descriptor", method: "addOrUpdateServer", params: mcp.ServerDescriptor{Name: "bad name", Command: "x"}, code: string(mcp.ErrorCodeValidation)},
		{name: "builtin descriptor", method: "addOrUpdateServer", params: mcp.ServerDescriptor{Name: mcp.BuiltinServerName}, code: string(mcp.ErrorCodeConfig)},
		{name: "unknown tool", method: "tools.invoke", params: realm.InvokeRequest{Name: "nope"}, code: string(mcp.ErrorCodeNotFound)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := peer.Call(ctx, tt.method, tt.params, nil)
			var rpcErr *rpc.Error
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, tt.code, rpcErr.Code)
		})
	}
}

func TestBuiltinToolNotFoundOnUIRealm(t *testing.T) {
	ui := realm.NewUIRegistry(nil)
	_, err := ui.CallTool(context.Background(), "missing", nil)
	assert.True(t, mcp.HasCode(err, mcp.ErrorCodeToolNotFound))

	require.Error(t, ui.Register(realm.UITool{Name: "x"}))
	require.Error(t, ui.Register(realm.UITool{Handler: openTool("y").Handler}))
	assert.False(t, ui.Unregister("missing"))
}
