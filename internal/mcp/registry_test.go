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

package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcphost/internal/mcp"
	mcptest "github.com/tombee/mcphost/internal/mcp/testing"
	"github.com/tombee/mcphost/pkg/tools"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	reg     *mcp.Registry
	tools   *tools.Registry
	factory *mcptest.Factory
	logs    *lockedBuffer
}

func newFixture(t *testing.T, session string) *fixture {
	t.Helper()
	return newFixtureWith(t, session, tools.NewRegistry(), mcptest.NewFactory())
}

func newFixtureWith(t *testing.T, session string, toolReg *tools.Registry, factory *mcptest.Factory) *fixture {
	t.Helper()
	buf := &lockedBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	reg, err := mcp.NewRegistry(mcp.RegistryConfig{
		SessionID: session,
		Bridge:    mcp.NewBridge(toolReg, logger),
		Factory:   factory.New,
		Logger:    logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close(context.Background()) })

	return &fixture{reg: reg, tools: toolReg, factory: factory, logs: buf}
}

func processDesc(name string) mcp.ServerDescriptor {
	return mcp.ServerDescriptor{Name: name, Kind: mcp.KindProcess, Command: "echo", Args: []string{}}
}

func TestRegistry_StartReportsStarted(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()

	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))
	require.NoError(t, f.reg.Start(ctx, "s1"))

	assert.Equal(t, []string{"s1"}, f.reg.StartedServers())
}

func TestRegistry_NotFoundNamesServer(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()

	check := func(t *testing.T, err error) {
		t.Helper()
		require.Error(t, err)
		mcpErr := mcp.GetMCPError(err)
		require.NotNil(t, mcpErr)
		assert.Equal(t, mcp.ErrorCodeNotFound, mcpErr.Code)
		assert.Equal(t, "missing", mcpErr.Name)
		assert.Contains(t, err.Error(), "missing")
	}

	t.Run("start", func(t *testing.T) { check(t, f.reg.Start(ctx, "missing")) })
	t.Run("stop", func(t *testing.T) { check(t, f.reg.Stop(ctx, "missing")) })
	t.Run("sync", func(t *testing.T) { check(t, f.reg.Sync(ctx, "missing")) })
	t.Run("callTool", func(t *testing.T) {
		_, err := f.reg.CallTool(ctx, "missing", "t1", "call-1", "{}")
		check(t, err)
	})
	t.Run("listTools", func(t *testing.T) {
		_, err := f.reg.ListTools(ctx, "missing")
		check(t, err)
	})
}

func TestRegistry_IdempotentStartStop(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))

	require.NoError(t, f.reg.Start(ctx, "s1"))
	require.NoError(t, f.reg.Start(ctx, "s1"))
	client := f.factory.Client("s1")
	assert.Equal(t, 1, client.Starts())

	require.NoError(t, f.reg.Stop(ctx, "s1"))
	require.NoError(t, f.reg.Stop(ctx, "s1"))
	assert.Equal(t, 1, client.Stops())
	assert.False(t, client.IsStarted())
}

func TestRegistry_UpdateKeepsNames(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s2")))
	require.NoError(t, f.reg.Start(ctx, "s1"))

	for i := 0; i < 5; i++ {
		d := processDesc("s1")
		d.Args = []string{"--run", string(rune('a' + i))}
		require.NoError(t, f.reg.AddOrUpdate(ctx, d))
	}

	assert.Equal(t, []string{"s1", "s2"}, f.reg.ServerNames())
	assert.Equal(t, 2, f.factory.Created(), "updates reuse the client")
	client := f.factory.Client("s1")
	assert.Equal(t, 5, client.Updates())
	assert.Equal(t, []string{"--run", "e"}, client.Descriptor().Args)
	assert.True(t, client.IsStarted(), "update leaves run state untouched")
}

func TestRegistry_KindChangeReplacesClient(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	f.factory.SetTools("s1", mcp.ToolDescriptor{Name: "read"})
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))
	require.NoError(t, f.reg.Start(ctx, "s1"))
	old := f.factory.Client("s1")

	require.NoError(t, f.reg.AddOrUpdate(ctx, mcp.ServerDescriptor{Name: "s1", Endpoint: "http://localhost:9/mcp"}))

	assert.False(t, old.IsStarted(), "old client is stopped")
	replacement := f.factory.Client("s1")
	assert.NotSame(t, old, replacement)
	assert.Equal(t, mcp.KindStream, replacement.Kind())
	assert.Equal(t, []string{"s1"}, f.reg.ServerNames())

	assert.Equal(t, []string{"s1"}, f.reg.StartedServers(), "a running server keeps running on the new client")
	assert.Equal(t, 1, replacement.Starts())
	published := f.tools.ListProvider("session-1", "s1")
	require.Len(t, published, 1)
	assert.Equal(t, "mcp_s1_read", published[0].Name)

	out, err := f.tools.Invoke(ctx, "session-1", "mcp_s1_read", "{}", "call-1")
	require.NoError(t, err)
	assert.Contains(t, out, "read({})")
	assert.Len(t, replacement.Calls(), 1)
	assert.Empty(t, old.Calls())
}

func TestRegistry_KindChangeKeepsStoppedServerStopped(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))

	require.NoError(t, f.reg.AddOrUpdate(ctx, mcp.ServerDescriptor{Name: "s1", Endpoint: "http://localhost:9/mcp"}))

	assert.Empty(t, f.reg.StartedServers())
	assert.Zero(t, f.factory.Client("s1").Starts())
}

func TestRegistry_ConcurrentStartConnectsOnce(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	f.factory.SetTools("s1", mcp.ToolDescriptor{Name: "read"})
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.reg.Start(ctx, "s1"))
		}()
	}
	wg.Wait()

	client := f.factory.Client("s1")
	assert.Equal(t, 1, client.Starts())
	assert.Len(t, f.tools.ListProvider("session-1", "s1"), 1)
}

func TestRegistry_InterleavedLifecycleStaysConsistent(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	f.factory.SetTools("s1", mcp.ToolDescriptor{Name: "read"})
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))
	require.NoError(t, f.reg.Start(ctx, "s1"))

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				assert.NoError(t, f.reg.Stop(ctx, "s1"))
			case 1:
				assert.NoError(t, f.reg.Start(ctx, "s1"))
			default:
				assert.NoError(t, f.reg.Sync(ctx, "s1"))
			}
		}(i)
	}
	wg.Wait()

	client := f.factory.Client("s1")
	published := f.tools.ListProvider("session-1", "s1")
	if client.IsStarted() {
		assert.Equal(t, client.Stops()+1, client.Starts())
		assert.Len(t, published, 1)
		assert.Equal(t, []string{"s1"}, f.reg.StartedServers())
	} else {
		assert.Equal(t, client.Stops(), client.Starts())
		assert.Empty(t, published)
		assert.Empty(t, f.reg.StartedServers())
	}
	assert.Zero(t, mcp.NameLocks(f.reg), "name locks are released after use")
}

func TestRegistry_ExitedServerReportedStopped(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	f.factory.SetTools("s1", mcp.ToolDescriptor{Name: "read"})
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))
	require.NoError(t, f.reg.Start(ctx, "s1"))

	var (
		mu     sync.Mutex
		events []mcp.EventType
	)
	f.reg.Subscribe(func(e mcp.ServerEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.Type)
	})

	f.factory.Client("s1").Exit(errors.New("exit status 3"))

	assert.Empty(t, f.reg.StartedServers())
	assert.Empty(t, f.tools.ListProvider("session-1", "s1"))
	infos := f.reg.Servers()
	require.Len(t, infos, 1)
	assert.False(t, infos[0].IsStarted)
	assert.Empty(t, infos[0].Tools)
	assert.Contains(t, f.logs.String(), "MCP server exited")

	mu.Lock()
	assert.Equal(t, []mcp.EventType{mcp.EventFailed, mcp.EventStopped}, events)
	mu.Unlock()

	require.NoError(t, f.reg.Start(ctx, "s1"))
	assert.Equal(t, []string{"s1"}, f.reg.StartedServers())
	assert.Len(t, f.tools.ListProvider("session-1", "s1"), 1)
}

func TestRegistry_ExitOfReplacedClientIgnored(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))
	require.NoError(t, f.reg.Start(ctx, "s1"))
	old := f.factory.Client("s1")

	require.NoError(t, f.reg.AddOrUpdate(ctx, mcp.ServerDescriptor{Name: "s1", Endpoint: "http://localhost:9/mcp"}))
	old.Exit(errors.New("late exit"))

	assert.Equal(t, []string{"s1"}, f.reg.StartedServers())
}

func TestRegistry_ClosedRegistryRejectsServers(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	f.reg.Close(ctx)

	assert.Error(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))
	assert.Error(t, f.reg.InitBuiltin(ctx, &uiSource{}, true))
	assert.Empty(t, f.reg.ServerNames())
}

func TestRegistry_RemoveKeepsLogsHeldByOtherSessions(t *testing.T) {
	ctx := context.Background()
	logs := mcp.NewLogCapture(10)
	toolReg := tools.NewRegistry()
	newRegistry := func(session string) *mcp.Registry {
		reg, err := mcp.NewRegistry(mcp.RegistryConfig{
			SessionID: session,
			Bridge:    mcp.NewBridge(toolReg, nil),
			Client:    mcp.ClientOptions{Logs: logs},
			Factory:   mcptest.NewFactory().New,
		})
		require.NoError(t, err)
		t.Cleanup(func() { reg.Close(ctx) })
		return reg
	}
	local, ui := newRegistry("local"), newRegistry("ui-1")
	require.NoError(t, local.AddOrUpdate(ctx, processDesc("s1")))
	require.NoError(t, ui.AddOrUpdate(ctx, processDesc("s1")))
	logs.Add("s1", "stderr", "listening")

	require.NoError(t, ui.Remove(ctx, "s1"))
	assert.Len(t, logs.Logs("s1", 0, time.Time{}), 1, "the local session still holds s1")

	require.NoError(t, local.Remove(ctx, "s1"))
	assert.Nil(t, logs.Logs("s1", 0, time.Time{}))
}

func TestRegistry_PublishesAndRemovesTools(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	f.factory.SetTools("s1",
		mcp.ToolDescriptor{Name: "read", Description: "Read a file"},
		mcp.ToolDescriptor{Name: "", OriginalName: "搜索文件"},
	)
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))
	require.NoError(t, f.reg.Start(ctx, "s1"))

	published := f.tools.ListProvider("session-1", "s1")
	require.Len(t, published, 2)
	assert.Equal(t, "mcp_s1_", published[0].Name)
	assert.Equal(t, "mcp_s1_read", published[1].Name)

	infos := f.reg.Servers()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].IsStarted)
	assert.Len(t, infos[0].Tools, 2)

	require.NoError(t, f.reg.Remove(ctx, "s1"))
	assert.NotContains(t, f.reg.ServerNames(), "s1")
	assert.Empty(t, f.tools.ListProvider("session-1", "s1"))
	assert.False(t, f.factory.Client("s1").IsStarted())
}

func TestRegistry_StopUnpublishesTools(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	f.factory.SetTools("s1", mcp.ToolDescriptor{Name: "read"})
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))
	require.NoError(t, f.reg.Start(ctx, "s1"))
	require.Len(t, f.tools.ListProvider("session-1", "s1"), 1)

	require.NoError(t, f.reg.Stop(ctx, "s1"))
	assert.Empty(t, f.tools.ListProvider("session-1", "s1"))
	assert.Equal(t, []string{"s1"}, f.reg.ServerNames())
}

func TestRegistry_RemoveUnknownWarns(t *testing.T) {
	f := newFixture(t, "session-1")

	require.NoError(t, f.reg.Remove(context.Background(), "s1"))
	assert.Contains(t, f.logs.String(), "level=WARN")
	assert.Contains(t, f.logs.String(), "server=s1")
}

func TestRegistry_SyncRestartsRunningServer(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))
	client := f.factory.Client("s1")

	require.NoError(t, f.reg.Sync(ctx, "s1"))
	assert.Equal(t, 0, client.Starts(), "sync leaves a stopped server stopped")

	require.NoError(t, f.reg.Start(ctx, "s1"))
	require.NoError(t, f.reg.Sync(ctx, "s1"))
	assert.Equal(t, 2, client.Starts())
	assert.Equal(t, 1, client.Stops())
	assert.True(t, client.IsStarted())
}

func TestRegistry_StartFailureLeavesServerRegistered(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))
	f.factory.Client("s1").SetStartError(errors.New("exec: no such file"))

	err := f.reg.Start(ctx, "s1")
	require.Error(t, err)
	assert.True(t, mcp.HasCode(err, mcp.ErrorCodeStartFailed))
	assert.Contains(t, err.Error(), "exec: no such file")

	infos := f.reg.Servers()
	require.Len(t, infos, 1)
	assert.Equal(t, "s1", infos[0].Name)
	assert.False(t, infos[0].IsStarted)
}

func TestRegistry_CallToolThroughInvocationRegistry(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	f.factory.SetTools("s1", mcp.ToolDescriptor{Name: "t1"})
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))
	require.NoError(t, f.reg.Start(ctx, "s1"))

	out, err := f.tools.Invoke(ctx, "session-1", "mcp_s1_t1", `{"a":1}`, "call-1")
	require.NoError(t, err)

	var result mcp.ToolResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, `t1({"a":1})`, result.Text())

	calls := f.factory.Client("s1").Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, mcptest.Call{Tool: "t1", InvocationID: "call-1", Args: `{"a":1}`}, calls[0])
}

func TestRegistry_SessionsAreIsolated(t *testing.T) {
	toolReg := tools.NewRegistry()
	factory := mcptest.NewFactory()
	factory.SetTools("s1", mcp.ToolDescriptor{Name: "t1"})
	a := newFixtureWith(t, "session-a", toolReg, factory)
	b := newFixtureWith(t, "session-b", toolReg, factory)
	ctx := context.Background()

	for _, f := range []*fixture{a, b} {
		require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))
		require.NoError(t, f.reg.Start(ctx, "s1"))
	}
	require.Len(t, toolReg.List("session-a"), 1)
	require.Len(t, toolReg.List("session-b"), 1)

	require.NoError(t, a.reg.Stop(ctx, "s1"))
	assert.Empty(t, toolReg.List("session-a"))
	assert.Len(t, toolReg.List("session-b"), 1, "other session keeps its registration")
}

func TestRegistry_Apply(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()

	keep := processDesc("keep")
	keep.Enabled = true
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("gone")))
	require.NoError(t, f.reg.Apply(ctx, []mcp.ServerDescriptor{
		keep,
		processDesc("idle"),
		{Name: mcp.BuiltinServerName, Kind: mcp.KindBuiltin},
	}))

	assert.Equal(t, []string{"idle", "keep"}, f.reg.ServerNames())
	assert.Equal(t, []string{"keep"}, f.reg.StartedServers())

	keep.Enabled = false
	require.NoError(t, f.reg.Apply(ctx, []mcp.ServerDescriptor{keep}))
	assert.Equal(t, []string{"keep"}, f.reg.ServerNames())
	assert.Empty(t, f.reg.StartedServers())
}

func TestRegistry_ApplyJoinsFailures(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()

	good := processDesc("good")
	good.Enabled = true
	err := f.reg.Apply(ctx, []mcp.ServerDescriptor{
		good,
		{Name: "bad name", Command: "x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid server name")
	assert.Equal(t, []string{"good"}, f.reg.StartedServers())
}

func TestRegistry_Events(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()

	var (
		mu     sync.Mutex
		events []mcp.EventType
	)
	unsubscribe := f.reg.Subscribe(func(e mcp.ServerEvent) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "session-1", e.SessionID)
		events = append(events, e.Type)
	})

	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s1")))
	require.NoError(t, f.reg.Start(ctx, "s1"))
	require.NoError(t, f.reg.Stop(ctx, "s1"))
	require.NoError(t, f.reg.Remove(ctx, "s1"))
	unsubscribe()
	require.NoError(t, f.reg.AddOrUpdate(ctx, processDesc("s2")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []mcp.EventType{
		mcp.EventAdded, mcp.EventStarted, mcp.EventToolsChanged, mcp.EventStopped, mcp.EventRemoved,
	}, events)
}

type uiSource struct {
	mu    sync.Mutex
	tools []mcp.ToolDescriptor
	subs  []func()
}

func (s *uiSource) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mcp.ToolDescriptor(nil), s.tools...), nil
}

func (s *uiSource) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	return mcp.TextResult("ui:" + name), nil
}

func (s *uiSource) OnToolsChanged(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
	return func() {}
}

func (s *uiSource) set(tools ...mcp.ToolDescriptor) {
	s.mu.Lock()
	s.tools = tools
	subs := append([]func(){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func TestRegistry_InitBuiltin(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	source := &uiSource{tools: []mcp.ToolDescriptor{{Name: "editor.open"}}}

	require.NoError(t, f.reg.InitBuiltin(ctx, source, true))
	assert.Equal(t, []string{mcp.BuiltinServerName}, f.reg.StartedServers())

	published := f.tools.ListProvider("session-1", mcp.BuiltinServerName)
	require.Len(t, published, 1)
	assert.Equal(t, "editor.open", published[0].Name, "builtin tools keep bare names")

	out, err := f.tools.Invoke(ctx, "session-1", "editor.open", "{}", "call-1")
	require.NoError(t, err)
	assert.Contains(t, out, "ui:editor.open")

	source.set(mcp.ToolDescriptor{Name: "editor.open"}, mcp.ToolDescriptor{Name: "editor.save"})
	assert.Len(t, f.tools.ListProvider("session-1", mcp.BuiltinServerName), 2)

	require.Error(t, f.reg.InitBuiltin(ctx, source, true), "builtin registers once per session")

	require.NoError(t, f.reg.Apply(ctx, nil))
	assert.Equal(t, []string{mcp.BuiltinServerName}, f.reg.ServerNames(), "apply never removes the builtin server")
}

func TestRegistry_InitBuiltinDisabled(t *testing.T) {
	f := newFixture(t, "session-1")
	ctx := context.Background()
	source := &uiSource{tools: []mcp.ToolDescriptor{{Name: "editor.open"}}}

	require.NoError(t, f.reg.InitBuiltin(ctx, source, false))
	assert.Empty(t, f.reg.StartedServers())
	assert.Empty(t, f.tools.List("session-1"))

	source.set(mcp.ToolDescriptor{Name: "editor.save"})
	assert.Empty(t, f.tools.List("session-1"), "a stopped builtin server ignores changes")
	assert.NotContains(t, f.logs.String(), "failed to refresh builtin tools")
}
