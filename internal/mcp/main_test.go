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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// helperEnv turns the test binary into a stdio MCP server.
const helperEnv = "MCPHOST_TEST_STDIO_SERVER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		fmt.Fprintln(os.Stderr, "helper server ready")
		if err := server.ServeStdio(newTestMCPServer()); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// newTestMCPServer serves a fixed tool set:
//   - echo returns its arguments as JSON
//   - 搜索文件 returns "found"
//   - fail reports a tool error
//   - env returns the value of the variable named by "key"
//   - exit ends the helper process without replying
func newTestMCPServer() *server.MCPServer {
	s := server.NewMCPServer("test-server", "1.0.0", server.WithToolCapabilities(true))

	s.AddTool(mcp.NewTool("echo", mcp.WithDescription("Echo the arguments")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			raw, err := json.Marshal(req.GetArguments())
			if err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(string(raw)), nil
		})

	s.AddTool(mcp.NewTool("搜索文件", mcp.WithDescription("Search files")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText("found"), nil
		})

	s.AddTool(mcp.NewTool("fail", mcp.WithDescription("Always fails")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("bad input"), nil
		})

	s.AddTool(mcp.NewTool("env", mcp.WithDescription("Read an environment variable"), mcp.WithString("key")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			key, _ := req.GetArguments()["key"].(string)
			if v, ok := os.LookupEnv(key); ok {
				return mcp.NewToolResultText(v), nil
			}
			return mcp.NewToolResultText("<unset>"), nil
		})

	s.AddTool(mcp.NewTool("exit", mcp.WithDescription("Exit the helper process")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if os.Getenv(helperEnv) != "1" {
				return mcp.NewToolResultError("not a helper process"), nil
			}
			os.Exit(3)
			return nil, nil
		})

	return s
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}
