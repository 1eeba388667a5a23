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

/*
Package mcp supervises the Model Context Protocol (MCP) tool servers of a
session and publishes their tools for invocation.

# Overview

The package consists of several components:

  - Client: one connection to one server. ProcessClient spawns a child
    process and talks over stdio, StreamClient uses streamable HTTP and
    BuiltinClient serves UI-realm tools from an in-process server.
  - Registry: the servers of one session by name, with idempotent
    start, stop and sync.
  - Bridge: publishes each server's tools as tool requests in the
    session-keyed invocation registry (pkg/tools).
  - ConfigWatcher: reloads servers.yaml and hands the list to
    Registry.Apply.

# Tool names

Tools are published as mcp_<server>_<tool>, with the server stripped to
ASCII letters, digits, '_' and '-' and the whole name capped at 64
characters. Tool names are sanitized the same way when a server lists
them, and the client maps sanitized names back to the originals when
calling. Builtin tools keep their bare names.

	reg, err := mcp.NewRegistry(mcp.RegistryConfig{
	    SessionID: "local",
	    Bridge:    mcp.NewBridge(tools.NewRegistry(), logger),
	})

	err = reg.AddOrUpdate(ctx, mcp.ServerDescriptor{
	    Name:    "filesystem",
	    Kind:    mcp.KindProcess,
	    Command: "npx",
	    Args:    []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"},
	})
	err = reg.Start(ctx, "filesystem")

# Failures

Start failures are returned as *MCPError with code START_FAILED. Stop
never fails. A tool that reports an error, or a transport that breaks
mid-call, yields a ToolResult with IsError set instead of an error.
*/
package mcp
