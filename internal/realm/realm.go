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

// Package realm connects the backend server registry with the UI realm:
// tools implemented in the UI are proxied into the backend as the builtin
// server, and registry state is exposed to the UI over the same channel.
package realm

import (
	"errors"

	"github.com/tombee/mcphost/internal/mcp"
	"github.com/tombee/mcphost/internal/rpc"
	hosterrors "github.com/tombee/mcphost/pkg/errors"
)

// Methods and notifications exchanged with the UI realm.
const (
	MethodListTools = "ui.listTools"
	MethodCallTool  = "ui.callTool"

	NotifyToolsChanged   = "ui.toolsChanged"
	NotifyServersChanged = "servers.changed"
)

// ErrNotInitialized is returned by the backend proxy while no UI realm is
// attached.
var ErrNotInitialized = errors.New("realm: UI realm not initialized")

// callToolParams is the ui.callTool payload.
type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// toRPCError keeps the code and user message of registry errors across
// the channel.
func toRPCError(err error) error {
	var mcpErr *mcp.MCPError
	if errors.As(err, &mcpErr) {
		details := map[string]interface{}{"name": mcpErr.Name}
		if len(mcpErr.Suggestions) > 0 {
			details["suggestions"] = mcpErr.Suggestions
		}
		return &rpc.Error{Code: string(mcpErr.Code), Message: mcpErr.UserMessage(), Details: details}
	}
	if hosterrors.IsNotFound(err) {
		return &rpc.Error{Code: string(mcp.ErrorCodeNotFound), Message: err.Error()}
	}
	return err
}

func invalidParams(err error) error {
	return &rpc.Error{Code: rpc.CodeInvalidParams, Message: err.Error()}
}
