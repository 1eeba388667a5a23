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
	"encoding/json"
	"strings"
)

// Kind tags the transport variant of a server.
type Kind string

const (
	// KindProcess is a spawned child process spoken to over stdio.
	KindProcess Kind = "process"
	// KindStream is a remote server reached over streamable HTTP.
	KindStream Kind = "stream"
	// KindBuiltin is the in-process server backed by UI-realm tools.
	KindBuiltin Kind = "builtin"
)

// BuiltinServerName is the provider name of the in-process server. Its
// tools are exposed under their bare names.
const BuiltinServerName = "builtin"

// ServerDescriptor is the configuration of one tool server.
type ServerDescriptor struct {
	// Name is the unique, stable key of the server
	Name string `yaml:"name" json:"name"`

	// Kind selects the transport; inferred from Command/Endpoint when empty
	Kind Kind `yaml:"kind,omitempty" json:"kind,omitempty"`

	// Enabled servers are started when the descriptor list is applied
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Command is the executable to spawn (process)
	Command string `yaml:"command,omitempty" json:"command,omitempty"`

	// Args are the command-line arguments (process)
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Env is merged over the inherited environment (process). A null value
	// removes the key from the child environment.
	Env map[string]*string `yaml:"env,omitempty" json:"env,omitempty"`

	// Endpoint is the streamable HTTP URL (stream)
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// Headers are sent with every HTTP request (stream)
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// ConnectTimeout in seconds; 0 uses the host default
	ConnectTimeout int `yaml:"connect_timeout,omitempty" json:"connectTimeout,omitempty"`

	// CallTimeout in seconds; 0 uses the host default
	CallTimeout int `yaml:"call_timeout,omitempty" json:"callTimeout,omitempty"`

	// Include and Exclude are tool-name globs filtering the listed tools
	Include []string `yaml:"include,omitempty" json:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`

	// RateLimit caps tool calls per second; 0 means unlimited
	RateLimit float64 `yaml:"rate_limit,omitempty" json:"rateLimit,omitempty"`

	// RateBurst is the limiter burst size (defaults to 1)
	RateBurst int `yaml:"rate_burst,omitempty" json:"rateBurst,omitempty"`
}

// EffectiveKind returns Kind, inferring it when unset.
func (d ServerDescriptor) EffectiveKind() Kind {
	switch {
	case d.Kind != "":
		return d.Kind
	case d.Name == BuiltinServerName:
		return KindBuiltin
	case d.Endpoint != "":
		return KindStream
	default:
		return KindProcess
	}
}

// ToolDescriptor is one tool as exposed by a server after normalization.
type ToolDescriptor struct {
	// Name is the sanitized tool name, unique within the server
	Name string `json:"name"`

	// OriginalName is the provider's own name when it differs from Name
	OriginalName string `json:"originalName,omitempty"`

	// Description explains what the tool does
	Description string `json:"description,omitempty"`

	// InputSchema is the JSON Schema of the arguments
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`

	// ProviderName is the owning server
	ProviderName string `json:"providerName"`
}

// ContentItem represents a piece of content in a tool result.
type ContentItem struct {
	// Type is the content type (text, image, resource)
	Type string `json:"type"`

	// Text is the text content (for type="text")
	Text string `json:"text,omitempty"`

	// Data is the base64-encoded data (for type="image")
	Data string `json:"data,omitempty"`

	// MimeType is the MIME type for binary content
	MimeType string `json:"mimeType,omitempty"`
}

// ToolResult is the single result shape of every tool call. Failures of
// the tool itself, or of the transport mid-call, set IsError and Message.
type ToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
	Message string        `json:"message,omitempty"`
}

// ErrorResult builds a failed ToolResult.
func ErrorResult(message string) *ToolResult {
	return &ToolResult{
		Content: []ContentItem{{Type: "text", Text: message}},
		IsError: true,
		Message: message,
	}
}

// TextResult builds a successful single-text ToolResult.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []ContentItem{{Type: "text", Text: text}}}
}

// Text joins the text content of the result.
func (r *ToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ServerInfo is the getServers projection of one registered server.
type ServerInfo struct {
	Name      string           `json:"name"`
	Kind      Kind             `json:"kind"`
	Enabled   bool             `json:"enabled"`
	IsStarted bool             `json:"isStarted"`
	Tools     []ToolDescriptor `json:"tools,omitempty"`
}
