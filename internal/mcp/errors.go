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
	"errors"
	"fmt"
	"strings"
)

// MCPErrorCode represents a category of MCP error.
type MCPErrorCode string

const (
	// ErrorCodeNotFound indicates a server was not found.
	ErrorCodeNotFound MCPErrorCode = "NOT_FOUND"
	// ErrorCodeToolNotFound indicates a server does not expose a tool.
	ErrorCodeToolNotFound MCPErrorCode = "TOOL_NOT_FOUND"
	// ErrorCodeNotRunning indicates a server is not running.
	ErrorCodeNotRunning MCPErrorCode = "NOT_RUNNING"
	// ErrorCodeStartFailed indicates a server failed to start.
	ErrorCodeStartFailed MCPErrorCode = "START_FAILED"
	// ErrorCodeKindMismatch indicates a descriptor of the wrong kind was applied to a client.
	ErrorCodeKindMismatch MCPErrorCode = "KIND_MISMATCH"
	// ErrorCodeInvalidArguments indicates a tool argument payload could not be parsed.
	ErrorCodeInvalidArguments MCPErrorCode = "INVALID_ARGUMENTS"
	// ErrorCodeValidation indicates a validation error.
	ErrorCodeValidation MCPErrorCode = "VALIDATION"
	// ErrorCodeConfig indicates a configuration error.
	ErrorCodeConfig MCPErrorCode = "CONFIG"
	// ErrorCodeInternalError indicates an internal error.
	ErrorCodeInternalError MCPErrorCode = "INTERNAL"
)

// MCPError is an error type that includes suggestions for resolution.
type MCPError struct {
	// Code is the error category.
	Code MCPErrorCode
	// Name is the server (or, for ErrorCodeToolNotFound, the tool) the error is about.
	Name string
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	if e.Detail != "" {
		sb.WriteString("  -> ")
		sb.WriteString(e.Detail)
		sb.WriteString("\n")
	}

	if len(e.Suggestions) > 0 {
		sb.WriteString("\n  Suggestions:\n")
		for _, s := range e.Suggestions {
			sb.WriteString("  - ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *MCPError) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements pkg/errors.UserVisibleError.
func (e *MCPError) IsUserVisible() bool {
	return true
}

// UserMessage implements pkg/errors.UserVisibleError.
func (e *MCPError) UserMessage() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// Suggestion implements pkg/errors.UserVisibleError.
func (e *MCPError) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// NewMCPError creates a new MCPError.
func NewMCPError(code MCPErrorCode, name, message string) *MCPError {
	return &MCPError{
		Code:    code,
		Name:    name,
		Message: message,
	}
}

// WithDetail adds detail to the error.
func (e *MCPError) WithDetail(detail string) *MCPError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *MCPError) WithSuggestions(suggestions ...string) *MCPError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *MCPError) WithCause(cause error) *MCPError {
	e.Cause = cause
	return e
}

// ErrServerNotFound creates an error for when a server is not registered.
func ErrServerNotFound(name string) *MCPError {
	return NewMCPError(ErrorCodeNotFound, name, fmt.Sprintf("MCP server '%s' not found", name)).
		WithSuggestions(
			"Check the server name: mcphost servers list",
			fmt.Sprintf("Add the server to servers.yaml with name: %s", name),
		)
}

// ErrToolNotFound creates an error for a tool the server does not expose.
func ErrToolNotFound(server, tool string) *MCPError {
	return NewMCPError(ErrorCodeToolNotFound, tool, fmt.Sprintf("Tool '%s' not found on MCP server '%s'", tool, server)).
		WithSuggestions(fmt.Sprintf("List the server's tools: mcphost servers tools %s", server))
}

// ErrServerNotRunning creates an error for when a server is not running.
func ErrServerNotRunning(name string) *MCPError {
	return NewMCPError(ErrorCodeNotRunning, name, fmt.Sprintf("MCP server '%s' is not running", name)).
		WithSuggestions(fmt.Sprintf("Start the server: mcphost servers start %s", name))
}

// ErrStartFailed creates an error for when a server fails to start.
func ErrStartFailed(name string, cause error) *MCPError {
	return NewMCPError(ErrorCodeStartFailed, name, fmt.Sprintf("Failed to start MCP server '%s'", name)).
		WithDetail(cause.Error()).
		WithCause(cause).
		WithSuggestions(
			fmt.Sprintf("Check server logs: mcphost servers logs %s", name),
			"Verify the command and arguments are correct",
			"Ensure required environment variables are set",
			"Validate configuration: mcphost validate",
		)
}

// ErrKindMismatch creates an error for applying a descriptor of a different kind.
func ErrKindMismatch(name string, have, got Kind) *MCPError {
	return NewMCPError(ErrorCodeKindMismatch, name,
		fmt.Sprintf("MCP server '%s' is a %s server, not %s", name, have, got))
}

// ErrInvalidArguments creates an error for a tool argument payload that is not valid JSON.
func ErrInvalidArguments(server, tool string, cause error) *MCPError {
	return NewMCPError(ErrorCodeInvalidArguments, server,
		fmt.Sprintf("Invalid arguments for tool '%s' on MCP server '%s'", tool, server)).
		WithDetail(cause.Error()).
		WithCause(cause)
}

// ErrInvalidServerName creates an error for an invalid server name.
func ErrInvalidServerName(name string) *MCPError {
	return NewMCPError(ErrorCodeValidation, name, fmt.Sprintf("Invalid server name '%s'", name)).
		WithDetail("Names must start with a letter, contain only letters/numbers/hyphens/underscores, and be at most 64 characters").
		WithSuggestions(
			"Use only letters, numbers, hyphens (-), and underscores (_)",
			"Example valid names: my-server, server_1, fsTools",
		)
}

// ErrInvalidConfig creates an error for invalid configuration.
func ErrInvalidConfig(name, detail string) *MCPError {
	return NewMCPError(ErrorCodeConfig, name, "Invalid MCP server configuration").
		WithDetail(detail).
		WithSuggestions(
			"Check the configuration syntax in servers.yaml",
			"Ensure all required fields for the server kind are provided",
		)
}

// GetMCPError extracts an MCPError from an error chain.
func GetMCPError(err error) *MCPError {
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	return nil
}

// IsNotFound reports whether err is a server-not-found error.
func IsNotFound(err error) bool {
	e := GetMCPError(err)
	return e != nil && e.Code == ErrorCodeNotFound
}

// HasCode reports whether err carries an MCPError with the given code.
func HasCode(err error, code MCPErrorCode) bool {
	e := GetMCPError(err)
	return e != nil && e.Code == code
}
