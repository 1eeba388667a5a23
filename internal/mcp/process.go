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
	"io"
	"os/exec"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
)

// ProcessClient spawns a server as a child process and speaks MCP over
// its standard streams.
type ProcessClient struct {
	*connection

	mu      sync.Mutex
	command string
	args    []string
	env     map[string]*string
}

// NewProcessClient creates a stopped process client.
func NewProcessClient(desc ServerDescriptor, opts ClientOptions) *ProcessClient {
	p := &ProcessClient{connection: newConnection(desc, KindProcess, opts)}
	p.setParams(desc)
	p.connection.connect = p.connect
	return p
}

// Update replaces the command, args and env used by the next Start.
func (p *ProcessClient) Update(desc ServerDescriptor) error {
	if kind := desc.EffectiveKind(); kind != KindProcess {
		return ErrKindMismatch(p.name, KindProcess, kind)
	}
	p.setParams(desc)
	p.applySettings(desc)
	return nil
}

func (p *ProcessClient) setParams(desc ServerDescriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.command = desc.Command
	p.args = append([]string(nil), desc.Args...)
	p.env = make(map[string]*string, len(desc.Env))
	for k, v := range desc.Env {
		p.env[k] = v
	}
}

// commandLine returns the resolved command, its args and the exact child
// environment.
func (p *ProcessClient) commandLine() (string, []string, []string) {
	p.mu.Lock()
	command, args, env := p.command, p.args, p.env
	p.mu.Unlock()

	childEnv := MergeEnv(p.opts.Environ(), env)
	return resolveCommand(command, p.opts.RuntimePaths, envLookup(childEnv)), args, childEnv
}

func (p *ProcessClient) connect(ctx context.Context) (session, error) {
	command, args, env := p.commandLine()
	if command == "" {
		return nil, ErrInvalidConfig(p.name, "command is required for process servers")
	}

	// The factory pins the child environment to the merged set instead of
	// appending it to the host environment.
	spawn := transport.WithCommandFunc(func(_ context.Context, command string, _ []string, args []string) (*exec.Cmd, error) {
		cmd := exec.Command(command, args...)
		cmd.Env = env
		return cmd, nil
	})

	c, err := client.NewStdioMCPClientWithOptions(command, env, args, spawn)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn %s: %w", command, err)
	}

	sess := &processSession{Client: c}
	if stderr, ok := client.GetStderr(c); ok {
		sess.exited = make(chan struct{})
		go func() {
			defer close(sess.exited)
			p.drain(stderr)
		}()
	}

	if err := handshake(ctx, c, p.opts.Version); err != nil {
		_ = c.Close()
		return nil, err
	}
	if sess.exited == nil {
		return c, nil
	}
	return sess, nil
}

// processSession reports the child's exit through the end of its stderr,
// which the child holds open for as long as it runs.
type processSession struct {
	*client.Client
	exited chan struct{}
}

func (s *processSession) Exited() <-chan struct{} { return s.exited }

func (p *ProcessClient) drain(r io.Reader) {
	if p.opts.Logs == nil {
		_, _ = io.Copy(io.Discard, r)
		return
	}
	p.opts.Logs.Drain(p.name, "stderr", r)
}
