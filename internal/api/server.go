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

// Package api serves the host's HTTP surface: session and server
// management, tool invocation, health, metrics and the UI realm websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/mcphost/internal/host"
	internallog "github.com/tombee/mcphost/internal/log"
	"github.com/tombee/mcphost/internal/mcp"
	hosterrors "github.com/tombee/mcphost/pkg/errors"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Config configures the API server.
type Config struct {
	// Host provides sessions and the websocket acceptor (required)
	Host *host.Host

	// Version is reported by /health
	Version string

	// Logger is used for structured logging (optional)
	Logger *slog.Logger
}

// Server routes API requests to host sessions.
type Server struct {
	host    *host.Host
	version string
	logger  *slog.Logger
	router  chi.Router
}

// NewServer builds the router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Host == nil {
		return nil, fmt.Errorf("host is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		host:    cfg.Host,
		version: cfg.Version,
		logger:  internallog.WithComponent(logger, "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(internallog.HTTPMiddleware(s.logger))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/ws", cfg.Host.Acceptor())

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Route("/{session}", func(r chi.Router) {
			r.Get("/servers", s.listServers)
			r.Post("/servers", s.addOrUpdateServer)
			r.Route("/servers/{name}", func(r chi.Router) {
				r.Delete("/", s.byName((*mcp.Registry).Remove))
				r.Post("/start", s.byName((*mcp.Registry).Start))
				r.Post("/stop", s.byName((*mcp.Registry).Stop))
				r.Post("/sync", s.byName((*mcp.Registry).Sync))
				r.Get("/tools", s.serverTools)
				r.Get("/logs", s.serverLogs)
			})
			r.Get("/tools", s.listTools)
			r.Post("/tools/{tool}/invoke", s.invokeTool)
		})
	})

	s.router = r
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Sessions: len(s.host.Sessions()),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": s.host.Sessions()})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*host.Session, bool) {
	id := chi.URLParam(r, "session")
	sess, ok := s.host.Session(id)
	if !ok {
		writeErr(w, &hosterrors.NotFoundError{Resource: "session", ID: id})
		return nil, false
	}
	return sess, true
}

func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Registry.Servers())
}

func (s *Server) addOrUpdateServer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var desc mcp.ServerDescriptor
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&desc); err != nil {
		writeErr(w, &hosterrors.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	if desc.EffectiveKind() == mcp.KindBuiltin {
		writeErr(w, mcp.ErrInvalidConfig(desc.Name, "the builtin server cannot be configured"))
		return
	}
	if err := sess.Registry.AddOrUpdate(r.Context(), desc); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// byName adapts a registry lifecycle operation on the {name} parameter.
func (s *Server) byName(op func(reg *mcp.Registry, ctx context.Context, name string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.session(w, r)
		if !ok {
			return
		}
		if err := op(sess.Registry, r.Context(), chi.URLParam(r, "name")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) serverTools(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	descs, err := sess.Registry.ListTools(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, descs)
}

// serverLogs accepts ?lines=N or ?since=RFC3339.
func (s *Server) serverLogs(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if _, err := sess.Registry.Descriptor(name); err != nil {
		writeErr(w, err)
		return
	}

	lines := 0
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(w, &hosterrors.ValidationError{Field: "lines", Message: "must be a non-negative integer"})
			return
		}
		lines = n
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeErr(w, &hosterrors.ValidationError{Field: "since", Message: "must be an RFC3339 timestamp"})
			return
		}
		since = t
	}

	entries := s.host.Logs().Logs(name, lines, since)
	if entries == nil {
		entries = []mcp.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.host.Tools().List(sess.ID))
}

// invokeTool passes the body to the tool as its argument string. The
// X-Invocation-ID header sets the invocation id.
func (s *Server) invokeTool(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeErr(w, &hosterrors.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	out, err := s.host.Tools().Invoke(r.Context(), sess.ID, chi.URLParam(r, "tool"), string(body), r.Header.Get("X-Invocation-ID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, out)
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error       string   `json:"error"`
	Code        string   `json:"code,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, ErrorBody) {
	if mcpErr := mcp.GetMCPError(err); mcpErr != nil {
		return statusFor(mcpErr.Code), ErrorBody{
			Error:       mcpErr.UserMessage(),
			Code:        string(mcpErr.Code),
			Suggestions: mcpErr.Suggestions,
		}
	}

	var notFound *hosterrors.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound, ErrorBody{Error: notFound.Error(), Code: string(mcp.ErrorCodeNotFound)}
	}
	var validation *hosterrors.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, ErrorBody{Error: validation.Error(), Code: string(mcp.ErrorCodeValidation)}
	}
	return http.StatusInternalServerError, ErrorBody{Error: err.Error(), Code: string(mcp.ErrorCodeInternalError)}
}

func statusFor(code mcp.MCPErrorCode) int {
	switch code {
	case mcp.ErrorCodeNotFound, mcp.ErrorCodeToolNotFound:
		return http.StatusNotFound
	case mcp.ErrorCodeNotRunning:
		return http.StatusConflict
	case mcp.ErrorCodeValidation, mcp.ErrorCodeConfig, mcp.ErrorCodeKindMismatch, mcp.ErrorCodeInvalidArguments:
		return http.StatusBadRequest
	case mcp.ErrorCodeStartFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
