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

package log

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// RPCRequest describes an RPC request for logging purposes.
type RPCRequest struct {
	// Method is the RPC method (e.g., "startServer", "ui.callTool").
	Method string

	// CorrelationID links the request with its response.
	CorrelationID string

	// SessionID is the session the request belongs to.
	SessionID string
}

// RPCMiddleware wraps RPC handler execution with request/response logging.
type RPCMiddleware struct {
	logger *slog.Logger
}

// NewRPCMiddleware creates a new RPC logging middleware.
func NewRPCMiddleware(logger *slog.Logger) *RPCMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCMiddleware{logger: logger}
}

// Handler runs handler, logging the request at debug level and the outcome
// at debug (success) or warn (failure).
func (m *RPCMiddleware) Handler(req *RPCRequest, handler func() error) error {
	start := time.Now()

	attrs := []any{
		"method", req.Method,
		"correlation_id", req.CorrelationID,
	}
	if req.SessionID != "" {
		attrs = append(attrs, SessionKey, req.SessionID)
	}

	m.logger.Debug("rpc request received", attrs...)

	err := handler()

	attrs = append(attrs, DurationKey, time.Since(start).Milliseconds())
	if err != nil {
		m.logger.Warn("rpc request failed", append(attrs, "error", err.Error())...)
		return err
	}

	m.logger.Debug("rpc request completed", attrs...)
	return nil
}

// HTTPMiddleware logs every HTTP request served by the API router.
func HTTPMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
				DurationKey, time.Since(start).Milliseconds(),
			)
		})
	}
}
