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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// serverStarts tracks start attempts by outcome
	serverStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphost_server_starts_total",
			Help: "Total MCP server start attempts by server, kind and result",
		},
		[]string{"server", "kind", "result"},
	)

	// serverStops tracks transport disconnects
	serverStops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphost_server_stops_total",
			Help: "Total MCP server stops by server",
		},
		[]string{"server"},
	)

	// runningServers tracks connected clients
	runningServers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mcphost_running_servers",
			Help: "Number of currently connected MCP clients by kind",
		},
		[]string{"kind"},
	)

	// toolCalls tracks tool calls by outcome (ok, tool_error, transport_error)
	toolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphost_tool_calls_total",
			Help: "Total tool calls by server and outcome",
		},
		[]string{"server", "outcome"},
	)

	// toolCallDuration tracks tool call latency
	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcphost_tool_call_duration_seconds",
			Help:    "Tool call latency by server",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server"},
	)

	// argumentParseFailures tracks calls whose argument payload was not JSON
	argumentParseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcphost_argument_parse_failures_total",
			Help: "Total tool calls with unparseable arguments by server",
		},
		[]string{"server"},
	)
)

func recordStart(server string, kind Kind, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	serverStarts.WithLabelValues(server, string(kind), result).Inc()
	if err == nil {
		runningServers.WithLabelValues(string(kind)).Inc()
	}
}

func recordStop(server string, kind Kind) {
	serverStops.WithLabelValues(server).Inc()
	runningServers.WithLabelValues(string(kind)).Dec()
}

func recordCall(server, outcome string, started time.Time) {
	toolCalls.WithLabelValues(server, outcome).Inc()
	toolCallDuration.WithLabelValues(server).Observe(time.Since(started).Seconds())
}

func recordParseFailure(server string) {
	argumentParseFailures.WithLabelValues(server).Inc()
}
