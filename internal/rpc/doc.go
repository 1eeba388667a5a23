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
Package rpc provides a symmetric websocket RPC channel between the backend
and the UI realm.

Both ends are a Peer. Either side can call methods registered on the other
and send notifications; responses are matched to requests by correlation
ID.

# Protocol

Messages are JSON objects:

	// Request
	{"type": "request", "correlationId": "9b1d...", "method": "startServer", "params": {"name": "files"}}

	// Response
	{"type": "response", "correlationId": "9b1d...", "result": {...}}

	// Error
	{"type": "error", "correlationId": "9b1d...", "error": {"code": "NOT_FOUND", "message": "..."}}

	// Notification
	{"type": "notification", "method": "servers.changed", "params": {...}}

# Serving

An Acceptor upgrades HTTP requests. OnConnect registers the peer's methods
before any message is read and returns a teardown run on disconnect:

	acceptor := rpc.NewAcceptor(rpc.AcceptorConfig{
	    OnConnect: func(p *rpc.Peer) func() {
	        p.Registry().Register("getServers", handleGetServers)
	        return func() { dropSession(p.SessionID()) }
	    },
	})
	router.Handle("/ws", acceptor)

# Dialing

	peer, err := rpc.Dial(ctx, "ws://127.0.0.1:7777/ws", nil, rpc.PeerConfig{Registry: uiMethods})
	if err != nil {
	    return err
	}
	var servers []ServerInfo
	err = peer.Call(ctx, "getServers", nil, &servers)
*/
package rpc
