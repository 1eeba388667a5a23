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
	"bufio"
	"io"
	"strings"
	"sync"
	"time"
)

// maxLogLine caps a captured line; the rest of a longer line is read and
// dropped.
const maxLogLine = 64 * 1024

// LogEntry is one captured line of server output.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"` // "stderr" or "transport"
}

// RingBuffer is a fixed-size circular buffer for log entries.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    int
	count   int
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = defaultLogLines
	}
	return &RingBuffer{entries: make([]LogEntry, capacity)}
}

// Add appends an entry, overwriting the oldest when full.
func (rb *RingBuffer) Add(entry LogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.next] = entry
	rb.next = (rb.next + 1) % len(rb.entries)
	if rb.count < len(rb.entries) {
		rb.count++
	}
}

// Last returns up to n most recent entries, oldest first. n <= 0 returns all.
func (rb *RingBuffer) Last(n int) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}
	out := make([]LogEntry, n)
	start := rb.next - n
	if start < 0 {
		start += len(rb.entries)
	}
	for i := 0; i < n; i++ {
		out[i] = rb.entries[(start+i)%len(rb.entries)]
	}
	return out
}

// Since returns the entries at or after t, oldest first.
func (rb *RingBuffer) Since(t time.Time) []LogEntry {
	var out []LogEntry
	for _, e := range rb.Last(0) {
		if !e.Timestamp.Before(t) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of buffered entries.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

const defaultLogLines = 1000

// LogCapture keeps recent output per server. Sessions share buffers by
// server name; a buffer is dropped once no session retains the name.
type LogCapture struct {
	mu       sync.RWMutex
	buffers  map[string]*RingBuffer
	refs     map[string]int
	capacity int
}

// NewLogCapture creates a capture holding capacity lines per server.
func NewLogCapture(capacity int) *LogCapture {
	if capacity <= 0 {
		capacity = defaultLogLines
	}
	return &LogCapture{
		buffers:  make(map[string]*RingBuffer),
		refs:     make(map[string]int),
		capacity: capacity,
	}
}

func (lc *LogCapture) buffer(server string) *RingBuffer {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	buf, ok := lc.buffers[server]
	if !ok {
		buf = NewRingBuffer(lc.capacity)
		lc.buffers[server] = buf
	}
	return buf
}

// Add records one line for server.
func (lc *LogCapture) Add(server, source, message string) {
	lc.buffer(server).Add(LogEntry{
		Timestamp: time.Now(),
		Message:   message,
		Source:    source,
	})
}

// Drain copies r line by line into server's buffer until r is exhausted.
// Lines longer than maxLogLine are truncated; reading never stops early.
func (lc *LogCapture) Drain(server, source string, r io.Reader) {
	br := bufio.NewReaderSize(r, maxLogLine)
	line := make([]byte, 0, 256)
	for {
		chunk, more, err := br.ReadLine()
		if room := maxLogLine - len(line); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			line = append(line, chunk...)
		}
		if more && err == nil {
			continue
		}
		if msg := strings.TrimRight(string(line), "\r"); msg != "" {
			lc.Add(server, source, msg)
		}
		line = line[:0]
		if err != nil {
			return
		}
	}
}

// Logs returns captured entries for server. A non-zero since takes
// precedence over lines.
func (lc *LogCapture) Logs(server string, lines int, since time.Time) []LogEntry {
	lc.mu.RLock()
	buf, ok := lc.buffers[server]
	lc.mu.RUnlock()
	if !ok {
		return nil
	}
	if !since.IsZero() {
		return buf.Since(since)
	}
	return buf.Last(lines)
}

// Retain marks server as registered in one more session.
func (lc *LogCapture) Retain(server string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.refs[server]++
}

// Release undoes one Retain and drops the buffer for server when no
// session holds the name any more.
func (lc *LogCapture) Release(server string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.refs[server] > 1 {
		lc.refs[server]--
		return
	}
	delete(lc.refs, server)
	delete(lc.buffers, server)
}
