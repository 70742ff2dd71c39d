// Copyright 2025 Kadir Pekel
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

// Package sseemit implements the SSE Emitter (C12): it frames SSE events
// per spec section 4.8, assembling each event fully in memory before any
// byte leaves so no partial JSON is ever written, and serializes writes so
// concurrent tool-call results from one turn are never interleaved. It
// requires direct access to the ResponseWriter's http.Flusher, so — per the
// teacher's pkg/server/http.go loggingMiddleware comment — calling code
// must never wrap the ResponseWriter in a way that hides Flusher.
package sseemit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// terminatorLine is the literal sentinel that must end every completed
// stream (spec section 3's SSEEvent glossary entry).
const terminatorLine = "data: [DONE]\n\n"

// Emitter serializes SSE events to one client connection.
type Emitter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu   sync.Mutex
	done bool
}

// New wraps w as an Emitter. It returns an error if w does not implement
// http.Flusher — a streaming handler cannot function without it.
func New(w http.ResponseWriter) (*Emitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sseemit: response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &Emitter{w: w, flusher: flusher}, nil
}

// EmitJSON assembles payload fully in memory, writes it as one `data: ...`
// SSE record, and flushes. Safe for concurrent use.
func (e *Emitter) EmitJSON(payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sseemit: marshal event: %w", err)
	}
	return e.emitRaw(body)
}

func (e *Emitter) emitRaw(body []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return nil
	}

	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", body); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// EmitTerminator writes the literal `data: [DONE]\n\n` sentinel and marks
// the stream done; subsequent EmitJSON/EmitTerminator calls are no-ops, so
// callers can safely defer EmitTerminator without double-terminating a
// stream that already finished normally.
func (e *Emitter) EmitTerminator() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return nil
	}
	e.done = true

	if _, err := io.WriteString(e.w, terminatorLine); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// Done reports whether the terminator has already been written.
func (e *Emitter) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}
