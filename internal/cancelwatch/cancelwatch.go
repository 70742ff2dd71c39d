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

// Package cancelwatch implements the Cancellation Watcher (C13): it derives
// a context from the request's http.Request.Context() — which Go's net/http
// already cancels on client disconnect — and exposes it as the
// cancellation signal every suspension point in the Research Orchestrator
// and Tool Loop must poll (spec sections 4.9 and 5).
package cancelwatch

import (
	"context"
	"net/http"
)

// Watch returns a context that is cancelled when the client disconnects,
// along with a cancel func callers must invoke once the handler returns (to
// release resources associated with the context even on the normal-
// completion path, mirroring the stdlib context.WithCancel contract).
func Watch(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithCancel(r.Context())
}

// Cancelled reports whether ctx has been cancelled, the idiomatic
// non-blocking poll used at every loop-top and suspension point instead of
// a select with a default case repeated at every call site.
func Cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
