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

package gatewayserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/kadirpekel/orchestration-gateway/internal/gwerrors"
	"github.com/kadirpekel/orchestration-gateway/internal/ratelimit"
)

// corsMiddleware adds permissive CORS headers, matching the teacher's
// development-default corsMiddleware in pkg/server/http.go — the gateway
// sits behind a chat UI the operator controls, not a public API, so a
// fixed allow-list is not worth the added configuration surface.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-Name, X-User-Id, X-User-Email, X-User-Role, X-Chat-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs request completion without wrapping the
// ResponseWriter, preserving http.Flusher for SSE handlers (same rationale
// as the teacher's loggingMiddleware comment in pkg/server/http.go).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// userIdentifier extracts the caller identity the edge rate limiter scopes
// usage to: the X-User-Id header the UI layer attaches (spec section 6.2),
// falling back to the remote address for callers that omit it.
func userIdentifier(r *http.Request) string {
	if id := r.Header.Get("X-User-Id"); id != "" {
		return id
	}
	return r.RemoteAddr
}

// rateLimitMiddleware runs the edge rate limiter ahead of the Admission
// Controller (SPEC_FULL.md section 11), so a caller issuing
// [[research_request]] in a loop cannot starve other callers' admission
// slots. Only /v1/chat/completions is scoped; health/models/stats/proxy
// traffic is not caller-initiated chat load.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.RateLimiter == nil || !s.deps.RateLimiter.IsEnabled() || r.URL.Path != "/v1/chat/completions" {
			next.ServeHTTP(w, r)
			return
		}

		identifier := userIdentifier(r)
		result, err := s.deps.RateLimiter.CheckAndRecord(r.Context(), ratelimit.ScopeUser, identifier, 1)
		if err != nil {
			slog.Warn("rate limiter check failed, allowing request", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !result.Allowed {
			writeGatewayError(w, gwerrors.New(gwerrors.AdmissionRejected, result.Reason).WithStatus(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}
