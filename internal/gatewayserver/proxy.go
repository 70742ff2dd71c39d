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
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// NewRESTBridgeProxy builds the reverse proxy used for GET /openapi.json
// and the catch-all fallback, grounded on the teacher's
// internal/webui frontend-proxy construction.
func NewRESTBridgeProxy(target *url.URL) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		http.Error(w, fmt.Sprintf("REST bridge proxy error: %v", err), http.StatusBadGateway)
	}
	proxy.FlushInterval = 100 * time.Millisecond
	return proxy
}

// handleOpenAPI proxies the downstream REST bridge's schema (spec section
// 6.1) — the same reverse proxy used for the catch-all fallback.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	s.handleProxyFallback(w, r)
}

// handleProxyFallback forwards any unmatched path to the REST bridge,
// built on the teacher's internal/webui reverse-proxy construction
// (httputil.NewSingleHostReverseProxy with a custom ErrorHandler).
func (s *Server) handleProxyFallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.RESTBridgeProxy == nil {
		http.NotFound(w, r)
		return
	}
	s.deps.RESTBridgeProxy.ServeHTTP(w, r)
}
