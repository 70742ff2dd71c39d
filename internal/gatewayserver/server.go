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

// Package gatewayserver wires the Tag Parser, Mode Router, Admission
// Controller, Passthrough Forwarder, Research Orchestrator, and Tool Loop
// together behind the HTTP surface of spec section 6.1, following the
// teacher's pkg/server/http.go shape: a struct holding the built
// collaborators, a setupRoutes/Start/Shutdown lifecycle, and a thin
// middleware chain applied around one mux.
package gatewayserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/orchestration-gateway/internal/admission"
	"github.com/kadirpekel/orchestration-gateway/internal/clients/toolclient"
	"github.com/kadirpekel/orchestration-gateway/internal/config"
	"github.com/kadirpekel/orchestration-gateway/internal/llmbackend"
	"github.com/kadirpekel/orchestration-gateway/internal/ratelimit"
	"github.com/kadirpekel/orchestration-gateway/internal/research"
	"github.com/kadirpekel/orchestration-gateway/internal/router"
	"github.com/kadirpekel/orchestration-gateway/internal/toolloop"
	"github.com/kadirpekel/orchestration-gateway/internal/toolregistry"
)

// HealthCheck is one service the GET /health endpoint polls (spec section
// 6.1). Critical services failing mark the gateway unhealthy; non-critical
// ones only degrade it.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) bool
}

// Dependencies bundles every collaborator the server dispatches requests
// to. Construction of each lives in cmd/gateway, so this package stays
// free of config-loading and client-wiring concerns — mirroring the
// teacher's NewHTTPServer(appCfg, executors), which takes already-built
// per-agent executors rather than building them itself.
type Dependencies struct {
	LLM        *llmbackend.Client
	ToolClient *toolclient.Client
	Registry   *toolregistry.Registry

	ModeRouter *router.Router
	Admission  *admission.Controller

	// Research drives StandardResearch/DeepResearch and the research
	// branch of AutonomousPlus; N is passed per-call, not baked in.
	Research *research.Orchestrator

	// Autonomous and AutonomousPlus each get their own Loop instance
	// because their point budgets differ (spec section 4.6).
	Autonomous     *toolloop.Loop
	AutonomousPlus *toolloop.Loop

	RateLimiter *ratelimit.DefaultRateLimiter

	// RESTBridgeProxy serves GET /openapi.json and any unmatched path by
	// forwarding to the downstream REST bridge (spec section 6.1's
	// catch-all proxy rule).
	RESTBridgeProxy *httputil.ReverseProxy

	HealthChecks []HealthCheck
}

// Server is the gateway's HTTP entry point.
type Server struct {
	cfg  *config.Config
	deps Dependencies

	mux     *chi.Mux
	httpSrv *http.Server

	modelsMu     sync.RWMutex
	modelsCache  []byte
	modelsErr    error
	modelsPolled bool
}

// New builds a Server and its route table. It does not start listening;
// call Start for that.
func New(cfg *config.Config, deps Dependencies) *Server {
	s := &Server{cfg: cfg, deps: deps}
	s.mux = s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes (spec section 6.1).
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Get("/v1/models", s.handleModels)
	r.Get("/health", s.handleHealth)
	r.Get("/v1/gateway/stats", s.handleStats)
	r.Get("/openapi.json", s.handleOpenAPI)
	r.NotFound(s.handleProxyFallback)

	return r
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully within the configured shutdown timeout — the same
// errCh/ctx.Done race the teacher's HTTPServer.Start uses.
func (s *Server) Start(ctx context.Context) error {
	var handler http.Handler = s.mux
	handler = s.corsMiddleware(handler)
	handler = s.rateLimitMiddleware(handler)
	handler = s.loggingMiddleware(handler)

	s.httpSrv = &http.Server{
		Addr:         s.cfg.Server.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses can run for the lifetime of a research/tool-loop request
		IdleTimeout:  120 * time.Second,
	}

	go s.runModelsPoller(ctx)
	if s.deps.Registry != nil {
		go s.deps.Registry.RunDiscoveryLoop(ctx, s.cfg.Tool.DiscoveryInterval, nil)
	}

	slog.Info("gateway HTTP server starting", "address", s.cfg.Server.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully drains in-flight requests within the configured
// timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("gateway HTTP server shutting down")
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}
