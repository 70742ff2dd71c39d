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

// Command gateway is the CLI for the request orchestration gateway.
//
// Usage:
//
//	gateway serve --config gateway.yaml
//	gateway version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/orchestration-gateway/internal/admission"
	"github.com/kadirpekel/orchestration-gateway/internal/classifier"
	"github.com/kadirpekel/orchestration-gateway/internal/clients/crawlclient"
	"github.com/kadirpekel/orchestration-gateway/internal/clients/retrievalclient"
	"github.com/kadirpekel/orchestration-gateway/internal/clients/searchclient"
	"github.com/kadirpekel/orchestration-gateway/internal/clients/toolclient"
	"github.com/kadirpekel/orchestration-gateway/internal/config"
	"github.com/kadirpekel/orchestration-gateway/internal/gatewayserver"
	"github.com/kadirpekel/orchestration-gateway/internal/llmbackend"
	"github.com/kadirpekel/orchestration-gateway/internal/logger"
	"github.com/kadirpekel/orchestration-gateway/internal/ratelimit"
	"github.com/kadirpekel/orchestration-gateway/internal/research"
	"github.com/kadirpekel/orchestration-gateway/internal/router"
	"github.com/kadirpekel/orchestration-gateway/internal/toolloop"
	"github.com/kadirpekel/orchestration-gateway/internal/toolregistry"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the gateway HTTP server."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error), overrides config file."`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("gateway version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	ListenAddr string `name:"listen-addr" help:"Override the configured listen address."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()

	loader := config.NewLoader(cli.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := cfg.Log.Level
	if cli.LogLevel != "" {
		logLevel = cli.LogLevel
	}
	logger.Init(logger.ParseLevel(logLevel), os.Stderr, cfg.Log.JSON)

	if c.ListenAddr != "" {
		cfg.Server.ListenAddr = c.ListenAddr
	}

	// The running server's collaborators are already built from the
	// current cfg by the time a reload lands, so this only surfaces that
	// a change happened rather than hot-swapping any client in place
	// (unlike the teacher's executor rebuild-and-hot-swap).
	stopWatch, err := loader.Watch(func(newCfg *config.Config) {
		slog.Info("config file changed; restart the gateway to apply it")
	})
	if err != nil {
		slog.Warn("config watch not started", "error", err)
	} else {
		defer stopWatch()
	}

	deps, err := buildDependencies(cfg)
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}

	srv := gatewayserver.New(cfg, *deps)

	fmt.Printf("\ngateway ready\n")
	fmt.Printf("   listening:  http://%s\n", cfg.Server.ListenAddr)
	fmt.Printf("   backend:    %s\n", cfg.Backend.BaseURL)
	fmt.Printf("   health:     http://%s/health\n", cfg.Server.ListenAddr)
	fmt.Printf("   stats:      http://%s/v1/gateway/stats\n", cfg.Server.ListenAddr)

	return srv.Start(ctx)
}

// buildDependencies constructs every collaborator the gateway dispatches
// requests to, mirroring the teacher's pattern of building executors ahead
// of the HTTP server and handing the finished set to NewHTTPServer/New.
func buildDependencies(cfg *config.Config) (*gatewayserver.Dependencies, error) {
	llm := llmbackend.New(llmbackend.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.Backend.Timeout,
	})

	toolCli := toolclient.New(toolclient.Config{URL: cfg.Tool.Address})
	registry := toolregistry.New(toolCli, nil)

	retrievalCfg, err := retrievalConfigFromURL(cfg.Retrieval)
	if err != nil {
		return nil, fmt.Errorf("retrieval config: %w", err)
	}
	retrieval, err := retrievalclient.New(retrievalCfg)
	if err != nil {
		return nil, fmt.Errorf("retrieval client: %w", err)
	}

	search := searchclient.New(searchclient.Config{
		APIKey:  cfg.Search.APIKey,
		Timeout: cfg.Search.Timeout,
	})

	crawl := crawlclient.New(crawlclient.Config{Timeout: cfg.Crawl.Timeout})

	researchOrch := research.New(research.Config{
		SeedTopK:      cfg.Research.SeedTopK,
		KBTopK:        kbTopK(cfg.Research),
		URLCandidates: cfg.Research.URLsPerIteration,
		WebTopK:       cfg.Research.WebSearchTopK,
	}, research.Clients{
		LLM:       llm,
		Search:    search,
		Retrieval: retrieval,
		Crawl:     crawl,
	})

	cl := classifier.ClassifierOrNil(classifier.Config{
		URL:     cfg.Router.ClassifierURL,
		Timeout: cfg.Router.ClassifierTimeout,
	})
	modeRouter := router.New(cfg.Router.AutoDetectConfidenceThreshold, cl)

	// Admission heartbeat is the interval at which a queued caller's
	// statusFn is invoked — 5s matches the SSE status-event cadence
	// expected by the chat UI during research admission waits.
	admissionCtl := admission.New(cfg.Admission.MaxStandardResearch, cfg.Admission.MaxDeepResearch, 5*time.Second)

	autonomous := toolloop.New(toolloop.Config{
		Budget:   cfg.Budgets.ToolBudget,
		MaxTurns: cfg.Budgets.MaxTurns,
	}, toolloop.Clients{LLM: llm, Tool: toolCli, Registry: registry})

	autonomousPlus := toolloop.New(toolloop.Config{
		Budget:   cfg.Budgets.AutonomousToolBudget,
		MaxTurns: cfg.Budgets.MaxTurns,
	}, toolloop.Clients{LLM: llm, Tool: toolCli, Registry: registry})

	limiter, err := ratelimit.NewRateLimiter(&ratelimit.Config{
		Enabled: cfg.RateLimit.Enabled,
		Limits: []ratelimit.LimitRule{
			{Window: ratelimit.WindowMinute, Limit: cfg.RateLimit.PerMinuteLimit},
			{Window: ratelimit.WindowHour, Limit: cfg.RateLimit.PerHourLimit},
		},
	}, ratelimit.NewMemoryStore())
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	restBridgeTarget, err := url.Parse(cfg.Retrieval.URL)
	if err != nil {
		return nil, fmt.Errorf("retrieval URL: %w", err)
	}
	restBridgeProxy := gatewayserver.NewRESTBridgeProxy(restBridgeTarget)

	healthChecks := []gatewayserver.HealthCheck{
		{Name: "backend", Critical: true, Check: func(ctx context.Context) bool {
			_, err := llm.Models(ctx)
			return err == nil
		}},
		{Name: "tool_server", Critical: true, Check: func(ctx context.Context) bool {
			_, err := toolCli.ListTools(ctx)
			return err == nil
		}},
		{Name: "search", Critical: false, Check: func(ctx context.Context) bool {
			return true
		}},
		{Name: "crawl", Critical: false, Check: func(ctx context.Context) bool {
			return true
		}},
	}

	return &gatewayserver.Dependencies{
		LLM:             llm,
		ToolClient:      toolCli,
		Registry:        registry,
		ModeRouter:      modeRouter,
		Admission:       admissionCtl,
		Research:        researchOrch,
		Autonomous:      autonomous,
		AutonomousPlus:  autonomousPlus,
		RateLimiter:     limiter,
		RESTBridgeProxy: restBridgeProxy,
		HealthChecks:    healthChecks,
	}, nil
}

// retrievalConfigFromURL splits the gateway's single configured retrieval
// URL into the host/port pair retrievalclient.Config expects.
func retrievalConfigFromURL(cfg config.RetrievalConfig) (retrievalclient.Config, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return retrievalclient.Config{}, fmt.Errorf("parse retrieval URL %q: %w", cfg.URL, err)
	}
	port := 6334
	if p := u.Port(); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}
	return retrievalclient.Config{
		Host:       u.Hostname(),
		Port:       port,
		APIKey:     cfg.BearerToken,
		UseTLS:     u.Scheme == "https",
		Collection: cfg.Collection,
	}, nil
}

// kbTopK approximates the research orchestrator's single "3..6, default 5"
// knob from the configured range, since the config surface exposes a
// min/max pair (for operator tuning) rather than one fixed value.
func kbTopK(cfg config.ResearchConfig) int {
	if cfg.RetrievalTopKMin <= 0 || cfg.RetrievalTopKMax <= 0 {
		return 0
	}
	return (cfg.RetrievalTopKMin + cfg.RetrievalTopKMax + 1) / 2
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("gateway"),
		kong.Description("Request orchestration gateway"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
