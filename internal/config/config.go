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

// Package config defines the gateway's configuration surface and loads it
// with koanf, following the teacher's pkg/config/koanf_loader.go pattern: a
// YAML file provider merged with an environment-variable provider, so every
// key below is overridable by environment variable.
package config

import "time"

// Config is the gateway's full configuration surface. Every field has a
// default (see Default()) and is overridable by environment variable (see
// Load). Keys map 1:1 onto spec section 6.4.
type Config struct {
	// Server is the gateway's own HTTP listen configuration.
	Server ServerConfig `koanf:"server"`

	// Backend is the downstream LM API the gateway forwards to.
	Backend BackendConfig `koanf:"backend"`

	// Tool is the downstream MCP tool server.
	Tool ToolConfig `koanf:"tool"`

	// Retrieval is the vector/graph knowledge-base REST bridge.
	Retrieval RetrievalConfig `koanf:"retrieval"`

	// Search is the third-party web-search API.
	Search SearchConfig `koanf:"search"`

	// Crawl is the web-crawler service.
	Crawl CrawlConfig `koanf:"crawl"`

	// Admission holds per-mode concurrency caps.
	Admission AdmissionConfig `koanf:"admission"`

	// Budgets holds per-mode tool-loop point budgets.
	Budgets BudgetConfig `koanf:"budgets"`

	// Research holds research-orchestrator iteration parameters.
	Research ResearchConfig `koanf:"research"`

	// Router holds mode-router heuristic-classifier parameters.
	Router RouterConfig `koanf:"router"`

	// RateLimit holds the per-user edge rate-limiting configuration.
	RateLimit RateLimitConfig `koanf:"rate_limit"`

	// Log holds logging configuration.
	Log LogConfig `koanf:"log"`
}

// ServerConfig configures the gateway's own HTTP surface.
type ServerConfig struct {
	ListenAddr      string        `koanf:"listen_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// BackendConfig configures the LM backend client.
type BackendConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
	APIKey  string        `koanf:"api_key"`

	// ModelsPollBootstrap/ModelsPollSteady govern GET /v1/models caching:
	// poll every ModelsPollBootstrap until the first success, then every
	// ModelsPollSteady (spec section 6.1).
	ModelsPollBootstrap time.Duration `koanf:"models_poll_bootstrap"`
	ModelsPollSteady    time.Duration `koanf:"models_poll_steady"`
}

// ToolConfig configures the Tool Client's connection to the MCP server.
type ToolConfig struct {
	Address           string        `koanf:"address"`
	Transport         string        `koanf:"transport"` // not read: the Tool Client always uses streamable HTTP
	Timeout           time.Duration `koanf:"timeout"`
	DiscoveryInterval time.Duration `koanf:"discovery_interval"`
	DefaultDeadline   time.Duration `koanf:"default_deadline"`
}

// RetrievalConfig configures the vector/graph knowledge-base client. URL
// must name Qdrant's gRPC port (6334 by convention), not its REST port
// (6333) — the underlying client speaks gRPC.
type RetrievalConfig struct {
	URL         string        `koanf:"url"`
	BearerToken string        `koanf:"bearer_token"`
	Collection  string        `koanf:"collection"`
	Timeout     time.Duration `koanf:"timeout"`
}

// SearchConfig configures the web-search client.
type SearchConfig struct {
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

// CrawlConfig configures the crawler client. Crawl targets are always
// per-call candidate URLs produced by the Research Orchestrator, never a
// single configured base — there is no base_url to hold here.
type CrawlConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// AdmissionConfig configures per-mode admission-semaphore capacities.
type AdmissionConfig struct {
	MaxStandardResearch int `koanf:"max_standard_research"`
	MaxDeepResearch     int `koanf:"max_deep_research"`
}

// BudgetConfig configures per-mode tool-loop point budgets.
type BudgetConfig struct {
	ToolBudget           int `koanf:"tool_budget"`
	ResearchToolBudget   int `koanf:"research_tool_budget"`
	AutonomousToolBudget int `koanf:"autonomous_tool_budget"`
	MaxTurns             int `koanf:"max_turns"`
}

// ResearchConfig configures the research orchestrator's iteration counts.
type ResearchConfig struct {
	StandardIterations      int     `koanf:"standard_iterations"`
	DeepIterations           int     `koanf:"deep_iterations"`
	RetryDegradeStep         int     `koanf:"retry_degrade_step"`
	DuplicateQueryThreshold  float64 `koanf:"duplicate_query_threshold"`
	SeedTopK                 int     `koanf:"seed_top_k"`
	RetrievalTopKMin         int     `koanf:"retrieval_top_k_min"`
	RetrievalTopKMax         int     `koanf:"retrieval_top_k_max"`
	WebSearchTopK            int     `koanf:"web_search_top_k"`
	URLsPerIteration         int     `koanf:"urls_per_iteration"`
}

// RouterConfig configures the mode router's heuristic classifier.
type RouterConfig struct {
	AutoDetectConfidenceThreshold float64 `koanf:"auto_detect_confidence_threshold"`
	ClassifierURL                 string  `koanf:"classifier_url"`
	ClassifierTimeout              time.Duration `koanf:"classifier_timeout"`
}

// RateLimitConfig configures the per-user edge rate limiter that runs ahead
// of the Admission Controller (SPEC_FULL.md section 11).
type RateLimitConfig struct {
	Enabled         bool `koanf:"enabled"`
	PerMinuteLimit  int64 `koanf:"per_minute_limit"`
	PerHourLimit    int64 `koanf:"per_hour_limit"`
}

// LogConfig configures the gateway's structured logging.
type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// Default returns the configuration with every spec-mandated default value
// (spec section 6.4) populated.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL:             "http://localhost:11434",
			Timeout:             300 * time.Second,
			ModelsPollBootstrap: 2 * time.Second,
			ModelsPollSteady:    10 * time.Second,
		},
		Tool: ToolConfig{
			Address:           "http://localhost:8765",
			Transport:         "http",
			Timeout:           60 * time.Second,
			DiscoveryInterval: 30 * time.Second,
			DefaultDeadline:   60 * time.Second,
		},
		Retrieval: RetrievalConfig{
			URL:        "http://localhost:6334",
			Collection: "knowledge_base",
			Timeout:    30 * time.Second,
		},
		Search: SearchConfig{
			Timeout: 30 * time.Second,
		},
		Crawl: CrawlConfig{
			Timeout: 60 * time.Second,
		},

		Admission: AdmissionConfig{
			MaxStandardResearch: 3,
			MaxDeepResearch:     1,
		},
		Budgets: BudgetConfig{
			ToolBudget:           3,
			ResearchToolBudget:   6,
			AutonomousToolBudget: 4,
			MaxTurns:             8,
		},
		Research: ResearchConfig{
			StandardIterations:     2,
			DeepIterations:         4,
			RetryDegradeStep:       2,
			DuplicateQueryThreshold: 0.7,
			SeedTopK:               10,
			RetrievalTopKMin:       3,
			RetrievalTopKMax:       6,
			WebSearchTopK:          5,
			URLsPerIteration:       3,
		},
		Router: RouterConfig{
			AutoDetectConfidenceThreshold: 0.91,
			ClassifierTimeout:             10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			PerMinuteLimit: 30,
			PerHourLimit:   600,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
