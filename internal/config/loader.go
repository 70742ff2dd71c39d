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

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is the prefix every overriding environment variable must carry,
// e.g. GATEWAY_ADMISSION_MAX_DEEP_RESEARCH overrides admission.max_deep_research.
const envPrefix = "GATEWAY_"

// Loader loads and, optionally, hot-reloads the gateway's Config from a YAML
// file merged with environment-variable overrides, following the teacher's
// pkg/config/koanf_loader.go shape (a long-lived *koanf.Koanf plus a watch
// goroutine), adapted from the teacher's pluggable-backend loader (file /
// consul / etcd / zookeeper) down to the one backend this gateway needs:
// a local config file.
type Loader struct {
	path string
	k    *koanf.Koanf

	mu  sync.RWMutex
	cur *Config
}

// NewLoader creates a Loader for the YAML config file at path. An empty
// path is valid: Load then returns Default() merged only with environment
// overrides.
func NewLoader(path string) *Loader {
	return &Loader{path: path, k: koanf.New(".")}
}

// Load reads the config file (if path is non-empty and exists), merges
// GATEWAY_-prefixed environment variables over it, and returns the
// resulting Config. A local .env file, if present, is loaded first via
// godotenv so development overrides don't require exporting shell vars.
func (l *Loader) Load() (*Config, error) {
	_ = godotenv.Load()

	defaults, err := defaultsMap()
	if err != nil {
		return nil, err
	}
	if err := l.k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if l.path != "" {
		if _, statErr := os.Stat(l.path); statErr == nil {
			if err := l.k.Load(file.Provider(l.path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", l.path, err)
			}
		}
	}

	// Known keys are matched whole, so underscores inside a key name
	// (max_deep_research) are not mistaken for section separators.
	knownKeys := make(map[string]string, len(defaults))
	for k := range defaults {
		knownKeys[strings.ReplaceAll(k, ".", "_")] = k
	}
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		trimmed := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		if key, ok := knownKeys[trimmed]; ok {
			return key
		}
		return strings.ReplaceAll(trimmed, "_", ".")
	})
	if err := l.k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load config env overrides: %w", err)
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}
	if err := l.k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	l.mu.Lock()
	l.cur = &cfg
	l.mu.Unlock()

	return &cfg, nil
}

// Current returns the most recently loaded Config, or nil if Load has not
// run yet.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// Watch starts an fsnotify watcher on the config file and calls onChange
// with the freshly reloaded Config whenever the file is written. Watch only
// re-reads the file and notifies; applying the new values (admission
// capacities included) to running collaborators is up to onChange. Watch
// is a no-op if the loader has no path. The returned stop function closes
// the watcher; it must be called to avoid leaking the fsnotify goroutine.
func (l *Loader) Watch(onChange func(*Config)) (stop func(), err error) {
	if l.path == "" {
		return func() {}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(l.path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config file %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := l.Load()
				if err != nil {
					slog.Warn("config reload failed, keeping previous config", "error", err)
					continue
				}
				slog.Info("config reloaded", "path", l.path)
				if onChange != nil {
					onChange(cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			case <-done:
				return
			}
		}
	}()

	stop = func() {
		close(done)
		watcher.Close()
	}
	return stop, nil
}

// defaultsMap flattens Default() into a map koanf can merge first, so file
// and environment providers only need to specify the keys they override.
func defaultsMap() (map[string]interface{}, error) {
	d := Default()
	return map[string]interface{}{
		"server.listen_addr":                       d.Server.ListenAddr,
		"server.shutdown_timeout":                   d.Server.ShutdownTimeout,
		"backend.base_url":                          d.Backend.BaseURL,
		"backend.timeout":                           d.Backend.Timeout,
		"backend.api_key":                           d.Backend.APIKey,
		"backend.models_poll_bootstrap":             d.Backend.ModelsPollBootstrap,
		"backend.models_poll_steady":                d.Backend.ModelsPollSteady,
		"tool.address":                              d.Tool.Address,
		"tool.transport":                            d.Tool.Transport,
		"tool.timeout":                              d.Tool.Timeout,
		"tool.discovery_interval":                   d.Tool.DiscoveryInterval,
		"tool.default_deadline":                     d.Tool.DefaultDeadline,
		"retrieval.url":                             d.Retrieval.URL,
		"retrieval.bearer_token":                    d.Retrieval.BearerToken,
		"retrieval.collection":                      d.Retrieval.Collection,
		"retrieval.timeout":                         d.Retrieval.Timeout,
		"search.api_key":                            d.Search.APIKey,
		"search.timeout":                            d.Search.Timeout,
		"crawl.timeout":                             d.Crawl.Timeout,
		"admission.max_standard_research":           d.Admission.MaxStandardResearch,
		"admission.max_deep_research":               d.Admission.MaxDeepResearch,
		"budgets.tool_budget":                       d.Budgets.ToolBudget,
		"budgets.research_tool_budget":              d.Budgets.ResearchToolBudget,
		"budgets.autonomous_tool_budget":             d.Budgets.AutonomousToolBudget,
		"budgets.max_turns":                         d.Budgets.MaxTurns,
		"research.standard_iterations":              d.Research.StandardIterations,
		"research.deep_iterations":                  d.Research.DeepIterations,
		"research.retry_degrade_step":                d.Research.RetryDegradeStep,
		"research.duplicate_query_threshold":        d.Research.DuplicateQueryThreshold,
		"research.seed_top_k":                       d.Research.SeedTopK,
		"research.retrieval_top_k_min":              d.Research.RetrievalTopKMin,
		"research.retrieval_top_k_max":              d.Research.RetrievalTopKMax,
		"research.web_search_top_k":                 d.Research.WebSearchTopK,
		"research.urls_per_iteration":                d.Research.URLsPerIteration,
		"router.auto_detect_confidence_threshold":   d.Router.AutoDetectConfidenceThreshold,
		"router.classifier_url":                     d.Router.ClassifierURL,
		"router.classifier_timeout":                 d.Router.ClassifierTimeout,
		"rate_limit.enabled":                        d.RateLimit.Enabled,
		"rate_limit.per_minute_limit":                d.RateLimit.PerMinuteLimit,
		"rate_limit.per_hour_limit":                  d.RateLimit.PerHourLimit,
		"log.level":                                 d.Log.Level,
		"log.json":                                  d.Log.JSON,
	}, nil
}
