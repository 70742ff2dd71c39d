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

// Package searchclient is the Search Client (C9): a single HTTP call per
// query against an external web-search API, with bounded exponential
// backoff on 429 and silent empty-result degradation on persistent
// failure (spec section 5's collaborator contract — the orchestrator never
// sees a search failure, it just gets nothing to append).
package searchclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kadirpekel/orchestration-gateway/internal/httpclient"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client calls the external web search API.
type Client struct {
	cfg        Config
	httpClient *httpclient.Client
}

// New builds a Client. Retries are capped at 2 (3 attempts in all) with
// exponential backoff on 429, per spec section 5; SmartRetry already backs
// off on 429 using rate-limit headers when present.
func New(cfg Config) *Client {
	if cfg.MaxRetries <= 0 || cfg.MaxRetries > 2 {
		cfg.MaxRetries = 2
	}
	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithRetryStrategy(func(status int) httpclient.RetryStrategy {
			if status == http.StatusTooManyRequests {
				return httpclient.SmartRetry
			}
			if status >= 500 {
				return httpclient.ConservativeRetry
			}
			return httpclient.NoRetry
		}),
	)
	return &Client{cfg: cfg, httpClient: hc}
}

// Search performs a single web search query. On any failure it logs nothing
// to the caller beyond an empty slice — per spec, search failures degrade
// silently rather than propagating to the Research Orchestrator.
func (c *Client) Search(ctx context.Context, query string, topK int) []Result {
	u := fmt.Sprintf("%s/search?q=%s&limit=%d", strings.TrimSuffix(c.cfg.BaseURL, "/"), url.QueryEscape(query), topK)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var body struct {
		Results []Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil
	}
	return body.Results
}
