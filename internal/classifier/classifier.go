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

// Package classifier implements the Mode Router's optional heuristic
// intent classifier (spec section 4.2 step 4): one HTTP call carrying the
// last user message, answered with a mode verdict and a confidence score.
// Absence of a configured URL and any network failure both degrade to the
// router's own PureLLM default (spec section 4.2) rather than raising — this package's Classify simply returns the
// error and lets the router's classifyOrDefault treat it as "reject".
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kadirpekel/orchestration-gateway/internal/httpclient"
	"github.com/kadirpekel/orchestration-gateway/internal/router"
)

// Config configures a Client.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client calls an external heuristic classifier over HTTP.
type Client struct {
	url        string
	httpClient *httpclient.Client
}

// New builds a Client. A nil Client is never returned; an empty cfg.URL is
// valid and simply makes every Classify call fail, which the router
// already treats as "default to pure_llm" — see ClassifierOrNil below for
// the path that avoids making that call at all.
func New(cfg Config) *Client {
	return &Client{
		url: cfg.URL,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(0),
		),
	}
}

// ClassifierOrNil returns nil when cfg.URL is empty, so the router's
// "Classifier == nil" fast path (spec section 4.2: no classifier
// configured at all) is taken instead of an HTTP call that can only fail.
func ClassifierOrNil(cfg Config) router.Classifier {
	if cfg.URL == "" {
		return nil
	}
	return New(cfg)
}

type classifyRequest struct {
	Message string `json:"message"`
}

type classifyResponse struct {
	Mode       string  `json:"mode"`
	Confidence float64 `json:"confidence"`
}

// Classify posts lastUserMessage to the configured endpoint and decodes its
// verdict. Any failure (network, non-2xx, malformed body, or an
// unrecognized mode string) is returned as an error — the router's
// classifyOrDefault treats a non-nil error exactly like a confidence below
// threshold, so a network error ends in the same PureLLM default as an
// absent classifier.
func (c *Client) Classify(ctx context.Context, lastUserMessage string) (router.ClassifierVerdict, error) {
	body, err := json.Marshal(classifyRequest{Message: lastUserMessage})
	if err != nil {
		return router.ClassifierVerdict{}, fmt.Errorf("classifier: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return router.ClassifierVerdict{}, fmt.Errorf("classifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return router.ClassifierVerdict{}, fmt.Errorf("classifier: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return router.ClassifierVerdict{}, fmt.Errorf("classifier: unexpected status %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return router.ClassifierVerdict{}, fmt.Errorf("classifier: decode response: %w", err)
	}

	mode, err := parseMode(out.Mode)
	if err != nil {
		return router.ClassifierVerdict{}, err
	}

	return router.ClassifierVerdict{Mode: mode, Confidence: out.Confidence}, nil
}

func parseMode(s string) (router.Mode, error) {
	switch router.Mode(s) {
	case router.ModeStandardResearch, router.ModeDeepResearch, router.ModePureLLM:
		return router.Mode(s), nil
	default:
		return "", fmt.Errorf("classifier: unrecognized mode %q", s)
	}
}
