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

// Package llmbackend is the client for the backend LM API the gateway sits
// in front of. Unlike the teacher's pkg/llms providers, which speak
// OpenAI's Responses API, the gateway's backend contract is the classic
// POST /v1/chat/completions surface (spec section 6.3) — the gateway must
// itself look indistinguishable from an OpenAI-compatible backend to the
// chat UI in front of it, so it forwards in the same shape it receives.
package llmbackend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/orchestration-gateway/internal/chatapi"
	"github.com/kadirpekel/orchestration-gateway/internal/gwerrors"
	"github.com/kadirpekel/orchestration-gateway/internal/httpclient"
)

// Config configures a Client.
type Config struct {
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
	InsecureSkipVerify bool
	CACertificate      string
}

// Client forwards chat-completion requests to the backend LM API.
type Client struct {
	cfg        Config
	httpClient *httpclient.Client
}

// New builds a Client from cfg, wiring TLS and retry behavior the same way
// the teacher's createHTTPClient helper does for its LLM providers.
func New(cfg Config) *Client {
	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(cfg.RetryDelay),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
	}
	if cfg.InsecureSkipVerify || cfg.CACertificate != "" {
		opts = append(opts, httpclient.WithTLSConfig(&httpclient.TLSConfig{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			CACertificate:      cfg.CACertificate,
		}))
	}
	return &Client{cfg: cfg, httpClient: httpclient.New(opts...)}
}

func (c *Client) endpoint(path string) string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return req, nil
}

// Complete performs a non-streaming chat completion and returns the decoded
// response. Used by the Research Orchestrator and Tool Loop for their
// internal turns, which never need to stream to the end caller.
func (c *Client) Complete(ctx context.Context, req chatapi.ChatRequest) (*chatapi.ChatCompletion, error) {
	req.Stream = false
	body, err := json.Marshal(req)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.MalformedRequest, "marshal chat request", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/chat/completions", body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.BackendUnavailable, "build backend request", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil && resp == nil {
		return nil, gwerrors.Wrap(gwerrors.BackendUnavailable, "backend request failed", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var out chatapi.ChatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, gwerrors.Wrap(gwerrors.BackendUnavailable, "decode backend response", err)
	}
	return &out, nil
}

// StreamEvent is one item yielded from CompleteStream: either a decoded
// chunk or a terminal error.
type StreamEvent struct {
	Chunk *chatapi.ChatCompletionChunk
	Err   error
}

// CompleteStream performs a streaming chat completion, forwarding the
// backend's own SSE chunk stream. The returned channel is closed when the
// backend sends its terminator or ctx is cancelled.
func (c *Client) CompleteStream(ctx context.Context, req chatapi.ChatRequest) (<-chan StreamEvent, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.MalformedRequest, "marshal chat request", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/chat/completions", body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.BackendUnavailable, "build backend request", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil && resp == nil {
		return nil, gwerrors.Wrap(gwerrors.BackendUnavailable, "backend request failed", err)
	}

	if err := c.checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					out <- StreamEvent{Err: gwerrors.Wrap(gwerrors.BackendUnavailable, "read backend stream", err)}
				}
				return
			}

			line = bytes.TrimSpace(line)
			if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			payload := bytes.TrimSpace(line[len("data: "):])
			if string(payload) == "[DONE]" {
				return
			}

			var chunk chatapi.ChatCompletionChunk
			if err := json.Unmarshal(payload, &chunk); err != nil {
				continue
			}
			out <- StreamEvent{Chunk: &chunk}
		}
	}()

	return out, nil
}

// embeddingRequest is the OpenAI-compatible /v1/embeddings request body.
type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embeddingResponse is the OpenAI-compatible /v1/embeddings response body.
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed turns query text into a vector via the backend's own embeddings
// endpoint. The gateway performs no local model inference (the embedding
// model runs on the backend, the same place chat completions run); this is
// the Research Orchestrator's only way to get a query vector for the
// Retrieval Client without violating that constraint.
func (c *Client) Embed(ctx context.Context, model, input string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: model, Input: input})
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.MalformedRequest, "marshal embedding request", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/embeddings", body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.BackendUnavailable, "build embeddings request", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil && resp == nil {
		return nil, gwerrors.Wrap(gwerrors.BackendUnavailable, "embeddings request failed", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, gwerrors.Wrap(gwerrors.BackendUnavailable, "decode embeddings response", err)
	}
	if len(out.Data) == 0 {
		return nil, gwerrors.New(gwerrors.BackendUnavailable, "embeddings response carried no data")
	}
	return out.Data[0].Embedding, nil
}

// Models fetches the backend's model list for GET /v1/models passthrough.
func (c *Client) Models(ctx context.Context) (json.RawMessage, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.BackendUnavailable, "build models request", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil && resp == nil {
		return nil, gwerrors.Wrap(gwerrors.BackendUnavailable, "models request failed", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.BackendUnavailable, "read models response", err)
	}
	return body, nil
}

func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := backendErrorMessage(body, resp.StatusCode)
	if resp.StatusCode == http.StatusBadRequest {
		if bytes.Contains(body, []byte("context_length_exceeded")) || bytes.Contains(body, []byte("maximum context length")) {
			return gwerrors.New(gwerrors.ContextLengthExceeded, msg).WithStatus(resp.StatusCode)
		}
		return gwerrors.New(gwerrors.BackendBadRequest, msg).WithStatus(resp.StatusCode)
	}
	return gwerrors.New(gwerrors.BackendUnavailable, msg).WithStatus(resp.StatusCode)
}

// backendErrorMessage surfaces the backend's own error message verbatim
// when its body is OpenAI-shaped JSON, rather than always synthesizing a
// wrapper string — the backend's own wording (and the status preserved by
// the caller via WithStatus) is the payload spec section 7 asks to forward.
// Falls back to a summary when the body isn't in that shape.
func backendErrorMessage(body []byte, status int) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return fmt.Sprintf("backend returned HTTP %d: %s", status, string(body))
}
