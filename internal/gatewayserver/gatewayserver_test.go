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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestration-gateway/internal/admission"
	"github.com/kadirpekel/orchestration-gateway/internal/chatapi"
	"github.com/kadirpekel/orchestration-gateway/internal/clients/crawlclient"
	"github.com/kadirpekel/orchestration-gateway/internal/clients/retrievalclient"
	"github.com/kadirpekel/orchestration-gateway/internal/clients/searchclient"
	"github.com/kadirpekel/orchestration-gateway/internal/clients/toolclient"
	"github.com/kadirpekel/orchestration-gateway/internal/config"
	"github.com/kadirpekel/orchestration-gateway/internal/gwerrors"
	"github.com/kadirpekel/orchestration-gateway/internal/llmbackend"
	"github.com/kadirpekel/orchestration-gateway/internal/ratelimit"
	"github.com/kadirpekel/orchestration-gateway/internal/research"
	"github.com/kadirpekel/orchestration-gateway/internal/router"
	"github.com/kadirpekel/orchestration-gateway/internal/sseemit"
	"github.com/kadirpekel/orchestration-gateway/internal/toolloop"
	"github.com/kadirpekel/orchestration-gateway/internal/toolregistry"
)

// fakeBackend answers every /v1/chat/completions call with a fixed
// assistant reply, regardless of prompt content — enough to drive the
// Research Orchestrator and Tool Loop through a full run without a live
// backend.
func fakeBackend(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(chatapi.ChatCompletion{
				ID:      "chatcmpl-test",
				Object:  "chat.completion",
				Model:   "test-model",
				Choices: []chatapi.Choice{{Message: chatapi.Message{Role: chatapi.RoleAssistant, Content: reply}}},
			})
		case "/v1/models":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":[{"id":"test-model"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestServer(t *testing.T, backendURL string) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.BaseURL = backendURL

	llm := llmbackend.New(llmbackend.Config{BaseURL: backendURL, Timeout: 5 * time.Second})
	retrieval, err := retrievalclient.New(retrievalclient.Config{})
	require.NoError(t, err)

	deps := Dependencies{
		LLM:        llm,
		ModeRouter: router.New(cfg.Router.AutoDetectConfidenceThreshold, nil),
		Admission:  admission.New(cfg.Admission.MaxStandardResearch, cfg.Admission.MaxDeepResearch, 0),
		Research: research.New(research.Config{}, research.Clients{
			LLM:       llm,
			Search:    searchclient.New(searchclient.Config{BaseURL: backendURL}),
			Retrieval: retrieval,
			Crawl:     crawlclient.New(crawlclient.Config{}),
		}),
		Autonomous: toolloop.New(toolloop.Config{Budget: cfg.Budgets.ToolBudget, MaxTurns: cfg.Budgets.MaxTurns}, toolloop.Clients{
			LLM:      llm,
			Tool:     toolclient.New(toolclient.Config{}),
			Registry: toolregistry.New(nil, nil),
		}),
		AutonomousPlus: toolloop.New(toolloop.Config{Budget: cfg.Budgets.AutonomousToolBudget, MaxTurns: cfg.Budgets.MaxTurns}, toolloop.Clients{
			LLM:      llm,
			Tool:     toolclient.New(toolclient.Config{}),
			Registry: toolregistry.New(nil, nil),
		}),
	}

	return New(cfg, deps)
}

func chatRequestBody(t *testing.T, req chatapi.ChatRequest) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestHandleChatCompletionsPureLLMNonStreaming(t *testing.T) {
	backend := fakeBackend(t, "hello from backend")
	defer backend.Close()
	srv := newTestServer(t, backend.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatRequestBody(t, chatapi.ChatRequest{
		Model:    "test-model",
		Messages: []chatapi.Message{{Role: chatapi.RoleUser, Content: "hi"}},
	}))
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got chatapi.ChatCompletion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "hello from backend", got.Choices[0].Message.Content)
}

func TestHandleChatCompletionsPureLLMMalformedRequest(t *testing.T) {
	backend := fakeBackend(t, "unused")
	defer backend.Close()
	srv := newTestServer(t, backend.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatCompletionsResearchTagStreamsStatusAndDone(t *testing.T) {
	backend := fakeBackend(t, "synthesized research answer")
	defer backend.Close()
	srv := newTestServer(t, backend.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatRequestBody(t, chatapi.ChatRequest{
		Model:    "test-model",
		Stream:   true,
		Messages: []chatapi.Message{{Role: chatapi.RoleUser, Content: "[[research_request]] tell me about gophers"}},
	}))
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"status"`)
	assert.Contains(t, body, `"done":true`)
	assert.Contains(t, body, "data: [DONE]")
}

func TestHandleChatCompletionsAutonomousTagStreamsContentAndTerminates(t *testing.T) {
	backend := fakeBackend(t, "autonomous final answer")
	defer backend.Close()
	srv := newTestServer(t, backend.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", chatRequestBody(t, chatapi.ChatRequest{
		Model:    "test-model",
		Stream:   true,
		Messages: []chatapi.Message{{Role: chatapi.RoleUser, Content: "[[autonomous]] do the thing"}},
	}))
	rec := httptest.NewRecorder()

	srv.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "autonomous final answer")
	assert.Contains(t, body, "data: [DONE]")
}

func TestHandleHealthCriticalFailureIsUnhealthy(t *testing.T) {
	backend := fakeBackend(t, "unused")
	defer backend.Close()
	srv := newTestServer(t, backend.URL)
	srv.deps.HealthChecks = []HealthCheck{
		{Name: "llm_backend", Critical: true, Check: func(ctx context.Context) bool { return false }},
		{Name: "search", Critical: false, Check: func(ctx context.Context) bool { return true }},
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "unhealthy", got["status"])
}

func TestHandleHealthNonCriticalFailureIsDegraded(t *testing.T) {
	backend := fakeBackend(t, "unused")
	defer backend.Close()
	srv := newTestServer(t, backend.URL)
	srv.deps.HealthChecks = []HealthCheck{
		{Name: "llm_backend", Critical: true, Check: func(ctx context.Context) bool { return true }},
		{Name: "crawl", Critical: false, Check: func(ctx context.Context) bool { return false }},
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "degraded", got["status"])
}

func TestHandleModelsServesCacheOnlyAfterFirstPoll(t *testing.T) {
	backend := fakeBackend(t, "unused")
	defer backend.Close()
	srv := newTestServer(t, backend.URL)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.runModelsPoller(ctx)
	defer cancel()

	require.Eventually(t, func() bool {
		srv.modelsMu.RLock()
		defer srv.modelsMu.RUnlock()
		return srv.modelsPolled
	}, time.Second, 10*time.Millisecond)

	rec2 := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Contains(t, rec2.Body.String(), "test-model")
}

func TestHandleStatsReportsAdmissionOccupancy(t *testing.T) {
	backend := fakeBackend(t, "unused")
	defer backend.Close()
	srv := newTestServer(t, backend.URL)

	ticket, ok := srv.deps.Admission.Acquire(context.Background(), router.ModeStandardResearch, nil)
	require.True(t, ok)
	defer ticket.Release()

	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/gateway/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]admission.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got[string(router.ModeStandardResearch)].InUse)
}

func TestRateLimitMiddlewareRejectsOverLimit(t *testing.T) {
	backend := fakeBackend(t, "hello")
	defer backend.Close()
	srv := newTestServer(t, backend.URL)

	limiter, err := ratelimit.NewRateLimiter(&ratelimit.Config{
		Enabled: true,
		Limits:  []ratelimit.LimitRule{{Window: ratelimit.WindowMinute, Limit: 1}},
	}, ratelimit.NewMemoryStore())
	require.NoError(t, err)
	srv.deps.RateLimiter = limiter

	var handler http.Handler = srv.mux
	handler = srv.rateLimitMiddleware(handler)

	body := func() *bytes.Buffer {
		return chatRequestBody(t, chatapi.ChatRequest{
			Model:    "test-model",
			Messages: []chatapi.Message{{Role: chatapi.RoleUser, Content: "hi"}},
		})
	}

	req1 := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body())
	req1.Header.Set("X-User-Id", "user-1")
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	assert.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body())
	req2.Header.Set("X-User-Id", "user-1")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestNewRESTBridgeProxyProxiesToTarget(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("from upstream"))
	}))
	defer upstream.Close()

	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	proxy := NewRESTBridgeProxy(target)
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	assert.Equal(t, "from upstream", rec.Body.String())
}

func TestEmitStreamErrorWritesApologyAsChatCompletionChunk(t *testing.T) {
	backend := fakeBackend(t, "unused")
	defer backend.Close()
	srv := newTestServer(t, backend.URL)

	rec := httptest.NewRecorder()
	emitter, err := sseemit.New(rec)
	require.NoError(t, err)

	srv.emitStreamError(emitter, "test-model", gwerrors.New(gwerrors.BackendUnavailable, "connection refused"))

	body := rec.Body.String()
	require.True(t, strings.HasPrefix(body, "data: "))
	assert.Contains(t, body, "data: [DONE]")

	line := strings.SplitN(strings.TrimPrefix(body, "data: "), "\n", 2)[0]

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &got))
	_, isErrorEnvelope := got["error"]
	assert.False(t, isErrorEnvelope, "mid-stream error must not be a bare OpenAI error object")

	var chunk chatapi.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(line), &chunk))
	assert.Equal(t, "chat.completion.chunk", chunk.Object)
	assert.Equal(t, "test-model", chunk.Model)
	require.Len(t, chunk.Choices, 1)
	assert.Contains(t, chunk.Choices[0].Delta.Content, "connection refused")
}

func TestEmitStreamErrorSilentOnClientCancelled(t *testing.T) {
	backend := fakeBackend(t, "unused")
	defer backend.Close()
	srv := newTestServer(t, backend.URL)

	rec := httptest.NewRecorder()
	emitter, err := sseemit.New(rec)
	require.NoError(t, err)

	srv.emitStreamError(emitter, "test-model", gwerrors.New(gwerrors.ClientCancelled, "client disconnected"))

	assert.Empty(t, rec.Body.String())
}
