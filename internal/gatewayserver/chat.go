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
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kadirpekel/orchestration-gateway/internal/admission"
	"github.com/kadirpekel/orchestration-gateway/internal/cancelwatch"
	"github.com/kadirpekel/orchestration-gateway/internal/chatapi"
	"github.com/kadirpekel/orchestration-gateway/internal/gwerrors"
	"github.com/kadirpekel/orchestration-gateway/internal/router"
	"github.com/kadirpekel/orchestration-gateway/internal/sseemit"
	"github.com/kadirpekel/orchestration-gateway/internal/tagparser"
	"github.com/kadirpekel/orchestration-gateway/internal/toolloop"
)

// handleChatCompletions is the gateway's one entry point for every mode:
// Tag Parser -> Mode Router -> mode-specific dispatch (spec section 4.1-4.6).
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := cancelwatch.Watch(r)
	defer cancel()

	var req chatapi.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, gwerrors.New(gwerrors.MalformedRequest, "invalid JSON body: "+err.Error()))
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeGatewayError(w, gwerrors.New(gwerrors.MalformedRequest, "model and messages are required"))
		return
	}

	tagResult, err := tagparser.Parse(req.Messages)
	if err != nil {
		writeGatewayError(w, asGatewayError(err))
		return
	}

	decision := s.deps.ModeRouter.Route(ctx, tagResult)
	req.Messages = decision.StrippedMessages

	switch decision.Mode {
	case router.ModePureLLM:
		s.dispatchPassthrough(ctx, w, req)
	case router.ModeStandardResearch:
		s.dispatchResearch(ctx, w, req, s.cfg.Research.StandardIterations, router.ModeStandardResearch)
	case router.ModeDeepResearch:
		s.dispatchResearch(ctx, w, req, s.cfg.Research.DeepIterations, router.ModeDeepResearch)
	case router.ModeAutonomous:
		s.dispatchToolLoop(ctx, w, req, s.deps.Autonomous)
	case router.ModeAutonomousPlus:
		s.dispatchAutonomousPlus(ctx, w, req)
	default:
		writeGatewayError(w, gwerrors.New(gwerrors.MalformedRequest, "unrecognized mode: "+string(decision.Mode)))
	}
}

// dispatchResearch acquires an admission ticket for mode (a no-op wait for
// unbounded modes — the Controller only tracks StandardResearch and
// DeepResearch) and runs the Research Orchestrator for n iterations.
func (s *Server) dispatchResearch(ctx context.Context, w http.ResponseWriter, req chatapi.ChatRequest, n int, mode router.Mode) {
	emitter, err := sseemit.New(w)
	if err != nil {
		writeGatewayError(w, gwerrors.Wrap(gwerrors.MalformedRequest, "streaming unsupported", err))
		return
	}

	statusFn := func(snap admission.Snapshot) {
		_ = emitter.EmitJSON(chatapi.NewStatusEvent(
			fmt.Sprintf("queue full; waiting for slot (%d/%d used)", snap.InUse, snap.Capacity), false, false))
	}

	ticket, ok := s.deps.Admission.Acquire(ctx, mode, statusFn)
	if !ok {
		// client disconnected while queued; nothing was ever acquired.
		return
	}
	defer ticket.Release()

	_ = emitter.EmitJSON(chatapi.NewStatusEvent("slot available; starting", false, false))

	if err := s.deps.Research.Run(ctx, emitter, req.Model, req.Messages, n); err != nil {
		s.emitStreamError(emitter, req.Model, err)
	}
}

// dispatchToolLoop runs one of the two budgeted Tool Loop instances.
func (s *Server) dispatchToolLoop(ctx context.Context, w http.ResponseWriter, req chatapi.ChatRequest, loop *toolloop.Loop) {
	emitter, err := sseemit.New(w)
	if err != nil {
		writeGatewayError(w, gwerrors.Wrap(gwerrors.MalformedRequest, "streaming unsupported", err))
		return
	}

	if err := loop.Run(ctx, emitter, req.Model, req.Messages); err != nil {
		s.emitStreamError(emitter, req.Model, err)
	}
}

// dispatchAutonomousPlus classifies the user's query as research or
// autonomous before entering either collaborator (spec section 4.6's
// "Autonomous-plus dispatch"). A research delegation counts against the
// Standard Research admission semaphore exactly like a direct
// StandardResearch request — it is not a separate, unbounded path.
func (s *Server) dispatchAutonomousPlus(ctx context.Context, w http.ResponseWriter, req chatapi.ChatRequest) {
	if toolloop.ClassifyResearchOrAutonomous(ctx, s.deps.LLM, req.Model, lastUserText(req.Messages)) {
		s.dispatchResearch(ctx, w, req, 2, router.ModeStandardResearch)
		return
	}
	s.dispatchToolLoop(ctx, w, req, s.deps.AutonomousPlus)
}

// emitStreamError converts a mid-stream error into a final ContentDelta
// carrying a brief apology and terminates the stream (spec section 7: once
// the first SSE event has been written, subsequent errors can no longer
// change the HTTP status, so they are folded into the chunk schema every
// other event on this stream already conforms to); a disconnect is silent
// ("ClientCancelled ... silent, no response written").
func (s *Server) emitStreamError(emitter *sseemit.Emitter, model string, err error) {
	if gwerrors.IsKind(err, gwerrors.ClientCancelled) {
		return
	}
	apology := fmt.Sprintf("I'm sorry, something went wrong while processing your request: %s", asGatewayError(err).Message)
	_ = emitter.EmitJSON(apologyChunk(model, apology))
	_ = emitter.EmitTerminator()
}

// apologyChunk wraps apology text in the same ChatCompletionChunk shape
// every other streamed event on this connection already uses, mirroring
// toolloop's contentChunk helper.
func apologyChunk(model, apology string) chatapi.ChatCompletionChunk {
	return chatapi.ChatCompletionChunk{
		Object: "chat.completion.chunk",
		Model:  model,
		Choices: []chatapi.ChunkChoice{
			{Index: 0, Delta: chatapi.ChunkDelta{Role: string(chatapi.RoleAssistant), Content: apology}},
		},
	}
}

func lastUserText(messages []chatapi.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chatapi.RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}
