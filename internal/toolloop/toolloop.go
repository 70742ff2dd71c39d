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

// Package toolloop implements the Autonomous Tool Loop (C7): drives
// tool-call/tool-result turns against the backend LM, budget-gated by
// points, terminating on a final answer, an exhausted budget, or a turn
// cap (spec section 4.6). Tool definitions come from internal/toolregistry
// rather than runtime introspection, per the redesign flag in spec
// section 9. No teacher file runs this exact protocol; it follows the
// teacher's turn-taking agent loop style from pkg/agent/runner-equivalent
// code, generalized to the gateway's tool-budget semantics.
package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/orchestration-gateway/internal/cancelwatch"
	"github.com/kadirpekel/orchestration-gateway/internal/chatapi"
	"github.com/kadirpekel/orchestration-gateway/internal/clients/toolclient"
	"github.com/kadirpekel/orchestration-gateway/internal/llmbackend"
	"github.com/kadirpekel/orchestration-gateway/internal/sseemit"
	"github.com/kadirpekel/orchestration-gateway/internal/toolregistry"
)

// Budget defaults per mode (spec section 4.6: "Budgets per mode").
const (
	DefaultGeneralBudget          = 3
	DefaultResearchEmbeddedBudget = 6
	DefaultAutonomousPlusBudget   = 4
)

// Config tunes one Loop run.
type Config struct {
	Budget       int
	MaxTurns     int
	ToolDeadline time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxTurns == 0 {
		c.MaxTurns = 8
	}
	if c.ToolDeadline == 0 {
		c.ToolDeadline = 60 * time.Second
	}
	return c
}

// Clients bundles the loop's collaborators.
type Clients struct {
	LLM      *llmbackend.Client
	Tool     *toolclient.Client
	Registry *toolregistry.Registry
}

// Loop drives one tool-calling request end to end.
type Loop struct {
	cfg     Config
	clients Clients
}

// New builds a Loop.
func New(cfg Config, clients Clients) *Loop {
	return &Loop{cfg: cfg.withDefaults(), clients: clients}
}

// Run executes the turn structure in spec section 4.6, streaming content
// and status events to emitter.
func (l *Loop) Run(ctx context.Context, emitter *sseemit.Emitter, model string, messages []chatapi.Message) error {
	budget := l.cfg.Budget
	msgs := append([]chatapi.Message{}, messages...)
	tools := toolDefinitions(l.clients.Registry.Snapshot())

	exhausted := false
	for turn := 0; turn < l.cfg.MaxTurns; turn++ {
		if cancelwatch.Cancelled(ctx) {
			return nil
		}

		resp, err := l.clients.LLM.Complete(ctx, chatapi.ChatRequest{Model: model, Messages: msgs, Tools: tools})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return emitter.EmitTerminator()
		}
		choice := resp.Choices[0].Message

		if len(choice.ToolCalls) == 0 {
			emitter.EmitJSON(contentChunk(model, choice.Text()))
			return emitter.EmitTerminator()
		}

		msgs = append(msgs, choice)

		for _, call := range choice.ToolCalls {
			if cancelwatch.Cancelled(ctx) {
				return nil
			}

			result, cost := l.invokeTool(ctx, emitter, call)
			budget -= cost

			msgs = append(msgs, chatapi.Message{
				Role:       chatapi.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    result,
			})
		}

		if budget <= 0 || turn == l.cfg.MaxTurns-1 {
			exhausted = true
			break
		}
	}

	if !exhausted {
		return emitter.EmitTerminator()
	}

	emitter.EmitJSON(chatapi.NewStatusEvent("budget exhausted; answering with what has been gathered", false, false))
	msgs = append(msgs, chatapi.Message{
		Role:    chatapi.RoleSystem,
		Content: "Answer now using only the information already gathered; no more tools are available.",
	})

	resp, err := l.clients.LLM.Complete(ctx, chatapi.ChatRequest{Model: model, Messages: msgs})
	if err != nil {
		return err
	}
	if len(resp.Choices) > 0 {
		emitter.EmitJSON(contentChunk(model, resp.Choices[0].Message.Text()))
	}
	return emitter.EmitTerminator()
}

// invokeTool validates the call against the registry, invokes it via the
// Tool Client, and emits visible status events for the call and its
// result. Returns the tool-role message content and the point cost to
// deduct from the budget (0 for an unknown tool — no invocation occurred).
func (l *Loop) invokeTool(ctx context.Context, emitter *sseemit.Emitter, call chatapi.ToolCall) (string, int) {
	descriptor, ok := l.clients.Registry.Get(call.Function.Name)
	if !ok {
		emitter.EmitJSON(chatapi.NewStatusEvent(fmt.Sprintf("unknown tool %q", call.Function.Name), false, false))
		return "unknown tool", 0
	}

	emitter.EmitJSON(chatapi.NewStatusEvent(fmt.Sprintf("calling %s", call.Function.Name), false, false))

	var args map[string]any
	_ = json.Unmarshal([]byte(call.Function.Arguments), &args)

	result, err := l.clients.Tool.Call(ctx, call.Function.Name, args, l.cfg.ToolDeadline)
	if err != nil {
		emitter.EmitJSON(chatapi.NewStatusEvent(fmt.Sprintf("%s failed: %s", call.Function.Name, err), false, false))
		return fmt.Sprintf("tool error: %s", err), descriptor.Cost
	}

	emitter.EmitJSON(chatapi.NewStatusEvent(fmt.Sprintf("%s completed", call.Function.Name), false, false))

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result), descriptor.Cost
	}
	return string(payload), descriptor.Cost
}

func toolDefinitions(descriptors []toolregistry.Descriptor) []chatapi.ToolDefinition {
	defs := make([]chatapi.ToolDefinition, 0, len(descriptors))
	for _, d := range descriptors {
		defs = append(defs, chatapi.ToolDefinition{
			Type: "function",
			Function: chatapi.FunctionSpec{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Schema,
			},
		})
	}
	return defs
}

func contentChunk(model, content string) chatapi.ChatCompletionChunk {
	return chatapi.ChatCompletionChunk{
		Object: "chat.completion.chunk",
		Model:  model,
		Choices: []chatapi.ChunkChoice{
			{Index: 0, Delta: chatapi.ChunkDelta{Role: string(chatapi.RoleAssistant), Content: content}},
		},
	}
}

// ClassifyResearchOrAutonomous answers the single question "research or
// autonomous?" for the autonomous-plus dispatch (spec section 4.6). On
// classifier failure it defaults to autonomous, per SPEC_FULL section 13's
// resolution of the open question.
func ClassifyResearchOrAutonomous(ctx context.Context, llm *llmbackend.Client, model, userQuery string) (research bool) {
	resp, err := llm.Complete(ctx, chatapi.ChatRequest{
		Model: model,
		Messages: []chatapi.Message{{
			Role:    chatapi.RoleUser,
			Content: fmt.Sprintf("Answer with exactly one word, \"research\" or \"autonomous\": does this request call for background research or for taking autonomous action?\n\n%s", userQuery),
		}},
	})
	if err != nil || len(resp.Choices) == 0 {
		return false
	}
	return strings.Contains(strings.ToLower(resp.Choices[0].Message.Text()), "research")
}
