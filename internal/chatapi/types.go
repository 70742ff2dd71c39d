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

// Package chatapi defines the OpenAI-compatible wire types the gateway's
// /v1/chat/completions surface accepts and emits: ChatRequest/Message
// (spec section 3's ChatRequest data model) and the SSE chat-completion
// chunk schema (spec section 6.3), generalized from the teacher's
// pkg/llms/types.go single-provider Message shape to the full multimodal,
// tool-call-carrying OpenAI request/response envelope.
package chatapi

import "encoding/json"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatRequest is the inbound OpenAI-compatible request body.
type ChatRequest struct {
	Model       string                 `json:"model"`
	Messages    []Message              `json:"messages"`
	Stream      bool                   `json:"stream,omitempty"`
	Temperature *float64               `json:"temperature,omitempty"`
	TopP        *float64               `json:"top_p,omitempty"`
	MaxTokens   *int                   `json:"max_tokens,omitempty"`
	Tools       []ToolDefinition       `json:"tools,omitempty"`
	ToolChoice  interface{}            `json:"tool_choice,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Message is one entry in ChatRequest.Messages. Content is either a plain
// string (the common case) or, for multimodal messages, a list of
// ContentPart values; at most one of the two is populated after unmarshal
// (both stay empty when content is missing or unparseable).
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"-"`
	Parts      []ContentPart `json:"-"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// ContentPart is one element of a multimodal message's content list.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries the URL payload of an "image_url" content part.
type ImageURL struct {
	URL string `json:"url"`
}

// IsMultimodal reports whether this message carries any non-text content
// part — the Tag Parser forces PureLLM when true (spec section 4.1).
func (m Message) IsMultimodal() bool {
	for _, p := range m.Parts {
		if p.Type != "text" {
			return true
		}
	}
	return false
}

// Text returns the message's text content regardless of whether it arrived
// as a plain string or a content-part list (concatenating text parts).
func (m Message) Text() string {
	if m.Parts == nil {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// MarshalJSON renders Content as a bare string or a part list depending on
// which was populated, matching the two shapes OpenAI's API accepts.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	if m.Parts != nil {
		return json.Marshal(struct {
			alias
			Content []ContentPart `json:"content"`
		}{alias: alias(m), Content: m.Parts})
	}
	return json.Marshal(struct {
		alias
		Content string `json:"content"`
	}{alias: alias(m), Content: m.Content})
}

// UnmarshalJSON accepts both the string-content and part-list-content
// shapes of an OpenAI message.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role       Role            `json:"role"`
		Content    json.RawMessage `json:"content"`
		ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
		ToolCallID string          `json:"tool_call_id,omitempty"`
		Name       string          `json:"name,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Role = raw.Role
	m.ToolCalls = raw.ToolCalls
	m.ToolCallID = raw.ToolCallID
	m.Name = raw.Name
	m.Content = ""
	m.Parts = nil

	if len(raw.Content) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw.Content, &asString); err == nil {
		m.Content = asString
		return nil
	}

	var asParts []ContentPart
	if err := json.Unmarshal(raw.Content, &asParts); err == nil {
		m.Parts = asParts
		return nil
	}

	return nil
}

// ToolDefinition describes one tool in the request's tools array, using the
// backend LM's native function-calling schema shape.
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec is the inner function schema of a ToolDefinition.
type FunctionSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the name and raw JSON arguments of a ToolCall.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatCompletion is the non-streaming response shape.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Choice is one entry in a ChatCompletion's choices array.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatCompletionChunk is one SSE ContentDelta event's JSON payload (spec
// section 6.3).
type ChatCompletionChunk struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice is one entry in a ChatCompletionChunk's choices array.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta is the incremental content of one ChunkChoice.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// StatusData is the inner payload of a StatusUpdate SSE event.
type StatusData struct {
	Description string `json:"description"`
	Done        bool   `json:"done"`
	Hidden      bool   `json:"hidden"`
}

// StatusEvent is the distinct JSON envelope for StatusUpdate events (spec
// section 4.8): `{"type":"status","data":{...}}`.
type StatusEvent struct {
	Type string      `json:"type"`
	Data StatusData  `json:"data"`
}

// NewStatusEvent constructs a StatusEvent.
func NewStatusEvent(description string, done, hidden bool) StatusEvent {
	return StatusEvent{Type: "status", Data: StatusData{Description: description, Done: done, Hidden: hidden}}
}
