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

// Package gwerrors defines the gateway's closed error-kind taxonomy. Each
// kind carries an HTTP status and renders to the OpenAI-shaped error
// envelope the chat UI already understands, so no new error contract is
// introduced on the wire.
package gwerrors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies one of the gateway's error categories.
type Kind string

const (
	// ClientCancelled marks a disconnect; it is never written to the client.
	ClientCancelled Kind = "client_cancelled"

	// AdmissionRejected is reserved for hard admission caps; the normal
	// admission path blocks rather than rejecting.
	AdmissionRejected Kind = "admission_rejected"

	// BackendUnavailable means the LM backend returned 5xx, refused the
	// connection, or timed out.
	BackendUnavailable Kind = "backend_unavailable"

	// BackendBadRequest means the LM backend returned 4xx; the payload is
	// surfaced verbatim with the original status.
	BackendBadRequest Kind = "backend_bad_request"

	// ContextLengthExceeded is a specialization of BackendBadRequest that
	// triggers the Research Orchestrator's degrade-and-retry path.
	ContextLengthExceeded Kind = "context_length_exceeded"

	// ToolTimeout means a tool call did not complete within its deadline.
	ToolTimeout Kind = "tool_timeout"

	// ToolUnavailable means the Tool Client's connection to the MCP server
	// was lost and a single reconnect attempt also failed.
	ToolUnavailable Kind = "tool_unavailable"

	// UnknownTool means the model called a tool name not in the current
	// descriptor registry snapshot.
	UnknownTool Kind = "unknown_tool"

	// AuxiliaryFailure covers search/retrieval/crawl failures. These are
	// swallowed by the respective client and never reach this type in
	// practice, but the kind exists for logging/diagnostics consistency.
	AuxiliaryFailure Kind = "auxiliary_failure"

	// MalformedRequest means the inbound request body could not be parsed
	// or failed basic shape validation, returned as HTTP 400.
	MalformedRequest Kind = "malformed_request"
)

// httpStatus maps each Kind to the HTTP status it surfaces as, per spec
// section 7. Kinds that never reach an HTTP response layer (ClientCancelled,
// ToolTimeout, ToolUnavailable, UnknownTool, AuxiliaryFailure — all handled
// and converted before any status code is written) map to 0.
var httpStatus = map[Kind]int{
	ClientCancelled:        0,
	AdmissionRejected:      503,
	BackendUnavailable:     502,
	BackendBadRequest:      400,
	ContextLengthExceeded:  400,
	ToolTimeout:            0,
	ToolUnavailable:        0,
	UnknownTool:            0,
	AuxiliaryFailure:       0,
	MalformedRequest:       400,
}

// GatewayError is the concrete error type for every Kind above. Downstream
// code distinguishes kinds with errors.As, never by matching strings.
type GatewayError struct {
	Kind    Kind
	Message string
	Status  int
	Err     error
}

// New constructs a GatewayError of the given kind with the kind's default
// HTTP status.
func New(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Status: httpStatus[kind]}
}

// Wrap constructs a GatewayError that preserves an underlying cause for
// errors.Unwrap / errors.Is chains.
func Wrap(kind Kind, message string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Status: httpStatus[kind], Err: err}
}

// WithStatus overrides the default HTTP status, used by BackendBadRequest to
// preserve the LM backend's original status code verbatim.
func (e *GatewayError) WithStatus(status int) *GatewayError {
	e.Status = status
	return e
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, gwerrors.New(Kind, "")) match on Kind alone.
func (e *GatewayError) Is(target error) bool {
	var ge *GatewayError
	if errors.As(target, &ge) {
		return ge.Kind == e.Kind
	}
	return false
}

// OpenAIErrorBody is the OpenAI-shaped error envelope the chat UI expects as
// an HTTP error response body. Errors that occur mid-stream are not sent in
// this envelope; the stream carries a plain apology content chunk instead.
type OpenAIErrorBody struct {
	Error OpenAIErrorDetail `json:"error"`
}

// OpenAIErrorDetail is the inner object of OpenAIErrorBody.
type OpenAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Payload renders the error as the OpenAI-shaped JSON body.
func (e *GatewayError) Payload() OpenAIErrorBody {
	return OpenAIErrorBody{
		Error: OpenAIErrorDetail{
			Message: e.Message,
			Type:    string(e.Kind),
		},
	}
}

// MarshalJSON lets a GatewayError be written directly as an HTTP response
// body.
func (e *GatewayError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Payload())
}

// IsKind reports whether err (or anything it wraps) is a GatewayError of
// the given kind. It serves call sites that only need a Kind check.
func IsKind(err error, kind Kind) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}
