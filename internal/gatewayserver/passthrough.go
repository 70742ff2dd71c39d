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

// The Passthrough Forwarder (C5, spec section 4.4) lives in this file:
// PureLLM requests are relayed to the LM backend with no orchestration on
// top, honoring the caller's own stream flag.
package gatewayserver

import (
	"context"
	"net/http"

	"github.com/kadirpekel/orchestration-gateway/internal/cancelwatch"
	"github.com/kadirpekel/orchestration-gateway/internal/chatapi"
	"github.com/kadirpekel/orchestration-gateway/internal/gwerrors"
	"github.com/kadirpekel/orchestration-gateway/internal/sseemit"
)

func (s *Server) dispatchPassthrough(ctx context.Context, w http.ResponseWriter, req chatapi.ChatRequest) {
	if !req.Stream {
		resp, err := s.deps.LLM.Complete(ctx, req)
		if err != nil {
			writeGatewayError(w, asGatewayError(err))
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	emitter, err := sseemit.New(w)
	if err != nil {
		writeGatewayError(w, gwerrors.Wrap(gwerrors.MalformedRequest, "streaming unsupported", err))
		return
	}

	events, err := s.deps.LLM.CompleteStream(ctx, req)
	if err != nil {
		s.emitStreamError(emitter, req.Model, err)
		return
	}

	for ev := range events {
		if cancelwatch.Cancelled(ctx) {
			return
		}
		if ev.Err != nil {
			s.emitStreamError(emitter, req.Model, ev.Err)
			return
		}
		if ev.Chunk != nil {
			_ = emitter.EmitJSON(ev.Chunk)
		}
	}
	_ = emitter.EmitTerminator()
}
