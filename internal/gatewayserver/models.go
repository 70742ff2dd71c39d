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
	"log/slog"
	"net/http"
	"time"

	"github.com/kadirpekel/orchestration-gateway/internal/gwerrors"
)

// runModelsPoller refreshes the GET /v1/models cache in the background:
// every ModelsPollBootstrap until the first success, then every
// ModelsPollSteady (spec section 6.1).
func (s *Server) runModelsPoller(ctx context.Context) {
	interval := s.cfg.Backend.ModelsPollBootstrap

	for {
		body, err := s.deps.LLM.Models(ctx)

		s.modelsMu.Lock()
		if err != nil {
			s.modelsErr = err
			slog.Warn("models poll failed, keeping previous cache", "error", err)
		} else {
			s.modelsCache = body
			s.modelsErr = nil
			if !s.modelsPolled {
				s.modelsPolled = true
				interval = s.cfg.Backend.ModelsPollSteady
			}
		}
		s.modelsMu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.modelsMu.RLock()
	body, polled := s.modelsCache, s.modelsPolled
	s.modelsMu.RUnlock()

	if !polled {
		writeGatewayError(w, gwerrors.New(gwerrors.BackendUnavailable, "model list not yet available"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
