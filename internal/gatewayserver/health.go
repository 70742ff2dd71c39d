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
	"net/http"
	"time"
)

// serviceStatus is one entry in GET /health's services map.
type serviceStatus struct {
	Available bool `json:"available"`
}

// handleHealth reports healthy/degraded/unhealthy per spec section 6.1: a
// critical HealthCheck failing makes the whole gateway unhealthy; a
// non-critical one only degrades it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	services := make(map[string]serviceStatus, len(s.deps.HealthChecks))

	for _, hc := range s.deps.HealthChecks {
		available := hc.Check(ctx)
		services[hc.Name] = serviceStatus{Available: available}
		if available {
			continue
		}
		if hc.Critical {
			status = "unhealthy"
		} else if status != "unhealthy" {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"services": services,
	})
}
