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

import "net/http"

// handleStats exposes the Admission Controller's per-mode occupancy
// (SPEC_FULL.md section 12's diagnostic endpoint) for operators watching
// queue depth on the research modes.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Admission == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}

	stats := s.deps.Admission.Stats()
	out := make(map[string]interface{}, len(stats))
	for mode, snap := range stats {
		out[string(mode)] = snap
	}
	writeJSON(w, http.StatusOK, out)
}
