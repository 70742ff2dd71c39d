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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kadirpekel/orchestration-gateway/internal/gwerrors"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeGatewayError renders a GatewayError as the OpenAI-shaped error body
// (spec section 7), using its Status unless it is unset (0), in which case
// it falls back to 500 — kinds that carry status 0 are meant to be
// recovered before reaching an HTTP response, so this is a defensive
// fallback, not an expected path.
func writeGatewayError(w http.ResponseWriter, err *gwerrors.GatewayError) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, err.Payload())
}

// asGatewayError coerces any error into a GatewayError for uniform
// handling at a response boundary, defaulting to BackendUnavailable for an
// error of unrecognized origin.
func asGatewayError(err error) *gwerrors.GatewayError {
	var ge *gwerrors.GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return gwerrors.Wrap(gwerrors.BackendUnavailable, "unexpected gateway error", err)
}
