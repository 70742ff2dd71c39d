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

package cancelwatch

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCancelledFalseBeforeCancel(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	ctx, cancel := Watch(r)
	defer cancel()

	assert.False(t, Cancelled(ctx))
}

func TestCancelledTrueAfterCancel(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	ctx, cancel := Watch(r)

	cancel()
	assert.True(t, Cancelled(ctx))
}

func TestCancelledTrueWhenParentRequestContextCancelled(t *testing.T) {
	parentCtx, parentCancel := context.WithCancel(context.Background())
	r := httptest.NewRequest("GET", "/", nil).WithContext(parentCtx)

	ctx, cancel := Watch(r)
	defer cancel()

	parentCancel()
	assert.True(t, Cancelled(ctx))
}
