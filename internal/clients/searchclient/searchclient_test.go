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

package searchclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSearchReturnsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"results":[{"title":"a","url":"http://a","snippet":"s"}]}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: time.Second, MaxRetries: 1})
	results := c.Search(context.Background(), "golang", 10)
	assert.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Title)
}

func TestSearchReturnsEmptyOnPersistentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: time.Second, MaxRetries: 1})
	results := c.Search(context.Background(), "golang", 10)
	assert.Nil(t, results)
}

func TestSearchReturnsEmptyOnMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: time.Second, MaxRetries: 1})
	results := c.Search(context.Background(), "golang", 10)
	assert.Nil(t, results)
}
