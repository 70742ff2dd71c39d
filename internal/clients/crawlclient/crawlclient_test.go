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

package crawlclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFetchAllSkipsFailedURLsSilently(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body><article><h1>Hello</h1><p>World</p></article></body></html>"))
	}))
	defer ok.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	c := New(Config{Timeout: 5 * time.Second})
	results := c.FetchAll(context.Background(), []string{ok.URL, bad.URL})

	assert.Len(t, results, 1)
	assert.Contains(t, results[0].Markdown, "World")
}

func TestFetchAllRejectsUnsupportedScheme(t *testing.T) {
	c := New(Config{Timeout: time.Second})
	results := c.FetchAll(context.Background(), []string{"ftp://example.com/file"})
	assert.Empty(t, results)
}

func TestFetchAllPassesThroughPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("plain body"))
	}))
	defer srv.Close()

	c := New(Config{Timeout: 5 * time.Second})
	results := c.FetchAll(context.Background(), []string{srv.URL})
	assert.Len(t, results, 1)
	assert.Equal(t, "plain body", results[0].Markdown)
}
