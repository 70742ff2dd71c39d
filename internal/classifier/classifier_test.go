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

package classifier

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestration-gateway/internal/router"
)

func TestClassifyReturnsVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"mode":"deep_research","confidence":0.95}`)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Timeout: time.Second})
	verdict, err := c.Classify(context.Background(), "research this thoroughly")
	require.NoError(t, err)
	assert.Equal(t, router.ModeDeepResearch, verdict.Mode)
	assert.Equal(t, 0.95, verdict.Confidence)
}

func TestClassifyErrorsOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Timeout: time.Second})
	_, err := c.Classify(context.Background(), "hello")
	assert.Error(t, err)
}

func TestClassifyErrorsOnUnrecognizedMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"mode":"autonomous","confidence":0.99}`)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Timeout: time.Second})
	_, err := c.Classify(context.Background(), "hello")
	assert.Error(t, err)
}

func TestClassifierOrNilReturnsNilWithoutURL(t *testing.T) {
	assert.Nil(t, ClassifierOrNil(Config{}))
	assert.NotNil(t, ClassifierOrNil(Config{URL: "http://localhost:9999"}))
}
