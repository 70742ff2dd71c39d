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

package toolclient

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"

	"github.com/kadirpekel/orchestration-gateway/internal/gwerrors"
)

func TestCallRaisesToolUnavailableWhenServerUnreachable(t *testing.T) {
	c := New(Config{URL: "http://127.0.0.1:1/mcp"})

	_, err := c.Call(context.Background(), "kb_search", map[string]any{"q": "x"}, 200*time.Millisecond)

	assert.Error(t, err)
	assert.True(t, gwerrors.IsKind(err, gwerrors.ToolUnavailable) || gwerrors.IsKind(err, gwerrors.ToolTimeout))
}

func TestListToolsRaisesToolUnavailableWhenServerUnreachable(t *testing.T) {
	c := New(Config{URL: "http://127.0.0.1:1/mcp"})

	_, err := c.ListTools(context.Background())

	assert.Error(t, err)
	assert.True(t, gwerrors.IsKind(err, gwerrors.ToolUnavailable))
}

func TestParseResultExtractsSingleTextContent(t *testing.T) {
	resp := &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "42"}},
	}

	result := parseResult(resp)

	assert.Equal(t, "42", result["result"])
}

func TestParseResultExtractsMultipleTextContents(t *testing.T) {
	resp := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "a"},
			mcp.TextContent{Type: "text", Text: "b"},
		},
	}

	result := parseResult(resp)

	assert.Equal(t, []string{"a", "b"}, result["results"])
}

func TestParseResultSurfacesToolError(t *testing.T) {
	resp := &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "boom"}},
	}

	result := parseResult(resp)

	assert.Equal(t, "boom", result["error"])
}

func TestConvertSchemaCopiesFields(t *testing.T) {
	schema := mcp.ToolInputSchema{
		Type:       "object",
		Properties: map[string]any{"q": map[string]any{"type": "string"}},
		Required:   []string{"q"},
	}

	out := convertSchema(schema)

	assert.Equal(t, "object", out["type"])
	assert.Equal(t, []string{"q"}, out["required"])
}
