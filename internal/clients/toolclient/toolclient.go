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

// Package toolclient is the Tool Client (C8): request-response over a
// persistent connection to the downstream MCP tool server, using
// mark3labs/mcp-go the same way the teacher's pkg/tool/mcptoolset does,
// trimmed to the gateway's HTTP-transport-only needs (no stdio subprocess
// transport — the gateway has no use for spawning local tool processes).
// A per-call deadline raises ToolTimeout; a lost connection triggers one
// reconnect attempt before raising ToolUnavailable (spec section 5).
package toolclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/orchestration-gateway/internal/gwerrors"
)

// Config configures a Client.
type Config struct {
	URL string
}

// Descriptor mirrors the spec's ToolDescriptor: name (format
// `{namespace}_{operation}`), one-line description, and input schema.
type Descriptor struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Client connects to the MCP tool server.
type Client struct {
	cfg Config

	mu        sync.Mutex
	mcpClient *client.Client
}

// New builds a Client. The connection is established lazily on first use,
// matching the teacher's toolset's lazy-connect pattern.
func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mcpClient != nil {
		return nil
	}
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	mcpClient, err := client.NewStreamableHttpClient(c.cfg.URL)
	if err != nil {
		return gwerrors.Wrap(gwerrors.ToolUnavailable, "create MCP client", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return gwerrors.Wrap(gwerrors.ToolUnavailable, "start MCP client", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "orchestration-gateway", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return gwerrors.Wrap(gwerrors.ToolUnavailable, "initialize MCP session", err)
	}

	c.mcpClient = mcpClient
	return nil
}

func (c *Client) reconnectLocked(ctx context.Context) error {
	if c.mcpClient != nil {
		c.mcpClient.Close()
		c.mcpClient = nil
	}
	return c.connectLocked(ctx)
}

// ListTools queries the MCP server for its current tool list — called by
// the Tool Loop's discovery refresher on startup, every discovery interval,
// and on detected downstream restart (spec section 5.3).
func (c *Client) ListTools(ctx context.Context) ([]Descriptor, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	mcpClient := c.mcpClient
	c.mu.Unlock()

	resp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.mu.Lock()
		rerr := c.reconnectLocked(ctx)
		c.mu.Unlock()
		if rerr != nil {
			return nil, rerr
		}
		return nil, gwerrors.Wrap(gwerrors.ToolUnavailable, "list tools after reconnect, retry next cycle", err)
	}

	descriptors := make([]Descriptor, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		descriptors = append(descriptors, Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Schema:      convertSchema(t.InputSchema),
		})
	}
	return descriptors, nil
}

// Call invokes a tool with a per-call deadline. Timeout raises ToolTimeout;
// a connection loss triggers one reconnect attempt, after which a further
// failure raises ToolUnavailable.
func (c *Client) Call(ctx context.Context, name string, args map[string]any, deadline time.Duration) (map[string]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := c.ensureConnected(callCtx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	mcpClient := c.mcpClient
	c.mu.Unlock()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(callCtx, req)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, gwerrors.New(gwerrors.ToolTimeout, fmt.Sprintf("tool %q exceeded deadline %s", name, deadline))
		}

		c.mu.Lock()
		rerr := c.reconnectLocked(ctx)
		mcpClient = c.mcpClient
		c.mu.Unlock()
		if rerr != nil {
			return nil, gwerrors.Wrap(gwerrors.ToolUnavailable, "reconnect after call failure", rerr)
		}

		retryCtx, retryCancel := context.WithTimeout(ctx, deadline)
		defer retryCancel()
		resp, err = mcpClient.CallTool(retryCtx, req)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.ToolUnavailable, fmt.Sprintf("tool %q call failed after reconnect", name), err)
		}
	}

	return parseResult(resp), nil
}

// Close releases the underlying MCP connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mcpClient == nil {
		return nil
	}
	err := c.mcpClient.Close()
	c.mcpClient = nil
	return err
}

func parseResult(resp *mcp.CallToolResult) map[string]any {
	result := make(map[string]any)
	if resp.IsError {
		for _, content := range resp.Content {
			if tc, ok := content.(mcp.TextContent); ok {
				result["error"] = tc.Text
				break
			}
		}
		if result["error"] == nil {
			result["error"] = "unknown error"
		}
		return result
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	switch len(texts) {
	case 0:
	case 1:
		result["result"] = texts[0]
	default:
		result["results"] = texts
	}
	return result
}

func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	out := map[string]any{"type": schema.Type}
	if len(schema.Properties) > 0 {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}
