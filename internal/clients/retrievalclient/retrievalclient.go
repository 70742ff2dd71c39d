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

// Package retrievalclient is the Retrieval Client (C10): the gateway's
// vector/graph knowledge base is modeled as a Qdrant collection, the same
// way the teacher's pkg/vector/qdrant.go wraps qdrant-go-client. On any
// failure it returns an empty result set rather than propagating an error,
// per spec section 5's collaborator contract.
package retrievalclient

import (
	"context"

	"github.com/qdrant/go-client/qdrant"
)

// Config configures a Client.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// Result is one knowledge-base hit, tagged `[kb]` by the caller when
// appended to the Research Orchestrator's accumulated context.
type Result struct {
	ID      string
	Content string
	Score   float32
}

// Client queries the knowledge base.
type Client struct {
	cfg    Config
	client *qdrant.Client
}

// New connects to the Qdrant collection backing the knowledge base. A
// connection failure at startup is non-fatal: Search degrades to an empty
// result set for as long as the client is nil.
func New(cfg Config) (*Client, error) {
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return &Client{cfg: cfg}, nil
	}
	return &Client{cfg: cfg, client: qc}, nil
}

// Search performs a vector similarity search against the knowledge base
// collection using a query vector the caller has already computed (the
// gateway has no embedder of its own; the caller — the Research
// Orchestrator — owns the embedding model choice). Any failure, including a
// nil underlying client, yields an empty slice.
func (c *Client) Search(ctx context.Context, vector []float32, topK int) []Result {
	if c == nil || c.client == nil {
		return nil
	}

	points := c.client.GetPointsClient()
	resp, err := points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: c.cfg.Collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil
	}

	results := make([]Result, 0, len(resp.Result))
	for _, point := range resp.Result {
		id := ""
		if point.Id != nil && point.Id.PointIdOptions != nil {
			if uuidID, ok := point.Id.PointIdOptions.(*qdrant.PointId_Uuid); ok {
				id = uuidID.Uuid
			}
		}
		content := ""
		if point.Payload != nil {
			if v, ok := point.Payload["content"]; ok {
				content = v.GetStringValue()
			}
		}
		results = append(results, Result{ID: id, Content: content, Score: point.Score})
	}
	return results
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
