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

// Package toolregistry holds the tool-descriptor cache the Tool Loop reads
// from every turn (spec section 4.6's "Tool discovery" and section 5's
// "tool-descriptor cache is shared read-mostly state, mutated only by the
// discovery task under a single-writer lock and exposed to readers as an
// immutable snapshot swapped atomically"). It also reimplements the
// original's runtime-introspection-based discovery as the static descriptor
// registry spec section 9's redesign flag calls for: names, descriptions,
// schemas and point costs are read from the MCP server's tool list and
// folded against a static per-deployment cost map, never synthesized from
// reflection.
package toolregistry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kadirpekel/orchestration-gateway/internal/clients/toolclient"
)

// Descriptor is one entry in the registry: name, description, input schema,
// and point cost (spec section 3's ToolDescriptor glossary entry).
type Descriptor struct {
	Name        string
	Description string
	Schema      map[string]any
	Cost        int
}

// Lister is the subset of toolclient.Client the registry needs to refresh
// itself; kept as an interface so discovery can be exercised with a fake in
// tests without a live MCP connection.
type Lister interface {
	ListTools(ctx context.Context) ([]toolclient.Descriptor, error)
}

// Registry is the shared read-mostly tool-descriptor cache.
type Registry struct {
	snapshot atomic.Pointer[map[string]Descriptor]

	writeMu  sync.Mutex
	costs    map[string]int
	lister   Lister
	lastGood time.Time
}

const defaultCost = 1

// New builds an empty Registry. costs overrides the default point cost of
// 1 for specific tool names (spec section 4.6: "some tools may cost more
// via a static cost map").
func New(lister Lister, costs map[string]int) *Registry {
	r := &Registry{lister: lister, costs: costs}
	empty := map[string]Descriptor{}
	r.snapshot.Store(&empty)
	return r
}

// Get looks up one tool by name in the current snapshot. Safe for
// concurrent use without locking — readers never block the writer.
func (r *Registry) Get(name string) (Descriptor, bool) {
	snap := *r.snapshot.Load()
	d, ok := snap[name]
	return d, ok
}

// Snapshot returns the full current tool set, which the Tool Loop sends to
// the backend LM as the request's structured tool definitions.
func (r *Registry) Snapshot() []Descriptor {
	snap := *r.snapshot.Load()
	out := make([]Descriptor, 0, len(snap))
	for _, d := range snap {
		out = append(out, d)
	}
	return out
}

// Refresh queries the MCP server for its current tool list and swaps the
// snapshot atomically. Failures leave the previous snapshot in place — a
// transient discovery failure must not empty out an otherwise-working
// tool set mid-request.
func (r *Registry) Refresh(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tools, err := r.lister.ListTools(ctx)
	if err != nil {
		slog.Warn("tool discovery refresh failed, keeping previous snapshot", "error", err)
		return err
	}

	next := make(map[string]Descriptor, len(tools))
	for _, t := range tools {
		cost := defaultCost
		if c, ok := r.costs[t.Name]; ok {
			cost = c
		}
		next[t.Name] = Descriptor{
			Name:        t.Name,
			Description: t.Description,
			Schema:      t.Schema,
			Cost:        cost,
		}
	}

	r.snapshot.Store(&next)
	r.lastGood = time.Now()
	slog.Info("tool discovery refreshed", "tools", len(next))
	return nil
}

// RunDiscoveryLoop refreshes the registry immediately, then on every tick of
// interval, until ctx is cancelled. restarts delivers an external signal —
// the caller's container-restart detector — that triggers an immediate
// out-of-band refresh (spec section 4.6: "Also re-query on detected restart
// of any monitored downstream container").
func (r *Registry) RunDiscoveryLoop(ctx context.Context, interval time.Duration, restarts <-chan struct{}) {
	_ = r.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Refresh(ctx)
		case <-restarts:
			_ = r.Refresh(ctx)
		}
	}
}
