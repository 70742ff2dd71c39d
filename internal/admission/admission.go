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

// Package admission implements the Admission Controller (C4): one bounded,
// FIFO-fair counting semaphore per limited mode. golang.org/x/sync/semaphore
// is weighted but does not guarantee FIFO admission order, which spec
// section 4.3 requires ("implementations must not starve waiters"), so this
// is a small hand-rolled channel-based semaphore instead (see DESIGN.md).
package admission

import (
	"context"
	"sync"
	"time"

	"github.com/kadirpekel/orchestration-gateway/internal/router"
)

// Ticket is an opaque handle representing a held admission slot. Release
// must be called exactly once, including on panic, disconnect, or timeout
// (spec section 3's invariant).
type Ticket struct {
	release func()
	once    sync.Once
}

// Release returns the slot to the pool. Safe to call more than once; only
// the first call has an effect, satisfying the release-exactly-once
// guarantee even if calling code double-releases defensively (e.g. once in
// a defer and once in an explicit error path).
func (t *Ticket) Release() {
	t.once.Do(t.release)
}

// modeSemaphore is a FIFO-fair bounded semaphore for one mode: capacity
// slots, handed out strictly in arrival order via an in-use counter plus a
// FIFO wait queue of per-waiter channels.
type modeSemaphore struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	waiters  []chan struct{}
}

func newModeSemaphore(capacity int) *modeSemaphore {
	return &modeSemaphore{capacity: capacity}
}

// acquire blocks until a slot is available or cancel fires. statusFn, if
// non-nil, is invoked once immediately with the current (inUse, capacity)
// when the caller must wait, and then every heartbeat while still waiting
// (SPEC_FULL.md section 12's queued-heartbeat supplement).
func (s *modeSemaphore) acquire(ctx context.Context, heartbeat time.Duration, statusFn func(inUse, capacity int)) (func(), bool) {
	s.mu.Lock()
	if s.inUse < s.capacity {
		s.inUse++
		s.mu.Unlock()
		return s.releaseFunc(), true
	}

	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	inUse, capacity := s.inUse, s.capacity
	s.mu.Unlock()

	if statusFn != nil {
		statusFn(inUse, capacity)
	}

	var ticker *time.Ticker
	var tickC <-chan time.Time
	if heartbeat > 0 {
		ticker = time.NewTicker(heartbeat)
		tickC = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-ch:
			return s.releaseFunc(), true
		case <-ctx.Done():
			s.abandon(ch)
			return nil, false
		case <-tickC:
			s.mu.Lock()
			inUse, capacity = s.inUse, s.capacity
			s.mu.Unlock()
			if statusFn != nil {
				statusFn(inUse, capacity)
			}
		}
	}
}

func (s *modeSemaphore) releaseFunc() func() {
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if len(s.waiters) > 0 {
			next := s.waiters[0]
			s.waiters = s.waiters[1:]
			close(next)
			return
		}
		s.inUse--
	}
}

// abandon removes ch from the wait queue without ever having acquired a
// slot — the client disconnected while queued, so nothing is released
// (spec section 4.3: "abandons the acquisition and releases nothing").
func (s *modeSemaphore) abandon(ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
	// ch was already popped and closed concurrently with ctx.Done firing;
	// the slot it represents passes to the next waiter, or back to the pool.
	select {
	case <-ch:
		if len(s.waiters) > 0 {
			next := s.waiters[0]
			s.waiters = s.waiters[1:]
			close(next)
			return
		}
		s.inUse--
	default:
	}
}

// Snapshot reports a mode semaphore's current occupancy, used by the
// GET /v1/gateway/stats diagnostic endpoint (SPEC_FULL.md section 12).
type Snapshot struct {
	InUse    int
	Capacity int
	Waiters  int
}

func (s *modeSemaphore) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{InUse: s.inUse, Capacity: s.capacity, Waiters: len(s.waiters)}
}

// Controller owns one modeSemaphore per limited mode. PureLLM and the tool
// loop are unbounded (spec section 4.3) and never consult the controller.
type Controller struct {
	heartbeat time.Duration

	mu    sync.RWMutex
	modes map[router.Mode]*modeSemaphore
}

// New constructs a Controller with the given per-mode capacities. heartbeat
// is the interval at which a waiting request re-emits a status update;
// pass 0 to disable heartbeats.
func New(standardCapacity, deepCapacity int, heartbeat time.Duration) *Controller {
	return &Controller{
		heartbeat: heartbeat,
		modes: map[router.Mode]*modeSemaphore{
			router.ModeStandardResearch: newModeSemaphore(standardCapacity),
			router.ModeDeepResearch:     newModeSemaphore(deepCapacity),
		},
	}
}

// Reconfigure updates a limited mode's capacity for future acquisitions.
// Outstanding tickets are unaffected (SPEC_FULL.md section 10.3).
func (c *Controller) Reconfigure(mode router.Mode, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sem, ok := c.modes[mode]; ok {
		sem.mu.Lock()
		sem.capacity = capacity
		sem.mu.Unlock()
	}
}

// Acquire blocks until a slot for mode is available or ctx is cancelled.
// statusFn receives "queue full" style updates while waiting; it is never
// called for unbounded modes or when a slot is immediately available. ok is
// false iff ctx was cancelled before a slot was obtained, in which case no
// ticket was acquired and none needs releasing.
func (c *Controller) Acquire(ctx context.Context, mode router.Mode, statusFn func(Snapshot)) (*Ticket, bool) {
	c.mu.RLock()
	sem, limited := c.modes[mode]
	c.mu.RUnlock()

	if !limited {
		return &Ticket{release: func() {}}, true
	}

	var wrapped func(inUse, capacity int)
	if statusFn != nil {
		wrapped = func(inUse, capacity int) {
			statusFn(Snapshot{InUse: inUse, Capacity: capacity, Waiters: 0})
		}
	}

	release, ok := sem.acquire(ctx, c.heartbeat, wrapped)
	if !ok {
		return nil, false
	}
	return &Ticket{release: release}, true
}

// Stats returns a snapshot of every limited mode's current occupancy.
func (c *Controller) Stats() map[router.Mode]Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[router.Mode]Snapshot, len(c.modes))
	for mode, sem := range c.modes {
		out[mode] = sem.snapshot()
	}
	return out
}
