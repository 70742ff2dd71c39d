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

package ratelimit

import (
	"context"
	"time"
)

// RateLimiter is the interface the HTTP edge middleware depends on.
// Implementations must be safe for concurrent use.
type RateLimiter interface {
	Check(ctx context.Context, scope Scope, identifier string) (*CheckResult, error)
	Record(ctx context.Context, scope Scope, identifier string, requestCount int64) error
	CheckAndRecord(ctx context.Context, scope Scope, identifier string, requestCount int64) (*CheckResult, error)
	Reset(ctx context.Context, scope Scope, identifier string) error
	ResetExpired(ctx context.Context, before time.Time) error
	IsEnabled() bool
}

// Store is the usage-tracking backend. The gateway is single-process
// (spec section 5's scheduling model, SPEC_FULL.md's non-goals), so only
// an in-memory implementation is provided — no persistent store is needed
// and none is wired (see DESIGN.md).
type Store interface {
	GetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, error)
	IncrementUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64) (int64, time.Time, error)
	SetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error
	DeleteUsage(ctx context.Context, scope Scope, identifier string) error
	DeleteExpired(ctx context.Context, before time.Time) error
}

var _ RateLimiter = (*DefaultRateLimiter)(nil)
var _ Store = (*MemoryStore)(nil)
