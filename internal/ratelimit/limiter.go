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
	"fmt"
	"sync"
	"time"
)

// Config holds the edge rate limiter's rules.
type Config struct {
	Enabled bool
	Limits  []LimitRule
}

// LimitRule is one (window, cap) rule, e.g. 30 requests per minute.
type LimitRule struct {
	Window TimeWindow
	Limit  int64
}

// DefaultRateLimiter implements RateLimiter against a pluggable Store.
type DefaultRateLimiter struct {
	config *Config
	store  Store
	mu     sync.RWMutex
}

// NewRateLimiter constructs a DefaultRateLimiter.
func NewRateLimiter(cfg *Config, store Store) (*DefaultRateLimiter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	for i, limit := range cfg.Limits {
		if limit.Window == "" {
			return nil, fmt.Errorf("limit[%d]: window is required", i)
		}
		if limit.Limit <= 0 {
			return nil, fmt.Errorf("limit[%d]: limit must be positive", i)
		}
	}
	return &DefaultRateLimiter{config: cfg, store: store}, nil
}

// Check reports whether identifier may proceed without recording usage.
func (rl *DefaultRateLimiter) Check(ctx context.Context, scope Scope, identifier string) (*CheckResult, error) {
	if !rl.config.Enabled {
		return &CheckResult{Allowed: true}, nil
	}
	if identifier == "" {
		return nil, fmt.Errorf("identifier cannot be empty")
	}

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.checkUnlocked(ctx, scope, identifier)
}

// Record records requestCount usage against identifier.
func (rl *DefaultRateLimiter) Record(ctx context.Context, scope Scope, identifier string, requestCount int64) error {
	if !rl.config.Enabled {
		return nil
	}
	if identifier == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.recordUnlocked(ctx, scope, identifier, requestCount)
}

// CheckAndRecord atomically checks then records, avoiding the race between
// a separate Check and Record call under concurrent requests from the same
// identifier.
func (rl *DefaultRateLimiter) CheckAndRecord(ctx context.Context, scope Scope, identifier string, requestCount int64) (*CheckResult, error) {
	if !rl.config.Enabled {
		return &CheckResult{Allowed: true}, nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	result, err := rl.checkUnlocked(ctx, scope, identifier)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return result, nil
	}

	if err := rl.recordUnlocked(ctx, scope, identifier, requestCount); err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}
	return rl.checkUnlocked(ctx, scope, identifier)
}

// Reset clears all usage for identifier.
func (rl *DefaultRateLimiter) Reset(ctx context.Context, scope Scope, identifier string) error {
	if identifier == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.store.DeleteUsage(ctx, scope, identifier)
}

// ResetExpired removes expired usage records, intended for periodic
// background cleanup.
func (rl *DefaultRateLimiter) ResetExpired(ctx context.Context, before time.Time) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.store.DeleteExpired(ctx, before)
}

// IsEnabled reports whether rate limiting is active.
func (rl *DefaultRateLimiter) IsEnabled() bool { return rl.config.Enabled }

func (rl *DefaultRateLimiter) checkUnlocked(ctx context.Context, scope Scope, identifier string) (*CheckResult, error) {
	result := &CheckResult{Allowed: true, Usages: make([]Usage, 0, len(rl.config.Limits))}
	now := time.Now()
	var earliestRetry *time.Time

	for _, limit := range rl.config.Limits {
		current, windowEnd, err := rl.store.GetUsage(ctx, scope, identifier, LimitTypeCount, limit.Window)
		if err != nil {
			return nil, fmt.Errorf("get usage for %s: %w", limit.Window, err)
		}
		if windowEnd.Before(now) {
			current = 0
			windowEnd = now.Add(limit.Window.Duration())
		}

		remaining := limit.Limit - current
		if remaining < 0 {
			remaining = 0
		}

		result.Usages = append(result.Usages, Usage{
			LimitType:  LimitTypeCount,
			Window:     limit.Window,
			Current:    current,
			Limit:      limit.Limit,
			WindowEnd:  windowEnd,
			Remaining:  remaining,
			Percentage: float64(current) / float64(limit.Limit) * 100,
		})

		if current > limit.Limit {
			result.Allowed = false
			if result.Reason == "" {
				result.Reason = fmt.Sprintf("count limit exceeded for %s window (%d/%d)", limit.Window, current, limit.Limit)
			}
			if earliestRetry == nil || windowEnd.Before(*earliestRetry) {
				earliestRetry = &windowEnd
			}
		}
	}

	if !result.Allowed && earliestRetry != nil {
		if retry := time.Until(*earliestRetry); retry > 0 {
			result.RetryAfter = &retry
		}
	}

	return result, nil
}

func (rl *DefaultRateLimiter) recordUnlocked(ctx context.Context, scope Scope, identifier string, requestCount int64) error {
	if requestCount <= 0 {
		return nil
	}
	now := time.Now()

	for _, limit := range rl.config.Limits {
		_, windowEnd, err := rl.store.GetUsage(ctx, scope, identifier, LimitTypeCount, limit.Window)
		if err != nil {
			return fmt.Errorf("get usage for %s: %w", limit.Window, err)
		}

		if windowEnd.Before(now) {
			windowEnd = now.Add(limit.Window.Duration())
			if err := rl.store.SetUsage(ctx, scope, identifier, LimitTypeCount, limit.Window, requestCount, windowEnd); err != nil {
				return fmt.Errorf("reset usage for %s: %w", limit.Window, err)
			}
			continue
		}

		if _, _, err := rl.store.IncrementUsage(ctx, scope, identifier, LimitTypeCount, limit.Window, requestCount); err != nil {
			return fmt.Errorf("increment usage for %s: %w", limit.Window, err)
		}
	}

	return nil
}
