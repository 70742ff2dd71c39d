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

package toolregistry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestration-gateway/internal/clients/toolclient"
)

type fakeLister struct {
	tools []toolclient.Descriptor
	err   error
	calls atomic.Int32
}

func (f *fakeLister) ListTools(ctx context.Context) ([]toolclient.Descriptor, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.tools, nil
}

func TestRefreshPopulatesSnapshotWithDefaultCost(t *testing.T) {
	lister := &fakeLister{tools: []toolclient.Descriptor{{Name: "kb_search", Description: "search"}}}
	r := New(lister, nil)

	require.NoError(t, r.Refresh(context.Background()))

	d, ok := r.Get("kb_search")
	require.True(t, ok)
	assert.Equal(t, 1, d.Cost)
}

func TestRefreshAppliesStaticCostOverride(t *testing.T) {
	lister := &fakeLister{tools: []toolclient.Descriptor{{Name: "fs_write", Description: "write a file"}}}
	r := New(lister, map[string]int{"fs_write": 3})

	require.NoError(t, r.Refresh(context.Background()))

	d, ok := r.Get("fs_write")
	require.True(t, ok)
	assert.Equal(t, 3, d.Cost)
}

func TestRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	lister := &fakeLister{tools: []toolclient.Descriptor{{Name: "kb_search"}}}
	r := New(lister, nil)
	require.NoError(t, r.Refresh(context.Background()))

	lister.err = assert.AnError
	err := r.Refresh(context.Background())

	assert.Error(t, err)
	_, ok := r.Get("kb_search")
	assert.True(t, ok)
}

func TestGetUnknownToolReturnsFalse(t *testing.T) {
	r := New(&fakeLister{}, nil)
	_, ok := r.Get("nonexistent")
	assert.False(t, ok)
}

func TestRunDiscoveryLoopRefreshesImmediatelyAndOnRestartSignal(t *testing.T) {
	lister := &fakeLister{tools: []toolclient.Descriptor{{Name: "kb_search"}}}
	r := New(lister, nil)

	ctx, cancel := context.WithCancel(context.Background())
	restarts := make(chan struct{}, 1)

	done := make(chan struct{})
	go func() {
		r.RunDiscoveryLoop(ctx, time.Hour, restarts)
		close(done)
	}()

	require.Eventually(t, func() bool { return lister.calls.Load() >= 1 }, time.Second, time.Millisecond)

	restarts <- struct{}{}
	require.Eventually(t, func() bool { return lister.calls.Load() >= 2 }, time.Second, time.Millisecond)

	cancel()
	<-done
}
