package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestration-gateway/internal/router"
)

func TestAcquireWithinCapacitySucceedsImmediately(t *testing.T) {
	c := New(2, 1, 0)
	ticket, ok := c.Acquire(context.Background(), router.ModeStandardResearch, nil)
	require.True(t, ok)
	defer ticket.Release()

	stats := c.Stats()[router.ModeStandardResearch]
	assert.Equal(t, 1, stats.InUse)
	assert.Equal(t, 2, stats.Capacity)
}

func TestAcquireUnboundedModeAlwaysSucceeds(t *testing.T) {
	c := New(1, 1, 0)
	ticket, ok := c.Acquire(context.Background(), router.ModeAutonomous, func(Snapshot) {
		t.Fatal("status callback should never fire for an unbounded mode")
	})
	require.True(t, ok)
	ticket.Release()
}

func TestAcquireAtCapacityBlocksThenAdmitsOnRelease(t *testing.T) {
	c := New(1, 1, 0)

	first, ok := c.Acquire(context.Background(), router.ModeDeepResearch, nil)
	require.True(t, ok)

	var statusFired bool
	var mu sync.Mutex
	admitted := make(chan struct{})
	go func() {
		second, ok := c.Acquire(context.Background(), router.ModeDeepResearch, func(s Snapshot) {
			mu.Lock()
			statusFired = true
			mu.Unlock()
			assert.Equal(t, 1, s.InUse)
			assert.Equal(t, 1, s.Capacity)
		})
		require.True(t, ok)
		second.Release()
		close(admitted)
	}()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.True(t, statusFired, "waiter should see a queue-full status before admission")
	mu.Unlock()

	first.Release()

	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("second waiter was never admitted after release")
	}
}

func TestAcquireFIFOOrder(t *testing.T) {
	c := New(1, 1, 0)
	first, ok := c.Acquire(context.Background(), router.ModeStandardResearch, nil)
	require.True(t, ok)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		idx := i
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(idx) * 10 * time.Millisecond)
			ticket, ok := c.Acquire(context.Background(), router.ModeStandardResearch, nil)
			require.True(t, ok)
			mu.Lock()
			order = append(order, idx)
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			ticket.Release()
		}()
	}

	time.Sleep(40 * time.Millisecond) // let all three queue up in order
	first.Release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestAcquireCancelledWhileWaitingReleasesNothing(t *testing.T) {
	c := New(1, 1, 0)
	first, ok := c.Acquire(context.Background(), router.ModeDeepResearch, nil)
	require.True(t, ok)
	defer first.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok = c.Acquire(ctx, router.ModeDeepResearch, nil)
	assert.False(t, ok)

	stats := c.Stats()[router.ModeDeepResearch]
	assert.Equal(t, 1, stats.InUse, "abandoned waiter must not have consumed a slot")
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := New(1, 1, 0)
	ticket, ok := c.Acquire(context.Background(), router.ModeStandardResearch, nil)
	require.True(t, ok)

	ticket.Release()
	ticket.Release()

	second, ok := c.Acquire(context.Background(), router.ModeStandardResearch, nil)
	require.True(t, ok)
	defer second.Release()

	assert.Equal(t, 1, c.Stats()[router.ModeStandardResearch].InUse, "double release must not free two slots")
}

func TestReconfigureAppliesToFutureAcquisitionsOnly(t *testing.T) {
	c := New(1, 1, 0)
	ticket, ok := c.Acquire(context.Background(), router.ModeStandardResearch, nil)
	require.True(t, ok)

	c.Reconfigure(router.ModeStandardResearch, 2)

	second, ok := c.Acquire(context.Background(), router.ModeStandardResearch, nil)
	require.True(t, ok, "capacity increase should admit a second concurrent request")
	defer second.Release()

	ticket.Release()
}
