package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, opts ...Option) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(context.Background(), append([]Option{WithClock(clock.Now)}, opts...)...)
	t.Cleanup(c.Close)
	return c, clock
}

// counter returns a fetch function yielding "v1", "v2", ... per call.
func counter(n *atomic.Int32) FetchFunc {
	return func(context.Context) (any, error) {
		return fmt.Sprintf("v%d", n.Add(1)), nil
	}
}

var machines = ListKey("machines", "page=1&pageSize=10")

func TestFetch_FreshEntryIsServedWithoutCall(t *testing.T) {
	c, _ := newTestCache(t)
	var n atomic.Int32

	v, err := c.Fetch(context.Background(), machines, DefaultPolicy, counter(&n))
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	v, err = c.Fetch(context.Background(), machines, DefaultPolicy, counter(&n))
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	assert.Equal(t, int32(1), n.Load())
}

func TestFetch_StaleEntryIsServedAndRefreshed(t *testing.T) {
	c, clock := newTestCache(t)
	var n atomic.Int32

	_, err := c.Fetch(context.Background(), machines, DefaultPolicy, counter(&n))
	require.NoError(t, err)

	clock.Advance(DefaultPolicy.Stale + time.Second)

	v, err := c.Fetch(context.Background(), machines, DefaultPolicy, counter(&n))
	require.NoError(t, err)
	assert.Equal(t, "v1", v, "stale value is served immediately")

	assert.Eventually(t, func() bool {
		v, _ := c.Peek(machines)
		return v == "v2"
	}, time.Second, 5*time.Millisecond)
}

func TestFetch_InvalidatedEntryBlocks(t *testing.T) {
	c, _ := newTestCache(t)
	var n atomic.Int32

	_, err := c.Fetch(context.Background(), machines, DefaultPolicy, counter(&n))
	require.NoError(t, err)

	c.Invalidate(Lists("machines"))

	v, err := c.Fetch(context.Background(), machines, DefaultPolicy, counter(&n))
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
}

func TestFetch_ConcurrentCallsShareOneFetch(t *testing.T) {
	c, _ := newTestCache(t)
	var n atomic.Int32
	gate := make(chan struct{})

	fn := func(context.Context) (any, error) {
		n.Add(1)
		<-gate
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Fetch(context.Background(), machines, DefaultPolicy, fn)
		}(i)
	}

	assert.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), n.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestFetch_ErrorIsNotCached(t *testing.T) {
	c, _ := newTestCache(t)
	boom := errors.New("boom")

	_, err := c.Fetch(context.Background(), machines, DefaultPolicy, func(context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok := c.Peek(machines)
	assert.False(t, ok)
}

func TestFetch_CallerContextOnlyStopsWaiting(t *testing.T) {
	c, _ := newTestCache(t)
	gate := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Fetch(ctx, machines, DefaultPolicy, func(context.Context) (any, error) {
		<-gate
		return "late but valid", nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(gate)
	assert.Eventually(t, func() bool {
		v, _ := c.Peek(machines)
		return v == "late but valid"
	}, time.Second, 5*time.Millisecond)
}

func TestLateResponseGuard(t *testing.T) {
	tests := []struct {
		name  string
		apply func(c *Cache)
	}{
		{"invalidate", func(c *Cache) { c.Invalidate(Exact(machines)) }},
		{"remove", func(c *Cache) { c.Remove(Kind("machines")) }},
		{"cancel", func(c *Cache) { c.Cancel(Lists("machines")) }},
		{"set", func(c *Cache) { c.Set(machines, "optimistic") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache(t)
			gate := make(chan struct{})
			started := make(chan struct{})

			done := make(chan struct{})
			go func() {
				defer close(done)
				_, _ = c.Fetch(context.Background(), machines, DefaultPolicy, func(ctx context.Context) (any, error) {
					close(started)
					select {
					case <-gate:
					case <-ctx.Done():
						return nil, ctx.Err()
					}
					return "late", nil
				})
			}()

			<-started
			tt.apply(c)
			close(gate)
			<-done

			// Give the fetch goroutine time to attempt its write.
			time.Sleep(20 * time.Millisecond)
			v, _ := c.Peek(machines)
			assert.NotEqual(t, "late", v)
		})
	}
}

func TestPrefetch(t *testing.T) {
	t.Run("no-op when fresh", func(t *testing.T) {
		c, _ := newTestCache(t)
		var n atomic.Int32
		_, err := c.Fetch(context.Background(), machines, DefaultPolicy, counter(&n))
		require.NoError(t, err)

		assert.False(t, c.Prefetch(machines, DefaultPolicy, counter(&n)))
		assert.Equal(t, int32(1), n.Load())
	})

	t.Run("no-op when in flight", func(t *testing.T) {
		c, _ := newTestCache(t)
		gate := make(chan struct{})
		defer close(gate)
		fn := func(context.Context) (any, error) { <-gate; return "x", nil }

		assert.True(t, c.Prefetch(machines, DefaultPolicy, fn))
		assert.False(t, c.Prefetch(machines, DefaultPolicy, fn))
	})

	t.Run("warms the cache", func(t *testing.T) {
		c, _ := newTestCache(t)
		var n atomic.Int32
		key := ListKey("machines", "page=2&pageSize=10")

		require.True(t, c.Prefetch(key, DefaultPolicy, counter(&n)))
		assert.Eventually(t, func() bool {
			_, ok := c.Peek(key)
			return ok
		}, time.Second, 5*time.Millisecond)

		v, err := c.Fetch(context.Background(), key, DefaultPolicy, counter(&n))
		require.NoError(t, err)
		assert.Equal(t, "v1", v)
		assert.Equal(t, int32(1), n.Load())
	})

	t.Run("dropped under pressure", func(t *testing.T) {
		c, _ := newTestCache(t, WithPrefetchLimit(0, 0))
		var n atomic.Int32

		assert.False(t, c.Prefetch(machines, DefaultPolicy, counter(&n)))
		time.Sleep(10 * time.Millisecond)
		assert.Zero(t, n.Load())
	})
}

func TestOptimisticRollback(t *testing.T) {
	c, _ := newTestCache(t)

	lists := map[Key][]int64{
		ListKey("machines", "page=1&pageSize=2"): {1, 2},
		ListKey("machines", "page=2&pageSize=2"): {3, 4},
		ListKey("machines", "page=3&pageSize=2"): {5},
	}
	for k, v := range lists {
		c.Set(k, v)
	}
	c.Set(DetailKey("machines", 3), "detail-3")
	c.Invalidate(Exact(ListKey("machines", "page=3&pageSize=2")))

	snap := c.Optimistic(Lists("machines"), func(_ Key, old any) (any, bool) {
		ids := old.([]int64)
		out := make([]int64, 0, len(ids))
		for _, id := range ids {
			if id != 3 {
				out = append(out, id)
			}
		}
		return out, len(out) != len(ids)
	})
	assert.Equal(t, []Key{ListKey("machines", "page=2&pageSize=2")}, snap.Keys())

	v, _ := c.Peek(ListKey("machines", "page=2&pageSize=2"))
	assert.Equal(t, []int64{4}, v)

	snap.Rollback()

	for k, want := range lists {
		got, ok := c.Peek(k)
		require.True(t, ok)
		assert.Equal(t, want, got, k.String())
	}
	detail, _ := c.Peek(DetailKey("machines", 3))
	assert.Equal(t, "detail-3", detail)

	// Rollback restores validity too: the invalidated page still refetches.
	var n atomic.Int32
	v, err := c.Fetch(context.Background(), ListKey("machines", "page=3&pageSize=2"), DefaultPolicy, counter(&n))
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
}

func TestClose(t *testing.T) {
	c := New(context.Background())
	started := make(chan struct{})
	stopped := make(chan struct{})

	c.Prefetch(machines, DefaultPolicy, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		close(stopped)
		return nil, ctx.Err()
	})
	<-started
	c.Close()

	select {
	case <-stopped:
	default:
		t.Fatal("background fetch should have been cancelled")
	}

	_, err := c.Fetch(context.Background(), machines, DefaultPolicy, counter(new(atomic.Int32)))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGet(t *testing.T) {
	c, _ := newTestCache(t)
	got, err := Get(context.Background(), c, DetailKey("parts", 1), CatalogPolicy, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	_, err = Get(context.Background(), c, DetailKey("parts", 1), CatalogPolicy, func(context.Context) (string, error) {
		return "", nil
	})
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	for _, k := range []Key{machines, DetailKey("parts", 7), ListKey("parts", "")} {
		parsed, err := ParseKey(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	assert.Equal(t, "machines/detail/9", DetailKey("machines", 9).String())

	_, err := ParseKey("machines/detail/x")
	assert.Error(t, err)
	_, err = ParseKey("nonsense")
	assert.Error(t, err)

	assert.True(t, Lists("machines")(machines))
	assert.False(t, Lists("machines")(DetailKey("machines", 1)))
	assert.True(t, Kind("machines")(DetailKey("machines", 1)))
}
