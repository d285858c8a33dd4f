package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"marketfeed/pkg/exception"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache[T any](t *testing.T, cfg Config, clock *fakeClock) *TieredCache[T] {
	t.Helper()
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = -1
	}
	c := New[T](cfg, WithClock(clock.Now))
	t.Cleanup(c.Destroy)
	return c
}

func TestGetSetPresence(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache[string](t, Config{Name: "t", DefaultTTL: time.Minute}, clock)

	_, ok := c.Get("a")
	assert.False(t, ok)

	require.True(t, c.Set("a", "alpha", 0))
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "alpha", v)

	require.True(t, c.Set("a", "again", 0))
	v, _ = c.Get("a")
	assert.Equal(t, "again", v)
	assert.Equal(t, 1, c.Len())

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
	assert.Equal(t, int64(len(`"again"`)), stats.TotalSize)
}

func TestHitRateWithoutLookups(t *testing.T) {
	c := newTestCache[int](t, Config{}, newFakeClock())
	assert.Equal(t, 0.0, c.Stats().HitRate)
}

func TestExpiry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache[int](t, Config{DefaultTTL: time.Minute}, clock)

	c.Set("short", 1, 10*time.Second)
	c.Set("long", 2, 0)

	clock.Advance(9 * time.Second)
	_, ok := c.Get("short")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("short")
	assert.False(t, ok, "expires at exactly ttl")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.ItemCount)

	clock.Advance(time.Minute)
	assert.Equal(t, 1, c.Prune())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Stats().TotalSize)
	assert.Equal(t, uint64(2), c.Stats().Evictions)
}

func TestBoundedEntries(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache[int](t, Config{MaxEntries: 3}, clock)

	for i := 0; i < 10; i++ {
		clock.Advance(time.Millisecond)
		c.Set(fmt.Sprintf("k%d", i), i, 0)
		require.LessOrEqual(t, c.Len(), 3)
	}
	assert.Equal(t, uint64(7), c.Stats().Evictions)
	got := c.GetBatch([]string{"k7", "k8", "k9", "k0"})
	assert.Equal(t, map[string]int{"k7": 7, "k8": 8, "k9": 9}, got)
}

func TestBoundedMemory(t *testing.T) {
	clock := newFakeClock()
	// "xxxxxxxx" marshals to 10 bytes
	c := newTestCache[string](t, Config{MaxMemoryBytes: 25}, clock)

	c.Set("a", "xxxxxxxx", 0)
	c.Set("b", "xxxxxxxx", 0)
	assert.Equal(t, int64(20), c.Stats().TotalSize)

	c.Set("c", "xxxxxxxx", 0)
	assert.Equal(t, int64(20), c.Stats().TotalSize)
	_, ok := c.Get("a")
	assert.False(t, ok)

	assert.False(t, c.Set("huge", "this value is far larger than the bound", 0))
	_, ok = c.Get("huge")
	assert.False(t, ok)
	assert.LessOrEqual(t, c.Stats().TotalSize, int64(25))

	info := c.SizeInfo()
	assert.Equal(t, int64(25), info.MaxBytes)
	assert.InDelta(t, 20.0/25.0, info.MemoryUsage, 1e-9)
}

func TestLRUEviction(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache[int](t, Config{MaxEntries: 3}, clock)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Set("c", 3, 0)

	clock.Advance(time.Second)
	_, _ = c.Get("a")

	c.Set("d", 4, 0)
	_, okB := c.Get("b")
	_, okA := c.Get("a")
	assert.False(t, okB, "b is the least recently used")
	assert.True(t, okA)
}

func TestLRUTieBreaksByInsertion(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache[int](t, Config{MaxEntries: 2}, clock)

	// same timestamp for every entry
	c.Set("first", 1, 0)
	c.Set("second", 2, 0)
	c.Set("third", 3, 0)

	assert.ElementsMatch(t, []string{"second", "third"}, keysOf(c.GetBatch([]string{"first", "second", "third"})))
}

func TestDeleteIsNotEviction(t *testing.T) {
	c := newTestCache[int](t, Config{}, newFakeClock())
	c.Set("a", 1, 0)
	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, uint64(0), c.Stats().Evictions)
	assert.Equal(t, int64(0), c.Stats().TotalSize)
}

func TestSetBatchAndClear(t *testing.T) {
	c := newTestCache[int](t, Config{}, newFakeClock())
	assert.Equal(t, 3, c.SetBatch(map[string]int{"a": 1, "b": 2, "c": 3}, 0))
	assert.Equal(t, 3, c.Len())

	_, _ = c.Get("a")
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Hits, "clear keeps lookup counters")

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.lru[:cap(c.lru)] {
		assert.Nil(t, e, "lru slot %d still references an entry", i)
	}
}

func TestTopItems(t *testing.T) {
	c := newTestCache[int](t, Config{}, newFakeClock())
	c.SetBatch(map[string]int{"a": 1, "b": 2, "c": 3, "d": 4}, 0)
	for i := 0; i < 3; i++ {
		c.Get("c")
	}
	c.Get("b")
	c.Get("d")

	top := c.TopItems(3)
	require.Len(t, top, 3)
	assert.Equal(t, "c", top[0].Key)
	assert.Equal(t, uint64(3), top[0].AccessCount)
	assert.Equal(t, "b", top[1].Key, "ties sorted by key")
	assert.Equal(t, "d", top[2].Key)
	assert.Nil(t, c.TopItems(0))
}

func TestGetOrSetSingleFlight(t *testing.T) {
	c := newTestCache[int](t, Config{}, newFakeClock())

	var calls atomic.Int32
	release := make(chan struct{})
	factory := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]int, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrSet(context.Background(), "k", factory, 0)
		}(i)
	}

	// let every caller reach the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, 42, results[i])
	}

	v, err := c.GetOrSet(context.Background(), "k", factory, 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrSetFactoryError(t *testing.T) {
	c := newTestCache[int](t, Config{}, newFakeClock())

	_, err := c.GetOrSet(context.Background(), "k", func(context.Context) (int, error) {
		return 0, assert.AnError
	}, 0)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, c.Len())

	_, err = c.GetOrSet(context.Background(), "k", nil, 0)
	assert.True(t, errors.Is(err, exception.ErrCacheNilLoader))
}

func TestGetOrSetCallerCancel(t *testing.T) {
	c := newTestCache[int](t, Config{}, newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release := make(chan struct{})
	defer close(release)
	_, err := c.GetOrSet(ctx, "k", func(context.Context) (int, error) {
		<-release
		return 1, nil
	}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweeper(t *testing.T) {
	clock := newFakeClock()
	c := New[int](Config{DefaultTTL: time.Second, PruneInterval: 5 * time.Millisecond}, WithClock(clock.Now))
	defer c.Destroy()

	c.Set("a", 1, 0)
	clock.Advance(2 * time.Second)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func keysOf[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
