package cache

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/singleflight"

	"marketfeed/pkg/exception"
)

const (
	DefaultMaxEntries     = 1000
	DefaultMaxMemoryBytes = 16 << 20
	DefaultTTL            = 5 * time.Minute
	DefaultPruneInterval  = 60 * time.Second

	// DefaultEntrySize is charged when a value cannot be serialized.
	DefaultEntrySize = 1 << 10
)

type Config struct {
	Name           string
	MaxEntries     int
	MaxMemoryBytes int64
	DefaultTTL     time.Duration
	// PruneInterval < 0 disables the background sweep.
	PruneInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.MaxMemoryBytes <= 0 {
		c.MaxMemoryBytes = DefaultMaxMemoryBytes
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.PruneInterval == 0 {
		c.PruneInterval = DefaultPruneInterval
	}
	return c
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now for expiry and LRU bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Stats counts lookups since creation. HitRate is hits/(hits+misses), 0 without lookups.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	TotalSize int64
	ItemCount int
	HitRate   float64
}

// SizeInfo compares usage with the configured bounds.
type SizeInfo struct {
	Entries     int
	MaxEntries  int
	Bytes       int64
	MaxBytes    int64
	EntryUsage  float64
	MemoryUsage float64
}

// Item describes one entry for TopItems.
type Item struct {
	Key            string
	AccessCount    uint64
	SizeBytes      int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

type entry[T any] struct {
	key            string
	data           T
	createdAt      time.Time
	ttl            time.Duration
	accessCount    uint64
	lastAccessedAt time.Time
	sizeBytes      int64
	seq            uint64
	index          int
}

func (e *entry[T]) expired(now time.Time) bool {
	return !now.Before(e.createdAt.Add(e.ttl))
}

// TieredCache is a bounded TTL store with LRU eviction. All methods are safe
// for concurrent use.
type TieredCache[T any] struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	items     map[string]*entry[T]
	lru       lruHeap[T]
	seq       uint64
	totalSize int64
	hits      uint64
	misses    uint64
	evictions uint64

	group singleflight.Group

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New[T any](cfg Config, opts ...Option) *TieredCache[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	c := &TieredCache[T]{
		cfg:   cfg.withDefaults(),
		now:   o.now,
		items: make(map[string]*entry[T]),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if c.cfg.PruneInterval > 0 {
		go c.sweep(c.cfg.PruneInterval)
	} else {
		close(c.done)
	}
	return c
}

func (c *TieredCache[T]) Name() string {
	return c.cfg.Name
}

// Get returns the value of key. An expired entry is purged and reported as a miss.
func (c *TieredCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key, c.now())
}

func (c *TieredCache[T]) getLocked(key string, now time.Time) (T, bool) {
	var zero T
	e, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if e.expired(now) {
		c.removeLocked(e)
		c.evictions++
		c.misses++
		return zero, false
	}

	e.accessCount++
	e.lastAccessedAt = now
	heap.Fix(&c.lru, e.index)
	c.hits++
	return e.data, true
}

// Set stores value under key. ttl <= 0 uses the default TTL. It returns false
// when the value alone exceeds MaxMemoryBytes; such values are never stored.
func (c *TieredCache[T]) Set(key string, value T, ttl time.Duration) bool {
	size := sizeOf(value)
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.items[key]; ok {
		c.removeLocked(old)
	}
	if size > c.cfg.MaxMemoryBytes {
		logs.Warnf("cache %s skip oversized value, err: %+v", c.cfg.Name,
			errors.Wrap(exception.ErrCacheValueTooLarge, "set").With("key", key).With("size", size))
		return false
	}

	for c.lru.Len() > 0 && (len(c.items) >= c.cfg.MaxEntries || c.totalSize+size > c.cfg.MaxMemoryBytes) {
		victim := c.lru[0]
		c.removeLocked(victim)
		c.evictions++
	}

	now := c.now()
	c.seq++
	e := &entry[T]{
		key:            key,
		data:           value,
		createdAt:      now,
		ttl:            ttl,
		lastAccessedAt: now,
		sizeBytes:      size,
		seq:            c.seq,
	}
	c.items[key] = e
	heap.Push(&c.lru, e)
	c.totalSize += size
	return true
}

// GetOrSet returns the cached value or calls factory once for all concurrent
// callers of the same key. Factory errors are returned and nothing is cached.
// The factory runs detached from the caller's cancellation so that one
// impatient caller cannot fail the others; each caller still stops waiting
// when its own ctx ends.
func (c *TieredCache[T]) GetOrSet(ctx context.Context, key string, factory func(ctx context.Context) (T, error), ttl time.Duration) (T, error) {
	var zero T
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	if factory == nil {
		return zero, exception.ErrCacheNilLoader
	}

	fctx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.peek(key); ok {
			return v, nil
		}
		v, err := factory(fctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return zero, errors.Wrap(r.Err, "load cache value").With("cache", c.cfg.Name).With("key", key)
		}
		v, _ := r.Val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// peek reads without touching stats or LRU order.
func (c *TieredCache[T]) peek(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	e, ok := c.items[key]
	if !ok || e.expired(c.now()) {
		return zero, false
	}
	return e.data, true
}

// GetBatch returns the present values of keys.
func (c *TieredCache[T]) GetBatch(keys []string) map[string]T {
	out := make(map[string]T, len(keys))
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, k := range keys {
		if v, ok := c.getLocked(k, now); ok {
			out[k] = v
		}
	}
	return out
}

// SetBatch stores every value with the same ttl and returns how many were stored.
func (c *TieredCache[T]) SetBatch(values map[string]T, ttl time.Duration) int {
	stored := 0
	for k, v := range values {
		if c.Set(k, v, ttl) {
			stored++
		}
	}
	return stored
}

// Delete removes key. Explicit deletes are not evictions.
func (c *TieredCache[T]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// Clear drops every entry. Lookup counters are kept.
func (c *TieredCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry[T])
	clear(c.lru)
	c.lru = c.lru[:0]
	c.totalSize = 0
}

// Prune removes expired entries and returns how many were removed.
func (c *TieredCache[T]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, e := range c.items {
		if e.expired(now) {
			c.removeLocked(e)
			n++
		}
	}
	c.evictions += uint64(n)
	return n
}

func (c *TieredCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *TieredCache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		TotalSize: c.totalSize,
		ItemCount: len(c.items),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *TieredCache[T]) SizeInfo() SizeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SizeInfo{
		Entries:     len(c.items),
		MaxEntries:  c.cfg.MaxEntries,
		Bytes:       c.totalSize,
		MaxBytes:    c.cfg.MaxMemoryBytes,
		EntryUsage:  float64(len(c.items)) / float64(c.cfg.MaxEntries),
		MemoryUsage: float64(c.totalSize) / float64(c.cfg.MaxMemoryBytes),
	}
}

// TopItems returns up to limit entries ordered by access count, then key.
func (c *TieredCache[T]) TopItems(limit int) []Item {
	if limit <= 0 {
		return nil
	}
	c.mu.Lock()
	items := make([]Item, 0, len(c.items))
	for _, e := range c.items {
		items = append(items, Item{
			Key:            e.key,
			AccessCount:    e.accessCount,
			SizeBytes:      e.sizeBytes,
			CreatedAt:      e.createdAt,
			LastAccessedAt: e.lastAccessedAt,
		})
	}
	c.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].AccessCount != items[j].AccessCount {
			return items[i].AccessCount > items[j].AccessCount
		}
		return items[i].Key < items[j].Key
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Destroy stops the background sweep and drops every entry.
func (c *TieredCache[T]) Destroy() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	c.Clear()
}

func (c *TieredCache[T]) sweep(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.Prune(); n > 0 {
				logs.Debugf("cache %s pruned %d expired entries", c.cfg.Name, n)
			}
		}
	}
}

func (c *TieredCache[T]) removeLocked(e *entry[T]) {
	delete(c.items, e.key)
	if e.index >= 0 && e.index < c.lru.Len() && c.lru[e.index] == e {
		heap.Remove(&c.lru, e.index)
	}
	c.totalSize -= e.sizeBytes
}

func sizeOf(v any) int64 {
	b, err := sonic.Marshal(v)
	if err != nil || len(b) == 0 {
		return DefaultEntrySize
	}
	return int64(len(b))
}

// lruHeap orders entries by last access, ties by insertion sequence.
type lruHeap[T any] []*entry[T]

func (h lruHeap[T]) Len() int { return len(h) }

func (h lruHeap[T]) Less(i, j int) bool {
	if !h[i].lastAccessedAt.Equal(h[j].lastAccessedAt) {
		return h[i].lastAccessedAt.Before(h[j].lastAccessedAt)
	}
	return h[i].seq < h[j].seq
}

func (h lruHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *lruHeap[T]) Push(x any) {
	e := x.(*entry[T])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *lruHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
