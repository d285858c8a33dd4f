package cache

import (
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketfeed/internal/model"
	"marketfeed/pkg/exception"
)

// Cache names.
const (
	NameMarketData = "market-data"
	NameDerived    = "derived-view"
	NameUpstream   = "upstream-response"
	NamePreference = "preference"
)

// TopItemsLimit is the number of hot keys reported per cache by AllStats.
const TopItemsLimit = 5

type ManagerConfig struct {
	MarketData Config
	Derived    Config
	Upstream   Config
	Preference Config
}

// DefaultManagerConfig sizes each cache by how volatile its data is.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MarketData: Config{MaxEntries: 10_000, MaxMemoryBytes: 16 << 20, DefaultTTL: 30 * time.Second},
		Derived:    Config{MaxEntries: 1_000, MaxMemoryBytes: 4 << 20, DefaultTTL: 5 * time.Second},
		Upstream:   Config{MaxEntries: 500, MaxMemoryBytes: 8 << 20, DefaultTTL: 10 * time.Second},
		Preference: Config{MaxEntries: 5_000, MaxMemoryBytes: 2 << 20, DefaultTTL: 10 * time.Minute},
	}
}

// statsCache is the type-erased view the manager aggregates over.
type statsCache interface {
	Name() string
	Stats() Stats
	SizeInfo() SizeInfo
	TopItems(limit int) []Item
	Prune() int
	Clear()
	Destroy()
}

// Detail is the per-cache part of AllStats.
type Detail struct {
	Stats Stats
	Size  SizeInfo
	Top   []Item
}

// Overall sums the counters of every cache.
type Overall struct {
	Caches    int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	TotalSize int64
	ItemCount int
	HitRate   float64
}

// Manager owns the named caches of the process.
type Manager struct {
	MarketData *TieredCache[model.Ticker]
	Derived    *TieredCache[model.View]
	Upstream   *TieredCache[[]byte]
	Preference *TieredCache[model.Preference]

	caches []statsCache
}

func NewManager(cfg ManagerConfig, opts ...Option) *Manager {
	cfg.MarketData.Name = NameMarketData
	cfg.Derived.Name = NameDerived
	cfg.Upstream.Name = NameUpstream
	cfg.Preference.Name = NamePreference

	m := &Manager{
		MarketData: New[model.Ticker](cfg.MarketData, opts...),
		Derived:    New[model.View](cfg.Derived, opts...),
		Upstream:   New[[]byte](cfg.Upstream, opts...),
		Preference: New[model.Preference](cfg.Preference, opts...),
	}
	m.caches = []statsCache{m.MarketData, m.Derived, m.Upstream, m.Preference}
	return m
}

// Names lists the managed caches in a stable order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.caches))
	for _, c := range m.caches {
		names = append(names, c.Name())
	}
	return names
}

func (m *Manager) AllStats() map[string]Detail {
	out := make(map[string]Detail, len(m.caches))
	for _, c := range m.caches {
		out[c.Name()] = Detail{
			Stats: c.Stats(),
			Size:  c.SizeInfo(),
			Top:   c.TopItems(TopItemsLimit),
		}
	}
	return out
}

func (m *Manager) OverallStats() Overall {
	o := Overall{Caches: len(m.caches)}
	for _, c := range m.caches {
		s := c.Stats()
		o.Hits += s.Hits
		o.Misses += s.Misses
		o.Evictions += s.Evictions
		o.TotalSize += s.TotalSize
		o.ItemCount += s.ItemCount
	}
	if total := o.Hits + o.Misses; total > 0 {
		o.HitRate = float64(o.Hits) / float64(total)
	}
	return o
}

// PruneAll sweeps expired entries of every cache and returns the removed count per cache.
func (m *Manager) PruneAll() map[string]int {
	out := make(map[string]int, len(m.caches))
	for _, c := range m.caches {
		out[c.Name()] = c.Prune()
	}
	return out
}

func (m *Manager) ClearAll() {
	for _, c := range m.caches {
		c.Clear()
	}
	logs.Info("all caches cleared")
}

// Clear drops the entries of one cache.
func (m *Manager) Clear(name string) error {
	for _, c := range m.caches {
		if c.Name() == name {
			c.Clear()
			return nil
		}
	}
	return errors.Wrap(exception.ErrCacheUnknownName, "clear").With("name", name)
}

// Destroy stops every sweeper and drops all entries.
func (m *Manager) Destroy() {
	for _, c := range m.caches {
		c.Destroy()
	}
}
