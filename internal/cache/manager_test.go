package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"marketfeed/internal/model"
	"marketfeed/internal/model/enum"
	"marketfeed/pkg/exception"
)

func TestManagerStats(t *testing.T) {
	cfg := DefaultManagerConfig()
	cfg.MarketData.PruneInterval = -1
	cfg.Derived.PruneInterval = -1
	cfg.Upstream.PruneInterval = -1
	cfg.Preference.PruneInterval = -1
	clock := newFakeClock()
	m := NewManager(cfg, WithClock(clock.Now))
	defer m.Destroy()

	assert.Equal(t, []string{NameMarketData, NameDerived, NameUpstream, NamePreference}, m.Names())

	key := model.TickerKey(enum.ExchangeBinance, "btcusdt")
	m.MarketData.Set(key, model.Ticker{Exchange: enum.ExchangeBinance, Symbol: "BTCUSDT", Price: 1}, 0)
	m.Upstream.Set("https://api.test/ticker", []byte(`{"price":"1"}`), 0)

	_, _ = m.MarketData.Get(key)
	_, _ = m.MarketData.Get(key)
	_, _ = m.Derived.Get("BTCUSDT")

	all := m.AllStats()
	require.Len(t, all, 4)
	md := all[NameMarketData]
	assert.Equal(t, uint64(2), md.Stats.Hits)
	require.Len(t, md.Top, 1)
	assert.Equal(t, key, md.Top[0].Key)
	assert.Equal(t, uint64(1), all[NameDerived].Stats.Misses)

	overall := m.OverallStats()
	assert.Equal(t, 4, overall.Caches)
	assert.Equal(t, uint64(2), overall.Hits)
	assert.Equal(t, uint64(1), overall.Misses)
	assert.Equal(t, 2, overall.ItemCount)
	assert.InDelta(t, 2.0/3.0, overall.HitRate, 1e-9)
	assert.Equal(t, md.Stats.TotalSize+all[NameUpstream].Stats.TotalSize, overall.TotalSize)

	clock.Advance(time.Hour)
	pruned := m.PruneAll()
	assert.Equal(t, 1, pruned[NameMarketData])
	assert.Equal(t, 1, pruned[NameUpstream])
	assert.Equal(t, 0, m.OverallStats().ItemCount)
}

func TestManagerClear(t *testing.T) {
	m := NewManager(ManagerConfig{
		MarketData: Config{PruneInterval: -1},
		Derived:    Config{PruneInterval: -1},
		Upstream:   Config{PruneInterval: -1},
		Preference: Config{PruneInterval: -1},
	})
	defer m.Destroy()

	m.Preference.Set(model.PreferenceKey("u1", "theme"), model.Preference{UserID: "u1", Key: "theme", Value: "dark"}, 0)
	m.Derived.Set("BTCUSDT", model.View{Symbol: "BTCUSDT"}, 0)

	require.NoError(t, m.Clear(NamePreference))
	assert.Equal(t, 0, m.Preference.Len())
	assert.Equal(t, 1, m.Derived.Len())
	assert.True(t, errors.Is(m.Clear("nope"), exception.ErrCacheUnknownName))

	m.ClearAll()
	assert.Equal(t, 0, m.OverallStats().ItemCount)
}
