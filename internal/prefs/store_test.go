package prefs

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"marketfeed/internal/cache"
	"marketfeed/internal/model"
	"marketfeed/pkg/exception"
)

type fakeSource struct {
	mu    sync.Mutex
	data  map[string]model.Preference
	reads int
}

func newFakeSource() *fakeSource {
	return &fakeSource{data: map[string]model.Preference{}}
}

func (f *fakeSource) Get(_ context.Context, userID, key string) (model.Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	p, ok := f.data[model.PreferenceKey(userID, key)]
	if !ok {
		return model.Preference{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeSource) Put(_ context.Context, p model.Preference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[model.PreferenceKey(p.UserID, p.Key)] = p
	return nil
}

func (f *fakeSource) Delete(_ context.Context, userID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, model.PreferenceKey(userID, key))
	return nil
}

func (f *fakeSource) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func newCached(t *testing.T) (*Cached, *fakeSource, *cache.TieredCache[model.Preference]) {
	t.Helper()
	src := newFakeSource()
	c := cache.New[model.Preference](cache.Config{Name: cache.NamePreference, PruneInterval: -1})
	t.Cleanup(c.Destroy)
	cached, err := NewCached(src, c, 0)
	require.NoError(t, err)
	return cached, src, c
}

func TestCachedReadThrough(t *testing.T) {
	cached, src, c := newCached(t)
	ctx := context.Background()

	require.NoError(t, cached.Put(ctx, model.Preference{UserID: "u1", Key: "watchlist", Value: "BTCUSDT,ETHUSDT"}))

	for i := 0; i < 3; i++ {
		p, err := cached.Get(ctx, "u1", "watchlist")
		require.NoError(t, err)
		assert.Equal(t, "BTCUSDT,ETHUSDT", p.Value)
	}
	assert.Equal(t, 1, src.readCount())

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
}

func TestCachedInvalidatesOnWrite(t *testing.T) {
	cached, src, _ := newCached(t)
	ctx := context.Background()

	require.NoError(t, cached.Put(ctx, model.Preference{UserID: "u1", Key: "exchange", Value: "binance"}))
	_, err := cached.Get(ctx, "u1", "exchange")
	require.NoError(t, err)

	require.NoError(t, cached.Put(ctx, model.Preference{UserID: "u1", Key: "exchange", Value: "okx"}))
	p, err := cached.Get(ctx, "u1", "exchange")
	require.NoError(t, err)
	assert.Equal(t, "okx", p.Value)
	assert.Equal(t, 2, src.readCount())

	require.NoError(t, cached.Delete(ctx, "u1", "exchange"))
	_, err = cached.Get(ctx, "u1", "exchange")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCachedMissIsNotCached(t *testing.T) {
	cached, src, c := newCached(t)
	ctx := context.Background()

	_, err := cached.Get(ctx, "u2", "theme")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = cached.Get(ctx, "u2", "theme")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 2, src.readCount())
	assert.Equal(t, 0, c.Len())
}

func TestNewRejectsNil(t *testing.T) {
	_, err := NewStore(nil)
	assert.True(t, errors.Is(err, exception.ErrNilInstance))

	_, err = NewCached(nil, nil, 0)
	assert.True(t, errors.Is(err, exception.ErrNilInstance))
}
