package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"marketfeed/internal/cache"
	"marketfeed/internal/model"
	"marketfeed/internal/model/enum"
	"marketfeed/pkg/exception"
)

func newServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"43000.10000000"}`))
	})
	mux.HandleFunc("/api/v5/market/ticker", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("instId") != "ETH-USDT" {
			_, _ = w.Write([]byte(`{"code":"51001","msg":"Instrument ID does not exist","data":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"ETH-USDT","last":"2300.5","lastSz":"0.2","ts":"1700000000000"}]}`))
	})
	mux.HandleFunc("/v5/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "spot", r.URL.Query().Get("category"))
		_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"category":"spot","list":[{"symbol":"SOLUSDT","lastPrice":"101.25"}]},"time":1700000000123}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(t *testing.T, srv *httptest.Server, upstream *cache.TieredCache[[]byte]) *Fetcher {
	t.Helper()
	endpoints := map[enum.Exchange]Endpoint{}
	for _, ex := range enum.Exchanges() {
		endpoints[ex] = Endpoint{BaseURL: srv.URL, RPS: 1000, Burst: 1000}
	}
	return New(Config{Endpoints: endpoints, TTL: time.Minute}, upstream, srv.Client())
}

func TestFetcherTicker(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	f := newTestFetcher(t, srv, nil)

	testCases := []struct {
		exchange enum.Exchange
		symbol   string
		price    float64
		ts       uint64
	}{
		{enum.ExchangeBinance, "btc-usdt", 43000.1, 0},
		{enum.ExchangeOKX, "ETHUSDT", 2300.5, 1700000000000},
		{enum.ExchangeBybit, "SOLUSDT", 101.25, 1700000000123},
	}
	for _, tc := range testCases {
		t.Run(tc.exchange.String(), func(t *testing.T) {
			ticker, err := f.Ticker(context.Background(), tc.exchange, tc.symbol)
			require.NoError(t, err)
			assert.Equal(t, tc.exchange, ticker.Exchange)
			assert.Equal(t, tc.price, ticker.Price)
			assert.Equal(t, model.SourceREST, ticker.Source)
			if tc.ts != 0 {
				assert.Equal(t, tc.ts, ticker.Timestamp)
			} else {
				assert.NotZero(t, ticker.Timestamp)
			}
		})
	}
}

func TestFetcherErrors(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	f := newTestFetcher(t, srv, nil)

	_, err := f.Ticker(context.Background(), enum.ExchangeBinance, "DOGEUSDT")
	assert.True(t, errors.Is(err, exception.ErrUpstreamStatus))

	_, err = f.Ticker(context.Background(), enum.ExchangeOKX, "XRP-USDT")
	assert.True(t, errors.Is(err, exception.ErrUpstreamRejected))

	_, err = f.Ticker(context.Background(), enum.Exchange(0), "BTCUSDT")
	assert.True(t, errors.Is(err, exception.ErrUpstreamUnsupported))
}

func TestFetcherSharesUpstreamResponse(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	upstream := cache.New[[]byte](cache.Config{Name: "upstream", PruneInterval: -1})
	defer upstream.Destroy()
	f := newTestFetcher(t, srv, upstream)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Ticker(context.Background(), enum.ExchangeBinance, "BTCUSDT")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	_, err := f.Ticker(context.Background(), enum.ExchangeBinance, "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, int32(1), hits.Load())
	u, err := f.URL(enum.ExchangeBinance, "BTCUSDT")
	require.NoError(t, err)
	_, ok := upstream.Get(u)
	assert.True(t, ok)
}

func TestFetcherRateLimited(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	f := New(Config{Endpoints: map[enum.Exchange]Endpoint{
		enum.ExchangeBybit: {BaseURL: srv.URL, RPS: 0.001, Burst: 1},
	}}, nil, srv.Client())

	_, err := f.Ticker(context.Background(), enum.ExchangeBybit, "SOLUSDT")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.Ticker(ctx, enum.ExchangeBybit, "SOLUSDT")
	assert.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestOKXInstID(t *testing.T) {
	assert.Equal(t, "BTC-USDT", OKXInstID("BTCUSDT"))
	assert.Equal(t, "BTC-USDT", OKXInstID("btc-usdt"))
	assert.Equal(t, "ETH-BTC", OKXInstID("eth/btc"))
	assert.Equal(t, "XYZ", OKXInstID("xyz"))
}
