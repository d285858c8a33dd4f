package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfeed/internal/model/enum"
)

func TestTickerKey(t *testing.T) {
	assert.Equal(t, "binance:BTCUSDT", TickerKey(enum.ExchangeBinance, "btcusdt"))
	assert.Equal(t, "okx:BTC-USDT", TickerKey(enum.ExchangeOKX, "BTC-USDT"))
}

func TestBuildView(t *testing.T) {
	_, ok := BuildView("BTCUSDT", nil)
	require.False(t, ok)

	v, ok := BuildView("BTCUSDT", []Ticker{
		{Exchange: enum.ExchangeBinance, Price: 100, Timestamp: 10},
		{Exchange: enum.ExchangeOKX, Price: 101.5, Timestamp: 30},
		{Exchange: enum.ExchangeBybit, Price: 99.5, Timestamp: 20},
	})
	require.True(t, ok)
	assert.Equal(t, 101.5, v.Best)
	assert.Equal(t, enum.ExchangeOKX, v.BestOn)
	assert.Equal(t, 99.5, v.Worst)
	assert.Equal(t, enum.ExchangeBybit, v.WorstOn)
	assert.InDelta(t, 2.0, v.Spread, 1e-9)
	assert.Equal(t, uint64(30), v.LatestTs)
	assert.Len(t, v.Exchanges, 3)
}
