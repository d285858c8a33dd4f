package model

import (
	"strings"
	"time"

	"marketfeed/internal/model/enum"
)

// TickerSource tells where a cached ticker came from.
type TickerSource uint8

const (
	SourceStream TickerSource = iota + 1
	SourceREST
)

func (s TickerSource) String() string {
	switch s {
	case SourceStream:
		return "stream"
	case SourceREST:
		return "rest"
	default:
		return "unknown"
	}
}

// Ticker is the latest known price of a symbol on one exchange.
type Ticker struct {
	Exchange   enum.Exchange `json:"exchange"`
	Symbol     string        `json:"symbol"`
	Price      float64       `json:"price"`
	Volume     float64       `json:"volume"`
	Timestamp  uint64        `json:"timestamp"`
	Side       enum.Side     `json:"side"`
	ReceivedAt time.Time     `json:"receivedAt"`
	Source     TickerSource  `json:"source"`
}

// TickerKey builds the market data cache key for an exchange/symbol pair.
func TickerKey(exchange enum.Exchange, symbol string) string {
	return exchange.String() + ":" + strings.ToUpper(symbol)
}

// View is a cross-exchange snapshot of one symbol.
type View struct {
	Symbol     string          `json:"symbol"`
	Best       float64         `json:"best"`
	BestOn     enum.Exchange   `json:"bestOn"`
	Worst      float64         `json:"worst"`
	WorstOn    enum.Exchange   `json:"worstOn"`
	Spread     float64         `json:"spread"`
	LatestTs   uint64          `json:"latestTs"`
	Exchanges  []enum.Exchange `json:"exchanges"`
	ComputedAt time.Time       `json:"computedAt"`
}

// BuildView folds tickers of the same symbol into a View. Zero tickers yield ok=false.
func BuildView(symbol string, tickers []Ticker) (View, bool) {
	if len(tickers) == 0 {
		return View{}, false
	}
	v := View{
		Symbol:    symbol,
		Best:      tickers[0].Price,
		BestOn:    tickers[0].Exchange,
		Worst:     tickers[0].Price,
		WorstOn:   tickers[0].Exchange,
		Exchanges: make([]enum.Exchange, 0, len(tickers)),
	}
	for _, t := range tickers {
		if t.Price > v.Best {
			v.Best, v.BestOn = t.Price, t.Exchange
		}
		if t.Price < v.Worst {
			v.Worst, v.WorstOn = t.Price, t.Exchange
		}
		if t.Timestamp > v.LatestTs {
			v.LatestTs = t.Timestamp
		}
		v.Exchanges = append(v.Exchanges, t.Exchange)
	}
	v.Spread = v.Best - v.Worst
	return v, true
}
