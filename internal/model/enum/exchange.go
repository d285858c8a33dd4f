package enum

import "strings"

// Exchange identifies an upstream exchange feed.
type Exchange uint8

const (
	_exchange_beg Exchange = iota
	ExchangeBinance
	ExchangeOKX
	ExchangeBybit
	_exchange_end
)

var exchangeNames = [...]string{
	ExchangeBinance: "binance",
	ExchangeOKX:     "okx",
	ExchangeBybit:   "bybit",
}

func (e Exchange) IsAvailable() bool {
	return e > _exchange_beg && e < _exchange_end
}

func (e Exchange) String() string {
	if !e.IsAvailable() {
		return "unknown"
	}
	return exchangeNames[e]
}

// Exchanges lists every available exchange in declaration order.
func Exchanges() []Exchange {
	out := make([]Exchange, 0, int(_exchange_end)-1)
	for e := _exchange_beg + 1; e < _exchange_end; e++ {
		out = append(out, e)
	}
	return out
}

// ParseExchange resolves a case-insensitive exchange name.
func ParseExchange(name string) (Exchange, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for e := _exchange_beg + 1; e < _exchange_end; e++ {
		if exchangeNames[e] == name {
			return e, true
		}
	}
	return 0, false
}

// MaxExchange is the largest available Exchange value, for sizing lookup arrays.
const MaxExchange = _exchange_end - 1
