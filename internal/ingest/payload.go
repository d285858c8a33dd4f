package ingest

import (
	"strings"

	"marketfeed/internal/model/enum"
	"marketfeed/pkg/exception"

	"github.com/yanun0323/errors"
)

// Public trade stream endpoints.
const (
	BinanceStreamURL = "wss://stream.binance.com:9443/ws"
	OKXStreamURL     = "wss://ws.okx.com:8443/ws/v5/public"
	BybitStreamURL   = "wss://stream.bybit.com/v5/public/spot"
)

// DefaultURL returns the public trade stream endpoint of an exchange.
func DefaultURL(exchange enum.Exchange) string {
	switch exchange {
	case enum.ExchangeBinance:
		return BinanceStreamURL
	case enum.ExchangeOKX:
		return OKXStreamURL
	case enum.ExchangeBybit:
		return BybitStreamURL
	default:
		return ""
	}
}

// AppendSubscribe appends the exchange subscribe message for symbols to dst.
// Symbols are written as configured except for Binance, whose stream names are lower case.
func AppendSubscribe(dst []byte, exchange enum.Exchange, id uint64, symbols []string) ([]byte, error) {
	if len(symbols) == 0 {
		return dst, errors.Wrap(exception.ErrInvalidArgument, "no symbols to subscribe").With("exchange", exchange.String())
	}
	for _, s := range symbols {
		if s == "" || strings.ContainsAny(s, "\"\\") {
			return dst, errors.Wrap(exception.ErrInvalidArgument, "invalid symbol").With("symbol", s)
		}
	}

	switch exchange {
	case enum.ExchangeBinance:
		dst = append(dst, `{"method":"SUBSCRIBE","params":[`...)
		for i, s := range symbols {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = append(dst, '"')
			dst = appendLower(dst, s)
			dst = append(dst, `@aggTrade"`...)
		}
		dst = append(dst, `],"id":`...)
		dst = appendUint(dst, id)
		dst = append(dst, '}')
	case enum.ExchangeOKX:
		dst = append(dst, `{"op":"subscribe","args":[`...)
		for i, s := range symbols {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = append(dst, `{"channel":"trades","instId":"`...)
			dst = append(dst, s...)
			dst = append(dst, `"}`...)
		}
		dst = append(dst, `]}`...)
	case enum.ExchangeBybit:
		dst = append(dst, `{"op":"subscribe","args":[`...)
		for i, s := range symbols {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = append(dst, `"publicTrade.`...)
			dst = append(dst, s...)
			dst = append(dst, '"')
		}
		dst = append(dst, `]}`...)
	default:
		return dst, errors.Wrap(exception.ErrUnknownExchange, "encode subscribe").With("exchange", uint8(exchange))
	}
	return dst, nil
}

func appendLower(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		dst = append(dst, c)
	}
	return dst
}

func appendUint(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, '0')
	}

	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}

	return append(dst, buf[i:]...)
}
