package model

import (
	"time"

	"marketfeed/internal/model/enum"
)

// UnknownSymbol is the sentinel name for symbol ids missing from the symbol table.
const UnknownSymbol = "UNKNOWN"

// MaxSafeTimestamp is the largest millisecond timestamp that survives a float64 round trip.
// Text payloads carry numbers through float64, so larger values lose precision there.
const MaxSafeTimestamp = 1<<53 - 1

// TradeFrame is the normalized unit of market data carried on the internal wire.
type TradeFrame struct {
	Type      enum.FrameType
	SymbolID  uint16
	Price     float64
	Volume    float64
	Timestamp uint64 // milliseconds since epoch
	Side      enum.Side
}

// Time converts the frame timestamp to time.Time.
func (f TradeFrame) Time() time.Time {
	return time.UnixMilli(int64(f.Timestamp))
}

// PriceData is the decoded payload delivered to price observers.
type PriceData struct {
	Type      enum.FrameType
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp uint64
	Side      enum.Side
}

// PriceEvent is published once per decoded frame.
type PriceEvent struct {
	Exchange enum.Exchange
	Data     PriceData
}
