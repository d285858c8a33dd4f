package codec

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"marketfeed/internal/model"
	"marketfeed/internal/model/enum"
)

// Compact frames use the protobuf wire format without a schema file:
// every field is tagged, so the payload describes itself.
const (
	fieldType      protowire.Number = 1
	fieldSymbol    protowire.Number = 2
	fieldPrice     protowire.Number = 3
	fieldVolume    protowire.Number = 4
	fieldTimestamp protowire.Number = 5
	fieldSide      protowire.Number = 6
)

const (
	seenType uint8 = 1 << iota
	seenSymbol
	seenPrice
)

// AppendCompact appends the compact encoding of f to dst.
func AppendCompact(dst []byte, f model.TradeFrame) []byte {
	dst = protowire.AppendTag(dst, fieldType, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(f.Type))
	dst = protowire.AppendTag(dst, fieldSymbol, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(f.SymbolID))
	dst = protowire.AppendTag(dst, fieldPrice, protowire.Fixed64Type)
	dst = protowire.AppendFixed64(dst, math.Float64bits(f.Price))
	dst = protowire.AppendTag(dst, fieldVolume, protowire.Fixed64Type)
	dst = protowire.AppendFixed64(dst, math.Float64bits(f.Volume))
	dst = protowire.AppendTag(dst, fieldTimestamp, protowire.VarintType)
	dst = protowire.AppendVarint(dst, f.Timestamp)
	dst = protowire.AppendTag(dst, fieldSide, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(f.Side))
	return dst
}

// DecodeCompact parses a compact frame. Type, symbol and price are required;
// unknown fields and mismatched wire types reject the payload.
func DecodeCompact(src []byte) (model.TradeFrame, bool) {
	var (
		f    model.TradeFrame
		seen uint8
	)
	if len(src) == 0 {
		return f, false
	}
	for len(src) > 0 {
		num, typ, n := protowire.ConsumeTag(src)
		if n < 0 {
			return f, false
		}
		src = src[n:]

		switch num {
		case fieldType, fieldSymbol, fieldTimestamp, fieldSide:
			if typ != protowire.VarintType {
				return f, false
			}
			v, n := protowire.ConsumeVarint(src)
			if n < 0 {
				return f, false
			}
			src = src[n:]
			switch num {
			case fieldType:
				if v > math.MaxUint8 || !enum.FrameType(v).IsAvailable() {
					return f, false
				}
				f.Type = enum.FrameType(v)
				seen |= seenType
			case fieldSymbol:
				if v > math.MaxUint16 {
					return f, false
				}
				f.SymbolID = uint16(v)
				seen |= seenSymbol
			case fieldTimestamp:
				f.Timestamp = v
			case fieldSide:
				if v > math.MaxUint8 || !enum.Side(v).IsAvailable() {
					return f, false
				}
				f.Side = enum.Side(v)
			}
		case fieldPrice, fieldVolume:
			if typ != protowire.Fixed64Type {
				return f, false
			}
			v, n := protowire.ConsumeFixed64(src)
			if n < 0 {
				return f, false
			}
			src = src[n:]
			if num == fieldPrice {
				f.Price = math.Float64frombits(v)
				seen |= seenPrice
			} else {
				f.Volume = math.Float64frombits(v)
			}
		default:
			return f, false
		}
	}

	if seen != seenType|seenSymbol|seenPrice {
		return model.TradeFrame{}, false
	}
	return f, true
}

type compactDecoder struct{}

func (compactDecoder) Name() string { return "compact" }

func (compactDecoder) Decode(dst []model.TradeFrame, src []byte) ([]model.TradeFrame, bool) {
	f, ok := DecodeCompact(src)
	if !ok {
		return dst, false
	}
	return append(dst, f), true
}
