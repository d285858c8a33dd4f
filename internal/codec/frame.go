package codec

import (
	"encoding/binary"
	"math"

	"marketfeed/internal/model"
	"marketfeed/internal/model/enum"
	"marketfeed/pkg/exception"
)

// FrameSize is the exact length of a fixed trade frame.
const FrameSize = 32

const (
	offType      = 0
	offSymbol    = 1
	offPrice     = 3
	offVolume    = 11
	offTimestamp = 19
	offSide      = 27
	offPadding   = 28
)

// EncodeFrame serializes f into a fixed-size payload backed by dst when it is large enough.
func EncodeFrame(dst []byte, f model.TradeFrame) []byte {
	if cap(dst) < FrameSize {
		dst = make([]byte, FrameSize)
	} else {
		dst = dst[:FrameSize]
	}

	dst[offType] = byte(f.Type)
	binary.BigEndian.PutUint16(dst[offSymbol:offPrice], f.SymbolID)
	binary.BigEndian.PutUint64(dst[offPrice:offVolume], math.Float64bits(f.Price))
	binary.BigEndian.PutUint64(dst[offVolume:offTimestamp], math.Float64bits(f.Volume))
	binary.BigEndian.PutUint64(dst[offTimestamp:offSide], f.Timestamp)
	dst[offSide] = byte(f.Side)
	clear(dst[offPadding:FrameSize])

	return dst
}

// DecodeFrame parses a fixed-size frame. Only exact 32-byte payloads with a known
// type, a 0/1 side and zero padding are accepted.
func DecodeFrame(src []byte) (model.TradeFrame, error) {
	if len(src) != FrameSize {
		return model.TradeFrame{}, exception.ErrFrameSize
	}
	typ := enum.FrameType(src[offType])
	if !typ.IsAvailable() {
		return model.TradeFrame{}, exception.ErrFrameType
	}
	side := enum.Side(src[offSide])
	if !side.IsAvailable() {
		return model.TradeFrame{}, exception.ErrFrameSide
	}
	for _, b := range src[offPadding:FrameSize] {
		if b != 0 {
			return model.TradeFrame{}, exception.ErrFrameSize
		}
	}

	return model.TradeFrame{
		Type:      typ,
		SymbolID:  binary.BigEndian.Uint16(src[offSymbol:offPrice]),
		Price:     math.Float64frombits(binary.BigEndian.Uint64(src[offPrice:offVolume])),
		Volume:    math.Float64frombits(binary.BigEndian.Uint64(src[offVolume:offTimestamp])),
		Timestamp: binary.BigEndian.Uint64(src[offTimestamp:offSide]),
		Side:      side,
	}, nil
}

type fixedDecoder struct{}

func (fixedDecoder) Name() string { return "fixed" }

func (fixedDecoder) Decode(dst []model.TradeFrame, src []byte) ([]model.TradeFrame, bool) {
	f, err := DecodeFrame(src)
	if err != nil {
		return dst, false
	}
	return append(dst, f), true
}
