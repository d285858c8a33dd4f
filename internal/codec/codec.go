// Package codec converts exchange socket messages into trade frames.
//
// # Strategies
//
// A message is offered to each Decoder in order: fixed 32-byte frames, compact
// protobuf-wire frames, then JSON text. The first decoder that accepts the
// payload wins. Text messages may carry several trades or none (acks, pongs).
package codec

import (
	"marketfeed/internal/model"
	"marketfeed/pkg/exception"

	"github.com/yanun0323/errors"
)

// Decoder is one decode strategy. It appends the frames carried by src to dst
// and reports whether it recognized the payload.
type Decoder interface {
	Name() string
	Decode(dst []model.TradeFrame, src []byte) ([]model.TradeFrame, bool)
}

// Codec is safe for concurrent use; it holds no mutable state.
type Codec struct {
	symbols  *SymbolTable
	decoders []Decoder
}

// New builds a codec with the default strategy chain.
func New(symbols *SymbolTable) *Codec {
	return &Codec{
		symbols: symbols,
		decoders: []Decoder{
			fixedDecoder{},
			compactDecoder{},
			textDecoder{symbols: symbols},
		},
	}
}

// NewWithDecoders builds a codec with a caller supplied chain.
func NewWithDecoders(symbols *SymbolTable, decoders ...Decoder) *Codec {
	return &Codec{symbols: symbols, decoders: decoders}
}

func (c *Codec) Symbols() *SymbolTable {
	return c.symbols
}

// Encode writes f as a fixed frame.
func (c *Codec) Encode(f model.TradeFrame) [FrameSize]byte {
	var buf [FrameSize]byte
	EncodeFrame(buf[:], f)
	return buf
}

// Decode returns the first frame carried by src.
func (c *Codec) Decode(src []byte) (model.TradeFrame, error) {
	var scratch [1]model.TradeFrame
	frames, err := c.DecodeAppend(scratch[:0], src)
	if err != nil {
		return model.TradeFrame{}, err
	}
	if len(frames) == 0 {
		return model.TradeFrame{}, exception.ErrNoFrame
	}
	return frames[0], nil
}

// DecodeAppend appends every frame carried by src to dst. A recognized control
// message returns dst unchanged and a nil error.
func (c *Codec) DecodeAppend(dst []model.TradeFrame, src []byte) ([]model.TradeFrame, error) {
	if len(src) == 0 {
		return dst, errors.Wrap(exception.ErrDecodeFailed, "empty payload")
	}
	for _, d := range c.decoders {
		out, ok := d.Decode(dst, src)
		if ok {
			return out, nil
		}
	}
	return dst, errors.Wrap(exception.ErrDecodeFailed, "no decoder accepted payload").With("size", len(src))
}

// PriceData resolves the frame symbol and returns the normalized update.
func (c *Codec) PriceData(f model.TradeFrame) model.PriceData {
	return model.PriceData{
		Type:      f.Type,
		Symbol:    c.symbols.Name(f.SymbolID),
		Price:     f.Price,
		Volume:    f.Volume,
		Timestamp: f.Timestamp,
		Side:      f.Side,
	}
}
