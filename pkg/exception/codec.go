package exception

import "github.com/yanun0323/errors"

// Codec errors
var (
	ErrDecodeFailed     = errors.New("codec: no decoder accepted the payload")
	ErrFrameSize        = errors.New("codec: frame is not 32 bytes")
	ErrFrameType        = errors.New("codec: invalid frame type")
	ErrFrameSide        = errors.New("codec: invalid frame side")
	ErrSymbolTableFull  = errors.New("codec: symbol table is full")
	ErrSymbolEmpty      = errors.New("codec: symbol name is empty")
	ErrSymbolDuplicated = errors.New("codec: symbol already registered")
	ErrNoFrame          = errors.New("codec: payload carries no frame")
)
