package enum

// FrameType describes the meaning of a wire frame.
type FrameType uint8

const (
	_frame_type_beg FrameType = iota
	FrameTrade
	FrameQuote
	_frame_type_end
)

func (t FrameType) IsAvailable() bool {
	return t > _frame_type_beg && t < _frame_type_end
}

func (t FrameType) String() string {
	switch t {
	case FrameTrade:
		return "trade"
	case FrameQuote:
		return "quote"
	default:
		return "unknown"
	}
}

// Side is the aggressor side of a trade. Wire values: 0 sell, 1 buy.
type Side uint8

const (
	SideSell Side = iota
	SideBuy
)

func (s Side) IsAvailable() bool {
	return s == SideSell || s == SideBuy
}

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}
