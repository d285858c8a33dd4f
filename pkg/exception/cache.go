package exception

import "github.com/yanun0323/errors"

// Cache errors
var (
	ErrCacheNilLoader     = errors.New("cache: nil factory")
	ErrCacheValueTooLarge = errors.New("cache: value exceeds memory bound")
	ErrCacheUnknownName   = errors.New("cache: unknown cache name")
	ErrNoMarketData       = errors.New("cache: no market data for symbol")
)
