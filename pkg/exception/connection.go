package exception

import "github.com/yanun0323/errors"

// Connection errors
var (
	ErrConnectionClose   = errors.New("connection closed")
	ErrNoOpenConnection  = errors.New("connection: no open connection in pool")
	ErrUnknownExchange   = errors.New("connection: unknown exchange")
	ErrPoolClosed        = errors.New("connection: pool closed")
	ErrCircuitOpen       = errors.New("connection: circuit breaker open")
	ErrReconnectExceeded = errors.New("connection: reconnect attempts exhausted")
	ErrPoolStarted       = errors.New("connection: pool already started")
)
