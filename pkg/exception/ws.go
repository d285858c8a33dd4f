package exception

import "github.com/yanun0323/errors"

// WS errors
var (
	ErrWebSocketNilDialer = errors.New("websocket: nil dialer")
	ErrWebSocketEmptyURL  = errors.New("websocket: empty url")
)
