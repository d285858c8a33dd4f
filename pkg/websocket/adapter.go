package websocket

import (
	"context"
	"errors"
	"strconv"
)

// Conn is a minimal interface for a WebSocket connection.
// Read blocks until a data message arrives; control frames are handled by the implementation.
type Conn interface {
	Read(ctx context.Context) (MessageType, []byte, error)
	Write(ctx context.Context, msgType MessageType, payload []byte) error
	Close(code CloseCode, reason string) error
}

// Dialer creates new connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// CloseError is returned by Conn.Read when the remote peer sent a close frame.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return "websocket: closed with code " + strconv.Itoa(int(e.Code))
	}
	return "websocket: closed with code " + strconv.Itoa(int(e.Code)) + ": " + e.Reason
}

// CloseCodeOf extracts the remote close code from err.
func CloseCodeOf(err error) (CloseCode, bool) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}

// IsCleanClose reports whether err is a normal remote closure.
func IsCleanClose(err error) bool {
	code, ok := CloseCodeOf(err)
	return ok && code == CloseNormal
}
