package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketfeed/pkg/exception"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReadLimit        = 1 << 20
	closeWriteTimeout       = time.Second
)

// GorillaDialer dials real sockets with gorilla/websocket.
type GorillaDialer struct {
	dialer    *websocket.Dialer
	header    http.Header
	readLimit int64
}

// NewDialer builds a dialer with a handshake timeout. A zero timeout uses DefaultHandshakeTimeout.
func NewDialer(handshakeTimeout time.Duration, header http.Header) *GorillaDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = handshakeTimeout
	return &GorillaDialer{
		dialer:    &d,
		header:    header,
		readLimit: DefaultReadLimit,
	}
}

func (d *GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if d == nil || d.dialer == nil {
		return nil, exception.ErrWebSocketNilDialer
	}
	if url == "" {
		return nil, exception.ErrWebSocketEmptyURL
	}

	c, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(d.readLimit)
	return &gorillaConn{conn: c}, nil
}

type gorillaConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *gorillaConn) Read(ctx context.Context) (MessageType, []byte, error) {
	if err := setDeadline(ctx, c.conn.SetReadDeadline); err != nil {
		return 0, nil, err
	}
	mt, payload, err := c.conn.ReadMessage()
	if err != nil {
		if ce, ok := err.(*websocket.CloseError); ok {
			return 0, nil, &CloseError{Code: CloseCode(ce.Code), Reason: ce.Text}
		}
		return 0, nil, err
	}
	return MessageType(mt), payload, nil
}

func (c *gorillaConn) Write(ctx context.Context, msgType MessageType, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := setDeadline(ctx, c.conn.SetWriteDeadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(int(msgType), payload)
}

func (c *gorillaConn) Close(code CloseCode, reason string) error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(int(code), reason), time.Now().Add(closeWriteTimeout))
	c.wmu.Unlock()
	return c.conn.Close()
}

func setDeadline(ctx context.Context, set func(time.Time) error) error {
	if ctx == nil {
		return set(time.Time{})
	}
	if deadline, ok := ctx.Deadline(); ok {
		return set(deadline)
	}
	if ctx.Err() != nil {
		return set(time.Now())
	}
	return set(time.Time{})
}
