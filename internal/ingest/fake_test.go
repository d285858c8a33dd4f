package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yanun0323/errors"

	"marketfeed/pkg/websocket"
)

var (
	errDialRefused = errors.New("dial refused")
	errConnReset   = errors.New("connection reset by peer")
	errConnClosed  = errors.New("use of closed connection")
)

type fakeMessage struct {
	msgType websocket.MessageType
	payload []byte
	err     error
}

type fakeConn struct {
	in        chan fakeMessage
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
	types   []websocket.MessageType
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan fakeMessage, 32),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case msg := <-c.in:
		if msg.err != nil {
			return 0, nil, msg.err
		}
		return msg.msgType, msg.payload, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, msgType websocket.MessageType, payload []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), payload...))
	c.types = append(c.types, msgType)
	return nil
}

func (c *fakeConn) Close(websocket.CloseCode, string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(msgType websocket.MessageType, payload []byte) {
	c.in <- fakeMessage{msgType: msgType, payload: payload}
}

func (c *fakeConn) fail(err error) {
	c.in <- fakeMessage{err: err}
}

func (c *fakeConn) writes() ([][]byte, []websocket.MessageType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...), append([]websocket.MessageType(nil), c.types...)
}

// fakeDialer fails the first failures dials, or every dial when failures < 0.
type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	failures int
	urls     []string
	conns    chan *fakeConn
}

func newFakeDialer(failures int) *fakeDialer {
	return &fakeDialer{failures: failures, conns: make(chan *fakeConn, 64)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (websocket.Conn, error) {
	d.mu.Lock()
	d.dials++
	d.urls = append(d.urls, url)
	fail := d.failures < 0 || d.dials <= d.failures
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail {
		return nil, errDialRefused
	}
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection dialed")
		return nil
	}
}

// delayRecorder replaces the reconnect sleep and returns immediately.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) wait(ctx context.Context, d time.Duration) bool {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err() == nil
}

func (r *delayRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}
