package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketfeed/internal/model"
	"marketfeed/pkg/exception"
	"marketfeed/pkg/websocket"
)

const (
	StateConnecting = websocket.StateConnecting
	StateOpen       = websocket.StateOpen
	StateClosing    = websocket.StateClosing
	StateClosed     = websocket.StateClosed
)

// MemberStats is a point-in-time view of one pool member.
type MemberStats struct {
	ID          uint64
	State       websocket.ConnState
	Attempts    int
	LastFailure time.Time
}

type member struct {
	id     uint64
	s      *stream
	state  atomic.Uint32
	delays *websocket.DelayTable

	mu          sync.Mutex
	conn        websocket.Conn
	attempts    int
	lastFailure time.Time

	wmu sync.Mutex
}

func newMember(s *stream, id uint64) *member {
	m := &member{
		id:     id,
		s:      s,
		delays: websocket.NewDelayTable(s.pool.cfg.Delays, s.pool.cfg.MaxAttempts),
	}
	m.state.Store(uint32(StateClosed))
	return m
}

func (m *member) State() websocket.ConnState {
	return websocket.ConnState(m.state.Load())
}

func (m *member) setState(st websocket.ConnState) {
	m.state.Store(uint32(st))
}

// run owns the member for the lifetime of the pool.
func (m *member) run(ctx context.Context) {
	defer m.setState(StateClosed)

	p := m.s.pool
	ex := m.s.exchange
	for {
		if ctx.Err() != nil {
			return
		}

		wake := m.s.parking()
		if !m.s.breaker.Allow() {
			m.setState(StateClosed)
			select {
			case <-wake:
				continue
			case <-ctx.Done():
				return
			}
		}

		err := m.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			logs.Infof("%s member %d closed by remote", ex, m.id)
			return
		}

		m.s.breaker.Failure()
		m.recordFailure()

		delay := m.delays.NextBackOff()
		if delay == backoff.Stop {
			logs.Errorf("%s member %d stopped, err: %+v, last: %+v", ex, m.id,
				errors.Wrap(exception.ErrReconnectExceeded, "reconnect").With("attempts", m.delays.Attempt()), err)
			return
		}
		m.setAttempts(m.delays.Attempt())
		p.metrics.IncReconnect(ex)
		logs.Warnf("%s member %d reconnect in %s (attempt %d), err: %+v", ex, m.id, delay, m.delays.Attempt(), err)

		if !p.wait(ctx, delay) {
			return
		}
	}
}

// session dials, subscribes and reads until the socket drops. A nil error
// means the remote closed normally.
func (m *member) session(ctx context.Context) error {
	p := m.s.pool
	ex := m.s.exchange

	m.setState(StateConnecting)
	conn, err := p.dialer.Dial(ctx, m.s.url)
	if err != nil {
		m.setState(StateClosed)
		return errors.Wrap(err, "dial").With("exchange", ex.String()).With("url", m.s.url)
	}

	payload, err := AppendSubscribe(nil, ex, m.id, m.s.symbols)
	if err == nil {
		err = conn.Write(ctx, websocket.MessageText, payload)
	}
	if err != nil {
		_ = conn.Close(websocket.CloseNormal, "subscribe failed")
		m.setState(StateClosed)
		return errors.Wrap(err, "write subscribe payload").With("payload", string(payload))
	}

	if !m.attach(ctx, conn) {
		_ = conn.Close(websocket.CloseNormal, "pool closed")
		m.setState(StateClosed)
		return ctx.Err()
	}
	defer m.detach()

	m.setState(StateOpen)
	m.s.breaker.Success()
	m.delays.Reset()
	m.setAttempts(0)
	logs.Infof("%s member %d connected", ex, m.id)

	err = m.read(ctx, conn)
	if websocket.IsCleanClose(err) {
		return nil
	}
	return errors.Wrap(err, "read").With("exchange", ex.String())
}

func (m *member) read(ctx context.Context, conn websocket.Conn) error {
	p := m.s.pool
	ex := m.s.exchange
	frames := make([]model.TradeFrame, 0, 8)

	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		frames, err = p.codec.DecodeAppend(frames[:0], payload)
		if err != nil {
			p.metrics.IncDecodeError(ex)
			logs.Debugf("%s member %d dropped message, err: %+v", ex, m.id, err)
			continue
		}

		now := time.Now()
		for _, f := range frames {
			if f.Timestamp > 0 {
				p.metrics.ObserveEventLatency(now.Sub(f.Time()))
			}
			p.prices.publish(model.PriceEvent{
				Exchange: ex,
				Data:     p.codec.PriceData(f),
			})
		}
	}
}

// attach publishes conn for writers. It fails once the pool context is done
// so that Close never misses a connection.
func (m *member) attach(ctx context.Context, conn websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	m.conn = conn
	return true
}

func (m *member) detach() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		m.setState(StateClosing)
		_ = conn.Close(websocket.CloseNormal, "")
	}
	m.setState(StateClosed)
}

func (m *member) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return
	}
	m.setState(StateClosing)
	if err := conn.Close(websocket.CloseNormal, "pool closed"); err != nil {
		logs.Debugf("%s member %d close, err: %+v", m.s.exchange, m.id, err)
	}
}

func (m *member) write(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil || m.State() != StateOpen {
		return exception.ErrConnectionClose
	}

	m.wmu.Lock()
	defer m.wmu.Unlock()
	return conn.Write(ctx, websocket.MessageBinary, payload)
}

func (m *member) recordFailure() {
	m.mu.Lock()
	m.lastFailure = time.Now()
	m.mu.Unlock()
}

func (m *member) setAttempts(n int) {
	m.mu.Lock()
	m.attempts = n
	m.mu.Unlock()
}

func (m *member) snapshot() MemberStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MemberStats{
		ID:          m.id,
		State:       m.State(),
		Attempts:    m.attempts,
		LastFailure: m.lastFailure,
	}
}
