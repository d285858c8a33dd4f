package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"marketfeed/internal/breaker"
	"marketfeed/internal/codec"
	"marketfeed/internal/model"
	"marketfeed/internal/model/enum"
	"marketfeed/internal/obs"
	"marketfeed/pkg/exception"
	"marketfeed/pkg/websocket"
)

const (
	DefaultPoolSize = 10
	sendTimeout     = 5 * time.Second
)

type ExchangeConfig struct {
	Exchange enum.Exchange
	URL      string
	Symbols  []string
	PoolSize int
}

type Config struct {
	Exchanges   []ExchangeConfig
	Delays      []time.Duration
	MaxAttempts int
	Breaker     breaker.Config
}

// Stats summarizes the members of one exchange.
type Stats struct {
	Total       int
	Open        int
	Connecting  int
	Closing     int
	Closed      int
	LastFailure time.Time
	Breaker     breaker.Snapshot
	Members     []MemberStats
}

type Option func(*Pool)

// WithMetrics reports pool signals to m.
func WithMetrics(m obs.Metrics) Option {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithWait replaces the reconnect delay. fn returns false when ctx ended first.
func WithWait(fn func(ctx context.Context, d time.Duration) bool) Option {
	return func(p *Pool) {
		if fn != nil {
			p.wait = fn
		}
	}
}

// Pool keeps PoolSize sockets open per exchange.
type Pool struct {
	cfg     Config
	codec   *codec.Codec
	dialer  websocket.Dialer
	metrics obs.Metrics
	wait    func(ctx context.Context, d time.Duration) bool
	ids     *obs.Sequence

	streams map[enum.Exchange]*stream
	order   []enum.Exchange

	prices        observers[model.PriceEvent]
	breakerEvents observers[BreakerEvent]

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      conc.WaitGroup
}

func New(cfg Config, c *codec.Codec, dialer websocket.Dialer, opts ...Option) (*Pool, error) {
	if c == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "nil codec")
	}
	if dialer == nil {
		return nil, exception.ErrWebSocketNilDialer
	}
	if len(cfg.Exchanges) == 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "no exchange configured")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = websocket.DefaultMaxAttempts
	}

	p := &Pool{
		cfg:     cfg,
		codec:   c,
		dialer:  dialer,
		metrics: obs.Nop{},
		wait:    sleep,
		ids:     obs.NewSequence(0),
		streams: make(map[enum.Exchange]*stream, len(cfg.Exchanges)),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, ec := range cfg.Exchanges {
		if !ec.Exchange.IsAvailable() {
			return nil, errors.Wrap(exception.ErrUnknownExchange, "new pool").With("exchange", uint8(ec.Exchange))
		}
		if _, ok := p.streams[ec.Exchange]; ok {
			return nil, errors.Wrap(exception.ErrInvalidArgument, "duplicated exchange").With("exchange", ec.Exchange.String())
		}
		if len(ec.Symbols) == 0 {
			return nil, errors.Wrap(exception.ErrInvalidArgument, "no symbols").With("exchange", ec.Exchange.String())
		}
		if ec.URL == "" {
			ec.URL = DefaultURL(ec.Exchange)
		}
		if ec.PoolSize <= 0 {
			ec.PoolSize = DefaultPoolSize
		}
		p.streams[ec.Exchange] = newStream(p, ec)
		p.order = append(p.order, ec.Exchange)
	}

	return p, nil
}

// Start launches every member. It returns immediately; members connect in the background.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return exception.ErrPoolClosed
	}
	if p.started {
		return exception.ErrPoolStarted
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for _, ex := range p.order {
		s := p.streams[ex]
		logs.Infof("start %d %s connections to %s", len(s.members), ex, s.url)
		for _, m := range s.members {
			p.wg.Go(func() { m.run(ctx) })
		}
	}
	return nil
}

// Close terminates every connection, cancels pending reconnects and breaker
// timers, and waits for member goroutines. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	started := p.started
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	for _, ex := range p.order {
		p.streams[ex].close()
	}
	if started {
		p.wg.Wait()
	}
	logs.Info("connection pool closed")
}

// Exchanges lists the configured exchanges in configuration order.
func (p *Pool) Exchanges() []enum.Exchange {
	out := make([]enum.Exchange, len(p.order))
	copy(out, p.order)
	return out
}

// ObservePrices registers handler for every decoded frame of every exchange.
func (p *Pool) ObservePrices(handler func(model.PriceEvent)) (unsubscribe func()) {
	return p.prices.add(handler)
}

// ObserveBreaker registers handler for breaker transitions and refusals.
func (p *Pool) ObserveBreaker(handler func(BreakerEvent)) (unsubscribe func()) {
	return p.breakerEvents.add(handler)
}

// SendBinaryMessage encodes frame and writes it to one OPEN member of exchange.
// Without an OPEN member the frame is dropped; nothing is buffered.
func (p *Pool) SendBinaryMessage(exchange enum.Exchange, frame model.TradeFrame) bool {
	s, ok := p.streams[exchange]
	if !ok {
		logs.Warnf("send dropped, err: %+v", errors.Wrap(exception.ErrUnknownExchange, "send").With("exchange", exchange.String()))
		return false
	}

	var buf [codec.FrameSize]byte
	payload := codec.EncodeFrame(buf[:], frame)

	m := s.pickOpen()
	if m == nil {
		p.metrics.IncDroppedSend(exchange)
		logs.Warnf("%s send dropped, err: %+v", exchange, exception.ErrNoOpenConnection)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := m.write(ctx, payload); err != nil {
		p.metrics.IncDroppedSend(exchange)
		logs.Warnf("%s member %d send dropped, err: %+v", exchange, m.id, err)
		return false
	}
	return true
}

// ConnectionStats returns member counts per exchange.
func (p *Pool) ConnectionStats() map[enum.Exchange]Stats {
	out := make(map[enum.Exchange]Stats, len(p.streams))
	for ex, s := range p.streams {
		out[ex] = s.stats()
	}
	return out
}

// BreakerState returns the breaker state of exchange.
func (p *Pool) BreakerState(exchange enum.Exchange) (enum.BreakerState, bool) {
	s, ok := p.streams[exchange]
	if !ok {
		return 0, false
	}
	return s.breaker.State(), true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-sys.Shutdown():
		return false
	}
}
