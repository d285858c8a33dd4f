// Package breaker implements the per-exchange circuit breaker that gates
// connection attempts.
//
// # States
//
//	CLOSED    -> OPEN       consecutive failures reach MaxFailures
//	OPEN      -> HALF_OPEN  ResetTimeout elapsed
//	HALF_OPEN -> CLOSED     the probe succeeded
//	HALF_OPEN -> OPEN       the probe failed, timer restarts
//
// While OPEN every Allow call is refused without I/O. Refusals are reported
// as events, never as errors.
package breaker

import (
	"sync"
	"time"

	"marketfeed/internal/model/enum"
)

const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 60 * time.Second
)

// Event is a breaker notification.
type Event uint8

const (
	EventOpened Event = iota + 1
	EventHalfOpened
	EventReset
	EventRefused
)

func (e Event) String() string {
	switch e {
	case EventOpened:
		return "opened"
	case EventHalfOpened:
		return "half-opened"
	case EventReset:
		return "reset"
	case EventRefused:
		return "refused"
	default:
		return "unknown"
	}
}

// Listener receives breaker events. It is called outside the breaker lock
// and may call back into the breaker.
type Listener func(Event)

type Config struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	return c
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State    enum.BreakerState
	Failures int
	OpenedAt time.Time
}

type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    enum.BreakerState
	failures int
	probing  bool
	openedAt time.Time
	timer    *time.Timer
	gen      uint64
	stopped  bool

	lmu       sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
}

func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:       cfg.withDefaults(),
		listeners: make(map[uint64]Listener),
	}
}

// Subscribe registers l and returns a func that removes it.
func (b *Breaker) Subscribe(l Listener) (unsubscribe func()) {
	b.lmu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = l
	b.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.lmu.Lock()
			delete(b.listeners, id)
			b.lmu.Unlock()
		})
	}
}

// Allow reports whether a connection attempt may proceed. HALF_OPEN admits
// one probe until Success or Failure settles it.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	allowed := true
	switch b.state {
	case enum.BreakerOpen:
		allowed = false
	case enum.BreakerHalfOpen:
		if b.probing {
			allowed = false
		} else {
			b.probing = true
		}
	}
	b.mu.Unlock()

	if !allowed {
		b.emit(EventRefused)
	}
	return allowed
}

// Success records a successful connection.
func (b *Breaker) Success() {
	b.mu.Lock()
	var ev Event
	switch b.state {
	case enum.BreakerClosed:
		b.failures = 0
	case enum.BreakerHalfOpen:
		b.state = enum.BreakerClosed
		b.failures = 0
		b.probing = false
		b.openedAt = time.Time{}
		ev = EventReset
	}
	b.mu.Unlock()

	if ev != 0 {
		b.emit(ev)
	}
}

// Failure records a failed connection.
func (b *Breaker) Failure() {
	b.mu.Lock()
	b.failures++
	var ev Event
	switch b.state {
	case enum.BreakerClosed:
		if b.failures >= b.cfg.MaxFailures {
			b.openLocked()
			ev = EventOpened
		}
	case enum.BreakerHalfOpen:
		b.openLocked()
		ev = EventOpened
	}
	b.mu.Unlock()

	if ev != 0 {
		b.emit(ev)
	}
}

func (b *Breaker) openLocked() {
	b.state = enum.BreakerOpen
	b.probing = false
	b.openedAt = time.Now()
	if b.timer != nil {
		b.timer.Stop()
	}
	if b.stopped {
		return
	}
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(b.cfg.ResetTimeout, func() { b.halfOpen(gen) })
}

func (b *Breaker) halfOpen(gen uint64) {
	b.mu.Lock()
	if b.stopped || gen != b.gen || b.state != enum.BreakerOpen {
		b.mu.Unlock()
		return
	}
	b.state = enum.BreakerHalfOpen
	b.probing = false
	b.timer = nil
	b.mu.Unlock()

	b.emit(EventHalfOpened)
}

func (b *Breaker) State() enum.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:    b.state,
		Failures: b.failures,
		OpenedAt: b.openedAt,
	}
}

// Stop cancels the pending reset timer. A stopped breaker never half-opens.
func (b *Breaker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Breaker) emit(ev Event) {
	b.lmu.Lock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.lmu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}
