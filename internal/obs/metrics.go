package obs

import (
	"sync/atomic"
	"time"

	"marketfeed/internal/model/enum"
)

// Metrics receives operational signals from the ingestion layer.
// Implementations must be safe for concurrent use.
type Metrics interface {
	IncDecodeError(exchange enum.Exchange)
	IncDroppedSend(exchange enum.Exchange)
	IncBreakerRefusal(exchange enum.Exchange)
	IncBreakerTransition(exchange enum.Exchange, state enum.BreakerState)
	IncReconnect(exchange enum.Exchange)
	ObserveEventLatency(d time.Duration)
}

// Nop discards every signal.
type Nop struct{}

func (Nop) IncDecodeError(enum.Exchange)                          {}
func (Nop) IncDroppedSend(enum.Exchange)                          {}
func (Nop) IncBreakerRefusal(enum.Exchange)                       {}
func (Nop) IncBreakerTransition(enum.Exchange, enum.BreakerState) {}
func (Nop) IncReconnect(enum.Exchange)                            {}
func (Nop) ObserveEventLatency(time.Duration)                     {}

var (
	_ Metrics = Nop{}
	_ Metrics = (*Counters)(nil)
)

const exchangeSlots = int(enum.MaxExchange) + 1

// Counters collects lightweight counters and latency stats in memory.
type Counters struct {
	decodeErrors      [exchangeSlots]uint64
	droppedSends      [exchangeSlots]uint64
	breakerRefusals   [exchangeSlots]uint64
	reconnects        [exchangeSlots]uint64
	breakerTransition [exchangeSlots][int(enum.MaxBreakerState) + 1]uint64

	eventLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// ExchangeSnapshot holds the counters of one exchange.
type ExchangeSnapshot struct {
	DecodeErrors       uint64
	DroppedSends       uint64
	BreakerRefusals    uint64
	Reconnects         uint64
	BreakerTransitions map[enum.BreakerState]uint64
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Exchanges    map[enum.Exchange]ExchangeSnapshot
	EventLatency LatencySnapshot
}

// NewCounters allocates a metrics container.
func NewCounters() *Counters {
	return &Counters{}
}

func (m *Counters) IncDecodeError(exchange enum.Exchange) {
	if m == nil {
		return
	}
	m.inc(&m.decodeErrors, exchange)
}

func (m *Counters) IncDroppedSend(exchange enum.Exchange) {
	if m == nil {
		return
	}
	m.inc(&m.droppedSends, exchange)
}

func (m *Counters) IncBreakerRefusal(exchange enum.Exchange) {
	if m == nil {
		return
	}
	m.inc(&m.breakerRefusals, exchange)
}

func (m *Counters) IncReconnect(exchange enum.Exchange) {
	if m == nil {
		return
	}
	m.inc(&m.reconnects, exchange)
}

func (m *Counters) IncBreakerTransition(exchange enum.Exchange, state enum.BreakerState) {
	if m == nil || !exchange.IsAvailable() || state > enum.MaxBreakerState {
		return
	}
	atomic.AddUint64(&m.breakerTransition[exchange][state], 1)
}

// ObserveEventLatency measures receive-to-dispatch latency of price events.
func (m *Counters) ObserveEventLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.eventLatency.Observe(d)
}

func (m *Counters) inc(counters *[exchangeSlots]uint64, exchange enum.Exchange) {
	if !exchange.IsAvailable() {
		return
	}
	atomic.AddUint64(&counters[exchange], 1)
}

// DecodeErrors returns the decode error count of one exchange.
func (m *Counters) DecodeErrors(exchange enum.Exchange) uint64 {
	if m == nil || !exchange.IsAvailable() {
		return 0
	}
	return atomic.LoadUint64(&m.decodeErrors[exchange])
}

// Snapshot returns a copy of the current metrics values. Exchanges without
// any signal are omitted.
func (m *Counters) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	exchanges := make(map[enum.Exchange]ExchangeSnapshot)
	for _, ex := range enum.Exchanges() {
		s := ExchangeSnapshot{
			DecodeErrors:    atomic.LoadUint64(&m.decodeErrors[ex]),
			DroppedSends:    atomic.LoadUint64(&m.droppedSends[ex]),
			BreakerRefusals: atomic.LoadUint64(&m.breakerRefusals[ex]),
			Reconnects:      atomic.LoadUint64(&m.reconnects[ex]),
		}
		for st := range m.breakerTransition[ex] {
			if v := atomic.LoadUint64(&m.breakerTransition[ex][st]); v > 0 {
				if s.BreakerTransitions == nil {
					s.BreakerTransitions = make(map[enum.BreakerState]uint64)
				}
				s.BreakerTransitions[enum.BreakerState(st)] = v
			}
		}
		if s.DecodeErrors+s.DroppedSends+s.BreakerRefusals+s.Reconnects > 0 || s.BreakerTransitions != nil {
			exchanges[ex] = s
		}
	}
	return Snapshot{
		Exchanges:    exchanges,
		EventLatency: m.eventLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		cur := atomic.LoadUint64(&l.min)
		if cur != 0 && nanos >= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, cur, nanos) {
			break
		}
	}

	for {
		cur := atomic.LoadUint64(&l.max)
		if nanos <= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, cur, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(atomic.LoadUint64(&l.sum) / count),
	}
}
