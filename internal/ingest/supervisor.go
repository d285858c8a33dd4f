package ingest

import (
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"marketfeed/internal/breaker"
	"marketfeed/internal/model/enum"
	"marketfeed/pkg/exception"
)

// BreakerEvent is published whenever the breaker of an exchange changes state
// or refuses a connection attempt.
type BreakerEvent struct {
	Exchange enum.Exchange
	Event    breaker.Event
	State    enum.BreakerState
	At       time.Time
}

// stream groups the members of one exchange around a shared breaker.
type stream struct {
	pool      *Pool
	exchange  enum.Exchange
	url       string
	symbols   []string
	breaker   *breaker.Breaker
	members   []*member
	rr        uint64
	rrMu      sync.Mutex
	wakeMu    sync.Mutex
	wake      chan struct{}
	stopWatch func()
}

func newStream(p *Pool, cfg ExchangeConfig) *stream {
	s := &stream{
		pool:     p,
		exchange: cfg.Exchange,
		url:      cfg.URL,
		symbols:  cfg.Symbols,
		breaker:  breaker.New(p.cfg.Breaker),
		wake:     make(chan struct{}),
	}
	s.stopWatch = s.breaker.Subscribe(s.onBreakerEvent)

	s.members = make([]*member, cfg.PoolSize)
	for i := range s.members {
		s.members[i] = newMember(s, p.ids.Next())
	}
	return s
}

func (s *stream) onBreakerEvent(ev breaker.Event) {
	state := s.breaker.State()
	m := s.pool.metrics

	switch ev {
	case breaker.EventRefused:
		m.IncBreakerRefusal(s.exchange)
		logs.Debugf("%s connection attempt refused, err: %+v", s.exchange, exception.ErrCircuitOpen)
	case breaker.EventOpened:
		m.IncBreakerTransition(s.exchange, enum.BreakerOpen)
		logs.Warnf("%s breaker opened, connections suspended", s.exchange)
	case breaker.EventHalfOpened:
		m.IncBreakerTransition(s.exchange, enum.BreakerHalfOpen)
		logs.Infof("%s breaker half-opened, probing", s.exchange)
		s.resumeParked()
	case breaker.EventReset:
		m.IncBreakerTransition(s.exchange, enum.BreakerClosed)
		logs.Infof("%s breaker reset", s.exchange)
		s.resumeParked()
	}

	s.pool.breakerEvents.publish(BreakerEvent{
		Exchange: s.exchange,
		Event:    ev,
		State:    state,
		At:       time.Now(),
	})
}

// parking returns the channel a refused member waits on. It must be taken
// before calling Allow, otherwise a resume between the two is lost.
func (s *stream) parking() <-chan struct{} {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()
	return s.wake
}

func (s *stream) resumeParked() {
	s.wakeMu.Lock()
	close(s.wake)
	s.wake = make(chan struct{})
	s.wakeMu.Unlock()
}

// pickOpen returns the next OPEN member in round-robin order.
func (s *stream) pickOpen() *member {
	n := len(s.members)
	if n == 0 {
		return nil
	}
	s.rrMu.Lock()
	start := s.rr
	s.rr++
	s.rrMu.Unlock()

	for i := 0; i < n; i++ {
		m := s.members[(start+uint64(i))%uint64(n)]
		if m.State() == StateOpen {
			return m
		}
	}
	return nil
}

func (s *stream) stats() Stats {
	st := Stats{Total: len(s.members), Breaker: s.breaker.Snapshot()}
	for _, m := range s.members {
		snap := m.snapshot()
		switch snap.State {
		case StateConnecting:
			st.Connecting++
		case StateOpen:
			st.Open++
		case StateClosing:
			st.Closing++
		case StateClosed:
			st.Closed++
		}
		if snap.LastFailure.After(st.LastFailure) {
			st.LastFailure = snap.LastFailure
		}
		st.Members = append(st.Members, snap)
	}
	return st
}

func (s *stream) close() {
	s.stopWatch()
	s.breaker.Stop()
	for _, m := range s.members {
		m.closeConn()
	}
}
