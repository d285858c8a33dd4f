package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfeed/internal/model/enum"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(ev Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == ev {
			n++
		}
	}
	return n
}

func TestBreakerOpensAtMaxFailures(t *testing.T) {
	b := New(Config{MaxFailures: 5, ResetTimeout: time.Hour})
	defer b.Stop()
	rec := &recorder{}
	b.Subscribe(rec.listen)

	for i := 0; i < 4; i++ {
		b.Failure()
		require.Equal(t, enum.BreakerClosed, b.State())
		require.True(t, b.Allow())
	}
	b.Failure()
	assert.Equal(t, enum.BreakerOpen, b.State())
	assert.Equal(t, 1, rec.count(EventOpened))

	assert.False(t, b.Allow())
	assert.False(t, b.Allow())
	assert.Equal(t, 2, rec.count(EventRefused))
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	b := New(Config{MaxFailures: 3, ResetTimeout: time.Hour})
	defer b.Stop()

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	assert.Equal(t, enum.BreakerClosed, b.State())
	assert.Equal(t, 2, b.Snapshot().Failures)
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := New(Config{MaxFailures: 1, ResetTimeout: 20 * time.Millisecond})
	defer b.Stop()
	rec := &recorder{}
	b.Subscribe(rec.listen)

	b.Failure()
	require.Equal(t, enum.BreakerOpen, b.State())

	assert.Eventually(t, func() bool { return b.State() == enum.BreakerHalfOpen }, time.Second, 2*time.Millisecond)
	assert.Equal(t, 1, rec.count(EventHalfOpened))

	assert.True(t, b.Allow(), "first probe admitted")
	assert.False(t, b.Allow(), "second probe refused while the first is pending")

	b.Success()
	assert.Equal(t, enum.BreakerClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().Failures)
	assert.Equal(t, 1, rec.count(EventReset))
	assert.True(t, b.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{MaxFailures: 1, ResetTimeout: 20 * time.Millisecond})
	defer b.Stop()
	rec := &recorder{}
	b.Subscribe(rec.listen)

	b.Failure()
	assert.Eventually(t, func() bool { return b.State() == enum.BreakerHalfOpen }, time.Second, 2*time.Millisecond)

	require.True(t, b.Allow())
	b.Failure()
	assert.Equal(t, enum.BreakerOpen, b.State())
	assert.Equal(t, 2, rec.count(EventOpened))

	// timer restarted
	assert.Eventually(t, func() bool { return rec.count(EventHalfOpened) == 2 }, time.Second, 2*time.Millisecond)
}

func TestBreakerStopCancelsTimer(t *testing.T) {
	b := New(Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})
	b.Failure()
	b.Stop()

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, enum.BreakerOpen, b.State())
}

func TestBreakerUnsubscribe(t *testing.T) {
	b := New(Config{MaxFailures: 1, ResetTimeout: time.Hour})
	defer b.Stop()
	rec := &recorder{}
	unsubscribe := b.Subscribe(rec.listen)
	unsubscribe()
	unsubscribe()

	b.Failure()
	assert.Equal(t, 0, rec.count(EventOpened))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultMaxFailures, cfg.MaxFailures)
	assert.Equal(t, DefaultResetTimeout, cfg.ResetTimeout)
}
