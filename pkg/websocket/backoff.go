package websocket

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultDelays is the reconnect schedule. Attempts beyond the table reuse the last entry.
var DefaultDelays = []time.Duration{
	1 * time.Second,
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
	8 * time.Second,
	13 * time.Second,
	21 * time.Second,
}

// DefaultMaxAttempts bounds consecutive reconnects before a socket gives up.
const DefaultMaxAttempts = 10

var _ backoff.BackOff = (*DelayTable)(nil)

// DelayTable is a backoff.BackOff that walks a fixed table of delays and
// returns backoff.Stop once maxAttempts delays were handed out.
// It is not safe for concurrent use.
type DelayTable struct {
	delays      []time.Duration
	maxAttempts int
	attempt     int
}

// NewDelayTable copies delays; an empty table falls back to DefaultDelays.
// maxAttempts <= 0 means unbounded.
func NewDelayTable(delays []time.Duration, maxAttempts int) *DelayTable {
	if len(delays) == 0 {
		delays = DefaultDelays
	}
	cp := make([]time.Duration, len(delays))
	copy(cp, delays)
	return &DelayTable{delays: cp, maxAttempts: maxAttempts}
}

// NextBackOff returns the delay for the next attempt and advances the counter.
func (t *DelayTable) NextBackOff() time.Duration {
	if t.maxAttempts > 0 && t.attempt >= t.maxAttempts {
		return backoff.Stop
	}
	idx := t.attempt
	if idx >= len(t.delays) {
		idx = len(t.delays) - 1
	}
	t.attempt++
	return t.delays[idx]
}

// Reset rewinds the table after a successful connection.
func (t *DelayTable) Reset() {
	t.attempt = 0
}

// Attempt returns how many delays were handed out since the last Reset.
func (t *DelayTable) Attempt() int {
	return t.attempt
}
