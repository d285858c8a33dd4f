package enum

// BreakerState is the circuit breaker state of one exchange.
type BreakerState uint8

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
	_breaker_state_end
)

// MaxBreakerState is the largest BreakerState value, for sizing lookup arrays.
const MaxBreakerState = _breaker_state_end - 1

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}
