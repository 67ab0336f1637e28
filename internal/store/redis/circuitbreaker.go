package redis

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker is rejecting
// calls. The publisher treats it as "buffer this write for replay".
var ErrCircuitOpen = errors.New("redis: circuit open")

// State is the breaker position.
type State int

const (
	StateClosed   State = iota // writes pass through
	StateOpen                  // writes rejected until the reset timeout elapses
	StateHalfOpen              // a single recovery write is in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker keeps a down Redis from stalling the publish path on
// per-write timeouts. It opens after maxFailures consecutive failures
// and rejects everything for resetTimeout; the first call after that
// runs as the half-open recovery write whose outcome decides: success
// closes the circuit, failure reopens it for another resetTimeout.
// While the recovery write is in flight all other calls are still
// rejected.
type CircuitBreaker struct {
	mu         sync.Mutex
	state      State
	strikes    int // consecutive failures while closed
	recovering bool
	openedAt   time.Time

	maxFailures  int
	resetTimeout time.Duration

	// now is swapped out in tests.
	now func() time.Time

	// OnStateChange, when set, observes every transition. Called with
	// the breaker's lock held; keep it non-blocking.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed breaker that trips after
// maxFailures consecutive failures and tries again resetTimeout later.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Execute runs fn unless the circuit rejects it, and folds fn's outcome
// back into the breaker. Returns ErrCircuitOpen without running fn when
// the circuit is open or a recovery write is already in flight; otherwise
// returns fn's error.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	return cb.settle(fn())
}

// CurrentState returns the breaker position.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) <= cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.shift(StateHalfOpen)
		cb.recovering = true
	case StateHalfOpen:
		if cb.recovering {
			return ErrCircuitOpen
		}
		cb.recovering = true
	}
	return nil
}

func (cb *CircuitBreaker) settle(err error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.strikes = 0
		if cb.state == StateHalfOpen {
			cb.recovering = false
			cb.shift(StateClosed)
		}
		return nil
	}

	switch cb.state {
	case StateHalfOpen:
		cb.recovering = false
		cb.shift(StateOpen)
	case StateClosed:
		cb.strikes++
		if cb.strikes >= cb.maxFailures {
			cb.shift(StateOpen)
		}
	}
	return err
}

// shift transitions under the lock and stamps the open window.
func (cb *CircuitBreaker) shift(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.strikes = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
