// Package circuitbreaker sheds load from dependencies that keep failing.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = map[State]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Config tunes one breaker. Zero values mean a single half-open probe,
// a 60s open timeout, five consecutive failures to trip and two
// consecutive successes to close again.
type Config struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
	OnStateChange    func(name string, from State, to State)
	Logger           *zap.Logger
}

// Counts carries the per-cycle counters. A cycle ends on every state
// change and, while closed, whenever Interval elapses.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

type CircuitBreaker struct {
	name          string
	maxRequests   uint32
	interval      time.Duration
	timeout       time.Duration
	tripAfter     uint32
	closeAfter    uint32
	onStateChange func(name string, from State, to State)
	logger        *zap.Logger

	mu       sync.Mutex
	state    State
	cycle    uint64
	counts   Counts
	deadline time.Time
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 2
	}

	cb := &CircuitBreaker{
		name:          name,
		maxRequests:   cfg.MaxRequests,
		interval:      cfg.Interval,
		timeout:       cfg.Timeout,
		tripAfter:     cfg.FailureThreshold,
		closeAfter:    cfg.SuccessThreshold,
		onStateChange: cfg.OnStateChange,
		logger:        cfg.Logger,
	}
	cb.resetCycle(time.Now())

	return cb
}

// Execute runs fn unless the breaker rejects the call. A panic in fn
// counts as a failure before propagating.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cycle, err := cb.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.settle(cycle, false)
			panic(r)
		}
	}()

	err = fn()
	cb.settle(cycle, err == nil)
	return err
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State reports the current state, applying the open timeout first.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, _ := cb.refresh(time.Now())
	return state
}

// Counts reports the counters of the current cycle.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.counts
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, cycle := cb.refresh(time.Now())

	switch {
	case state == StateOpen:
		return cycle, ErrCircuitOpen
	case state == StateHalfOpen && cb.counts.Requests >= cb.maxRequests:
		return cycle, ErrTooManyRequests
	}

	cb.counts.Requests++
	return cycle, nil
}

func (cb *CircuitBreaker) settle(cycle uint64, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, current := cb.refresh(now)
	if current != cycle {
		// The cycle rolled over while the call was in flight, so its
		// outcome no longer applies.
		return
	}

	if ok {
		cb.recordSuccess(state, now)
	} else {
		cb.recordFailure(state, now)
	}
}

func (cb *CircuitBreaker) recordSuccess(state State, now time.Time) {
	cb.counts.TotalSuccesses++
	cb.counts.ConsecutiveSuccesses++
	cb.counts.ConsecutiveFailures = 0

	if state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.closeAfter {
		cb.transition(StateClosed, now)
	}
}

func (cb *CircuitBreaker) recordFailure(state State, now time.Time) {
	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	switch state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.tripAfter {
			cb.transition(StateOpen, now)
		}
	case StateHalfOpen:
		cb.transition(StateOpen, now)
	}
}

// refresh applies time-based transitions before any read: an expired
// open deadline moves the breaker to half-open, an expired closed
// interval starts a fresh cycle.
func (cb *CircuitBreaker) refresh(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.deadline.IsZero() && cb.deadline.Before(now) {
			cb.resetCycle(now)
		}
	case StateOpen:
		if cb.deadline.Before(now) {
			cb.transition(StateHalfOpen, now)
		}
	}
	return cb.state, cb.cycle
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to
	cb.resetCycle(now)

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
	if cb.logger != nil {
		cb.logger.Info("Breaker state changed",
			zap.String("name", cb.name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
}

func (cb *CircuitBreaker) resetCycle(now time.Time) {
	cb.cycle++
	cb.counts = Counts{}

	switch cb.state {
	case StateClosed:
		if cb.interval > 0 {
			cb.deadline = now.Add(cb.interval)
		} else {
			cb.deadline = time.Time{}
		}
	case StateOpen:
		cb.deadline = now.Add(cb.timeout)
	default:
		cb.deadline = time.Time{}
	}
}
