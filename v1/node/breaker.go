package node

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker decorates a Node so that an endpoint which keeps failing is
// skipped for a while instead of costing a full timeout on every lock round.
// A skipped call returns ErrCircuitOpen and therefore counts as a miss.
type CircuitBreaker struct {
	node      Node
	mu        sync.Mutex
	state     state
	failures  int
	threshold int
	timeout   time.Duration
	lastFail  time.Time
}

// NewCircuitBreaker wraps n. The circuit opens after threshold consecutive
// failures and lets a single probe through once timeout has passed.
func NewCircuitBreaker(n Node, threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		node:      n,
		threshold: threshold,
		timeout:   timeout,
		state:     stateClosed,
	}
}

// IsHealthy returns true unless the circuit is open and still cooling down.
func (cb *CircuitBreaker) IsHealthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == stateOpen {
		return time.Since(cb.lastFail) > cb.timeout
	}
	return true
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(cb.lastFail) > cb.timeout {
			cb.state = stateHalfOpen
			return true
		}
		return false
	}
	// half-open: a probe is already in flight
	return false
}

// record updates the circuit with the outcome of a call. Failures caused by
// the caller giving up on ctx say nothing about the node and are not counted.
func (cb *CircuitBreaker) record(ctx context.Context, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.state = stateClosed
		cb.failures = 0
		return
	}
	if callerGaveUp(ctx, err) {
		if cb.state == stateHalfOpen {
			// the probe proved nothing; the next call after timeout probes again
			cb.state = stateOpen
		}
		return
	}
	cb.lastFail = time.Now()
	cb.failures++
	if (cb.state == stateClosed && cb.failures >= cb.threshold) || cb.state == stateHalfOpen {
		if cb.state != stateOpen {
			slog.Warn("redlock: node circuit opened", "node", cb.node.String(), "failures", cb.failures, "error", err)
		}
		cb.state = stateOpen
	}
}

func callerGaveUp(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// TrySetWithExpiry implements Node.TrySetWithExpiry.
func (cb *CircuitBreaker) TrySetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if !cb.allow() {
		return false, ErrCircuitOpen
	}
	ok, err := cb.node.TrySetWithExpiry(ctx, key, value, ttl)
	cb.record(ctx, err)
	return ok, err
}

// CompareAndDelete implements Node.CompareAndDelete. It always reaches the
// node, even with the circuit open, so that a vote cast before the circuit
// opened can still be withdrawn. Only failures are recorded while open.
func (cb *CircuitBreaker) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	ok, err := cb.node.CompareAndDelete(ctx, key, value)
	if err != nil || cb.IsHealthy() {
		cb.record(ctx, err)
	}
	return ok, err
}

// String implements Node.String.
func (cb *CircuitBreaker) String() string { return cb.node.String() }
