package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/posedge/pkg/logger"
)

// BreakerState is the current state of a CircuitBreaker.
type BreakerState int

const (
	// BreakerClosed lets every call through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until Timeout has passed.
	BreakerOpen
	// BreakerHalfOpen lets calls through to test recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	}

	return fmt.Sprintf("state(%d)", int(s))
}

type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          2 * time.Minute,
	}
}

// CircuitBreaker stops hammering an endpoint that keeps failing.
type CircuitBreaker struct {
	cfg    BreakerConfig
	now    func() time.Time
	logger logger.Logger

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	successCount int
	lastFailTime time.Time
}

func NewCircuitBreaker(cfg BreakerConfig, log logger.Logger) *CircuitBreaker {
	def := DefaultBreakerConfig()

	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}

	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &CircuitBreaker{
		cfg:    cfg,
		now:    time.Now,
		logger: log,
	}
}

// Execute runs fn unless the circuit is open, in which case it returns
// ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	cb.record(err)

	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailTime) < cb.cfg.Timeout {
			return false
		}

		cb.state = BreakerHalfOpen
		cb.successCount = 0

		cb.logger.Info().Msg("Heartbeat circuit breaker half-open")

		return true
	}

	return false
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failureCount++
		cb.lastFailTime = cb.now()

		if cb.state == BreakerHalfOpen || cb.failureCount >= cb.cfg.FailureThreshold {
			if cb.state != BreakerOpen {
				cb.logger.Warn().
					Int("failure_count", cb.failureCount).
					Msg("Heartbeat circuit breaker opened")
			}

			cb.state = BreakerOpen
		}

		return
	}

	switch cb.state {
	case BreakerHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.state = BreakerClosed
			cb.failureCount = 0

			cb.logger.Info().Msg("Heartbeat circuit breaker closed")
		}
	case BreakerClosed:
		cb.failureCount = 0
	case BreakerOpen:
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}
