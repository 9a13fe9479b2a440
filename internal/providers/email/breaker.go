package email

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the breaker rejects sends.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of a CircuitBreaker:
//
//	Closed -> Open:      consecutive failures reach MaxFailures
//	Open -> HalfOpen:    RecoveryTimeout elapsed since the last failure
//	HalfOpen -> Closed:  the probe succeeds
//	HalfOpen -> Open:    the probe fails
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	Name                string
	MaxFailures         int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int
}

type CircuitBreaker struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	log    *zap.Logger
	now    func() time.Time
	state  State
	fails  int
	probes int

	lastFailure time.Time
}

func NewCircuitBreaker(cfg BreakerConfig, log *zap.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CircuitBreaker{cfg: cfg, log: log, now: time.Now}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.cfg.RecoveryTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.probes = 1
			return true
		}
		return false
	case StateHalfOpen:
		if cb.probes < cb.cfg.HalfOpenMaxRequests {
			cb.probes++
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.fails = 0
	if cb.state == StateHalfOpen {
		cb.transitionTo(StateClosed)
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.fails++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.fails >= cb.cfg.MaxFailures {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// must be called with mu held
func (cb *CircuitBreaker) transitionTo(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.probes = 0

	fields := []zap.Field{
		zap.String("breaker", cb.cfg.Name),
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
		zap.Int("failures", cb.fails),
	}
	if next == StateOpen {
		cb.log.Warn("email.breaker.opened", fields...)
		return
	}
	cb.log.Info("email.breaker.transition", fields...)
}

// ProtectedProvider fails fast with ErrCircuitOpen while the wrapped
// provider keeps failing.
type ProtectedProvider struct {
	provider Provider
	breaker  *CircuitBreaker
}

func NewProtectedProvider(provider Provider, breaker *CircuitBreaker) *ProtectedProvider {
	return &ProtectedProvider{provider: provider, breaker: breaker}
}

func (p *ProtectedProvider) Name() string { return p.provider.Name() }

func (p *ProtectedProvider) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := msg.Validate(); err != nil {
		return SendResult{}, err
	}
	if !p.breaker.Allow() {
		return SendResult{Provider: p.Name()}, fmt.Errorf("%w: %s provider unavailable", ErrCircuitOpen, p.Name())
	}

	res, err := p.provider.Send(ctx, msg)
	if err != nil {
		p.breaker.RecordFailure()
		return res, err
	}
	p.breaker.RecordSuccess()
	return res, nil
}

func (p *ProtectedProvider) Breaker() *CircuitBreaker {
	return p.breaker
}
