// Package resilience composes multiple recogniser backends into one that
// fails over automatically: each backend sits behind its own circuit
// breaker, and a tripped primary is bypassed in favour of the next healthy
// entry until its reset timeout elapses.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// the reset timeout has not yet elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// breakerState is the breaker's operating mode.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero-valued fields get defaults.
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is the consecutive-failure count that opens the breaker.
	// Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing again.
	// Default: 30s.
	ResetTimeout time.Duration
}

// Breaker is a three-state circuit breaker (closed, open, half-open). In the
// half-open state a single probe call is let through; its outcome decides
// whether the breaker closes again. Safe for concurrent use.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
	}
}

// Do runs fn unless the breaker is open. While open, calls fail fast with
// ErrBreakerOpen until the reset timeout elapses; then one probe call runs
// and its outcome closes or re-opens the breaker.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if time.Since(b.openedAt) < b.resetTimeout {
			return ErrBreakerOpen
		}
		b.state = stateHalfOpen
		b.probing = false
		slog.Info("breaker half-open, probing", "name", b.name)
		fallthrough
	case stateHalfOpen:
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.probing = false
		if ok {
			b.state = stateClosed
			b.failures = 0
			slog.Info("breaker closed after successful probe", "name", b.name)
		} else {
			b.state = stateOpen
			b.openedAt = time.Now()
			slog.Warn("breaker re-opened, probe failed", "name", b.name)
		}
		return
	}

	if ok {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = time.Now()
		slog.Warn("breaker opened", "name", b.name, "failures", b.failures)
	}
}
