// Package resilience provides fault tolerance patterns
package resilience

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// State represents circuit breaker state
type State uint32

const (
	Closed   State = iota // Normal operation
	Open                  // Failing fast
	HalfOpen              // Probing recovery
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrOpen is returned while the breaker fails fast.
	ErrOpen = errors.New("circuit breaker open")
	// ErrProbing is returned in half-open state while a probe call is in flight.
	ErrProbing = errors.New("circuit breaker half-open: probe in flight")
)

// Breaker trips after consecutive failures and lets a single probe call
// through once ResetTimeout has passed.
type Breaker struct {
	name  string
	cfg   Config
	now   func() time.Time
	state atomic.Uint32

	failures    atomic.Int32
	successes   atomic.Int32
	openedAt    atomic.Int64 // unix nano
	probing     atomic.Bool
	onChange func(from, to State)
}

// New creates a breaker with config
func New(cfg Config) *Breaker {
	return NewNamed("", cfg)
}

// NewNamed creates a breaker whose log lines carry name.
func NewNamed(name string, cfg Config) *Breaker {
	b := &Breaker{name: name, cfg: cfg.withDefaults(), now: time.Now}
	b.state.Store(uint32(Closed))
	return b
}

// WithHook sets a state change callback.
func (b *Breaker) WithHook(fn func(from, to State)) *Breaker {
	b.onChange = fn
	return b
}

// WithClock replaces time.Now.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Allow reports whether a call may proceed. In half-open state only one
// probe is admitted until it records its outcome.
func (b *Breaker) Allow() error {
	switch State(b.state.Load()) {
	case Open:
		if b.now().Sub(time.Unix(0, b.openedAt.Load())) < b.cfg.ResetTimeout {
			return ErrOpen
		}
		b.transition(Open, HalfOpen)
		fallthrough
	case HalfOpen:
		if !b.probing.CompareAndSwap(false, true) {
			return ErrProbing
		}
	}
	return nil
}

// Record feeds the outcome of an admitted call. Errors the config does not
// count as failures leave the breaker untouched.
func (b *Breaker) Record(err error) {
	if err != nil && b.cfg.Trips(err) {
		b.Failure()
		return
	}
	b.Success()
}

// Success records a successful call.
func (b *Breaker) Success() {
	switch State(b.state.Load()) {
	case HalfOpen:
		b.probing.Store(false)
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.transition(HalfOpen, Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	switch State(b.state.Load()) {
	case HalfOpen:
		b.trip(HalfOpen)
	case Closed:
		if b.failures.Add(1) >= int32(b.cfg.Threshold) {
			b.trip(Closed)
		}
	}
}

// State returns current state
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.transition(b.State(), Closed)
}

func (b *Breaker) trip(from State) {
	b.openedAt.Store(b.now().UnixNano())
	b.transition(from, Open)
}

// transition moves from -> to; a lost race leaves the state alone.
func (b *Breaker) transition(from, to State) {
	if from == to || !b.state.CompareAndSwap(uint32(from), uint32(to)) {
		return
	}
	b.successes.Store(0)
	b.probing.Store(false)

	log := slog.With("breaker", b.name)
	switch to {
	case Closed:
		b.failures.Store(0)
		log.Info("circuit breaker closed")
	case Open:
		log.Warn("circuit breaker opened", "failures", b.failures.Load(), "retry_after", b.cfg.ResetTimeout)
	case HalfOpen:
		log.Info("circuit breaker half-open")
	}

	if b.onChange != nil {
		b.onChange(from, to)
	}
}

// ExecuteWithResult runs fn returning value and error with circuit protection
func ExecuteWithResult[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	result, err := fn()
	b.Record(err)
	if err != nil {
		return zero, err
	}
	return result, nil
}
