// Package circuitbreaker stops calls to a dependency after repeated failures
// and lets a single probe through once a cooldown has passed.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do while the breaker is rejecting calls.
var ErrOpen = errors.New("circuit breaker open")

// State represents the state of a circuit breaker.
type State int

const (
	Closed   State = iota // calls pass
	Open                  // calls rejected until the cooldown elapses
	HalfOpen              // one probe in flight
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold int           // consecutive failures before opening (default 5)
	Cooldown  time.Duration // time spent open before a probe (default 30s)

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker unlocked and must not block.
	OnStateChange func(from, to State)

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Breaker guards a single dependency, such as the broker connection.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker. Non-positive settings fall back to defaults.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Allow reports whether a call may be attempted now. While half-open only the
// first caller is admitted; the rest are rejected until that probe reports back.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	allowed, from, to := b.allowLocked()
	b.mu.Unlock()

	b.notify(from, to)
	return allowed
}

func (b *Breaker) allowLocked() (allowed bool, from, to State) {
	from = b.state
	switch b.state {
	case Open:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, from, from
		}
		b.state = HalfOpen
		b.probing = true
		return true, from, HalfOpen
	case HalfOpen:
		if b.probing {
			return false, from, from
		}
		b.probing = true
		return true, from, from
	default:
		return true, from, from
	}
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	b.failures = 0
	b.probing = false
	b.state = Closed
	b.mu.Unlock()

	b.notify(from, Closed)
}

// RecordFailure counts a failure. A failed probe reopens the breaker immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state
	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.state = Open
		b.openedAt = b.cfg.Now()
	}
	b.probing = false
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
}

// release gives back a probe slot without judging the dependency.
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Do runs fn if the breaker allows it and records the outcome. Errors for which
// ignore returns true (for example caller cancellation) are not counted.
func (b *Breaker) Do(fn func() error, ignore func(error) bool) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	switch {
	case err == nil:
		b.RecordSuccess()
	case ignore != nil && ignore(err):
		b.release()
	default:
		b.RecordFailure()
	}
	return err
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
