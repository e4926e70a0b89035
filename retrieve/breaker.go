package retrieve

import (
	"sync"
	"time"
)

// BreakerState is the search engine breaker position.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // searches run
	BreakerOpen                         // searches fail fast with ErrCircuitOpen
	BreakerHalfOpen                     // cooldown over, trial searches run
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker stops querying a search engine that keeps failing, so a dead
// engine costs a run one fast miss per component instead of one full task
// timeout each. One Breaker is shared by every task of a Retriever.
type Breaker struct {
	tripAfter int           // consecutive failures that trip it
	cooldown  time.Duration // time spent open before trials
	recovery  int           // trial successes that close it
	now       func() time.Time

	mu        sync.Mutex
	fails     int
	tripped   bool
	openUntil time.Time
	trialWins int
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithTripAfter trips the breaker after n consecutive failed searches. Default: 5.
func WithTripAfter(n int) BreakerOption { return func(b *Breaker) { b.tripAfter = n } }

// WithCooldown keeps a tripped breaker open for d. Default: 30s.
func WithCooldown(d time.Duration) BreakerOption { return func(b *Breaker) { b.cooldown = d } }

// WithRecovery closes the breaker after n successful trial searches. Default: 2.
func WithRecovery(n int) BreakerOption { return func(b *Breaker) { b.recovery = n } }

// WithBreakerClock replaces time.Now.
func WithBreakerClock(fn func() time.Time) BreakerOption { return func(b *Breaker) { b.now = fn } }

// NewBreaker returns a closed breaker.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{tripAfter: 5, cooldown: 30 * time.Second, recovery: 2, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// position derives the state from the cooldown deadline. Caller holds mu.
func (b *Breaker) position() BreakerState {
	switch {
	case !b.tripped:
		return BreakerClosed
	case b.now().Before(b.openUntil):
		return BreakerOpen
	default:
		return BreakerHalfOpen
	}
}

func (b *Breaker) trip() {
	b.tripped = true
	b.openUntil = b.now().Add(b.cooldown)
	b.trialWins = 0
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position()
}

// Allow reports whether a search may be sent.
func (b *Breaker) Allow() bool {
	return b.State() != BreakerOpen
}

// RecordSuccess notes a search that returned a usable response.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.position() {
	case BreakerClosed:
		b.fails = 0
	case BreakerHalfOpen:
		if b.trialWins++; b.trialWins >= b.recovery {
			b.tripped, b.fails, b.trialWins = false, 0, 0
		}
	}
}

// RecordFailure notes a failed search. Any failure while tripped restarts
// the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped {
		b.trip()
		return
	}
	if b.fails++; b.fails >= b.tripAfter {
		b.trip()
	}
}
