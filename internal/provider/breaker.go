package provider

import (
	"sync"
	"time"
)

// Breaker temporarily skips a provider after repeated consecutive
// failures so the chain does not spend its timeout budget on a backend
// that is known to be down. Closed -> open on the failure threshold,
// open -> half-open after the recovery timeout, half-open -> closed on
// the first success.
type Breaker struct {
	mu               sync.Mutex
	failureThreshold int
	recoveryTimeout  time.Duration

	failures    int
	open        bool
	lastFailure time.Time
}

func NewBreaker(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 3
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 60 * time.Second
	}
	return &Breaker{failureThreshold: failureThreshold, recoveryTimeout: recoveryTimeout}
}

// Allow reports whether a call may proceed. While open, one probe call
// is let through after the recovery timeout elapses.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	if time.Since(b.lastFailure) >= b.recoveryTimeout {
		// Half-open probe; a failure re-opens immediately.
		return true
	}
	return false
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()
	if b.failures >= b.failureThreshold {
		b.open = true
	}
}
