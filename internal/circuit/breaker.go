// Package circuit rate-limits automation session re-acquisition. Retries stay
// task-driven (an activation event or user command), the breaker only stops a
// burst of those tasks from hammering an editing application that is clearly
// not coming back.
package circuit

import (
	"sync"
	"time"
)

const (
	DefaultThreshold = 3
	DefaultCooldown  = 30 * time.Second
)

// Breaker opens after a run of consecutive failures and stays open for a
// cooldown period. While open, callers should answer "unavailable" without
// attempting the guarded operation.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether the guarded operation may be attempted now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().After(b.openUntil)
}

// Failure records a failed attempt. At the threshold the breaker opens and
// the failure run resets.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
		b.failures = 0
	}
}

// Success clears the failure run and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

// Remaining returns how long the breaker stays open, zero when closed.
func (b *Breaker) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d := time.Until(b.openUntil); d > 0 {
		return d
	}
	return 0
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
