package core

import (
	"fmt"
	"sync"
)

// FallbackLimiter enforces the hard per-session budget of general-answering
// calls. It is hydrated from the session's persisted counter before each turn
// and written back after, so the budget never resets mid-session.
type FallbackLimiter struct {
	max  int
	used int
	mu   sync.Mutex
}

// NewFallbackLimiter creates a limiter with max allowed calls, pre-charged
// with the already used count. If max == 0, unlimited calls are allowed.
func NewFallbackLimiter(max, used int) *FallbackLimiter {
	return &FallbackLimiter{max: max, used: used}
}

// Increment charges one call against the budget and returns an error if the
// budget is exceeded.
func (fl *FallbackLimiter) Increment() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	fl.used++
	if fl.max > 0 && fl.used > fl.max {
		return fmt.Errorf("exceeded fallback budget: %d", fl.max)
	}

	return nil
}

// Used returns the number of calls charged so far.
func (fl *FallbackLimiter) Used() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	return fl.used
}

// Remaining returns how many calls are left before hitting the budget.
func (fl *FallbackLimiter) Remaining() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.max == 0 {
		return -1 // unlimited
	}

	return fl.max - fl.used
}

// Exhausted reports whether the budget has been fully consumed.
func (fl *FallbackLimiter) Exhausted() bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	return fl.max > 0 && fl.used >= fl.max
}
