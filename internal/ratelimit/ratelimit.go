// Package ratelimit implements the per-tenant hourly operation limit declared
// in tenant policies (max_ops_per_hour).
//
// Fixed-window counting with an atomic increment-and-check under one lock, so
// the limit holds under arbitrary concurrent requests for the same tenant.
// No background goroutines; windows roll over lazily on each Allow call.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrLimitExceeded is returned when a tenant has used up its hourly budget.
var ErrLimitExceeded = errors.New("hourly operation limit exceeded")

// window is the counting period.
const window = time.Hour

// Limiter tracks operation counts per tenant per hour.
// Each tenant gets an independent counter; one tenant cannot exhaust
// another's quota.
type Limiter struct {
	mu      sync.Mutex
	tenants map[string]*counter
	now     func() time.Time // Injectable clock for tests.
}

type counter struct {
	windowStart time.Time
	count       int
}

// NewLimiter creates an hourly operation limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		tenants: make(map[string]*counter),
		now:     time.Now,
	}
}

// Allow atomically increments the tenant's counter for the current window and
// checks it against limit. A limit of zero or less means unlimited.
func (l *Limiter) Allow(tenantID string, limit int) error {
	if limit <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.tenants[tenantID]
	if !ok || now.Sub(c.windowStart) >= window {
		c = &counter{windowStart: now}
		l.tenants[tenantID] = c
	}

	if c.count >= limit {
		return ErrLimitExceeded
	}
	c.count++
	return nil
}

// Remaining reports how many operations the tenant has left in the current
// window. Diagnostic only; callers must not use it for check-then-act.
func (l *Limiter) Remaining(tenantID string, limit int) int {
	if limit <= 0 {
		return -1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.tenants[tenantID]
	if !ok || l.now().Sub(c.windowStart) >= window {
		return limit
	}
	if left := limit - c.count; left > 0 {
		return left
	}
	return 0
}
