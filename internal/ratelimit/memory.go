package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps counters in process. It is only correct for a single
// API instance; multi-instance deployments use RedisLimiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	checks  int
}

// NewMemoryLimiter creates an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window), now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (m *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	m.now = now
	return m
}

// Check counts the call and reports whether it fits in the window.
func (m *MemoryLimiter) Check(_ context.Context, rule Rule, subject string) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if rule.Disabled() || subject == "" {
		return Decision{Allowed: true, Limit: rule.Limit}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.checks++
	if m.checks%1024 == 0 {
		m.prune(now)
	}

	key := rule.Scope + ":" + subject
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rule.Window)}
		m.windows[key] = w
	}
	w.count++

	d := Decision{Allowed: w.count <= rule.Limit, Count: w.count, Limit: rule.Limit}
	if !d.Allowed {
		d.RetryAfter = w.resetAt.Sub(now)
	}
	return d, nil
}

// prune drops finished windows. Caller holds mu.
func (m *MemoryLimiter) prune(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}
