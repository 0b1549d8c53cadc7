package anthropicoracle

import (
	"log/slog"
	"sync"
	"time"
)

// rateLimitEntry tracks one model's cooldown window after a 429.
type rateLimitEntry struct {
	blockedUntil time.Time
	failureCount int
	lastFailure  time.Time
}

func (e *rateLimitEntry) isBlocked() bool { return time.Now().Before(e.blockedUntil) }

// RateLimitCache remembers which models are currently cooling down after a
// provider-side rate-limit response, so the client can short-circuit a call
// locally instead of paying a round trip just to be told no again.
type RateLimitCache struct {
	mu              sync.RWMutex
	entries         map[string]*rateLimitEntry
	defaultDuration time.Duration
}

// NewRateLimitCache constructs an empty cache with a default cooldown
// applied when the provider doesn't supply a Retry-After hint.
func NewRateLimitCache() *RateLimitCache {
	return &RateLimitCache{
		entries:         make(map[string]*rateLimitEntry),
		defaultDuration: 20 * time.Second,
	}
}

// IsModelBlocked reports whether modelID is currently cooling down.
func (c *RateLimitCache) IsModelBlocked(modelID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[modelID]
	return ok && e.isBlocked()
}

// RecordRateLimit blocks modelID for retryAfter, or the default cooldown if
// retryAfter is zero.
func (c *RateLimitCache) RecordRateLimit(modelID string, retryAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.getOrCreate(modelID)
	e.failureCount++
	e.lastFailure = time.Now()
	block := retryAfter
	if block <= 0 {
		block = c.defaultDuration
	}
	e.blockedUntil = time.Now().Add(block)
	slog.Warn("oracle model rate-limited", slog.String("model", modelID), slog.Duration("cooldown", block))
}

// RecordSuccess clears modelID's cooldown state.
func (c *RateLimitCache) RecordSuccess(modelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[modelID]; ok {
		e.failureCount = 0
		e.blockedUntil = time.Time{}
	}
}

// RemainingBlockDuration returns how long until modelID becomes available
// again, or 0 if it isn't currently blocked.
func (c *RateLimitCache) RemainingBlockDuration(modelID string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[modelID]
	if !ok || !e.isBlocked() {
		return 0
	}
	return time.Until(e.blockedUntil)
}

func (c *RateLimitCache) getOrCreate(modelID string) *rateLimitEntry {
	e, ok := c.entries[modelID]
	if !ok {
		e = &rateLimitEntry{}
		c.entries[modelID] = e
	}
	return e
}
