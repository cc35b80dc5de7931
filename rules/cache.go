package rules

import (
	"context"
	"time"
)

// RulesCache caches the active rules list so EvaluateAll does not hit the
// store on every trigger. Caching is best effort: a failing cache behaves as
// a miss.
type RulesCache interface {
	// Get retrieves cached rules, returns nil on a miss or expiry
	Get(ctx context.Context) []*Rule

	// Set stores rules in cache
	Set(ctx context.Context, rules []*Rule)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate(ctx context.Context)

	// IsValid returns true if cache has valid data
	IsValid(ctx context.Context) bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// 0 means no expiration (invalidation on mutation only).
	TTL time.Duration
}

// DefaultCacheConfig returns the cache defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

const activeRulesKey = "rules:active"
