package rules

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// InMemoryRulesCache is a process-local RulesCache on go-cache.
type InMemoryRulesCache struct {
	c   *gocache.Cache
	ttl time.Duration
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	cleanup := time.Minute
	if config.TTL > 0 && config.TTL < cleanup {
		cleanup = config.TTL
	}
	return &InMemoryRulesCache{
		c:   gocache.New(ttl, cleanup),
		ttl: ttl,
	}
}

// Get returns a copy of the cached slice, or nil on a miss
func (c *InMemoryRulesCache) Get(_ context.Context) []*Rule {
	v, ok := c.c.Get(activeRulesKey)
	if !ok {
		return nil
	}
	cached := v.([]*Rule)
	out := make([]*Rule, len(cached))
	copy(out, cached)
	return out
}

// Set stores a copy of rules
func (c *InMemoryRulesCache) Set(_ context.Context, rules []*Rule) {
	stored := make([]*Rule, len(rules))
	copy(stored, rules)
	c.c.Set(activeRulesKey, stored, gocache.DefaultExpiration)
}

func (c *InMemoryRulesCache) Invalidate(_ context.Context) {
	c.c.Delete(activeRulesKey)
}

func (c *InMemoryRulesCache) IsValid(_ context.Context) bool {
	_, ok := c.c.Get(activeRulesKey)
	return ok
}
