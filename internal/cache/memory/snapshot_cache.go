// Package memory implements the snapshot cache as a mutex-guarded in-process
// map. It is the default cache for single-instance deployments; shared
// deployments can use the Redis implementation instead.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Juggernaut7/convex/internal/domain"
)

type entry struct {
	snap      domain.PriceSnapshot
	expiresAt time.Time
}

// SnapshotCache is an in-memory TTL cache for price snapshots. It is safe for
// concurrent use.
type SnapshotCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewSnapshotCache creates an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached snapshot for key if it has not expired.
func (c *SnapshotCache) Get(_ context.Context, key string) (domain.PriceSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.PriceSnapshot{}, false, nil
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return domain.PriceSnapshot{}, false, nil
	}
	return e.snap, true, nil
}

// Set stores a snapshot under key for the given TTL, replacing any existing
// entry.
func (c *SnapshotCache) Set(_ context.Context, key string, snap domain.PriceSnapshot, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{
		snap:      snap,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Cleanup removes expired entries. Call periodically to bound memory on
// long-running processes with many distinct assets.
func (c *SnapshotCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// Run calls Cleanup every interval until ctx is cancelled. It always returns
// the context's error.
func (c *SnapshotCache) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
