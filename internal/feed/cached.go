package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/Juggernaut7/convex/internal/domain"
)

// CachedFeed wraps a PriceFeed with a snapshot cache. A cached snapshot
// younger than the TTL is returned without touching the upstream; otherwise a
// fresh fetch replaces the entry. Cache failures degrade to a direct fetch
// rather than failing the resolution.
type CachedFeed struct {
	inner  domain.PriceFeed
	cache  domain.SnapshotCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedFeed wraps inner with the given cache and TTL. A TTL of zero
// disables caching entirely.
func NewCachedFeed(inner domain.PriceFeed, cache domain.SnapshotCache, ttl time.Duration, logger *slog.Logger) *CachedFeed {
	return &CachedFeed{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "feed_cache"), slog.String("provider", inner.Name())),
	}
}

// Name returns the wrapped provider's key.
func (f *CachedFeed) Name() string {
	return f.inner.Name()
}

// Fetch returns a cached snapshot when fresh, falling through to the wrapped
// feed otherwise.
func (f *CachedFeed) Fetch(ctx context.Context, assetID string) (domain.PriceSnapshot, error) {
	if f.ttl <= 0 {
		return f.inner.Fetch(ctx, assetID)
	}

	key := f.inner.Name() + ":" + assetID

	snap, ok, err := f.cache.Get(ctx, key)
	if err != nil {
		f.logger.WarnContext(ctx, "snapshot cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	} else if ok {
		return snap, nil
	}

	snap, err = f.inner.Fetch(ctx, assetID)
	if err != nil {
		return domain.PriceSnapshot{}, err
	}

	if err := f.cache.Set(ctx, key, snap, f.ttl); err != nil {
		f.logger.WarnContext(ctx, "snapshot cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	return snap, nil
}

// Compile-time interface check.
var _ domain.PriceFeed = (*CachedFeed)(nil)
