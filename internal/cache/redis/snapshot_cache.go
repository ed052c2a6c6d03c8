package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Juggernaut7/convex/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache using Redis hashes with a
// per-key expiry. Each snapshot is stored at "oracle:snapshot:{key}" with
// fields "source", "asset", "value", and "ts" (Unix nanoseconds); the TTL is
// enforced by Redis key expiry rather than a timestamp comparison.
type SnapshotCache struct {
	rdb *redis.Client
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{rdb: c.rdb}
}

func snapshotKey(key string) string {
	return "oracle:snapshot:" + key
}

// Set stores the snapshot under key with the given TTL.
func (sc *SnapshotCache) Set(ctx context.Context, key string, snap domain.PriceSnapshot, ttl time.Duration) error {
	rkey := snapshotKey(key)
	fields := map[string]interface{}{
		"source": snap.Source,
		"asset":  snap.AssetID,
		"value":  strconv.FormatFloat(snap.Value, 'f', -1, 64),
		"ts":     strconv.FormatInt(snap.FetchedAt.UnixNano(), 10),
	}

	pipe := sc.rdb.TxPipeline()
	pipe.HSet(ctx, rkey, fields)
	pipe.Expire(ctx, rkey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", key, err)
	}
	return nil
}

// Get retrieves the snapshot stored under key. The second return value is
// false when the key is absent or expired.
func (sc *SnapshotCache) Get(ctx context.Context, key string) (domain.PriceSnapshot, bool, error) {
	vals, err := sc.rdb.HGetAll(ctx, snapshotKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PriceSnapshot{}, false, nil
		}
		return domain.PriceSnapshot{}, false, fmt.Errorf("redis: get snapshot %s: %w", key, err)
	}
	if len(vals) == 0 {
		return domain.PriceSnapshot{}, false, nil
	}

	value, err := strconv.ParseFloat(vals["value"], 64)
	if err != nil {
		return domain.PriceSnapshot{}, false, fmt.Errorf("redis: parse snapshot value %s: %w", key, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceSnapshot{}, false, fmt.Errorf("redis: parse snapshot ts %s: %w", key, err)
	}

	return domain.PriceSnapshot{
		Source:    vals["source"],
		AssetID:   vals["asset"],
		Value:     value,
		FetchedAt: time.Unix(0, tsNano),
	}, true, nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
