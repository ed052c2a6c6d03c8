package domain

import (
	"context"
	"time"
)

// PriceSnapshot is a single fetched ground-truth value. It is transient:
// produced by a feed, consumed by the evaluator, and persisted only inside
// the audit payload of a resolution.
type PriceSnapshot struct {
	Source    string
	AssetID   string
	Value     float64
	FetchedAt time.Time
}

// PriceFeed fetches the current value for an asset or event from one external
// provider. Implementations bound their own latency and do not retry; whether
// a failed fetch is retried is the caller's decision.
type PriceFeed interface {
	Fetch(ctx context.Context, assetID string) (PriceSnapshot, error)
	Name() string
}

// SnapshotCache stores recent price snapshots keyed by the provider-qualified
// asset key. Entries older than the TTL given at write time are treated as
// absent.
type SnapshotCache interface {
	Get(ctx context.Context, key string) (PriceSnapshot, bool, error)
	Set(ctx context.Context, key string, snap PriceSnapshot, ttl time.Duration) error
}
