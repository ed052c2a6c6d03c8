package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets. The oracle engine consumes a narrow slice of
// the full market collection: it lists pending oracle markets and flips them
// to settled (or records an error); it never creates or deletes markets.
type MarketStore interface {
	// ListPendingOracle returns markets with resolution source "oracle",
	// status draft or live, and a non-null on-chain id, ordered by
	// ascending close time.
	ListPendingOracle(ctx context.Context) ([]Market, error)

	// MarkResolved transitions the market to settled with the winning
	// outcome and appends the settlement tx hash and audit payload. The
	// status and outcome are written in one statement; a settled market
	// without an outcome can never be observed.
	MarkResolved(ctx context.Context, id string, outcome Outcome, txHash string, payload map[string]any) error

	// MarkErrored records the failure message and timestamp in the audit
	// trail without touching the status, so the market stays eligible for
	// the next poll cycle.
	MarkErrored(ctx context.Context, id string, message string) error

	// GetByOnChainID looks a market up by its contract identifier. Used by
	// the manual resolution gateway.
	GetByOnChainID(ctx context.Context, onChainID int64) (Market, error)

	GetByID(ctx context.Context, id string) (Market, error)
	Upsert(ctx context.Context, m Market) error
	Count(ctx context.Context) (int64, error)

	// ListSettledBefore returns settled markets whose update time is older
	// than the cutoff. Used by the audit archiver.
	ListSettledBefore(ctx context.Context, cutoff time.Time, opts ListOpts) ([]Market, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
