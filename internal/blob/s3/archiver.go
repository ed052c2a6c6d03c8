package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Juggernaut7/convex/internal/domain"
)

// Archiver exports settled markets to cold storage as JSONL, partitioned by
// the year-month of the cutoff. Archived markets are not deleted from the
// primary store; pruning is a separate, explicit step run after the archive
// has been verified.
type Archiver struct {
	writer    domain.BlobWriter
	markets   domain.MarketStore
	audit     domain.AuditStore
	retention time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. Markets settled longer than retention ago
// are eligible for export.
func NewArchiver(writer domain.BlobWriter, markets domain.MarketStore, audit domain.AuditStore, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		markets:   markets,
		audit:     audit,
		retention: retention,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// archivedMarket is the JSONL record format for an exported market.
type archivedMarket struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	MarketType       string         `json:"market_type"`
	ResolutionSource string         `json:"resolution_source"`
	OnChainID        *int64         `json:"on_chain_id,omitempty"`
	OracleID         string         `json:"oracle_id,omitempty"`
	ThresholdValue   *float64       `json:"threshold_value,omitempty"`
	CloseTime        time.Time      `json:"close_time"`
	WinningOutcome   string         `json:"winning_outcome,omitempty"`
	ResolutionTx     string         `json:"resolution_tx,omitempty"`
	OraclePayload    map[string]any `json:"oracle_payload,omitempty"`
	SettledAt        time.Time      `json:"settled_at"`
}

// Run exports on the given interval until the context is cancelled.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := a.ArchiveSettled(ctx, time.Now().Add(-a.retention))
			if err != nil {
				a.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "archived settled markets", slog.Int64("count", count))
			}
		}
	}
}

// ArchiveSettled exports markets settled before the cutoff to
// archive/markets/YYYY-MM.jsonl and records the export in the audit log. It
// returns the number of exported markets.
func (a *Archiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	markets, err := a.markets.ListSettledBefore(ctx, before, domain.ListOpts{Limit: 1000})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled query: %w", err)
	}
	if len(markets) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, m := range markets {
		rec := archivedMarket{
			ID:               m.ID,
			Title:            m.Title,
			MarketType:       string(m.MarketType),
			ResolutionSource: string(m.ResolutionSource),
			OnChainID:        m.OnChainID,
			OracleID:         m.OracleID,
			ThresholdValue:   m.ThresholdValue,
			CloseTime:        m.CloseTime,
			ResolutionTx:     m.OracleMeta.LastResolutionTx,
			OraclePayload:    m.OracleMeta.Payload,
			SettledAt:        m.UpdatedAt,
		}
		if m.WinningOutcome != nil {
			rec.WinningOutcome = string(*m.WinningOutcome)
		}
		if err := enc.Encode(rec); err != nil {
			return 0, fmt.Errorf("s3blob: encode market %s: %w", m.ID, err)
		}
	}

	path := fmt.Sprintf("archive/markets/%s.jsonl", before.Format("2006-01"))
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf.Bytes()), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive settled upload: %w", err)
	}

	count := int64(len(markets))

	if err := a.audit.Log(ctx, "archive.markets", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive settled audit log: %w", err)
	}

	return count, nil
}
