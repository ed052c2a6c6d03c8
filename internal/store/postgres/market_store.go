package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Juggernaut7/convex/internal/domain"
)

// MarketStore implements domain.MarketStore backed by PostgreSQL.
type MarketStore struct {
	client *Client
}

// NewMarketStore creates a market store using the given client.
func NewMarketStore(client *Client) *MarketStore {
	return &MarketStore{client: client}
}

var _ domain.MarketStore = (*MarketStore)(nil)

const marketColumns = `
	id, title, market_type, resolution_source, on_chain_id, oracle_id,
	threshold_value, close_time, status, winning_outcome, oracle_meta,
	created_at, updated_at`

// oracleMetaRow is the JSONB encoding of domain.OracleMeta.
type oracleMetaRow struct {
	LastResolutionTx string         `json:"last_resolution_tx,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
	LastErrorAt      *time.Time     `json:"last_error_at,omitempty"`
}

// ListPendingOracle returns oracle-sourced markets that are still open and
// carry an on-chain identity, ordered by ascending close time.
func (s *MarketStore) ListPendingOracle(ctx context.Context) ([]domain.Market, error) {
	query := `
		SELECT ` + marketColumns + `
		FROM markets
		WHERE resolution_source = 'oracle'
		  AND status IN ('draft', 'live')
		  AND on_chain_id IS NOT NULL
		ORDER BY close_time ASC`

	rows, err := s.client.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending oracle markets: %w", err)
	}
	defer rows.Close()

	return scanMarkets(rows)
}

// MarkResolved flips the market to settled and records the winning outcome,
// settlement tx hash, and oracle payload in a single statement.
func (s *MarketStore) MarkResolved(ctx context.Context, id string, outcome domain.Outcome, txHash string, payload map[string]any) error {
	meta, err := json.Marshal(map[string]any{
		"last_resolution_tx": txHash,
		"payload":            payload,
	})
	if err != nil {
		return fmt.Errorf("postgres: marshal oracle meta: %w", err)
	}

	query := `
		UPDATE markets
		SET status = 'settled',
		    winning_outcome = $2,
		    oracle_meta = oracle_meta || $3::jsonb,
		    updated_at = NOW()
		WHERE id = $1`

	tag, err := s.client.Pool().Exec(ctx, query, id, string(outcome), meta)
	if err != nil {
		return fmt.Errorf("postgres: mark market %s resolved: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark market %s resolved: %w", id, domain.ErrNotFound)
	}
	return nil
}

// MarkErrored records the failure in the oracle meta without changing the
// market status, so the market stays eligible for the next cycle.
func (s *MarketStore) MarkErrored(ctx context.Context, id string, message string) error {
	meta, err := json.Marshal(map[string]any{
		"last_error":    message,
		"last_error_at": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("postgres: marshal oracle meta: %w", err)
	}

	query := `
		UPDATE markets
		SET oracle_meta = oracle_meta || $2::jsonb,
		    updated_at = NOW()
		WHERE id = $1`

	tag, err := s.client.Pool().Exec(ctx, query, id, meta)
	if err != nil {
		return fmt.Errorf("postgres: mark market %s errored: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark market %s errored: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByOnChainID looks a market up by its contract identifier.
func (s *MarketStore) GetByOnChainID(ctx context.Context, onChainID int64) (domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE on_chain_id = $1`

	rows, err := s.client.Pool().Query(ctx, query, onChainID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market by on-chain id %d: %w", onChainID, err)
	}
	defer rows.Close()

	m, err := pgx.CollectOneRow(rows, scanMarketRow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: market on-chain id %d: %w", onChainID, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by on-chain id %d: %w", onChainID, err)
	}
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE id = $1`

	rows, err := s.client.Pool().Query(ctx, query, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	defer rows.Close()

	m, err := pgx.CollectOneRow(rows, scanMarketRow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// Upsert inserts or updates a market keyed by id.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	meta, err := json.Marshal(oracleMetaRow{
		LastResolutionTx: m.OracleMeta.LastResolutionTx,
		Payload:          m.OracleMeta.Payload,
		LastError:        m.OracleMeta.LastError,
		LastErrorAt:      m.OracleMeta.LastErrorAt,
	})
	if err != nil {
		return fmt.Errorf("postgres: marshal oracle meta: %w", err)
	}

	var outcome *string
	if m.WinningOutcome != nil {
		s := string(*m.WinningOutcome)
		outcome = &s
	}

	query := `
		INSERT INTO markets (
			id, title, market_type, resolution_source, on_chain_id,
			oracle_id, threshold_value, close_time, status,
			winning_outcome, oracle_meta, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			market_type = EXCLUDED.market_type,
			resolution_source = EXCLUDED.resolution_source,
			on_chain_id = EXCLUDED.on_chain_id,
			oracle_id = EXCLUDED.oracle_id,
			threshold_value = EXCLUDED.threshold_value,
			close_time = EXCLUDED.close_time,
			status = EXCLUDED.status,
			winning_outcome = EXCLUDED.winning_outcome,
			oracle_meta = EXCLUDED.oracle_meta,
			updated_at = NOW()`

	_, err = s.client.Pool().Exec(ctx, query,
		m.ID, m.Title, string(m.MarketType), string(m.ResolutionSource),
		m.OnChainID, m.OracleID, m.ThresholdValue, m.CloseTime,
		string(m.Status), outcome, meta,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.client.Pool().QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// ListSettledBefore returns settled markets last updated before the cutoff.
func (s *MarketStore) ListSettledBefore(ctx context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.Market, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + marketColumns + `
		FROM markets
		WHERE status = 'settled' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2 OFFSET $3`

	rows, err := s.client.Pool().Query(ctx, query, cutoff, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled markets: %w", err)
	}
	defer rows.Close()

	return scanMarkets(rows)
}

func scanMarkets(rows pgx.Rows) ([]domain.Market, error) {
	markets, err := pgx.CollectRows(rows, scanMarketRow)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets: %w", err)
	}
	return markets, nil
}

func scanMarketRow(row pgx.CollectableRow) (domain.Market, error) {
	var (
		m          domain.Market
		marketType string
		source     string
		status     string
		outcome    *string
		metaRaw    []byte
	)

	err := row.Scan(
		&m.ID, &m.Title, &marketType, &source, &m.OnChainID, &m.OracleID,
		&m.ThresholdValue, &m.CloseTime, &status, &outcome, &metaRaw,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	m.MarketType = domain.MarketType(marketType)
	m.ResolutionSource = domain.ResolutionSource(source)
	m.Status = domain.MarketStatus(status)
	if outcome != nil {
		o := domain.Outcome(strings.ToLower(*outcome))
		m.WinningOutcome = &o
	}

	if len(metaRaw) > 0 {
		var meta oracleMetaRow
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			return domain.Market{}, fmt.Errorf("decode oracle meta: %w", err)
		}
		m.OracleMeta = domain.OracleMeta{
			LastResolutionTx: meta.LastResolutionTx,
			Payload:          meta.Payload,
			LastError:        meta.LastError,
			LastErrorAt:      meta.LastErrorAt,
		}
	}

	return m, nil
}
