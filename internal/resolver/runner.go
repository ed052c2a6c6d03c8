package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Juggernaut7/convex/internal/domain"
	"github.com/Juggernaut7/convex/internal/feed"
)

// Alerter delivers operator notifications for resolution events. The notify
// package's Notifier satisfies it; a nil Alerter disables alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds runner parameters.
type Config struct {
	// PollInterval is the delay between poll cycles.
	PollInterval time.Duration

	// DefaultThreshold is the comparison target used when a price market
	// carries no threshold of its own.
	DefaultThreshold float64
}

// Runner is the resolution orchestrator. A periodic timer drives poll
// cycles; within a cycle markets are processed sequentially in ascending
// close-time order, so the earliest-expired market settles first and the
// single resolver wallet never races itself on nonces. At most one cycle is
// in flight at a time: a tick that fires while a cycle is still running is
// dropped, not queued.
type Runner struct {
	store   domain.MarketStore
	feeds   *feed.Registry
	settler domain.Settler
	audit   domain.AuditStore
	alerter Alerter
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	running bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRunner creates a Runner. audit and alerter may be nil.
func NewRunner(
	store domain.MarketStore,
	feeds *feed.Registry,
	settler domain.Settler,
	audit domain.AuditStore,
	alerter Alerter,
	cfg Config,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		store:   store,
		feeds:   feeds,
		settler: settler,
		audit:   audit,
		alerter: alerter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "resolver")),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the poll loop in a goroutine. An initial cycle runs
// immediately, then one per PollInterval. The loop exits when ctx is
// cancelled or Stop is called; either way the in-flight cycle is allowed to
// finish rather than being interrupted mid-settlement.
func (r *Runner) Start(ctx context.Context) {
	r.logger.InfoContext(ctx, "starting resolution runner",
		slog.Duration("poll_interval", r.cfg.PollInterval),
	)

	go func() {
		defer close(r.done)

		// Cycles intentionally outlive ctx cancellation: shutdown must
		// drain, not abandon, a mid-flight settlement transaction.
		cycleCtx := context.WithoutCancel(ctx)

		if err := r.RunCycle(cycleCtx); err != nil {
			r.logger.Error("poll cycle failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(r.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("resolution runner stopping", slog.String("reason", "context cancelled"))
				return
			case <-r.stop:
				r.logger.Info("resolution runner stopping", slog.String("reason", "stop requested"))
				return
			case <-ticker.C:
				if err := r.RunCycle(cycleCtx); err != nil {
					r.logger.Error("poll cycle failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop prevents any new cycle from starting and blocks until the loop has
// exited. It does not interrupt a cycle already in flight.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	<-r.done
}

// tryBegin attempts to mark a cycle as in flight. It returns false when
// another cycle is still running.
func (r *Runner) tryBegin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Runner) end() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// RunCycle executes one poll cycle: list pending oracle markets and process
// each sequentially. Overlapping invocations are dropped. A listing failure
// aborts the cycle with no per-market writes; per-market failures are
// recorded and do not stop the cycle.
func (r *Runner) RunCycle(ctx context.Context) error {
	if !r.tryBegin() {
		r.logger.DebugContext(ctx, "previous cycle still in flight, dropping tick")
		return nil
	}
	defer r.end()

	cycleID := uuid.NewString()
	logger := r.logger.With(slog.String("cycle", cycleID))

	pending, err := r.store.ListPendingOracle(ctx)
	if err != nil {
		return fmt.Errorf("resolver: %w: list pending markets: %v", domain.ErrStore, err)
	}
	if len(pending) == 0 {
		logger.DebugContext(ctx, "no pending oracle markets")
		return nil
	}

	logger.DebugContext(ctx, "processing pending oracle markets", slog.Int("count", len(pending)))

	var resolved, skipped, failed int
	for i := range pending {
		switch r.handleMarket(ctx, logger, pending[i]) {
		case handleResolved:
			resolved++
		case handleSkipped:
			skipped++
		case handleFailed:
			failed++
		}
	}

	logger.InfoContext(ctx, "poll cycle complete",
		slog.Int("pending", len(pending)),
		slog.Int("resolved", resolved),
		slog.Int("skipped", skipped),
		slog.Int("failed", failed),
	)
	return nil
}

type handleResult int

const (
	handleSkipped handleResult = iota
	handleResolved
	handleFailed
)

// handleMarket dispatches a single pending market. Failures never escape:
// they are converted to an audit write and the cycle moves on.
func (r *Runner) handleMarket(ctx context.Context, logger *slog.Logger, m domain.Market) handleResult {
	if !m.Eligible(time.Now()) {
		// Not yet closed, already settled or voided, or missing an on-chain
		// id. Silently left alone; the listing normally excludes these, but
		// the status can move between the query and this check.
		return handleSkipped
	}

	switch m.MarketType {
	case domain.MarketTypePrice:
		if err := r.resolvePriceMarket(ctx, logger, m); err != nil {
			r.recordFailure(ctx, logger, m, err)
			return handleFailed
		}
		return handleResolved
	default:
		// Known extension point, not a failure: no audit write, no status
		// change, the market simply stays live.
		logger.WarnContext(ctx, "unsupported market type for oracle automation",
			slog.String("market_id", m.ID),
			slog.String("market_type", string(m.MarketType)),
		)
		return handleSkipped
	}
}

// resolvePriceMarket runs the full pipeline for one price market:
// parse oracle id → fetch → evaluate → settle → persist.
func (r *Runner) resolvePriceMarket(ctx context.Context, logger *slog.Logger, m domain.Market) error {
	provider, assetID, err := domain.ParseOracleID(m.OracleID)
	if err != nil {
		return err
	}

	priceFeed, err := r.feeds.Lookup(provider)
	if err != nil {
		return err
	}

	snap, err := priceFeed.Fetch(ctx, assetID)
	if err != nil {
		return err
	}

	threshold := r.cfg.DefaultThreshold
	if m.ThresholdValue != nil {
		threshold = *m.ThresholdValue
	}

	outcome, err := Evaluate(snap.Value, OpGTE, threshold)
	if err != nil {
		return err
	}

	receipt, err := r.settler.Submit(ctx, *m.OnChainID, outcome)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"price":     snap.Value,
		"threshold": threshold,
		"source":    snap.Source,
		"fetchedAt": snap.FetchedAt.UTC().Format(time.RFC3339),
	}
	if err := r.store.MarkResolved(ctx, m.ID, outcome, receipt.TxHash, payload); err != nil {
		return fmt.Errorf("resolver: %w: mark resolved %s: %v", domain.ErrStore, m.ID, err)
	}

	logger.InfoContext(ctx, "resolved price market",
		slog.String("market_id", m.ID),
		slog.Int64("on_chain_id", *m.OnChainID),
		slog.Float64("price", snap.Value),
		slog.Float64("threshold", threshold),
		slog.String("outcome", string(outcome)),
		slog.String("tx", receipt.TxHash),
		slog.Int("attempts", receipt.Attempts),
	)

	r.auditLog(ctx, "market_resolved", map[string]any{
		"marketId":  m.ID,
		"onChainId": *m.OnChainID,
		"outcome":   string(outcome),
		"txHash":    receipt.TxHash,
		"price":     snap.Value,
		"threshold": threshold,
	})
	r.alert(ctx, "market_resolved", "Market resolved",
		fmt.Sprintf("Market %d resolved %s at price %.4f (threshold %.4f), tx %s",
			*m.OnChainID, outcome, snap.Value, threshold, receipt.TxHash))

	return nil
}

// recordFailure routes a per-market error to the audit trail. The market's
// status is left untouched so it stays eligible for the next cycle.
func (r *Runner) recordFailure(ctx context.Context, logger *slog.Logger, m domain.Market, cause error) {
	logger.ErrorContext(ctx, "failed to resolve market",
		slog.String("market_id", m.ID),
		slog.String("error", cause.Error()),
	)

	if err := r.store.MarkErrored(ctx, m.ID, cause.Error()); err != nil {
		logger.ErrorContext(ctx, "failed to record market error",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}

	r.auditLog(ctx, "resolution_error", map[string]any{
		"marketId": m.ID,
		"error":    cause.Error(),
	})
	r.alert(ctx, "resolution_error", "Market resolution failed",
		fmt.Sprintf("Market %s: %v", m.ID, cause))
}

// ResolveManually settles a market directly with the given outcome. It
// bypasses the eligibility and type filters and the evaluator, but routes
// through the same settlement client (same retry policy) and the same
// bookkeeping, so the manual and automatic paths cannot diverge on-chain.
// The market row is updated when one exists for the on-chain id; a market
// known only on-chain still settles.
func (r *Runner) ResolveManually(ctx context.Context, onChainID int64, outcome domain.Outcome) (string, error) {
	if !outcome.Valid() {
		return "", fmt.Errorf("resolver: invalid outcome %q", outcome)
	}

	receipt, err := r.settler.Submit(ctx, onChainID, outcome)
	if err != nil {
		return "", err
	}

	r.logger.InfoContext(ctx, "manually resolved market",
		slog.Int64("on_chain_id", onChainID),
		slog.String("outcome", string(outcome)),
		slog.String("tx", receipt.TxHash),
	)

	m, err := r.store.GetByOnChainID(ctx, onChainID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		r.logger.WarnContext(ctx, "no stored market for on-chain id, skipping bookkeeping",
			slog.Int64("on_chain_id", onChainID),
		)
	case err != nil:
		return receipt.TxHash, fmt.Errorf("resolver: %w: lookup market %d: %v", domain.ErrStore, onChainID, err)
	default:
		payload := map[string]any{"manual": true}
		if err := r.store.MarkResolved(ctx, m.ID, outcome, receipt.TxHash, payload); err != nil {
			return receipt.TxHash, fmt.Errorf("resolver: %w: mark resolved %s: %v", domain.ErrStore, m.ID, err)
		}
	}

	r.auditLog(ctx, "market_resolved", map[string]any{
		"onChainId": onChainID,
		"outcome":   string(outcome),
		"txHash":    receipt.TxHash,
		"manual":    true,
	})

	return receipt.TxHash, nil
}

// auditLog appends to the audit store when one is configured. Audit failures
// are logged and swallowed: the trail is observability, not correctness.
func (r *Runner) auditLog(ctx context.Context, event string, detail map[string]any) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Log(ctx, event, detail); err != nil {
		r.logger.WarnContext(ctx, "audit log write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// alert sends an operator notification when an alerter is configured.
func (r *Runner) alert(ctx context.Context, event, title, message string) {
	if r.alerter == nil {
		return
	}
	if err := r.alerter.Notify(ctx, event, title, message); err != nil {
		r.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
