package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Juggernaut7/convex/internal/chain"
	"github.com/Juggernaut7/convex/internal/domain"
	"github.com/Juggernaut7/convex/internal/notify"
)

// RunMode starts the resolution runner and, depending on configuration, the
// contract event watcher and the audit archiver. It blocks until the context
// is cancelled, then drains the in-flight cycle before returning.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")

	_ = deps.Notifier.Notify(ctx, notify.EventEngineStarted,
		"Oracle engine started",
		fmt.Sprintf("Polling every %s", a.cfg.Oracle.PollInterval.Duration),
	)

	g, gctx := errgroup.WithContext(ctx)

	deps.Runner.Start(gctx)

	if a.cfg.Chain.WatchEvents {
		watcher := chain.NewWatcher(deps.Chain, a.cfg.Oracle.PollInterval.Duration, a.logger)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	if deps.MemCache != nil && a.cfg.Oracle.CacheTTL.Duration > 0 {
		memCache := deps.MemCache
		interval := a.cfg.Oracle.CacheTTL.Duration
		g.Go(func() error {
			return memCache.Run(gctx, interval)
		})
	}

	if deps.Archiver != nil {
		archiver := deps.Archiver
		interval := a.cfg.Archive.Interval.Duration
		g.Go(func() error {
			return archiver.Run(gctx, interval)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	err := g.Wait()

	// Block until the in-flight cycle has drained.
	deps.Runner.Stop()

	// The run context is gone by now; the farewell alert gets its own.
	_ = deps.Notifier.Notify(context.WithoutCancel(ctx), notify.EventEngineStopped,
		"Oracle engine stopped", "Shutdown complete")

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: run mode: %w", err)
	}
	return nil
}

// OnceMode executes a single poll cycle and exits. Useful for cron-driven
// deployments and debugging.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	if err := deps.Runner.RunCycle(ctx); err != nil {
		return fmt.Errorf("app: once mode: %w", err)
	}
	return nil
}

// ResolveMode submits a manual resolution for a single market and exits.
func (a *App) ResolveMode(ctx context.Context, deps *Dependencies, args RunArgs) error {
	if args.ResolveMarketID <= 0 {
		return fmt.Errorf("app: resolve mode: market id is required (-market)")
	}
	outcome, err := domain.ParseOutcome(args.ResolveOutcome)
	if err != nil {
		return fmt.Errorf("app: resolve mode: %w", err)
	}

	a.logger.InfoContext(ctx, "starting resolve mode",
		slog.Int64("on_chain_id", args.ResolveMarketID),
		slog.String("outcome", string(outcome)),
	)

	txHash, err := deps.Runner.ResolveManually(ctx, args.ResolveMarketID, outcome)
	if err != nil {
		return fmt.Errorf("app: resolve mode: %w", err)
	}

	a.logger.InfoContext(ctx, "market resolved",
		slog.Int64("on_chain_id", args.ResolveMarketID),
		slog.String("tx_hash", txHash),
	)
	return nil
}
