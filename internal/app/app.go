// Package app provides the top-level lifecycle for the convex oracle daemon.
// It wires the stores, caches, feeds, chain client, and notifier together and
// starts the goroutines for the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Juggernaut7/convex/internal/config"
)

// RunArgs carries per-invocation arguments that do not belong in the config
// file. They are only consulted in resolve mode.
type RunArgs struct {
	// ResolveMarketID is the on-chain id of the market to resolve.
	ResolveMarketID int64

	// ResolveOutcome is the outcome to submit, "yes" or "no".
	ResolveOutcome string
}

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, dispatches to the configured mode, and blocks until
// the mode returns. Cleanup functions registered during wiring run on Close.
func (a *App) Run(ctx context.Context, args RunArgs) error {
	a.logger.InfoContext(ctx, "starting convex oracle",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "run":
		return a.RunMode(ctx, deps)
	case "once":
		return a.OnceMode(ctx, deps)
	case "resolve":
		return a.ResolveMode(ctx, deps, args)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
