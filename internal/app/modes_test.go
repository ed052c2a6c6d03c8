package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Juggernaut7/convex/internal/cache/memory"
	"github.com/Juggernaut7/convex/internal/config"
	"github.com/Juggernaut7/convex/internal/domain"
	"github.com/Juggernaut7/convex/internal/feed"
	"github.com/Juggernaut7/convex/internal/notify"
	"github.com/Juggernaut7/convex/internal/resolver"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// nullStore is an empty domain.MarketStore for lifecycle tests.
type nullStore struct{}

func (nullStore) ListPendingOracle(context.Context) ([]domain.Market, error) { return nil, nil }
func (nullStore) MarkResolved(context.Context, string, domain.Outcome, string, map[string]any) error {
	return nil
}
func (nullStore) MarkErrored(context.Context, string, string) error { return nil }
func (nullStore) GetByOnChainID(context.Context, int64) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (nullStore) GetByID(context.Context, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (nullStore) Upsert(context.Context, domain.Market) error { return nil }
func (nullStore) Count(context.Context) (int64, error)        { return 0, nil }
func (nullStore) ListSettledBefore(context.Context, time.Time, domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}

type nullSettler struct{}

func (nullSettler) Submit(context.Context, int64, domain.Outcome) (domain.Receipt, error) {
	return domain.Receipt{TxHash: "0xtx", Attempts: 1}, nil
}

func testDependencies(cfg *config.Config, logger *slog.Logger) *Dependencies {
	return &Dependencies{
		MarketStore: nullStore{},
		Feeds:       feed.NewRegistry(),
		Runner: resolver.NewRunner(nullStore{}, feed.NewRegistry(), nullSettler{}, nil, nil,
			resolver.Config{PollInterval: cfg.Oracle.PollInterval.Duration}, logger),
		Notifier: notify.New(logger, nil),
		MemCache: memory.NewSnapshotCache(),
	}
}

func TestRunMode_CancellationIsClean(t *testing.T) {
	cfg := config.Defaults()
	cfg.Chain.WatchEvents = false
	logger := testLogger()

	a := New(&cfg, logger)
	deps := testDependencies(&cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- a.RunMode(ctx, deps)
	}()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean shutdown, not a failure")
	case <-time.After(5 * time.Second):
		t.Fatal("run mode did not return after cancellation")
	}
}

func TestResolveMode_RequiresMarketID(t *testing.T) {
	cfg := config.Defaults()
	logger := testLogger()

	a := New(&cfg, logger)
	deps := testDependencies(&cfg, logger)

	err := a.ResolveMode(context.Background(), deps, RunArgs{ResolveOutcome: "yes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market id is required")
}

func TestResolveMode_RejectsUnknownOutcome(t *testing.T) {
	cfg := config.Defaults()
	logger := testLogger()

	a := New(&cfg, logger)
	deps := testDependencies(&cfg, logger)

	err := a.ResolveMode(context.Background(), deps, RunArgs{ResolveMarketID: 7, ResolveOutcome: "maybe"})
	require.Error(t, err)
}
