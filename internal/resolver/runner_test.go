package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Juggernaut7/convex/internal/domain"
	"github.com/Juggernaut7/convex/internal/feed"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory domain.MarketStore recording engine writes.
type fakeStore struct {
	mu      sync.Mutex
	pending []domain.Market
	listErr error

	// listStarted/listRelease make ListPendingOracle block until released,
	// for overlap tests. Nil channels disable blocking.
	listStarted chan struct{}
	listRelease chan struct{}
	listCalls   int

	resolved []resolvedCall
	errored  []erroredCall
}

type resolvedCall struct {
	id      string
	outcome domain.Outcome
	txHash  string
	payload map[string]any
}

type erroredCall struct {
	id      string
	message string
}

func (s *fakeStore) ListPendingOracle(context.Context) ([]domain.Market, error) {
	s.mu.Lock()
	s.listCalls++
	s.mu.Unlock()

	if s.listStarted != nil {
		s.listStarted <- struct{}{}
		<-s.listRelease
	}
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.pending, nil
}

func (s *fakeStore) MarkResolved(_ context.Context, id string, outcome domain.Outcome, txHash string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, resolvedCall{id: id, outcome: outcome, txHash: txHash, payload: payload})
	for i := range s.pending {
		if s.pending[i].ID == id {
			s.pending[i].Status = domain.MarketStatusSettled
		}
	}
	return nil
}

func (s *fakeStore) MarkErrored(_ context.Context, id string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errored = append(s.errored, erroredCall{id: id, message: message})
	return nil
}

func (s *fakeStore) GetByOnChainID(_ context.Context, onChainID int64) (domain.Market, error) {
	for _, m := range s.pending {
		if m.OnChainID != nil && *m.OnChainID == onChainID {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *fakeStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	for _, m := range s.pending {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Market{}, domain.ErrNotFound
}

func (s *fakeStore) Upsert(context.Context, domain.Market) error { return nil }
func (s *fakeStore) Count(context.Context) (int64, error)        { return int64(len(s.pending)), nil }
func (s *fakeStore) ListSettledBefore(context.Context, time.Time, domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}

// fakeFeed serves canned values per asset id.
type fakeFeed struct {
	name   string
	values map[string]float64
	errs   map[string]error
}

func (f *fakeFeed) Name() string { return f.name }

func (f *fakeFeed) Fetch(_ context.Context, assetID string) (domain.PriceSnapshot, error) {
	if err, ok := f.errs[assetID]; ok {
		return domain.PriceSnapshot{}, err
	}
	v, ok := f.values[assetID]
	if !ok {
		return domain.PriceSnapshot{}, fmt.Errorf("fakefeed: %w: unknown asset %s", domain.ErrUpstream, assetID)
	}
	return domain.PriceSnapshot{Source: f.name, AssetID: assetID, Value: v, FetchedAt: time.Now()}, nil
}

// fakeSettler records submissions.
type fakeSettler struct {
	mu    sync.Mutex
	err   error
	calls []settleCall
}

type settleCall struct {
	onChainID int64
	outcome   domain.Outcome
}

func (s *fakeSettler) Submit(_ context.Context, onChainID int64, outcome domain.Outcome) (domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Receipt{}, s.err
	}
	s.calls = append(s.calls, settleCall{onChainID: onChainID, outcome: outcome})
	return domain.Receipt{TxHash: fmt.Sprintf("0xtx%d", len(s.calls)), GasUsed: 21000, Attempts: 1}, nil
}

func priceMarket(id string, onChainID int64, oracleID string, threshold float64, closeTime time.Time) domain.Market {
	return domain.Market{
		ID:               id,
		Title:            "test market " + id,
		MarketType:       domain.MarketTypePrice,
		ResolutionSource: domain.ResolutionOracle,
		OnChainID:        &onChainID,
		OracleID:         oracleID,
		ThresholdValue:   &threshold,
		CloseTime:        closeTime,
		Status:           domain.MarketStatusLive,
	}
}

func newTestRunner(store *fakeStore, settler *fakeSettler, feeds ...domain.PriceFeed) *Runner {
	if len(feeds) == 0 {
		feeds = []domain.PriceFeed{&fakeFeed{
			name:   "coingecko",
			values: map[string]float64{"bitcoin": 70000},
		}}
	}
	return NewRunner(store, feed.NewRegistry(feeds...), settler, nil, nil,
		Config{PollInterval: time.Minute}, testLogger())
}

func TestRunCycle_ResolvesDuePriceMarket(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := &fakeStore{pending: []domain.Market{
		priceMarket("m1", 7, "coingecko:bitcoin", 69000, past),
	}}
	settler := &fakeSettler{}

	r := newTestRunner(store, settler)
	require.NoError(t, r.RunCycle(context.Background()))

	require.Len(t, settler.calls, 1)
	assert.Equal(t, int64(7), settler.calls[0].onChainID)
	assert.Equal(t, domain.OutcomeYes, settler.calls[0].outcome)

	require.Len(t, store.resolved, 1)
	rc := store.resolved[0]
	assert.Equal(t, "m1", rc.id)
	assert.Equal(t, domain.OutcomeYes, rc.outcome)
	assert.Equal(t, "0xtx1", rc.txHash)
	assert.Equal(t, 70000.0, rc.payload["price"])
	assert.Equal(t, 69000.0, rc.payload["threshold"])
	assert.Empty(t, store.errored)
}

func TestRunCycle_BelowThresholdResolvesNo(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := &fakeStore{pending: []domain.Market{
		priceMarket("m1", 7, "coingecko:bitcoin", 71000, past),
	}}
	settler := &fakeSettler{}

	r := newTestRunner(store, settler)
	require.NoError(t, r.RunCycle(context.Background()))

	require.Len(t, settler.calls, 1)
	assert.Equal(t, domain.OutcomeNo, settler.calls[0].outcome)
	require.Len(t, store.resolved, 1)
	assert.Equal(t, domain.OutcomeNo, store.resolved[0].outcome)
}

func TestRunCycle_SkipsMarketNotYetClosed(t *testing.T) {
	future := time.Now().Add(time.Hour)
	store := &fakeStore{pending: []domain.Market{
		priceMarket("m1", 7, "coingecko:bitcoin", 69000, future),
	}}
	settler := &fakeSettler{}

	r := newTestRunner(store, settler)
	require.NoError(t, r.RunCycle(context.Background()))

	assert.Empty(t, settler.calls)
	assert.Empty(t, store.resolved)
	assert.Empty(t, store.errored)
}

func TestRunCycle_SkipsSettledMarketFromListing(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	m := priceMarket("m1", 7, "coingecko:bitcoin", 69000, past)
	m.Status = domain.MarketStatusSettled
	store := &fakeStore{pending: []domain.Market{m}}
	settler := &fakeSettler{}

	r := newTestRunner(store, settler)
	require.NoError(t, r.RunCycle(context.Background()))

	// A market whose status moved after the listing query must be left alone.
	assert.Empty(t, settler.calls)
	assert.Empty(t, store.resolved)
	assert.Empty(t, store.errored)
}

func TestRunCycle_SkipsMarketWithoutOnChainID(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	m := priceMarket("m1", 7, "coingecko:bitcoin", 69000, past)
	m.OnChainID = nil
	store := &fakeStore{pending: []domain.Market{m}}
	settler := &fakeSettler{}

	r := newTestRunner(store, settler)
	require.NoError(t, r.RunCycle(context.Background()))

	assert.Empty(t, settler.calls)
	assert.Empty(t, store.resolved)
	assert.Empty(t, store.errored)
}

func TestRunCycle_SecondCycleDoesNotResubmit(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := &fakeStore{pending: []domain.Market{
		priceMarket("m1", 7, "coingecko:bitcoin", 69000, past),
	}}
	settler := &fakeSettler{}

	r := newTestRunner(store, settler)
	require.NoError(t, r.RunCycle(context.Background()))
	require.Len(t, settler.calls, 1)

	// The store now reports the market as settled. Even though the listing
	// still returns it, the second cycle must not touch the chain again.
	require.NoError(t, r.RunCycle(context.Background()))

	assert.Len(t, settler.calls, 1)
	assert.Len(t, store.resolved, 1)
	assert.Empty(t, store.errored)
}

func TestRunCycle_ListFailureAbortsCycle(t *testing.T) {
	store := &fakeStore{listErr: errors.New("connection refused")}
	settler := &fakeSettler{}

	r := newTestRunner(store, settler)
	err := r.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStore))
	assert.Empty(t, settler.calls)
	assert.Empty(t, store.errored)
}

func TestRunCycle_FeedFailureIsolatedPerMarket(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := &fakeStore{pending: []domain.Market{
		priceMarket("m1", 1, "coingecko:broken", 100, past),
		priceMarket("m2", 2, "coingecko:bitcoin", 69000, past),
	}}
	settler := &fakeSettler{}
	f := &fakeFeed{
		name:   "coingecko",
		values: map[string]float64{"bitcoin": 70000},
		errs:   map[string]error{"broken": fmt.Errorf("fakefeed: %w: request timeout", domain.ErrUpstream)},
	}

	r := newTestRunner(store, settler, f)
	require.NoError(t, r.RunCycle(context.Background()))

	// The broken market is recorded as errored; the healthy one settles.
	require.Len(t, store.errored, 1)
	assert.Equal(t, "m1", store.errored[0].id)
	assert.Contains(t, store.errored[0].message, "timeout")

	require.Len(t, store.resolved, 1)
	assert.Equal(t, "m2", store.resolved[0].id)
}

func TestRunCycle_SettlementFailureRecorded(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := &fakeStore{pending: []domain.Market{
		priceMarket("m1", 7, "coingecko:bitcoin", 69000, past),
	}}
	settler := &fakeSettler{err: fmt.Errorf("chain: %w: submit after 5 attempts", domain.ErrSettlement)}

	r := newTestRunner(store, settler)
	require.NoError(t, r.RunCycle(context.Background()))

	assert.Empty(t, store.resolved)
	require.Len(t, store.errored, 1)
	assert.Contains(t, store.errored[0].message, "5 attempts")
}

func TestRunCycle_MalformedOracleIDRecorded(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := &fakeStore{pending: []domain.Market{
		priceMarket("m1", 7, "bitcoin", 69000, past),
	}}
	settler := &fakeSettler{}

	r := newTestRunner(store, settler)
	require.NoError(t, r.RunCycle(context.Background()))

	assert.Empty(t, settler.calls)
	require.Len(t, store.errored, 1)
	assert.Contains(t, store.errored[0].message, "malformed oracle id")
}

func TestRunCycle_UnknownProviderRecorded(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := &fakeStore{pending: []domain.Market{
		priceMarket("m1", 7, "nosuchfeed:bitcoin", 69000, past),
	}}
	settler := &fakeSettler{}

	r := newTestRunner(store, settler)
	require.NoError(t, r.RunCycle(context.Background()))

	assert.Empty(t, settler.calls)
	require.Len(t, store.errored, 1)
}

func TestRunCycle_UnsupportedMarketTypeSkipped(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	m := priceMarket("m1", 7, "apifootball:12345", 1, past)
	m.MarketType = domain.MarketTypeEvent
	store := &fakeStore{pending: []domain.Market{m}}
	settler := &fakeSettler{}

	r := newTestRunner(store, settler)
	require.NoError(t, r.RunCycle(context.Background()))

	// Left alone entirely: no settlement, no error bookkeeping.
	assert.Empty(t, settler.calls)
	assert.Empty(t, store.resolved)
	assert.Empty(t, store.errored)
}

func TestRunCycle_NilThresholdUsesDefault(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	m := priceMarket("m1", 7, "coingecko:bitcoin", 0, past)
	m.ThresholdValue = nil
	store := &fakeStore{pending: []domain.Market{m}}
	settler := &fakeSettler{}

	r := NewRunner(store, feed.NewRegistry(&fakeFeed{
		name:   "coingecko",
		values: map[string]float64{"bitcoin": 70000},
	}), settler, nil, nil, Config{PollInterval: time.Minute, DefaultThreshold: 80000}, testLogger())

	require.NoError(t, r.RunCycle(context.Background()))

	require.Len(t, store.resolved, 1)
	assert.Equal(t, domain.OutcomeNo, store.resolved[0].outcome)
	assert.Equal(t, 80000.0, store.resolved[0].payload["threshold"])
}

func TestRunCycle_ProcessesSequentiallyInListOrder(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := &fakeStore{pending: []domain.Market{
		priceMarket("m1", 1, "coingecko:bitcoin", 69000, past.Add(-2*time.Hour)),
		priceMarket("m2", 2, "coingecko:bitcoin", 69000, past.Add(-time.Hour)),
		priceMarket("m3", 3, "coingecko:bitcoin", 69000, past),
	}}
	settler := &fakeSettler{}

	r := newTestRunner(store, settler)
	require.NoError(t, r.RunCycle(context.Background()))

	require.Len(t, settler.calls, 3)
	assert.Equal(t, int64(1), settler.calls[0].onChainID)
	assert.Equal(t, int64(2), settler.calls[1].onChainID)
	assert.Equal(t, int64(3), settler.calls[2].onChainID)
}

func TestRunCycle_DropsOverlappingInvocation(t *testing.T) {
	store := &fakeStore{
		listStarted: make(chan struct{}),
		listRelease: make(chan struct{}),
	}
	settler := &fakeSettler{}
	r := newTestRunner(store, settler)

	done := make(chan error, 1)
	go func() {
		done <- r.RunCycle(context.Background())
	}()

	// Wait until the first cycle is inside the store call, then try to
	// start a second one.
	<-store.listStarted
	require.NoError(t, r.RunCycle(context.Background()))

	store.mu.Lock()
	calls := store.listCalls
	store.mu.Unlock()
	assert.Equal(t, 1, calls, "overlapping cycle must be dropped, not queued")

	close(store.listRelease)
	require.NoError(t, <-done)
}

func TestResolveManually_SettlesAndRecords(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := &fakeStore{pending: []domain.Market{
		priceMarket("m1", 7, "coingecko:bitcoin", 69000, past),
	}}
	settler := &fakeSettler{}

	r := newTestRunner(store, settler)
	txHash, err := r.ResolveManually(context.Background(), 7, domain.OutcomeNo)
	require.NoError(t, err)
	assert.Equal(t, "0xtx1", txHash)

	require.Len(t, settler.calls, 1)
	assert.Equal(t, domain.OutcomeNo, settler.calls[0].outcome)

	require.Len(t, store.resolved, 1)
	assert.Equal(t, "m1", store.resolved[0].id)
	assert.Equal(t, true, store.resolved[0].payload["manual"])
}

func TestResolveManually_UnknownMarketStillSettles(t *testing.T) {
	store := &fakeStore{}
	settler := &fakeSettler{}

	r := newTestRunner(store, settler)
	txHash, err := r.ResolveManually(context.Background(), 42, domain.OutcomeYes)
	require.NoError(t, err)
	assert.NotEmpty(t, txHash)
	assert.Len(t, settler.calls, 1)
	assert.Empty(t, store.resolved)
}

func TestResolveManually_RejectsInvalidOutcome(t *testing.T) {
	store := &fakeStore{}
	settler := &fakeSettler{}

	r := newTestRunner(store, settler)
	_, err := r.ResolveManually(context.Background(), 7, domain.Outcome("maybe"))
	require.Error(t, err)
	assert.Empty(t, settler.calls)
}

func TestStartStop_DrainsInFlightCycle(t *testing.T) {
	store := &fakeStore{
		listStarted: make(chan struct{}),
		listRelease: make(chan struct{}),
	}
	settler := &fakeSettler{}
	r := NewRunner(store, feed.NewRegistry(), settler, nil, nil,
		Config{PollInterval: time.Hour}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	// The immediate first cycle is now inside the store call.
	<-store.listStarted
	cancel()

	// Stop must not return before the cycle drains.
	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.listRelease)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the cycle drained")
	}
}
