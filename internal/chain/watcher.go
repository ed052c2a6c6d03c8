package chain

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Watcher observes MarketCreated events from the MarketManager contract and
// logs them. It exists purely for operator visibility; resolution is driven
// by polling the store, never by events.
type Watcher struct {
	eth      logFilterer
	contract common.Address
	interval time.Duration
	logger   *slog.Logger

	lastBlock uint64
}

// logFilterer is the slice of the RPC client the watcher needs.
type logFilterer interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// NewWatcher creates a Watcher over the settlement client's RPC connection.
func NewWatcher(c *Client, interval time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		eth:      c.eth,
		contract: c.contract,
		interval: interval,
		logger:   logger.With(slog.String("component", "chain_watcher")),
	}
}

// Run polls for new MarketCreated logs until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	head, err := w.eth.BlockNumber(ctx)
	if err != nil {
		w.logger.WarnContext(ctx, "could not read head block, starting from genesis of this run",
			slog.String("error", err.Error()),
		)
	}
	w.lastBlock = head

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "chain watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.poll(ctx); err != nil {
				w.logger.ErrorContext(ctx, "event poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

// poll fetches MarketCreated logs since the last observed block.
func (w *Watcher) poll(ctx context.Context) error {
	head, err := w.eth.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if head <= w.lastBlock {
		return nil
	}

	createdTopic := managerABI.Events["MarketCreated"].ID

	logs, err := w.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(w.lastBlock + 1),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{w.contract},
		Topics:    [][]common.Hash{{createdTopic}},
	})
	if err != nil {
		return err
	}

	for _, lg := range logs {
		// marketId and questionId are indexed, so they live in the topics.
		var marketID uint64
		if len(lg.Topics) > 1 {
			marketID = new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()
		}
		questionID := ""
		if len(lg.Topics) > 2 {
			questionID = lg.Topics[2].Hex()
		}

		w.logger.InfoContext(ctx, "observed on-chain MarketCreated event",
			slog.Uint64("market_id", marketID),
			slog.String("question_id", questionID),
			slog.Uint64("block", lg.BlockNumber),
			slog.String("tx", lg.TxHash.Hex()),
		)
	}

	w.lastBlock = head
	return nil
}
