package domain

import "context"

// Receipt is the confirmation of a settlement transaction.
type Receipt struct {
	TxHash   string
	GasUsed  uint64
	Attempts int
}

// Settler submits the on-chain resolution for a market and blocks until the
// transaction is confirmed. Implementations retry internally; the error
// returned after exhausting retries wraps ErrSettlement. Idempotency lives in
// the contract: resolving an already-resolved market reverts, and a reverted
// receipt is reported as a failure, never as success.
type Settler interface {
	Submit(ctx context.Context, onChainID int64, outcome Outcome) (Receipt, error)
}
