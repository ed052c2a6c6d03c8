package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrUpstream marks data-feed failures: unreachable provider, timeout,
	// or a payload missing the expected value. Terminal for the market this
	// cycle; retried next cycle because status is unchanged.
	ErrUpstream = errors.New("upstream feed error")

	// ErrConfig marks per-market configuration problems such as an
	// unparseable oracle id. Not retryable as-is.
	ErrConfig = errors.New("market configuration error")

	// ErrSettlement marks an on-chain submission that exhausted its retries.
	ErrSettlement = errors.New("settlement failed")

	// ErrStore marks a failure of the market listing itself, which aborts
	// the whole poll cycle.
	ErrStore = errors.New("market store error")

	// ErrUnsupportedMarketType marks market types without an automated
	// handler. Logged and skipped, never written to the audit trail.
	ErrUnsupportedMarketType = errors.New("unsupported market type")
)
