package domain

import (
	"fmt"
	"strings"
	"time"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusDraft   MarketStatus = "draft"
	MarketStatusLive    MarketStatus = "live"
	MarketStatusSettled MarketStatus = "settled"
	MarketStatusVoid    MarketStatus = "void"
)

// ResolutionSource distinguishes operator-resolved markets from markets the
// oracle engine resolves automatically.
type ResolutionSource string

const (
	ResolutionManual ResolutionSource = "manual"
	ResolutionOracle ResolutionSource = "oracle"
)

// MarketType is the kind of resolution condition a market carries. Only price
// markets have an automated handler; event markets are an extension point.
type MarketType string

const (
	MarketTypePrice MarketType = "price"
	MarketTypeEvent MarketType = "event"
)

// Outcome is the canonical binary outcome of a market. It is the single
// source of truth at the engine boundary; the persisted string encoding and
// the on-chain integer encoding are derived from it rather than translated ad
// hoc at call sites.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// On-chain Outcome enum values of the MarketManager contract.
const (
	onChainYes uint8 = 1
	onChainNo  uint8 = 2
)

// OnChainValue maps the outcome to the contract's uint8 encoding.
func (o Outcome) OnChainValue() uint8 {
	if o == OutcomeYes {
		return onChainYes
	}
	return onChainNo
}

// Valid reports whether the outcome is one of the two canonical values.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// ParseOutcome converts a persisted or operator-supplied string to an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(strings.ToLower(strings.TrimSpace(s))) {
	case OutcomeYes:
		return OutcomeYes, nil
	case OutcomeNo:
		return OutcomeNo, nil
	default:
		return "", fmt.Errorf("domain: invalid outcome %q", s)
	}
}

// OutcomeFromChain converts the contract's uint8 encoding back to an Outcome.
func OutcomeFromChain(v uint8) (Outcome, error) {
	switch v {
	case onChainYes:
		return OutcomeYes, nil
	case onChainNo:
		return OutcomeNo, nil
	default:
		return "", fmt.Errorf("domain: invalid on-chain outcome %d", v)
	}
}

// Market is a binary prediction market tracked both in persistence and
// on-chain. The oracle engine reads the resolution fields and writes only
// status, winning outcome, and the OracleMeta audit trail.
type Market struct {
	ID               string
	Title            string
	MarketType       MarketType
	ResolutionSource ResolutionSource

	// OnChainID is the market's identifier in the MarketManager contract.
	// Markets without one are never processed by the engine.
	OnChainID *int64

	// OracleID is the composite feed key "<provider>:<asset>", e.g.
	// "coingecko:bitcoin".
	OracleID string

	// ThresholdValue is the comparison target for price markets. When nil
	// the engine falls back to the configured default threshold.
	ThresholdValue *float64

	CloseTime      time.Time
	Status         MarketStatus
	WinningOutcome *Outcome

	OracleMeta OracleMeta

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OracleMeta is the write-only audit trail attached to a market. The engine
// appends to it and never reads it back.
type OracleMeta struct {
	LastResolutionTx string
	Payload          map[string]any
	LastError        string
	LastErrorAt      *time.Time
}

// Eligible reports whether the market can be resolved at the given instant:
// not yet settled or voided, has an on-chain identity, and past close time.
func (m Market) Eligible(now time.Time) bool {
	if m.Status != MarketStatusDraft && m.Status != MarketStatusLive {
		return false
	}
	if m.OnChainID == nil {
		return false
	}
	return !m.CloseTime.After(now)
}

// ParseOracleID splits a composite "<provider>:<asset>" feed key. An empty
// provider or asset is a configuration error on the market.
func ParseOracleID(oracleID string) (provider, assetID string, err error) {
	provider, assetID, ok := strings.Cut(oracleID, ":")
	if !ok || provider == "" || assetID == "" {
		return "", "", fmt.Errorf("domain: %w: malformed oracle id %q", ErrConfig, oracleID)
	}
	return provider, assetID, nil
}
