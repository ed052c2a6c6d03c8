package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome_OnChainValue(t *testing.T) {
	assert.Equal(t, uint8(1), OutcomeYes.OnChainValue())
	assert.Equal(t, uint8(2), OutcomeNo.OnChainValue())
}

func TestOutcome_RoundTrip(t *testing.T) {
	for _, o := range []Outcome{OutcomeYes, OutcomeNo} {
		back, err := OutcomeFromChain(o.OnChainValue())
		require.NoError(t, err)
		assert.Equal(t, o, back)
	}

	_, err := OutcomeFromChain(0)
	assert.Error(t, err)
	_, err = OutcomeFromChain(3)
	assert.Error(t, err)
}

func TestParseOutcome(t *testing.T) {
	for input, want := range map[string]Outcome{
		"yes":  OutcomeYes,
		"YES":  OutcomeYes,
		" no ": OutcomeNo,
		"No":   OutcomeNo,
	} {
		got, err := ParseOutcome(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
	}

	for _, input := range []string{"", "maybe", "1", "true"} {
		_, err := ParseOutcome(input)
		assert.Error(t, err, input)
	}
}

func TestParseOracleID(t *testing.T) {
	provider, asset, err := ParseOracleID("coingecko:bitcoin")
	require.NoError(t, err)
	assert.Equal(t, "coingecko", provider)
	assert.Equal(t, "bitcoin", asset)

	for _, bad := range []string{"bitcoin", ":bitcoin", "coingecko:", ""} {
		_, _, err := ParseOracleID(bad)
		require.Error(t, err, bad)
		assert.True(t, errors.Is(err, ErrConfig), bad)
	}
}

func TestMarket_Eligible(t *testing.T) {
	now := time.Now()
	id := int64(7)

	base := Market{
		Status:    MarketStatusLive,
		OnChainID: &id,
		CloseTime: now.Add(-time.Minute),
	}
	assert.True(t, base.Eligible(now))

	closeAtNow := base
	closeAtNow.CloseTime = now
	assert.True(t, closeAtNow.Eligible(now))

	future := base
	future.CloseTime = now.Add(time.Minute)
	assert.False(t, future.Eligible(now))

	settled := base
	settled.Status = MarketStatusSettled
	assert.False(t, settled.Eligible(now))

	voided := base
	voided.Status = MarketStatusVoid
	assert.False(t, voided.Eligible(now))

	offChain := base
	offChain.OnChainID = nil
	assert.False(t, offChain.Eligible(now))
}
