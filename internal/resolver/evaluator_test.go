package resolver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Juggernaut7/convex/internal/domain"
)

func TestEvaluate_Operators(t *testing.T) {
	cases := []struct {
		name   string
		value  any
		op     Operator
		target float64
		want   domain.Outcome
	}{
		{"gt above", 70000.0, OpGT, 69000, domain.OutcomeYes},
		{"gt below", 68000.0, OpGT, 69000, domain.OutcomeNo},
		{"gt equal", 69000.0, OpGT, 69000, domain.OutcomeNo},
		{"gte equal", 69000.0, OpGTE, 69000, domain.OutcomeYes},
		{"lt below", 68000.0, OpLT, 69000, domain.OutcomeYes},
		{"lte equal", 69000.0, OpLTE, 69000, domain.OutcomeYes},
		{"eq match", 0.5, OpEQ, 0.5, domain.OutcomeYes},
		{"eq mismatch", 0.4, OpEQ, 0.5, domain.OutcomeNo},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(tc.value, tc.op, tc.target)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluate_NegationConsistency(t *testing.T) {
	// For any numeric value, > and <= must give opposite outcomes.
	values := []float64{-1, 0, 0.5, 69000, 69000.0001, 1e12}
	const target = 69000.0

	for _, v := range values {
		gt, err := Evaluate(v, OpGT, target)
		require.NoError(t, err)
		lte, err := Evaluate(v, OpLTE, target)
		require.NoError(t, err)
		assert.NotEqual(t, gt, lte, "value %v", v)
	}
}

func TestEvaluate_Coercion(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  domain.Outcome
	}{
		{"int above", 70000, domain.OutcomeYes},
		{"int64 below", int64(100), domain.OutcomeNo},
		{"float32", float32(70000), domain.OutcomeYes},
		{"numeric string", "70000.5", domain.OutcomeYes},
		{"numeric string padded", "  70000.5  ", domain.OutcomeYes},
		{"bool true below target", true, domain.OutcomeNo},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(tc.value, OpGTE, 69000)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluate_BoolAgainstZero(t *testing.T) {
	got, err := Evaluate(true, OpGT, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, got)

	got, err = Evaluate(false, OpGT, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, got)
}

func TestEvaluate_TruthinessFallback(t *testing.T) {
	// Strings that do not parse as numbers resolve by truthiness.
	got, err := Evaluate("home-win", OpGTE, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, got)

	got, err = Evaluate("", OpGTE, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, got)

	got, err = Evaluate("   ", OpGTE, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, got)

	// Non-string, non-numeric values are not truthy.
	got, err = Evaluate(nil, OpGTE, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, got)
}

func TestEvaluate_UnsupportedOperator(t *testing.T) {
	_, err := Evaluate(1.0, Operator("~="), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}
