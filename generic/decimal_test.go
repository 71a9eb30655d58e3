package generic_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trade-ledger/generic"
)

func d(s string) decimal.Decimal { return generic.MustDecimal(s) }

func TestSafeDiv(t *testing.T) {
	assert.True(t, generic.SafeDiv(d("10"), d("0")).IsZero())
	assert.True(t, generic.SafeDiv(d("1"), d("4")).Equal(d("0.25")))
	// Non-terminating quotients are bounded, then rounded by the caller.
	assert.Equal(t, "0.3333", generic.RoundRatio(generic.SafeDiv(d("1"), d("3"))).String())
}

func TestRoundMoney_HalfUp(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1.005", "1.01"},
		{"1.004", "1"},
		{"33.335", "33.34"},
		{"600", "600"},
		{"0.125", "0.13"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.True(t, generic.RoundMoney(d(tt.in)).Equal(d(tt.want)),
				"got %s", generic.RoundMoney(d(tt.in)))
		})
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "33.33", generic.Percent(d("200"), d("600")).StringFixed(2))
	assert.True(t, generic.Percent(d("200"), d("0")).IsZero())
	assert.True(t, generic.Percent(d("-50"), d("-10")).IsZero())
	assert.Equal(t, "-50.00", generic.Percent(d("-50"), d("100")).StringFixed(2))
}

func TestClampZeroAndSum(t *testing.T) {
	assert.True(t, generic.ClampZero(d("-0.01")).IsZero())
	assert.True(t, generic.ClampZero(d("5")).Equal(d("5")))
	assert.True(t, generic.Sum(d("0.1"), d("0.2")).Equal(d("0.3")))
	assert.True(t, generic.Sum().IsZero())
}

func TestParseDecimal(t *testing.T) {
	v, err := generic.ParseDecimal("-5.00")
	require.NoError(t, err)
	assert.True(t, v.Equal(d("-5")))

	_, err = generic.ParseDecimal("abc")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	got, err := generic.ParseDate("2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", got.String())
	assert.Equal(t, "2024-01-01", got.StartOfMonth().String())
	assert.True(t, got.Within(generic.NewDate(2024, 1, 1), generic.NewDate(2024, 1, 15)))
	assert.False(t, got.Within(generic.NewDate(2024, 1, 16), generic.NewDate(2024, 2, 1)))

	_, err = generic.ParseDate("2024/01/15")
	assert.Error(t, err)
}
