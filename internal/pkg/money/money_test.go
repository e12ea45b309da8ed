package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSplitFee(t *testing.T) {
	cases := []struct {
		gross string
		rate  string
		fee   string
		net   string
	}{
		{"100.00", "0.02", "2.00", "98.00"},
		{"5.00", "0.02", "0.10", "4.90"},
		{"10.25", "0.02", "0.21", "10.04"},
		{"12.34", "0", "0.00", "12.34"},
	}

	for _, tc := range cases {
		fee, net := SplitFee(decimal.RequireFromString(tc.gross), decimal.RequireFromString(tc.rate))
		assert.Equal(t, tc.fee, Format(fee), tc.gross)
		assert.Equal(t, tc.net, Format(net), tc.gross)
	}
}

func TestShareRoundsHalfAwayFromZero(t *testing.T) {
	half := decimal.RequireFromString("0.5")
	assert.Equal(t, "4.00", Format(Share(decimal.RequireFromString("8.00"), half)))
	assert.Equal(t, "0.63", Format(Share(decimal.RequireFromString("1.25"), half)))
	assert.Equal(t, "0.01", Format(Share(decimal.RequireFromString("0.01"), half)))
}

func TestParseProviderAmount(t *testing.T) {
	assert.True(t, ParseProviderAmount("variable").IsZero())
	assert.True(t, ParseProviderAmount("").IsZero())
	assert.Equal(t, "1.50", Format(ParseProviderAmount(" 1.5 ")))
}
