package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

const Places = 2

// Round rounds half away from zero to cents.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Share returns round(amount × rate).
func Share(amount, rate decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(rate))
}

// SplitFee returns the fee charged on a gross amount and what is left of it.
func SplitFee(gross, rate decimal.Decimal) (fee, net decimal.Decimal) {
	fee = Share(gross, rate)
	return fee, gross.Sub(fee)
}

// ParseProviderAmount reads an amount reported by a third party. Empty values
// and non-numeric markers such as "variable" count as zero.
func ParseProviderAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
