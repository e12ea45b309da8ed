package services

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Policy holds the money rules. It is provided to services through the
// container so tests can vary it per case.
type Policy struct {
	UserShare   decimal.Decimal
	FeeRate     decimal.Decimal
	MinPayout   decimal.Decimal
	MaxPayout   decimal.Decimal
	Currency    string
	RailTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		UserShare:   decimal.RequireFromString("0.50"),
		FeeRate:     decimal.RequireFromString("0.02"),
		MinPayout:   decimal.RequireFromString("5.00"),
		MaxPayout:   decimal.RequireFromString("10000.00"),
		Currency:    "USD",
		RailTimeout: 30 * time.Second,
	}
}

// PolicyFromEnv overrides the defaults with any value present in vs.
func PolicyFromEnv(vs map[string]string) (Policy, error) {
	p := DefaultPolicy()

	decimals := []struct {
		key    string
		target *decimal.Decimal
	}{
		{"USER_REVENUE_SHARE", &p.UserShare},
		{"PAYOUT_FEE_PERCENTAGE", &p.FeeRate},
		{"MINIMUM_PAYOUT_AMOUNT", &p.MinPayout},
		{"MAXIMUM_PAYOUT_AMOUNT", &p.MaxPayout},
	}
	for _, d := range decimals {
		v := vs[d.key]
		if v == "" {
			continue
		}
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return p, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.target = parsed
	}

	if v := vs["PAYOUT_CURRENCY"]; v != "" {
		p.Currency = v
	}

	if v := vs["RAIL_TIMEOUT"]; v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			seconds, convErr := strconv.Atoi(v)
			if convErr != nil {
				return p, fmt.Errorf("RAIL_TIMEOUT: %w", err)
			}
			timeout = time.Duration(seconds) * time.Second
		}
		p.RailTimeout = timeout
	}

	return p, p.Validate()
}

func (p Policy) Validate() error {
	one := decimal.NewFromInt(1)
	if p.UserShare.IsNegative() || p.UserShare.GreaterThan(one) {
		return fmt.Errorf("user share must be within [0, 1]")
	}
	if p.FeeRate.IsNegative() || p.FeeRate.GreaterThanOrEqual(one) {
		return fmt.Errorf("fee rate must be within [0, 1)")
	}
	if !p.MinPayout.IsPositive() || p.MaxPayout.LessThan(p.MinPayout) {
		return fmt.Errorf("payout limits are inconsistent")
	}
	if p.RailTimeout <= 0 {
		return fmt.Errorf("rail timeout must be positive")
	}
	return nil
}
