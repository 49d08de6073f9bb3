// Package units converts between human decimal strings and 18 decimal fixed
// point integers. It is only used at the presentation boundary.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/celer-network/go-dsu/types"
)

const Decimals = 18

var scale = decimal.New(1, Decimals)

// ParseAmount parses a positive decimal such as "500" or "0.25" into the
// smallest unit. Any failure is a *types.ValidationError.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, types.NewValidationError("amount", types.ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, types.NewValidationError("amount", fmt.Errorf("%w: %q is not a number", types.ErrInvalidAmount, s))
	}
	if d.Sign() <= 0 {
		return nil, types.NewValidationError("amount", types.ErrInvalidAmount)
	}
	if d.Exponent() < -Decimals {
		return nil, types.NewValidationError("amount", fmt.Errorf("%w: more than %d decimal places", types.ErrInvalidAmount, Decimals))
	}
	v := d.Mul(scale).BigInt()
	if !types.ValidAmount(v) {
		return nil, types.NewValidationError("amount", fmt.Errorf("%w: above the uint256 range", types.ErrInvalidAmount))
	}
	return v, nil
}

// FromWei returns v as a decimal number of whole tokens.
func FromWei(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -Decimals)
}

// Format renders v with at most places decimals, truncated toward zero.
func Format(v *big.Int, places int32) string {
	return FromWei(v).Truncate(places).String()
}

// ToWei converts whole tokens to the smallest unit, truncating below 1 wei.
func ToWei(d decimal.Decimal) *big.Int {
	return d.Mul(scale).Truncate(0).BigInt()
}
