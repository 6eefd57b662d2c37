package token

import (
	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// DefaultDecimals matches the 18-decimal tokens the exchange was built around
const DefaultDecimals = 18

// ParseUnits converts a human amount such as "1.5" into base units.
// Fractions finer than the token's decimals are rejected, not rounded.
func ParseUnits(s string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parse amount %q", s)
	}
	if d.IsNegative() {
		return nil, errors.Newf("negative amount %q", s)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, errors.Newf("amount %q has more than %d decimals", s, decimals)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, errors.Newf("amount %q overflows 256 bits", s)
	}
	return v, nil
}

// MustParseUnits is ParseUnits for constants; it panics on bad input.
func MustParseUnits(s string, decimals uint8) *uint256.Int {
	v, err := ParseUnits(s, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// Tokens returns n whole 18-decimal tokens in base units
func Tokens(n string) *uint256.Int {
	return MustParseUnits(n, DefaultDecimals)
}

// FormatUnits renders base units as a decimal string without trailing zeros
func FormatUnits(v *uint256.Int, decimals uint8) string {
	return decimal.NewFromBigInt(v.ToBig(), -int32(decimals)).String()
}
