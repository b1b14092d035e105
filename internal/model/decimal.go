package model

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimal is an exact decimal value stored as mantissa / 10^scale.
// Prices carry 2-6 fractional digits; a fixed int64 mantissa covers every
// realistic magnitude without float rounding.
type Decimal struct {
	Mantissa int64
	Scale    uint8
}

// ParseDecimal converts a decimal literal such as "123.45" or "-0.005" into
// its mantissa/scale form. A negative source exponent becomes the scale; a
// zero or positive exponent (e.g. "123E2") is folded into the mantissa and
// the scale collapses to 0, so the scale is never negative.
func ParseDecimal(text string) (Decimal, error) {
	d, err := decimal.NewFromString(text)
	if err != nil {
		return Decimal{}, fmt.Errorf("%w: invalid decimal %q", ErrFormat, text)
	}

	coef := d.Coefficient()
	exp := d.Exponent()
	if exp > 0 {
		coef.Mul(coef, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
		exp = 0
	}
	if !coef.IsInt64() {
		return Decimal{}, fmt.Errorf("%w: decimal %q overflows int64 mantissa", ErrFormat, text)
	}
	scale := -exp
	if scale > 255 {
		return Decimal{}, fmt.Errorf("%w: decimal %q has too many fractional digits", ErrFormat, text)
	}
	return Decimal{Mantissa: coef.Int64(), Scale: uint8(scale)}, nil
}

// String renders the exact value as a plain decimal literal, never scientific
// notation. Trailing zeros carried by the scale are preserved, so
// ParseDecimal("1.50").String() == "1.50".
func (d Decimal) String() string {
	return decimal.New(d.Mantissa, -int32(d.Scale)).StringFixed(int32(d.Scale))
}
