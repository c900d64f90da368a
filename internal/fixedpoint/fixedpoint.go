// Package fixedpoint implements Q64.96 fixed-point arithmetic on big
// integers. All on-chain quantities (reserves, amounts, prices derived from
// them) stay in arbitrary-precision integer form end to end; conversion to a
// decimal happens exactly once, when producing an externally reported USD
// figure.
package fixedpoint

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Q96 is the 2^96 scaling factor.
var Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// pow5_96 = 5^96. Used for the exact decimal conversion: x / 2^96 equals
// x * 5^96 scaled down by 10^96.
var pow5_96 = new(big.Int).Exp(big.NewInt(5), big.NewInt(96), nil)

// ToQ96 converts an integer to Q64.96 by multiplying by 2^96.
func ToQ96(v *big.Int) *big.Int {
	return new(big.Int).Mul(v, Q96)
}

// FromInt64 converts a plain int64 to Q64.96.
func FromInt64(v int64) *big.Int {
	return ToQ96(big.NewInt(v))
}

// Mul multiplies two Q64.96 values returning a Q64.96 result (a*b/2^96).
func Mul(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return p.Quo(p, Q96)
}

// Div divides two Q64.96 values returning a Q64.96 result (a*2^96/b).
func Div(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, Q96)
	return p.Quo(p, b)
}

// Ratio returns num/den as a Q64.96 value.
func Ratio(num, den *big.Int) *big.Int {
	p := new(big.Int).Mul(num, Q96)
	return p.Quo(p, den)
}

// ToDecimal converts a Q64.96 value to a decimal exactly. Values whose
// integer part exceeds the 53-bit float-safe range still convert without
// loss, so USD outputs stay finite and correctly rounded for any trade size.
func ToDecimal(v *big.Int) decimal.Decimal {
	scaled := new(big.Int).Mul(v, pow5_96)
	return decimal.NewFromBigInt(scaled, -96)
}

// FromDecimal converts a decimal to Q64.96, truncating any precision beyond
// the 96 fractional bits.
func FromDecimal(d decimal.Decimal) *big.Int {
	q := decimal.NewFromBigInt(Q96, 0)
	return d.Mul(q).BigInt()
}
