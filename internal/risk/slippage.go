package risk

import "math/big"

// BpsPerUnit is the number of basis points in 100%.
const BpsPerUnit = 10_000

// DefaultSlippageBps is the slippage tolerance applied when none is configured.
const DefaultSlippageBps = 50

// CheckSlippage reports whether the observed execution price stays within the
// allowed tolerance of the expected price: |actual-expected|/expected <= bps/10000.
func CheckSlippage(expected, actual *big.Int, slippageBps uint32) bool {
	if expected.Sign() == 0 {
		return false
	}
	diff := new(big.Int).Sub(actual, expected)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(BpsPerUnit))
	limit := new(big.Int).Mul(expected, big.NewInt(int64(slippageBps)))
	return diff.Cmp(limit) <= 0
}

// CalcMinOut returns the minimum acceptable output for an expected amount
// given a slippage tolerance in basis points.
func CalcMinOut(amount *big.Int, slippageBps uint32) *big.Int {
	factor := big.NewInt(BpsPerUnit - int64(slippageBps))
	out := new(big.Int).Mul(amount, factor)
	return out.Quo(out, big.NewInt(BpsPerUnit))
}

// ComputeSlippageAdjustedOut equals CalcMinOut for all inputs; kept as a
// named alias because both appear in calldata-building call sites.
func ComputeSlippageAdjustedOut(amount *big.Int, slippageBps uint32) *big.Int {
	return CalcMinOut(amount, slippageBps)
}
