// Package sim models per-leg execution prices so a candidate can be
// sanity-checked right before acting on possibly stale quotes.
package sim

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/fixedpoint"
	"evm-arb-watcher/internal/risk"
)

// Leg is a single simulated swap.
type Leg interface {
	Simulate() domain.SimResult
}

// V2Leg simulates a swap against a constant-product pool.
type V2Leg struct {
	Quote    *domain.Quote
	AmountIn *big.Int
	// Floor is the Q64.96 execution price the trade was budgeted at; the
	// leg only profits when execution beats it. Defaults to the quoted price.
	Floor       *big.Int
	SlippageBps uint32
	FeeBps      uint32
}

// V3Leg simulates a swap against a concentrated-liquidity pool.
type V3Leg struct {
	Quote    *domain.Quote
	AmountIn *big.Int
	// Floor is the budgeted execution price, as on V2Leg.
	Floor       *big.Int
	SlippageBps uint32
}

// QuoteOutV2 computes the constant-product output amount for a swap:
// amountInWithFee = amountIn*(10000-feeBps)/10000, k = r0*r1,
// newR0 = r0+amountInWithFee, newR1 = k/newR0 (integer division),
// out = r1-newR1.
func QuoteOutV2(reserve0, reserve1, amountIn *big.Int, feeBps uint32) *big.Int {
	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(risk.BpsPerUnit-int(feeBps))))
	amountInWithFee.Quo(amountInWithFee, big.NewInt(risk.BpsPerUnit))

	k := new(big.Int).Mul(reserve0, reserve1)
	newReserve0 := new(big.Int).Add(reserve0, amountInWithFee)
	newReserve1 := k.Quo(k, newReserve0)

	return new(big.Int).Sub(reserve1, newReserve1)
}

// Simulate runs the constant-product leg. A swap that loses money is never
// ok, even when the execution price stays inside the slippage tolerance.
func (l V2Leg) Simulate() domain.SimResult {
	q := l.Quote
	if q.Reserve0 == nil || q.Reserve1 == nil || q.Reserve0.Sign() == 0 || q.Reserve1.Sign() == 0 {
		return domain.SimResult{OK: false, ExpectedProfit: decimal.Zero}
	}
	if l.AmountIn == nil || l.AmountIn.Sign() <= 0 {
		return domain.SimResult{OK: false, ExpectedProfit: decimal.Zero}
	}

	out := QuoteOutV2(q.Reserve0, q.Reserve1, l.AmountIn, l.FeeBps)
	execPrice := fixedpoint.Ratio(out, l.AmountIn)

	quoted := q.Price0
	profit := expectedProfit(execPrice, floorPrice(l.Floor, quoted), l.AmountIn)

	ok := risk.CheckSlippage(quoted, execPrice, l.SlippageBps) && profit.IsPositive()
	return domain.SimResult{OK: ok, ExpectedProfit: profit}
}

// Simulate runs the concentrated-liquidity leg. The pool's tick is shifted
// linearly by amountIn/1e6 units, a simplification valid only for trade
// sizes small relative to pool depth; no tick-crossing integration is done.
func (l V3Leg) Simulate() domain.SimResult {
	q := l.Quote
	if q.SqrtPriceX96 == nil || q.SqrtPriceX96.Sign() == 0 {
		return domain.SimResult{OK: false, ExpectedProfit: decimal.Zero}
	}
	if l.AmountIn == nil || l.AmountIn.Sign() <= 0 {
		return domain.SimResult{OK: false, ExpectedProfit: decimal.Zero}
	}

	amountIn, _ := new(big.Float).SetInt(l.AmountIn).Float64()
	deltaTick := amountIn / 1_000_000
	feeFactor := 1 - float64(q.FeePpm)/1_000_000
	execPriceF := math.Pow(1.0001, float64(q.Tick)+deltaTick) * feeFactor

	// The linear tick shift blows up for amounts far beyond pool depth. An
	// execution price that is not a finite number is a failed simulation,
	// not a panic.
	if math.IsInf(execPriceF, 0) || math.IsNaN(execPriceF) {
		return domain.SimResult{OK: false, ExpectedProfit: decimal.Zero}
	}

	execPrice, _ := new(big.Float).Mul(
		big.NewFloat(execPriceF),
		new(big.Float).SetInt(fixedpoint.Q96),
	).Int(nil)

	quoted := q.Price
	profit := expectedProfit(execPrice, floorPrice(l.Floor, quoted), l.AmountIn)

	ok := risk.CheckSlippage(quoted, execPrice, l.SlippageBps) && profit.IsPositive()
	return domain.SimResult{OK: ok, ExpectedProfit: profit}
}

// expectedProfit converts the execution-vs-floor price gap into output
// token terms: (exec - floor) * amountIn, reported as a decimal.
func expectedProfit(execPrice, floor, amountIn *big.Int) decimal.Decimal {
	diff := new(big.Int).Sub(execPrice, floor)
	diff.Mul(diff, amountIn)
	return fixedpoint.ToDecimal(diff)
}

func floorPrice(floor, quoted *big.Int) *big.Int {
	if floor != nil {
		return floor
	}
	return quoted
}

// SimulateRoute runs an ordered sequence of legs, summing expected profit
// and AND-ing every leg's ok flag. The route is ok only if every leg is.
func SimulateRoute(legs []Leg) domain.SimResult {
	ok := true
	total := decimal.Zero
	for _, leg := range legs {
		r := leg.Simulate()
		ok = ok && r.OK
		total = total.Add(r.ExpectedProfit)
	}
	return domain.SimResult{OK: ok, ExpectedProfit: total}
}
