// Package risk implements the pre-trade guard checks and slippage helpers.
package risk

import (
	"fmt"

	"evm-arb-watcher/internal/domain"
)

// Labels recorded for each passed check, in check order.
const (
	LabelGasPrice  = "gas price within limit"
	LabelLiquidity = "pool liquidity sufficient"
	LabelDrift     = "block tag drift within limit"
)

// GuardViolation reports the first failed guard check. A violated guard is
// refused outright, never retried and never partially applied.
type GuardViolation struct {
	Check  string
	Detail string
}

func (v *GuardViolation) Error() string {
	return v.Detail
}

// CheckGuards runs the risk checks in fixed priority order, failing fast on
// the first violation: gas price, then pool liquidity, then block-tag drift.
// On success it returns the list of passed-check labels for audit trails.
func CheckGuards(ctx domain.GuardContext) ([]string, error) {
	var passed []string

	if ctx.GasPrice.Cmp(ctx.MaxGasPrice) > 0 {
		return nil, &GuardViolation{
			Check:  "gas",
			Detail: fmt.Sprintf("gas price %s exceeds max %s", ctx.GasPrice, ctx.MaxGasPrice),
		}
	}
	passed = append(passed, LabelGasPrice)

	if ctx.Reserve0.Cmp(ctx.MinLiquidity) < 0 || ctx.Reserve1.Cmp(ctx.MinLiquidity) < 0 {
		return nil, &GuardViolation{
			Check: "liquidity",
			Detail: fmt.Sprintf("pool liquidity below threshold %s: (%s, %s)",
				ctx.MinLiquidity, ctx.Reserve0, ctx.Reserve1),
		}
	}
	passed = append(passed, LabelLiquidity)

	drift := ctx.CurrentBlock - ctx.ObservedBlock
	if ctx.ObservedBlock > ctx.CurrentBlock {
		drift = ctx.ObservedBlock - ctx.CurrentBlock
	}
	if drift > ctx.MaxBlockTagDrift {
		return nil, &GuardViolation{
			Check:  "drift",
			Detail: fmt.Sprintf("block tag drift %d exceeds max %d", drift, ctx.MaxBlockTagDrift),
		}
	}
	passed = append(passed, LabelDrift)

	return passed, nil
}
