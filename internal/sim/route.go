package sim

import (
	"math/big"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/fixedpoint"
	"evm-arb-watcher/internal/risk"
)

// RouteParams describes a two-venue arbitrage to simulate: acquire token0
// at the buy venue, sell it at the sell venue.
type RouteParams struct {
	Buy  *domain.Quote
	Sell *domain.Quote
	// BuyFeeBps and SellFeeBps apply to constant-product legs only;
	// concentrated quotes carry their own fee tier.
	BuyFeeBps  uint32
	SellFeeBps uint32
	// AmountIn is the trade size in token0 smallest units.
	AmountIn    *big.Int
	SlippageBps uint32
}

// RouteLegs builds the ordered legs for a two-venue arbitrage. Each leg's
// slippage check runs against the venue's own quoted price, while its
// profit floor is the price the candidate was budgeted at:
// buyPrice*(1+slippage) when acquiring token0, sellPrice*(1-slippage) when
// selling it. The route is ok only when execution over current pool state
// still beats both budgets within tolerance.
func RouteLegs(p RouteParams) []Leg {
	buyBudget := adjustBps(p.Buy.NormalizedPrice(), int64(p.SlippageBps))
	sellBudget := adjustBps(p.Sell.NormalizedPrice(), -int64(p.SlippageBps))

	// The buy leg swaps token1 for token0, so it runs in the inverted pool
	// frame with the reciprocal of the budgeted buy price as its floor.
	amountIn1 := new(big.Int).Mul(p.AmountIn, p.Buy.NormalizedPrice())
	amountIn1.Quo(amountIn1, fixedpoint.Q96)

	buy := legFor(invertQuote(p.Buy), amountIn1, reciprocal(buyBudget), p.SlippageBps, p.BuyFeeBps)
	sell := legFor(p.Sell, new(big.Int).Set(p.AmountIn), sellBudget, p.SlippageBps, p.SellFeeBps)
	return []Leg{buy, sell}
}

// invertQuote reframes a venue quote for the token1-in direction.
func invertQuote(q *domain.Quote) *domain.Quote {
	if q.Kind == domain.VenueKindConcentrated {
		return &domain.Quote{
			Kind:         q.Kind,
			SqrtPriceX96: q.SqrtPriceX96,
			Tick:         -q.Tick,
			FeePpm:       q.FeePpm,
			Price:        reciprocal(q.Price),
		}
	}
	return &domain.Quote{
		Kind:     q.Kind,
		Reserve0: q.Reserve1,
		Reserve1: q.Reserve0,
		Price0:   q.Price1,
		Price1:   q.Price0,
	}
}

func legFor(q *domain.Quote, amountIn, floor *big.Int, slippageBps, feeBps uint32) Leg {
	if q.Kind == domain.VenueKindConcentrated {
		return V3Leg{Quote: q, AmountIn: amountIn, Floor: floor, SlippageBps: slippageBps}
	}
	return V2Leg{Quote: q, AmountIn: amountIn, Floor: floor, SlippageBps: slippageBps, FeeBps: feeBps}
}

// adjustBps scales a Q64.96 price by (10000+deltaBps)/10000.
func adjustBps(price *big.Int, deltaBps int64) *big.Int {
	adj := new(big.Int).Mul(price, big.NewInt(risk.BpsPerUnit+deltaBps))
	return adj.Quo(adj, big.NewInt(risk.BpsPerUnit))
}

// reciprocal inverts a Q64.96 price. Zero stays zero rather than dividing.
func reciprocal(price *big.Int) *big.Int {
	if price == nil || price.Sign() == 0 {
		return new(big.Int)
	}
	return fixedpoint.Div(fixedpoint.Q96, price)
}
