// Package arb generates and re-prices two-leg arbitrage candidates.
package arb

import (
	"math/big"

	"github.com/shopspring/decimal"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/fixedpoint"
	"evm-arb-watcher/internal/risk"
)

// VenuePrice pairs a venue name with its normalized Q64.96 price.
type VenuePrice struct {
	Venue string
	Price *big.Int
}

// GeneratorParams are the inputs for one candidate-generation pass.
type GeneratorParams struct {
	Prices         []VenuePrice
	AmountIn       *big.Int // token0 smallest units
	Token0Decimals uint8
	Token1Usd      *big.Int // Q64.96 USD per whole token1
	SlippageBps    uint32
	GasUsd         decimal.Decimal
	MinProfitUsd   decimal.Decimal
}

// GenerateCandidates compares every ordered venue pair (i, j), i != j, and
// returns the pairings whose expected profit net of slippage and gas clears
// the minimum threshold. O(V^2) over the venue count, which stays in the
// single digits to low tens. The reverse-direction pair is a distinct,
// usually unprofitable, candidate and is intentionally not deduplicated.
// All price math stays in big integers; the USD figure is the only decimal.
func GenerateCandidates(p GeneratorParams) []domain.Candidate {
	slipUp := big.NewInt(risk.BpsPerUnit + int64(p.SlippageBps))
	slipDown := big.NewInt(risk.BpsPerUnit - int64(p.SlippageBps))
	bps := big.NewInt(risk.BpsPerUnit)
	amountScale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.Token0Decimals)), nil)

	var candidates []domain.Candidate
	for i := range p.Prices {
		for j := range p.Prices {
			if i == j {
				continue
			}

			buyPrice := new(big.Int).Mul(p.Prices[i].Price, slipUp)
			buyPrice.Quo(buyPrice, bps)

			sellPrice := new(big.Int).Mul(p.Prices[j].Price, slipDown)
			sellPrice.Quo(sellPrice, bps)

			// Q64.96 token1, rescaled from token0 smallest units to whole tokens.
			profitToken1 := new(big.Int).Sub(sellPrice, buyPrice)
			profitToken1.Mul(profitToken1, p.AmountIn)
			profitToken1.Quo(profitToken1, amountScale)

			profitUsd := fixedpoint.ToDecimal(fixedpoint.Mul(profitToken1, p.Token1Usd)).
				Sub(p.GasUsd)

			if profitUsd.GreaterThanOrEqual(p.MinProfitUsd) {
				candidates = append(candidates, domain.Candidate{
					BuyVenue:  p.Prices[i].Venue,
					SellVenue: p.Prices[j].Venue,
					ProfitUsd: profitUsd,
				})
			}
		}
	}

	return candidates
}
