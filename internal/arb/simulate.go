package arb

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/fixedpoint"
	"evm-arb-watcher/internal/quote"
	"evm-arb-watcher/internal/risk"
)

// ErrUnknownVenue indicates a candidate references a venue absent from the
// configuration. That is a configuration bug, surfaced rather than absorbed.
var ErrUnknownVenue = errors.New("candidate venue not found in configuration")

// SimulateCandidate re-prices a candidate with fresh venue quotes using the
// same exact integer math as the generator. Used as a final check before a
// candidate is acted on.
func SimulateCandidate(
	ctx context.Context,
	quoter *quote.Quoter,
	strategy *domain.StrategyCtx,
	cand domain.Candidate,
	gasUsd decimal.Decimal,
) (domain.Candidate, error) {
	buyVenue, ok := strategy.VenueByName(cand.BuyVenue)
	if !ok {
		return domain.Candidate{}, fmt.Errorf("%w: %s", ErrUnknownVenue, cand.BuyVenue)
	}
	sellVenue, ok := strategy.VenueByName(cand.SellVenue)
	if !ok {
		return domain.Candidate{}, fmt.Errorf("%w: %s", ErrUnknownVenue, cand.SellVenue)
	}

	buyPrice, err := quoter.NormalizedPrice(ctx, buyVenue)
	if err != nil {
		return domain.Candidate{}, err
	}
	sellPrice, err := quoter.NormalizedPrice(ctx, sellVenue)
	if err != nil {
		return domain.Candidate{}, err
	}

	bps := big.NewInt(risk.BpsPerUnit)
	buyAdj := new(big.Int).Mul(buyPrice, big.NewInt(risk.BpsPerUnit+int64(strategy.SlippageBps)))
	buyAdj.Quo(buyAdj, bps)
	sellAdj := new(big.Int).Mul(sellPrice, big.NewInt(risk.BpsPerUnit-int64(strategy.SlippageBps)))
	sellAdj.Quo(sellAdj, bps)

	amountScale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(strategy.Token0.Decimals)), nil)
	profitToken1 := new(big.Int).Sub(sellAdj, buyAdj)
	profitToken1.Mul(profitToken1, strategy.AmountIn)
	profitToken1.Quo(profitToken1, amountScale)

	profitUsd := fixedpoint.ToDecimal(fixedpoint.Mul(profitToken1, strategy.Token1.PriceUsd)).
		Sub(gasUsd)

	return domain.Candidate{
		BuyVenue:  cand.BuyVenue,
		SellVenue: cand.SellVenue,
		ProfitUsd: profitUsd,
	}, nil
}
