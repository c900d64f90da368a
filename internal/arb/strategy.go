package arb

import "github.com/shopspring/decimal"

// StepAction is the direction of one strategy leg.
type StepAction string

const (
	ActionBuy  StepAction = "buy"
	ActionSell StepAction = "sell"
)

// StrategyStep is one leg of a two-leg plan.
type StrategyStep struct {
	Venue  string
	Action StepAction
}

// Strategy is an executable two-leg arbitrage plan.
type Strategy struct {
	Steps          []StrategyStep
	ExpectedProfit decimal.Decimal
}

// BuildStrategyParams are the inputs for BuildStrategy.
type BuildStrategyParams struct {
	BuyVenue  string
	SellVenue string
	BuyPrice  decimal.Decimal
	SellPrice decimal.Decimal
	Amount    decimal.Decimal
	GasUsd    decimal.Decimal
}

// BuildStrategy builds a simple buy-then-sell plan when profitable.
// Returns nil when the expected profit after gas is non-positive.
func BuildStrategy(p BuildStrategyParams) *Strategy {
	profit := p.SellPrice.Sub(p.BuyPrice).Mul(p.Amount).Sub(p.GasUsd)
	if !profit.IsPositive() {
		return nil
	}
	return &Strategy{
		Steps: []StrategyStep{
			{Venue: p.BuyVenue, Action: ActionBuy},
			{Venue: p.SellVenue, Action: ActionSell},
		},
		ExpectedProfit: profit,
	}
}
