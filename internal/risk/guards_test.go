package risk

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-arb-watcher/internal/domain"
)

func passingContext() domain.GuardContext {
	return domain.GuardContext{
		GasPrice:         big.NewInt(20_000_000_000),
		MaxGasPrice:      big.NewInt(50_000_000_000),
		Reserve0:         big.NewInt(1_000_000),
		Reserve1:         big.NewInt(2_000_000),
		MinLiquidity:     big.NewInt(500_000),
		ObservedBlock:    100,
		CurrentBlock:     101,
		MaxBlockTagDrift: 3,
	}
}

func TestCheckGuardsAllPass(t *testing.T) {
	passed, err := CheckGuards(passingContext())
	require.NoError(t, err)
	assert.Equal(t, []string{LabelGasPrice, LabelLiquidity, LabelDrift}, passed)
}

func TestCheckGuardsGasViolation(t *testing.T) {
	ctx := passingContext()
	ctx.GasPrice = big.NewInt(60_000_000_000)

	passed, err := CheckGuards(ctx)
	require.Error(t, err)
	assert.Nil(t, passed)

	var v *GuardViolation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "gas", v.Check)
}

func TestCheckGuardsLiquidityViolation(t *testing.T) {
	ctx := passingContext()
	ctx.Reserve1 = big.NewInt(100)

	_, err := CheckGuards(ctx)
	var v *GuardViolation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "liquidity", v.Check)
}

func TestCheckGuardsDriftViolation(t *testing.T) {
	ctx := passingContext()
	ctx.CurrentBlock = 110

	_, err := CheckGuards(ctx)
	var v *GuardViolation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "drift", v.Check)
}

// A context failing both the gas check and the liquidity check must report
// the gas violation: checks run in fixed priority order.
func TestCheckGuardsPriorityOrder(t *testing.T) {
	ctx := passingContext()
	ctx.GasPrice = big.NewInt(60_000_000_000)
	ctx.Reserve0 = big.NewInt(0)

	_, err := CheckGuards(ctx)
	var v *GuardViolation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "gas", v.Check)
}
