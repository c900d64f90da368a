package arb

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrNoGasPrice is returned when the provider has no usable fee data.
var ErrNoGasPrice = errors.New("gas price data not available")

// EstimateGasUsd converts an expected gas consumption into a USD cost:
// gasPrice (wei) * gasUnits, scaled from wei to ether, times the ETH price.
func EstimateGasUsd(gasPrice *big.Int, gasUnits uint64, ethUsd decimal.Decimal) (decimal.Decimal, error) {
	if gasPrice == nil || gasPrice.Sign() == 0 {
		return decimal.Zero, ErrNoGasPrice
	}

	wei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasUnits))
	eth := decimal.NewFromBigInt(wei, -18)
	return eth.Mul(ethUsd), nil
}
