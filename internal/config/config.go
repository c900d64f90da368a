// Package config loads and validates the watcher's run configuration from a
// YAML file, producing the read-only strategy context everything else
// consumes.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/fixedpoint"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// MaxSlippageBps caps the configurable slippage tolerance at 20%.
const MaxSlippageBps = 2000

// File is the YAML document shape. Big-number fields are strings so values
// past float precision survive parsing.
type File struct {
	ChainID uint64      `yaml:"chain_id"`
	Venues  []VenueFile `yaml:"venues"`
	Tokens  struct {
		Token0 TokenFile `yaml:"token0"`
		Token1 TokenFile `yaml:"token1"`
	} `yaml:"tokens"`
	AmountIn     string `yaml:"amount_in"`
	SlippageBps  uint32 `yaml:"slippage_bps"`
	GasUnits     uint64 `yaml:"gas_units"`
	EthUsd       string `yaml:"eth_usd"`
	MinProfitUsd string `yaml:"min_profit_usd"`
	Guards       struct {
		MaxGasPriceWei   string `yaml:"max_gas_price_wei"`
		MinLiquidity     string `yaml:"min_liquidity"`
		MaxBlockTagDrift uint64 `yaml:"max_block_tag_drift"`
	} `yaml:"guards"`
}

// VenueFile is one venue entry.
type VenueFile struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Address string `yaml:"address"`
	FeeBps  uint32 `yaml:"fee_bps"`
}

// TokenFile is one side of the traded pair.
type TokenFile struct {
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
	// PriceUsd is required for token1 only; the USD conversion happens in
	// token1 terms.
	PriceUsd string `yaml:"price_usd"`
}

// Load reads, parses and validates the configuration file.
func Load(path string) (*domain.StrategyCtx, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse validates a YAML document and builds the strategy context.
func Parse(raw []byte) (*domain.StrategyCtx, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if f.ChainID == 0 {
		return nil, invalid("chain_id must be set")
	}
	if f.SlippageBps > MaxSlippageBps {
		return nil, invalid("slippage_bps %d exceeds maximum %d", f.SlippageBps, MaxSlippageBps)
	}
	if f.GasUnits == 0 {
		return nil, invalid("gas_units must be positive")
	}

	venues, err := parseVenues(f.Venues)
	if err != nil {
		return nil, err
	}

	token0, err := parseToken("token0", f.Tokens.Token0, false)
	if err != nil {
		return nil, err
	}
	token1, err := parseToken("token1", f.Tokens.Token1, true)
	if err != nil {
		return nil, err
	}
	if token0.Address == token1.Address {
		return nil, invalid("token0 and token1 must differ")
	}

	amountIn, err := parsePositiveInt("amount_in", f.AmountIn)
	if err != nil {
		return nil, err
	}
	ethUsd, err := parsePositiveDecimal("eth_usd", f.EthUsd)
	if err != nil {
		return nil, err
	}
	minProfit, err := parseDecimalField("min_profit_usd", f.MinProfitUsd)
	if err != nil {
		return nil, err
	}
	if minProfit.IsNegative() {
		return nil, invalid("min_profit_usd must not be negative")
	}

	maxGasPrice, err := parsePositiveInt("guards.max_gas_price_wei", f.Guards.MaxGasPriceWei)
	if err != nil {
		return nil, err
	}
	minLiquidity, err := parseNonNegativeInt("guards.min_liquidity", f.Guards.MinLiquidity)
	if err != nil {
		return nil, err
	}

	return &domain.StrategyCtx{
		ChainID:          f.ChainID,
		Venues:           venues,
		Token0:           token0,
		Token1:           token1,
		AmountIn:         amountIn,
		SlippageBps:      f.SlippageBps,
		GasUnits:         f.GasUnits,
		EthUsd:           ethUsd,
		MinProfitUsd:     minProfit,
		MaxGasPrice:      maxGasPrice,
		MinLiquidity:     minLiquidity,
		MaxBlockTagDrift: f.Guards.MaxBlockTagDrift,
	}, nil
}

func parseVenues(entries []VenueFile) ([]domain.VenueConfig, error) {
	if len(entries) < 2 {
		return nil, invalid("at least two venues are required, got %d", len(entries))
	}

	seen := make(map[string]struct{}, len(entries))
	venues := make([]domain.VenueConfig, 0, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return nil, invalid("venues[%d]: name must be set", i)
		}
		if _, dup := seen[e.Name]; dup {
			return nil, invalid("venues[%d]: duplicate name %q", i, e.Name)
		}
		seen[e.Name] = struct{}{}

		var kind domain.VenueKind
		switch e.Kind {
		case string(domain.VenueKindConstantProduct):
			kind = domain.VenueKindConstantProduct
		case string(domain.VenueKindConcentrated):
			kind = domain.VenueKindConcentrated
		default:
			return nil, invalid("venues[%d] %q: unknown kind %q", i, e.Name, e.Kind)
		}

		if !common.IsHexAddress(e.Address) {
			return nil, invalid("venues[%d] %q: bad address %q", i, e.Name, e.Address)
		}
		if kind == domain.VenueKindConstantProduct && e.FeeBps >= 10_000 {
			return nil, invalid("venues[%d] %q: fee_bps %d out of range", i, e.Name, e.FeeBps)
		}

		venues = append(venues, domain.VenueConfig{
			Name:    e.Name,
			Kind:    kind,
			Address: common.HexToAddress(e.Address),
			FeeBps:  e.FeeBps,
		})
	}
	return venues, nil
}

func parseToken(field string, t TokenFile, priced bool) (domain.TokenInfo, error) {
	if !common.IsHexAddress(t.Address) {
		return domain.TokenInfo{}, invalid("%s: bad address %q", field, t.Address)
	}

	info := domain.TokenInfo{
		Address:  common.HexToAddress(t.Address),
		Decimals: t.Decimals,
	}
	if priced {
		price, err := parsePositiveDecimal(field+".price_usd", t.PriceUsd)
		if err != nil {
			return domain.TokenInfo{}, err
		}
		info.PriceUsd = fixedpoint.FromDecimal(price)
	}
	return info, nil
}

func parsePositiveInt(field, raw string) (*big.Int, error) {
	v, err := parseNonNegativeInt(field, raw)
	if err != nil {
		return nil, err
	}
	if v.Sign() == 0 {
		return nil, invalid("%s must be positive", field)
	}
	return v, nil
}

func parseNonNegativeInt(field, raw string) (*big.Int, error) {
	if raw == "" {
		return nil, invalid("%s must be set", field)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, invalid("%s: not an integer: %q", field, raw)
	}
	if v.Sign() < 0 {
		return nil, invalid("%s must not be negative", field)
	}
	return v, nil
}

func parsePositiveDecimal(field, raw string) (decimal.Decimal, error) {
	d, err := parseDecimalField(field, raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, invalid("%s must be positive", field)
	}
	return d, nil
}

func parseDecimalField(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, invalid("%s must be set", field)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, invalid("%s: not a number: %q", field, raw)
	}
	return d, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
