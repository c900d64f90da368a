package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"evm-arb-watcher/internal/domain"
	"evm-arb-watcher/internal/fixedpoint"
)

func validFile() File {
	f := File{
		ChainID: 1,
		Venues: []VenueFile{
			{Name: "univ2", Kind: "v2", Address: "0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852", FeeBps: 30},
			{Name: "univ3", Kind: "v3", Address: "0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8"},
		},
		AmountIn:     "1000000000000000000",
		SlippageBps:  50,
		GasUnits:     250000,
		EthUsd:       "2000",
		MinProfitUsd: "5",
	}
	f.Tokens.Token0 = TokenFile{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18}
	f.Tokens.Token1 = TokenFile{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6, PriceUsd: "1"}
	f.Guards.MaxGasPriceWei = "100000000000"
	f.Guards.MinLiquidity = "1000000"
	f.Guards.MaxBlockTagDrift = 3
	return f
}

func marshal(t *testing.T, f File) []byte {
	t.Helper()
	raw, err := yaml.Marshal(f)
	require.NoError(t, err)
	return raw
}

func TestParseValid(t *testing.T) {
	strategy, err := Parse(marshal(t, validFile()))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), strategy.ChainID)
	require.Len(t, strategy.Venues, 2)
	assert.Equal(t, domain.VenueKindConstantProduct, strategy.Venues[0].Kind)
	assert.Equal(t, uint32(30), strategy.Venues[0].FeeBps)
	assert.Equal(t, domain.VenueKindConcentrated, strategy.Venues[1].Kind)
	assert.Equal(t, common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8"), strategy.Venues[1].Address)

	wantAmount, _ := new(big.Int).SetString("1000000000000000000", 10)
	assert.Equal(t, wantAmount, strategy.AmountIn)
	assert.Equal(t, uint8(6), strategy.Token1.Decimals)
	assert.True(t, fixedpoint.ToDecimal(strategy.Token1.PriceUsd).Equal(decimal.NewFromInt(1)),
		"token1 price survives the Q64.96 round trip")

	assert.Equal(t, uint32(50), strategy.SlippageBps)
	assert.True(t, strategy.EthUsd.IsPositive())
	assert.Equal(t, "5", strategy.MinProfitUsd.String())
	assert.Equal(t, big.NewInt(100_000_000_000), strategy.MaxGasPrice)
	assert.Equal(t, big.NewInt(1_000_000), strategy.MinLiquidity)
	assert.Equal(t, uint64(3), strategy.MaxBlockTagDrift)
}

func TestParseRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*File)
		wantMsg string
	}{
		{
			name:    "missing chain id",
			mutate:  func(f *File) { f.ChainID = 0 },
			wantMsg: "chain_id",
		},
		{
			name:    "single venue",
			mutate:  func(f *File) { f.Venues = f.Venues[:1] },
			wantMsg: "at least two venues",
		},
		{
			name:    "duplicate venue name",
			mutate:  func(f *File) { f.Venues[1].Name = "univ2" },
			wantMsg: "duplicate name",
		},
		{
			name:    "unknown venue kind",
			mutate:  func(f *File) { f.Venues[0].Kind = "v4" },
			wantMsg: "unknown kind",
		},
		{
			name:    "bad venue address",
			mutate:  func(f *File) { f.Venues[0].Address = "not-an-address" },
			wantMsg: "bad address",
		},
		{
			name:    "fee out of range",
			mutate:  func(f *File) { f.Venues[0].FeeBps = 10_000 },
			wantMsg: "fee_bps",
		},
		{
			name:    "slippage above cap",
			mutate:  func(f *File) { f.SlippageBps = 2001 },
			wantMsg: "slippage_bps",
		},
		{
			name:    "zero gas units",
			mutate:  func(f *File) { f.GasUnits = 0 },
			wantMsg: "gas_units",
		},
		{
			name:    "bad token address",
			mutate:  func(f *File) { f.Tokens.Token0.Address = "0x123" },
			wantMsg: "token0",
		},
		{
			name:    "identical tokens",
			mutate:  func(f *File) { f.Tokens.Token1.Address = f.Tokens.Token0.Address },
			wantMsg: "must differ",
		},
		{
			name:    "zero amount",
			mutate:  func(f *File) { f.AmountIn = "0" },
			wantMsg: "amount_in must be positive",
		},
		{
			name:    "negative amount",
			mutate:  func(f *File) { f.AmountIn = "-5" },
			wantMsg: "amount_in",
		},
		{
			name:    "amount not a number",
			mutate:  func(f *File) { f.AmountIn = "1.5e18" },
			wantMsg: "not an integer",
		},
		{
			name:    "missing token1 price",
			mutate:  func(f *File) { f.Tokens.Token1.PriceUsd = "" },
			wantMsg: "price_usd",
		},
		{
			name:    "negative min profit",
			mutate:  func(f *File) { f.MinProfitUsd = "-1" },
			wantMsg: "min_profit_usd",
		},
		{
			name:    "missing gas price guard",
			mutate:  func(f *File) { f.Guards.MaxGasPriceWei = "" },
			wantMsg: "max_gas_price_wei",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFile()
			tt.mutate(&f)

			_, err := Parse(marshal(t, f))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorContains(t, err, tt.wantMsg)
		})
	}
}

func TestParseBadYAML(t *testing.T) {
	_, err := Parse([]byte("venues: ["))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watcher.yaml")
	require.NoError(t, os.WriteFile(path, marshal(t, validFile()), 0o644))

	strategy, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), strategy.ChainID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
