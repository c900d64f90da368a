package risk

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckSlippage(t *testing.T) {
	tests := []struct {
		name        string
		expected    int64
		actual      int64
		slippageBps uint32
		want        bool
	}{
		{"within tolerance", 100, 99, 200, true},
		{"outside tolerance", 100, 95, 200, false},
		{"exact price", 100, 100, 0, true},
		{"upside move counts too", 100, 103, 200, false},
		{"at the boundary", 100, 98, 200, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckSlippage(big.NewInt(tt.expected), big.NewInt(tt.actual), tt.slippageBps)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckSlippageZeroExpected(t *testing.T) {
	assert.False(t, CheckSlippage(big.NewInt(0), big.NewInt(1), 10_000))
}

func TestCalcMinOut(t *testing.T) {
	out := CalcMinOut(big.NewInt(1000), 100)
	assert.Equal(t, int64(990), out.Int64())
}

func TestComputeSlippageAdjustedOutMatchesCalcMinOut(t *testing.T) {
	amounts := []int64{0, 1, 999, 1000, 123456789}
	bps := []uint32{0, 1, 50, 100, 9999, 10000}
	for _, a := range amounts {
		for _, b := range bps {
			want := CalcMinOut(big.NewInt(a), b)
			got := ComputeSlippageAdjustedOut(big.NewInt(a), b)
			assert.Zero(t, want.Cmp(got), "amount=%d bps=%d", a, b)
		}
	}
}
