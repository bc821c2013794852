package pool

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToHuman(t *testing.T) {
	wad, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.InDelta(t, 1.5, ToHuman(wad, 18), 1e-12)

	usdc := big.NewInt(2500000)
	assert.InDelta(t, 2.5, ToHuman(usdc, 6), 1e-12)

	assert.Equal(t, 0.0, ToHuman(nil, 18))
	assert.Equal(t, 0.0, ToHuman(big.NewInt(0), 18))
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{0.005, "5.000e-03"},
		{0.000001234, "1.234e-06"},
		{-0.005, "-5.000e-03"},
		{0.01, "0.0100"},
		{1.5, "1.5000"},
		{999.99, "999.9900"},
		{-42.1, "-42.1000"},
		{1000, "1,000.00"},
		{1234.5, "1,234.50"},
		{1234567.891, "1,234,567.89"},
		{-1234.5, "-1,234.50"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAmount(tt.in), "FormatAmount(%v)", tt.in)
	}
}
