package price

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/dexfeed/internal/pool"
)

func wadAmount(n int64) *big.Int {
	v := big.NewInt(n)
	return v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestSqrtPriceToPairUnity(t *testing.T) {
	// sqrtPriceX96 == 2^96 encodes a raw token1/token0 ratio of exactly 1.
	sqrt := new(big.Int).Lsh(big.NewInt(1), 96)

	assert.InDelta(t, 1.0, SqrtPriceToPair(sqrt, 18, 18, true), 1e-9)
	assert.InDelta(t, 1.0, SqrtPriceToPair(sqrt, 18, 18, false), 1e-9)
}

func TestSqrtPriceToPairSquares(t *testing.T) {
	// 2^97 squares to a ratio of 4.
	sqrt := new(big.Int).Lsh(big.NewInt(1), 97)

	assert.InDelta(t, 4.0, SqrtPriceToPair(sqrt, 18, 18, true), 1e-9)
	assert.InDelta(t, 0.25, SqrtPriceToPair(sqrt, 18, 18, false), 1e-9)
}

func TestSqrtPriceToPairDecimalGap(t *testing.T) {
	// A 6-decimal token0 against an 18-decimal token1 at raw ratio 1: the
	// human ratio is 10^(6-18), and the token1 side sees its inverse.
	sqrt := new(big.Int).Lsh(big.NewInt(1), 96)

	assert.InDelta(t, 1e-12, SqrtPriceToPair(sqrt, 6, 18, true), 1e-21)
	assert.InDelta(t, 1e12, SqrtPriceToPair(sqrt, 6, 18, false), 1e3)
}

func TestSqrtPriceToPairZero(t *testing.T) {
	assert.Equal(t, 0.0, SqrtPriceToPair(nil, 18, 18, true))
	assert.Equal(t, 0.0, SqrtPriceToPair(big.NewInt(0), 18, 18, false))
}

func TestPairPriceV2(t *testing.T) {
	p := &pool.Pool{
		Address:   common.HexToAddress("0x01"),
		Kind:      pool.KindV2,
		Decimals0: 18,
		Decimals1: 18,
		IsToken0:  true,
	}
	p.SetReserves(wadAmount(1000), wadAmount(250))

	got, err := PairPrice(p)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, got, 1e-9)

	// Monitored on the other side inverts the ratio.
	p.IsToken0 = false
	got, err = PairPrice(p)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got, 1e-9)
}

func TestPairPriceNoLiquidity(t *testing.T) {
	p := &pool.Pool{Kind: pool.KindV2, Decimals0: 18, Decimals1: 18}
	_, err := PairPrice(p)
	assert.ErrorIs(t, err, ErrNoLiquidity)
}
