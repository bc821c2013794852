package price

import (
	"errors"
	"math"
	"math/big"

	"github.com/adred-codev/dexfeed/internal/pool"
)

// ErrNoLiquidity marks a pool that cannot quote: empty reserves on a
// constant-product pool or zero in-range liquidity on a concentrated one.
var ErrNoLiquidity = errors.New("pool has no liquidity")

var (
	q192 = new(big.Int).Lsh(big.NewInt(1), 192)
	wad  = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// PairPrice returns the monitored token's price denominated in the pool's
// pair token, dispatching on the pool variant.
func PairPrice(p *pool.Pool) (float64, error) {
	if !p.HasLiquidity() {
		return 0, ErrNoLiquidity
	}
	if p.Kind.IsV3() {
		return SqrtPriceToPair(p.SqrtPriceX96(), p.Decimals0, p.Decimals1, p.IsToken0), nil
	}
	return reservesToPair(p), nil
}

func reservesToPair(p *pool.Pool) float64 {
	r0, r1 := p.Reserves()
	h0 := pool.ToHuman(r0, p.Decimals0)
	h1 := pool.ToHuman(r1, p.Decimals1)
	if p.IsToken0 {
		if h0 == 0 {
			return 0
		}
		return h1 / h0
	}
	if h1 == 0 {
		return 0
	}
	return h0 / h1
}

// SqrtPriceToPair converts a Q64.96 square-root price into the monitored
// token's pair-denominated price. The square is scaled by 10^18 in integer
// space before the 2^192 division so that small ratios survive the float
// conversion, then adjusted for the decimal gap between the two sides.
func SqrtPriceToPair(sqrtPriceX96 *big.Int, decimals0, decimals1 uint8, monitoredIsToken0 bool) float64 {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() == 0 {
		return 0
	}

	num := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	num.Mul(num, wad)
	num.Div(num, q192)

	ratio, _ := new(big.Float).Quo(
		new(big.Float).SetInt(num),
		new(big.Float).SetInt(wad),
	).Float64()
	ratio *= math.Pow10(int(decimals0) - int(decimals1))

	if monitoredIsToken0 {
		return ratio
	}
	if ratio == 0 {
		return 0
	}
	return 1 / ratio
}
