package pool

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrTokenNotInPool is returned when a pool is bound to a token that is
	// neither its token0 nor its token1.
	ErrTokenNotInPool = errors.New("token not in pool")

	// ErrUnknownProtocol is returned for protocol tags outside the closed
	// variant set.
	ErrUnknownProtocol = errors.New("unknown pool protocol")
)

// Kind is the closed set of supported pool variants. New variants are added
// by extending the set; no open extension happens at runtime.
type Kind int

const (
	KindV2 Kind = iota // constant-product (Uniswap/Pancake V2 family)
	KindV3             // concentrated liquidity (Uniswap/Pancake V3 family)
	KindV2Alt          // constant-product sibling family (Aerodrome V2)
	KindV3Alt          // concentrated sibling family (Slipstream), slot0 shape differs
)

func (k Kind) String() string {
	switch k {
	case KindV2:
		return "uniswapv2"
	case KindV3:
		return "uniswapv3"
	case KindV2Alt:
		return "aerodromev2"
	case KindV3Alt:
		return "slipstream"
	}
	return "unknown"
}

// IsV3 reports whether the variant carries concentrated-liquidity state.
func (k Kind) IsV3() bool {
	return k == KindV3 || k == KindV3Alt
}

// ParseProtocol maps an API protocol tag onto the variant set.
func ParseProtocol(tag string) (Kind, error) {
	switch tag {
	case "uniswapv2":
		return KindV2, nil
	case "uniswapv3":
		return KindV3, nil
	case "aerodromev2":
		return KindV2Alt, nil
	case "aerodromev3", "slipstream":
		return KindV3Alt, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProtocol, tag)
}

// Pool is one AMM pool. Identity and loaded attributes are immutable after
// Load; the price-bearing state (reserves or sqrt price) is mutated only by
// swap-log handlers and guarded by its own lock.
type Pool struct {
	Address common.Address
	Kind    Kind

	Token0    common.Address
	Token1    common.Address
	Decimals0 uint8
	Decimals1 uint8

	// Concentrated-liquidity attributes, zero for V2 variants.
	Fee         uint32
	TickSpacing int32

	// IsToken0 marks which side the monitored token occupies. Set by
	// Loader.BindToken.
	IsToken0 bool

	mu           sync.RWMutex
	reserve0     *big.Int
	reserve1     *big.Int
	sqrtPriceX96 *big.Int
	liquidity    *big.Int
}

// SetReserves replaces the V2 reserve state.
func (p *Pool) SetReserves(r0, r1 *big.Int) {
	p.mu.Lock()
	p.reserve0 = new(big.Int).Set(r0)
	p.reserve1 = new(big.Int).Set(r1)
	p.mu.Unlock()
}

// Reserves returns copies of the V2 reserve state.
func (p *Pool) Reserves() (*big.Int, *big.Int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.reserve0 == nil || p.reserve1 == nil {
		return new(big.Int), new(big.Int)
	}
	return new(big.Int).Set(p.reserve0), new(big.Int).Set(p.reserve1)
}

// SetSqrtPriceX96 replaces the V3 price state.
func (p *Pool) SetSqrtPriceX96(v *big.Int) {
	p.mu.Lock()
	p.sqrtPriceX96 = new(big.Int).Set(v)
	p.mu.Unlock()
}

// SqrtPriceX96 returns a copy of the V3 price state.
func (p *Pool) SqrtPriceX96() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.sqrtPriceX96 == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(p.sqrtPriceX96)
}

func (p *Pool) setLiquidity(v *big.Int) {
	p.mu.Lock()
	p.liquidity = new(big.Int).Set(v)
	p.mu.Unlock()
}

// ApplySwapState folds the state a concentrated-liquidity Swap log carries
// into the pool: the new sqrt price always, in-range liquidity when the
// log supplied it.
func (p *Pool) ApplySwapState(sqrtPriceX96, liquidity *big.Int) {
	p.mu.Lock()
	if sqrtPriceX96 != nil {
		p.sqrtPriceX96 = new(big.Int).Set(sqrtPriceX96)
	}
	if liquidity != nil {
		p.liquidity = new(big.Int).Set(liquidity)
	}
	p.mu.Unlock()
}

// HasLiquidity reports whether the pool can quote a price: both reserves
// positive for V2, nonzero in-range liquidity for V3.
func (p *Pool) HasLiquidity() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.Kind.IsV3() {
		return p.liquidity != nil && p.liquidity.Sign() > 0
	}
	return p.reserve0 != nil && p.reserve0.Sign() > 0 &&
		p.reserve1 != nil && p.reserve1.Sign() > 0
}

// TokenDecimals returns (monitored, pair) decimals according to IsToken0.
func (p *Pool) TokenDecimals() (uint8, uint8) {
	if p.IsToken0 {
		return p.Decimals0, p.Decimals1
	}
	return p.Decimals1, p.Decimals0
}
