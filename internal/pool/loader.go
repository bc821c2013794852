package pool

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/adred-codev/dexfeed/internal/chain"
	"github.com/adred-codev/dexfeed/internal/config"
)

// ContractCaller is the read-only contract access the loader needs.
// *chain.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// Loader reads pool and token metadata off chain and keeps a per-address
// decimals cache.
type Loader struct {
	caller ContractCaller
	logger zerolog.Logger

	decMu     sync.RWMutex
	decimals  map[string]uint8 // lowercase address -> decimals
	fallbacks map[string]uint8 // configured per-token fallback decimals
}

// NewLoader creates a loader seeded with the deployment's known decimals.
func NewLoader(caller ContractCaller, logger zerolog.Logger) *Loader {
	dec := make(map[string]uint8, len(config.KnownDecimals))
	for addr, d := range config.KnownDecimals {
		dec[addr] = d
	}
	return &Loader{
		caller:    caller,
		logger:    logger.With().Str("component", "pool-loader").Logger(),
		decimals:  dec,
		fallbacks: make(map[string]uint8),
	}
}

// SeedFallback records a binding's configured decimals, used only when the
// on-chain decimals() read fails for that token.
func (l *Loader) SeedFallback(token common.Address, d uint8) {
	if d == 0 {
		return
	}
	l.decMu.Lock()
	l.fallbacks[chain.NormalizeHex(token)] = d
	l.decMu.Unlock()
}

func (l *Loader) call(ctx context.Context, contractABI abi.ABI, to common.Address, method string, out interface{}) error {
	data, err := contractABI.Pack(method)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := l.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data})
	if err != nil {
		return fmt.Errorf("call %s on %s: %w", method, strings.ToLower(to.Hex()), err)
	}
	return contractABI.UnpackIntoInterface(out, method, res)
}

// Load reads a pool's on-chain metadata and current price state.
func (l *Loader) Load(ctx context.Context, address common.Address, kind Kind) (*Pool, error) {
	p := &Pool{Address: address, Kind: kind}

	var err error
	if kind.IsV3() {
		err = l.loadV3(ctx, p)
	} else {
		err = l.loadV2(ctx, p)
	}
	if err != nil {
		return nil, fmt.Errorf("pool %s load failed: %w", strings.ToLower(address.Hex()), err)
	}

	p.Decimals0 = l.Decimals(ctx, p.Token0)
	p.Decimals1 = l.Decimals(ctx, p.Token1)
	return p, nil
}

func (l *Loader) loadV2(ctx context.Context, p *Pool) error {
	var token0, token1 common.Address
	if err := l.call(ctx, pairABI, p.Address, "token0", &token0); err != nil {
		return err
	}
	if err := l.call(ctx, pairABI, p.Address, "token1", &token1); err != nil {
		return err
	}
	p.Token0, p.Token1 = token0, token1
	return l.refreshReserves(ctx, p)
}

func (l *Loader) refreshReserves(ctx context.Context, p *Pool) error {
	var out struct {
		Reserve0           *big.Int
		Reserve1           *big.Int
		BlockTimestampLast uint32
	}
	if err := l.call(ctx, pairABI, p.Address, "getReserves", &out); err != nil {
		return err
	}
	p.SetReserves(out.Reserve0, out.Reserve1)
	return nil
}

func (l *Loader) loadV3(ctx context.Context, p *Pool) error {
	var token0, token1 common.Address
	if err := l.call(ctx, poolV3ABI, p.Address, "token0", &token0); err != nil {
		return err
	}
	if err := l.call(ctx, poolV3ABI, p.Address, "token1", &token1); err != nil {
		return err
	}
	p.Token0, p.Token1 = token0, token1

	// fee() is absent on some sibling deployments; the binding's configured
	// tier fills the gap via the registry.
	var fee *big.Int
	if err := l.call(ctx, poolV3ABI, p.Address, "fee", &fee); err == nil {
		p.Fee = uint32(fee.Uint64())
	}

	// tickSpacing is informational; missing on some sibling deployments.
	var spacing *big.Int
	if err := l.call(ctx, poolV3ABI, p.Address, "tickSpacing", &spacing); err == nil {
		p.TickSpacing = int32(spacing.Int64())
	}

	var liquidity *big.Int
	if err := l.call(ctx, poolV3ABI, p.Address, "liquidity", &liquidity); err != nil {
		return err
	}
	p.setLiquidity(liquidity)

	sqrtPrice, _, err := l.ReadSlot0(ctx, p.Address)
	if err != nil {
		return err
	}
	p.SetSqrtPriceX96(sqrtPrice)
	return nil
}

// ReadSlot0 returns (sqrtPriceX96, tick) for a concentrated pool. The
// sibling family returns a different tuple shape, so three decode variants
// are attempted in order: the standard 7-tuple, the narrower 6-tuple, and
// finally a raw slice of the return words. First one that decodes wins.
func (l *Loader) ReadSlot0(ctx context.Context, address common.Address) (*big.Int, int32, error) {
	res, err := l.caller.CallContract(ctx, ethereum.CallMsg{To: &address, Data: slot0Payload})
	if err != nil {
		return nil, 0, fmt.Errorf("call slot0 on %s: %w", strings.ToLower(address.Hex()), err)
	}

	if out, err := poolV3ABI.Methods["slot0"].Outputs.UnpackValues(res); err == nil && len(out) >= 2 {
		sqrtPrice := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
		tick := *abi.ConvertType(out[1], new(*big.Int)).(**big.Int)
		return sqrtPrice, int32(tick.Int64()), nil
	}

	if out, err := slot0NarrowABI.Methods["slot0"].Outputs.UnpackValues(res); err == nil && len(out) >= 2 {
		sqrtPrice := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
		tick := *abi.ConvertType(out[1], new(*big.Int)).(**big.Int)
		return sqrtPrice, int32(tick.Int64()), nil
	}

	// Raw fallback: first 32-byte word unsigned sqrt price, second word a
	// two's-complement int24 tick.
	if len(res) >= 64 {
		sqrtPrice := new(big.Int).SetBytes(res[:32])
		tick := signedWord(res[32:64])
		return sqrtPrice, int32(tick.Int64()), nil
	}

	return nil, 0, fmt.Errorf("slot0 on %s: undecodable return (%d bytes)", strings.ToLower(address.Hex()), len(res))
}

// signedWord interprets a 32-byte ABI word as a two's-complement integer.
func signedWord(word []byte) *big.Int {
	v := new(big.Int).SetBytes(word)
	if word[0]&0x80 != 0 {
		max := new(big.Int).Lsh(big.NewInt(1), 256)
		v.Sub(v, max)
	}
	return v
}

// BindToken validates that token is one side of the pool and records which.
func (l *Loader) BindToken(p *Pool, token common.Address) error {
	switch {
	case p.Token0 == token:
		p.IsToken0 = true
	case p.Token1 == token:
		p.IsToken0 = false
	default:
		return fmt.Errorf("%w: %s not in %s", ErrTokenNotInPool,
			strings.ToLower(token.Hex()), strings.ToLower(p.Address.Hex()))
	}
	return nil
}

// RefreshState re-reads the price-bearing state: reserves for V2, slot0
// for V3.
func (l *Loader) RefreshState(ctx context.Context, p *Pool) error {
	if p.Kind.IsV3() {
		sqrtPrice, _, err := l.ReadSlot0(ctx, p.Address)
		if err != nil {
			return err
		}
		p.SetSqrtPriceX96(sqrtPrice)
		return nil
	}
	return l.refreshReserves(ctx, p)
}

// Decimals resolves a token's decimals through the cache, the deployment's
// known constants, and finally a decimals() call. A failed read logs a
// warning and falls back to the seeded per-token value, or 18.
func (l *Loader) Decimals(ctx context.Context, token common.Address) uint8 {
	key := chain.NormalizeHex(token)

	l.decMu.RLock()
	if d, ok := l.decimals[key]; ok {
		l.decMu.RUnlock()
		return d
	}
	l.decMu.RUnlock()

	var d uint8
	if err := l.call(ctx, erc20ABI, token, "decimals", &d); err != nil {
		l.decMu.RLock()
		fb, seeded := l.fallbacks[key]
		l.decMu.RUnlock()
		if !seeded {
			fb = config.FallbackDecimals
		}
		l.logger.Warn().
			Str("token", key).
			Err(err).
			Msgf("decimals() read failed, assuming %d", fb)
		return fb
	}

	l.decMu.Lock()
	l.decimals[key] = d
	l.decMu.Unlock()
	return d
}

// Symbol reads a token's symbol, returning "" on failure.
func (l *Loader) Symbol(ctx context.Context, token common.Address) string {
	var s string
	if err := l.call(ctx, erc20ABI, token, "symbol", &s); err != nil {
		return ""
	}
	return s
}
