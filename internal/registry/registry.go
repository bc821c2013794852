package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/adred-codev/dexfeed/internal/chain"
	"github.com/adred-codev/dexfeed/internal/config"
	"github.com/adred-codev/dexfeed/internal/metrics"
	"github.com/adred-codev/dexfeed/internal/pool"
	"github.com/adred-codev/dexfeed/internal/price"
)

// Sink receives room-keyed events produced by the registry. The fan-out
// server implements it.
type Sink interface {
	Publish(room, event string, payload interface{})
}

// MempoolCleaner drops pending-swap tracking when a token's pools go away.
// The mempool tracker implements it; a nil cleaner disables the hook.
type MempoolCleaner interface {
	RemoveForToken(tokenAddr string)
}

// RoomName returns the fan-out room for a token address.
func RoomName(tokenAddr string) string {
	return "token:" + chain.NormalizeAddress(tokenAddr)
}

// binding is one monitored token with its live pools. Mutating operations
// and swap-log handling for the same token serialize on mu; independent
// tokens proceed concurrently.
type binding struct {
	address common.Address
	spec    config.TokenSpec
	dynamic bool

	mu             sync.Mutex
	pools          []*boundPool
	lastPrice      float64
	lastUpdateCall time.Time
}

type boundPool struct {
	pool *pool.Pool
	spec config.PoolSpec
}

type handle struct {
	poolAddress  string
	tokenAddress string
	kind         pool.Kind
	teardown     chain.Cancel
}

// Registry owns the token -> pool-listener mapping: idempotent add, safe
// remove, resubscribe on reconnect. It also holds the most-recent TokenPrice
// cache, the only price persistence this service has.
type Registry struct {
	client   *chain.Client
	loader   *pool.Loader
	engine   *price.Engine
	sink     Sink
	stats    *metrics.Registry
	logger   zerolog.Logger
	coalesce time.Duration

	mempool MempoolCleaner

	mu       sync.RWMutex
	bindings map[string]*binding          // lowercase token address
	handles  map[string]handle            // lower(pool) + ":" + lower(token)
	cache    map[string]*price.TokenPrice // lowercase token address
}

func New(client *chain.Client, loader *pool.Loader, engine *price.Engine, sink Sink, cfg *config.Config, stats *metrics.Registry, logger zerolog.Logger) *Registry {
	return &Registry{
		client:   client,
		loader:   loader,
		engine:   engine,
		sink:     sink,
		stats:    stats,
		logger:   logger.With().Str("component", "registry").Logger(),
		coalesce: cfg.PriceCoalesceWindow,
		bindings: make(map[string]*binding),
		handles:  make(map[string]handle),
		cache:    make(map[string]*price.TokenPrice),
	}
}

// SetMempoolCleaner wires the mempool tracker in after construction; the
// tracker and the registry are built in either order by the coordinator.
func (r *Registry) SetMempoolCleaner(mc MempoolCleaner) {
	r.mempool = mc
}

// AddToken activates monitoring for a statically configured token.
// Idempotent: a token that is already monitored returns its cached price.
// Returns (nil, nil) when no pool survives loading.
func (r *Registry) AddToken(ctx context.Context, tokenAddr string) (*price.TokenPrice, error) {
	key := chain.NormalizeAddress(tokenAddr)

	r.mu.RLock()
	_, exists := r.bindings[key]
	cached := r.cache[key]
	r.mu.RUnlock()
	if exists {
		return cached, nil
	}

	spec, ok := config.StaticTokens[key]
	if !ok {
		return nil, fmt.Errorf("token %s has no configuration", key)
	}
	return r.add(ctx, spec, false)
}

// AddDynamicToken activates monitoring for a request-supplied token spec.
func (r *Registry) AddDynamicToken(ctx context.Context, spec config.TokenSpec) (*price.TokenPrice, error) {
	key := chain.NormalizeAddress(spec.Address)

	r.mu.RLock()
	_, exists := r.bindings[key]
	cached := r.cache[key]
	r.mu.RUnlock()
	if exists {
		return cached, nil
	}

	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	return r.add(ctx, spec, true)
}

func validateSpec(spec config.TokenSpec) error {
	if !chain.IsHexAddress(spec.Address) {
		return fmt.Errorf("invalid token address %q", spec.Address)
	}
	if len(spec.Pools) == 0 {
		return fmt.Errorf("token %s has no pools", spec.Address)
	}
	for _, ps := range spec.Pools {
		if !chain.IsHexAddress(ps.Address) {
			return fmt.Errorf("invalid pool address %q", ps.Address)
		}
		if _, err := pool.ParseProtocol(ps.Protocol); err != nil {
			return err
		}
		if ps.Pair != config.PairWBNB && !config.IsStablePair(ps.Pair) && !chain.IsHexAddress(ps.PairAddr) {
			return fmt.Errorf("pair %q requires a valid pair address", ps.Pair)
		}
	}
	return nil
}

func (r *Registry) add(ctx context.Context, spec config.TokenSpec, dynamic bool) (*price.TokenPrice, error) {
	key := chain.NormalizeAddress(spec.Address)
	b := &binding{
		address: common.HexToAddress(spec.Address),
		spec:    spec,
		dynamic: dynamic,
	}

	tp, err := r.activate(ctx, b)
	if err != nil {
		return nil, err
	}
	if tp == nil {
		// Zero live pools: nothing to monitor, nothing is registered.
		r.logger.Warn().Str("token", key).Msg("No live pools for token, add skipped")
		return nil, nil
	}

	r.logger.Info().
		Str("token", key).
		Str("symbol", spec.Symbol).
		Int("pools", tp.PoolCount).
		Bool("dynamic", dynamic).
		Float64("price_usd", tp.PriceUSD).
		Msg("Token monitoring started")
	return tp, nil
}

// activate loads the binding's pools, computes the initial price, and wires
// the swap-log subscriptions. Used by both first-time adds and reconnect
// recovery.
func (r *Registry) activate(ctx context.Context, b *binding) (*price.TokenPrice, error) {
	key := chain.NormalizeAddress(b.spec.Address)

	if b.spec.Decimals > 0 {
		r.loader.SeedFallback(b.address, b.spec.Decimals)
	}

	// Warm the references the samples will need.
	r.engine.BNB().PriceUSD(ctx)
	for _, ps := range b.spec.Pools {
		if ps.PairAddr != "" && r.engine.Agents().Registered(ps.PairAddr) {
			r.engine.Agents().PriceUSD(ctx, ps.PairAddr, nil)
		}
	}

	var live []*boundPool
	for _, ps := range b.spec.Pools {
		bp, err := r.loadPool(ctx, b, ps)
		if err != nil {
			r.logger.Warn().
				Str("token", key).
				Str("pool", strings.ToLower(ps.Address)).
				Err(err).
				Msg("Pool skipped")
			r.stats.RecordError("pool-load", err.Error())
			continue
		}
		live = append(live, bp)
	}
	if len(live) == 0 {
		return nil, nil
	}

	b.mu.Lock()
	b.pools = live
	tp := r.sampleLocked(ctx, b)
	if tp != nil {
		b.lastPrice = tp.PriceUSD
	}
	b.mu.Unlock()

	r.mu.Lock()
	r.bindings[key] = b
	if tp != nil {
		r.cache[key] = tp
	}
	r.mu.Unlock()

	for _, bp := range live {
		if err := r.subscribePool(b, bp); err != nil {
			r.logger.Error().
				Str("token", key).
				Str("pool", chain.NormalizeHex(bp.pool.Address)).
				Err(err).
				Msg("Swap subscription failed")
			r.stats.RecordError("subscribe", err.Error())
		}
	}

	if tp != nil && tp.PriceUSD > 0 {
		r.publishPrice(tp)
	}
	return tp, nil
}

func (r *Registry) loadPool(ctx context.Context, b *binding, ps config.PoolSpec) (*boundPool, error) {
	kind, err := pool.ParseProtocol(ps.Protocol)
	if err != nil {
		return nil, err
	}
	p, err := r.loader.Load(ctx, common.HexToAddress(ps.Address), kind)
	if err != nil {
		return nil, err
	}
	if err := r.loader.BindToken(p, b.address); err != nil {
		return nil, err
	}
	applyPoolDefaults(p, ps)
	if !p.HasLiquidity() {
		return nil, price.ErrNoLiquidity
	}
	return &boundPool{pool: p, spec: ps}, nil
}

// applyPoolDefaults fills loaded-pool gaps from the binding's spec. The
// on-chain value wins when both exist.
func applyPoolDefaults(p *pool.Pool, ps config.PoolSpec) {
	if p.Fee == 0 && ps.FeeTier > 0 {
		p.Fee = uint32(ps.FeeTier)
	}
}

// subscribePool attaches the swap-log subscription for one pool and records
// its teardown handle. Before inserting, any entry whose key lower-cases to
// the same value is torn down; this guards against case-inconsistent keys
// from earlier insertions.
func (r *Registry) subscribePool(b *binding, bp *boundPool) error {
	poolKey := chain.NormalizeHex(bp.pool.Address)
	tokenKey := chain.NormalizeAddress(b.spec.Address)
	key := poolKey + ":" + tokenKey

	cancel, err := r.client.SubscribeLogs(bp.pool.Address, pool.SwapTopic(bp.pool.Kind), func(lg types.Log) {
		r.handleSwapLog(b, bp, lg)
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	for existing, h := range r.handles {
		if strings.EqualFold(existing, key) {
			h.teardown()
			delete(r.handles, existing)
		}
	}
	r.handles[key] = handle{
		poolAddress:  poolKey,
		tokenAddress: tokenKey,
		kind:         bp.pool.Kind,
		teardown:     cancel,
	}
	r.mu.Unlock()
	return nil
}

// RemoveToken tears down every listener for the token, evicts its cached
// price, and drops any mempool tracking tied to its pools. Returns false
// when the token was not monitored.
func (r *Registry) RemoveToken(tokenAddr string) bool {
	key := chain.NormalizeAddress(tokenAddr)

	r.mu.Lock()
	_, existed := r.bindings[key]
	delete(r.bindings, key)
	delete(r.cache, key)
	var torn []chain.Cancel
	for hk, h := range r.handles {
		if h.tokenAddress == key {
			torn = append(torn, h.teardown)
			delete(r.handles, hk)
		}
	}
	r.mu.Unlock()

	for _, teardown := range torn {
		teardown()
	}
	if r.mempool != nil {
		r.mempool.RemoveForToken(key)
	}

	if existed {
		r.logger.Info().
			Str("token", key).
			Int("listeners", len(torn)).
			Msg("Token monitoring stopped")
	}
	return existed
}

// IsDynamic reports whether the monitored token was added via the API.
func (r *Registry) IsDynamic(tokenAddr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[chain.NormalizeAddress(tokenAddr)]
	return ok && b.dynamic
}

// OnReconnect re-establishes every binding's subscriptions against a fresh
// transport. Configs are reused as stored; only the chain-facing state is
// rebuilt.
func (r *Registry) OnReconnect(ctx context.Context) {
	r.mu.RLock()
	bindings := make([]*binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		bindings = append(bindings, b)
	}
	r.mu.RUnlock()

	r.logger.Info().Int("tokens", len(bindings)).Msg("Resubscribing after reconnect")

	for _, b := range bindings {
		key := chain.NormalizeAddress(b.spec.Address)

		// Old handles are dead with the old transport; drop them first.
		r.mu.Lock()
		for hk, h := range r.handles {
			if h.tokenAddress == key {
				h.teardown()
				delete(r.handles, hk)
			}
		}
		r.mu.Unlock()

		if _, err := r.activate(ctx, b); err != nil {
			r.logger.Error().Str("token", key).Err(err).Msg("Resubscribe failed")
			r.stats.RecordError("resubscribe", err.Error())
		}
	}
}

// handleSwapLog is the per-pool swap-log path: decode synchronously, update
// pool state, publish the swap event with the data already in hand, then
// hand the RPC-dependent work to background tasks.
func (r *Registry) handleSwapLog(b *binding, bp *boundPool, lg types.Log) {
	tokenDec, pairDec := bp.pool.TokenDecimals()

	var info pool.SwapInfo
	if bp.pool.Kind.IsV3() {
		sw, err := pool.DecodeV3Swap(lg)
		if err != nil {
			r.stats.RecordError("swap-decode", err.Error())
			return
		}
		bp.pool.ApplySwapState(sw.SqrtPriceX96, sw.Liquidity)
		info = pool.ClassifyV3(sw, bp.pool.IsToken0, tokenDec, pairDec)
	} else {
		sw, err := pool.DecodeV2Swap(lg)
		if err != nil {
			r.stats.RecordError("swap-decode", err.Error())
			return
		}
		info = pool.ClassifyV2(sw, bp.pool.IsToken0, tokenDec, pairDec)
	}

	tokenKey := chain.NormalizeAddress(b.spec.Address)
	room := RoomName(tokenKey)
	r.sink.Publish(room, "swap-event", SwapEventFrame{Data: r.swapEnvelope(b, bp, lg, info)})

	go r.refreshAfterSwap(b, bp)
	go r.resolveSender(room, lg.TxHash)
}

// swapEnvelope builds the synchronous swap-event payload. USD conversion
// uses only cached references so this path never blocks on RPC.
func (r *Registry) swapEnvelope(b *binding, bp *boundPool, lg types.Log, info pool.SwapInfo) SwapEvent {
	bnbUSD := r.engine.BNB().Last()
	pairUnitUSD := r.pairUnitUSD(bp.spec, bnbUSD)

	valueUSD := info.PairAmount * pairUnitUSD
	var amountBNB float64
	if bnbUSD > 0 {
		amountBNB = valueUSD / bnbUSD
	}
	var execUSD float64
	if info.TokenAmount > 0 {
		execUSD = valueUSD / info.TokenAmount
	}

	kind := "sell"
	if info.IsBuy {
		kind = "buy"
	}

	return SwapEvent{
		TokenAddress: chain.NormalizeAddress(b.spec.Address),
		Symbol:       b.spec.Symbol,
		PoolAddress:  chain.NormalizeHex(bp.pool.Address),
		TxHash:       lg.TxHash.Hex(),
		Type:         kind,
		Sender:       chain.NormalizeHex(info.Sender),
		AmountBNB:    amountBNB,
		AmountToken:  info.TokenAmount,
		PairSymbol:   bp.spec.Pair,
		PairAmount:   info.PairAmount,
		PriceUSD:     execUSD,
		ValueUSD:     valueUSD,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
}

func (r *Registry) pairUnitUSD(ps config.PoolSpec, bnbUSD float64) float64 {
	switch {
	case ps.Pair == config.PairWBNB:
		return bnbUSD
	case config.IsStablePair(ps.Pair):
		return 1
	default:
		return r.engine.Agents().CachedUSD(ps.PairAddr)
	}
}

// refreshAfterSwap re-reads price-bearing state (reserves for V2; V3 state
// already arrived in the log) and recomputes the token's aggregate price.
func (r *Registry) refreshAfterSwap(b *binding, bp *boundPool) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if !bp.pool.Kind.IsV3() {
		if err := r.loader.RefreshState(ctx, bp.pool); err != nil {
			r.stats.RecordError("reserves-refresh", err.Error())
			return
		}
	}
	r.handlePriceUpdate(ctx, b)
}

// resolveSender fetches the transaction origin and pushes the follow-up
// swap-update carrying the real user address.
func (r *Registry) resolveSender(room string, txHash common.Hash) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tx, _, err := r.client.TransactionByHash(ctx, txHash)
	if err != nil || tx == nil {
		return
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return
	}
	r.sink.Publish(room, "swap-update", SwapUpdate{
		TxHash: txHash.Hex(),
		Sender: chain.NormalizeHex(from),
	})
}

// handlePriceUpdate recomputes and conditionally broadcasts the token's
// price. Calls landing within the coalescing window of the previous one are
// dropped; two pools of the same token swapping in the same block trigger
// one recompute, not two.
func (r *Registry) handlePriceUpdate(ctx context.Context, b *binding) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if now.Sub(b.lastUpdateCall) < r.coalesce {
		return
	}
	b.lastUpdateCall = now

	tp := r.sampleLocked(ctx, b)
	if tp == nil {
		return
	}

	key := chain.NormalizeAddress(b.spec.Address)
	old := b.lastPrice
	b.lastPrice = tp.PriceUSD

	// The cache always reflects the newest computation; the threshold gates
	// only the broadcast.
	r.mu.Lock()
	r.cache[key] = tp
	r.mu.Unlock()
	r.stats.IncPriceUpdates()

	if r.engine.ShouldBroadcast(old, tp.PriceUSD) {
		r.publishPrice(tp)
	}
}

// sampleLocked prices every live pool and aggregates. Caller holds b.mu.
func (r *Registry) sampleLocked(ctx context.Context, b *binding) *price.TokenPrice {
	samples := make([]price.PriceSample, 0, len(b.pools))
	for _, bp := range b.pools {
		s, err := r.engine.SamplePool(ctx, bp.pool, bp.spec, nil)
		if err != nil {
			r.stats.RecordError("price-sample", err.Error())
			continue
		}
		samples = append(samples, s)
	}
	return r.engine.Aggregate(b.spec.Address, b.spec.Symbol, b.spec.Name, samples)
}

func (r *Registry) publishPrice(tp *price.TokenPrice) {
	r.sink.Publish(RoomName(tp.TokenAddress), "price-update", PriceUpdate{
		TokenPrice: tp,
		Formatted:  price.FormattedPrices(tp),
	})
}

// GetTokenPrice returns the cached aggregate for a token, or nil.
func (r *Registry) GetTokenPrice(tokenAddr string) *price.TokenPrice {
	r.mu.RLock()
	tp, ok := r.cache[chain.NormalizeAddress(tokenAddr)]
	r.mu.RUnlock()
	if ok {
		r.stats.IncCacheHits()
		return tp
	}
	r.stats.IncCacheMisses()
	return nil
}

// CachedPrices returns all cached aggregates, ordered by token address.
func (r *Registry) CachedPrices() []*price.TokenPrice {
	r.mu.RLock()
	out := make([]*price.TokenPrice, 0, len(r.cache))
	for _, tp := range r.cache {
		out = append(out, tp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TokenAddress < out[j].TokenAddress })
	return out
}

// MonitoredTokens returns the addresses of all active bindings.
func (r *Registry) MonitoredTokens() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.bindings))
	for key := range r.bindings {
		out = append(out, key)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Count returns the number of monitored tokens.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// PoolsFor returns the live pool addresses bound to a token. The mempool
// tracker uses it to scope selector matching.
func (r *Registry) PoolsFor(tokenAddr string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := chain.NormalizeAddress(tokenAddr)
	var out []string
	for _, h := range r.handles {
		if h.tokenAddress == key {
			out = append(out, h.poolAddress)
		}
	}
	return out
}
