package price

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/adred-codev/dexfeed/internal/chain"
	"github.com/adred-codev/dexfeed/internal/config"
	"github.com/adred-codev/dexfeed/internal/metrics"
	"github.com/adred-codev/dexfeed/internal/pool"
)

// AgentRegistry holds tokens whose USD price is derived from other pools
// rather than a direct stable pair. Sources may themselves pair against
// other agent tokens; resolution threads an explicit call stack through the
// recursion so a cycle in the pair graph terminates with a zero branch.
type AgentRegistry struct {
	loader *pool.Loader
	bnb    *BNBReference
	logger zerolog.Logger
	stats  *metrics.Registry
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]*agentEntry // lowercase token address
	symbols map[string]string      // symbol -> lowercase token address
}

type agentEntry struct {
	address common.Address
	symbol  string
	sources []config.AgentSource

	mu        sync.Mutex
	pools     map[string]*pool.Pool // lowercase pool address
	priceUSD  float64
	updatedAt time.Time
}

// NewAgentRegistry creates the registry and seeds it with the deployment's
// static agent tokens.
func NewAgentRegistry(loader *pool.Loader, bnb *BNBReference, cfg *config.Config, stats *metrics.Registry, logger zerolog.Logger) *AgentRegistry {
	r := &AgentRegistry{
		loader:  loader,
		bnb:     bnb,
		logger:  logger.With().Str("component", "agent-registry").Logger(),
		stats:   stats,
		ttl:     cfg.AgentPriceCacheTTL,
		entries: make(map[string]*agentEntry),
		symbols: make(map[string]string),
	}
	for _, spec := range config.StaticAgentTokens {
		r.Register(spec)
	}
	return r
}

// Register adds or replaces an agent token. Re-registration resets the
// cached price.
func (r *AgentRegistry) Register(spec config.AgentTokenSpec) {
	key := chain.NormalizeAddress(spec.Address)
	entry := &agentEntry{
		address: common.HexToAddress(spec.Address),
		symbol:  spec.Symbol,
		sources: spec.Sources,
		pools:   make(map[string]*pool.Pool),
	}

	r.mu.Lock()
	r.entries[key] = entry
	r.symbols[spec.Symbol] = key
	r.mu.Unlock()

	r.logger.Info().
		Str("agent", key).
		Str("symbol", spec.Symbol).
		Int("sources", len(spec.Sources)).
		Msg("Agent token registered")
}

// Registered reports whether the address belongs to a known agent token.
func (r *AgentRegistry) Registered(addr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[chain.NormalizeAddress(addr)]
	return ok
}

// ResolveSymbol maps an agent symbol to its token address.
func (r *AgentRegistry) ResolveSymbol(symbol string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.symbols[symbol]
	return addr, ok
}

// CachedUSD returns the last computed price without refreshing, zero when
// the token is unknown or never priced. Synchronous broadcast paths use it
// to avoid blocking on RPC.
func (r *AgentRegistry) CachedUSD(addr string) float64 {
	r.mu.RLock()
	entry, ok := r.entries[chain.NormalizeAddress(addr)]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.priceUSD
}

// PriceUSD resolves an agent token's USD price. callStack carries the
// addresses already being resolved further up; finding addr there means a
// cycle, which contributes zero. Results are cached per token for the
// configured TTL.
func (r *AgentRegistry) PriceUSD(ctx context.Context, addr string, callStack []string) float64 {
	key := chain.NormalizeAddress(addr)

	for _, seen := range callStack {
		if seen == key {
			r.logger.Warn().
				Str("agent", key).
				Strs("call_stack", callStack).
				Msg("Agent price cycle detected, branch contributes zero")
			r.stats.RecordError("agent-price", fmt.Sprintf("pricing cycle through %s", key))
			return 0
		}
	}

	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn().Str("agent", key).Msg("Agent token not registered")
		return 0
	}

	entry.mu.Lock()
	if entry.priceUSD > 0 && time.Since(entry.updatedAt) < r.ttl {
		v := entry.priceUSD
		entry.mu.Unlock()
		return v
	}
	last := entry.priceUSD
	entry.mu.Unlock()

	stack := append(append(make([]string, 0, len(callStack)+1), callStack...), key)

	samples := make([]float64, 0, len(entry.sources))
	for _, src := range entry.sources {
		v, err := r.sourceUSD(ctx, entry, src, stack)
		if err != nil {
			r.logger.Warn().
				Str("agent", key).
				Str("pool", src.Address).
				Err(err).
				Msg("Agent price source failed")
			r.stats.RecordError("agent-price", err.Error())
			continue
		}
		if v > 0 {
			samples = append(samples, v)
		}
	}

	if len(samples) == 0 {
		return last
	}

	mean := meanOf(RejectOutliers(samples))

	entry.mu.Lock()
	entry.priceUSD = mean
	entry.updatedAt = time.Now()
	entry.mu.Unlock()
	return mean
}

// sourceUSD computes one source pool's USD price for the agent token.
func (r *AgentRegistry) sourceUSD(ctx context.Context, entry *agentEntry, src config.AgentSource, stack []string) (float64, error) {
	p, err := r.sourcePool(ctx, entry, src)
	if err != nil {
		return 0, err
	}
	if err := r.loader.RefreshState(ctx, p); err != nil {
		return 0, err
	}

	inPair, err := PairPrice(p)
	if err != nil {
		return 0, err
	}

	switch {
	case src.Pair == config.PairWBNB:
		return inPair * r.bnb.PriceUSD(ctx), nil
	case config.IsStablePair(src.Pair):
		return inPair, nil
	default:
		if src.PairAddr == "" {
			return 0, fmt.Errorf("agent pair %q has no pair address", src.Pair)
		}
		return inPair * r.PriceUSD(ctx, src.PairAddr, stack), nil
	}
}

func (r *AgentRegistry) sourcePool(ctx context.Context, entry *agentEntry, src config.AgentSource) (*pool.Pool, error) {
	key := chain.NormalizeAddress(src.Address)

	entry.mu.Lock()
	p, ok := entry.pools[key]
	entry.mu.Unlock()
	if ok {
		return p, nil
	}

	kind, err := pool.ParseProtocol(src.Protocol)
	if err != nil {
		return nil, err
	}
	p, err = r.loader.Load(ctx, common.HexToAddress(src.Address), kind)
	if err != nil {
		return nil, err
	}
	if err := r.loader.BindToken(p, entry.address); err != nil {
		return nil, err
	}

	entry.mu.Lock()
	entry.pools[key] = p
	entry.mu.Unlock()
	return p, nil
}
