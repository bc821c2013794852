package price

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/dexfeed/internal/chain"
	"github.com/adred-codev/dexfeed/internal/config"
	"github.com/adred-codev/dexfeed/internal/pool"
)

// PriceSample is one pool's contribution to a token's aggregate price.
type PriceSample struct {
	PriceUSD    float64 `json:"priceUSD"`
	PriceBNB    float64 `json:"priceBNB"`
	PoolAddress string  `json:"poolAddress"`
	Description string  `json:"description"`
	Pair        string  `json:"pair"`
	Priority    int     `json:"priority"`
}

// TokenPrice is the aggregated, cacheable output for one token. Prices are
// always USD and BNB; pair-denominated values never leave the engine.
type TokenPrice struct {
	TokenAddress string        `json:"tokenAddress"`
	Symbol       string        `json:"symbol"`
	Name         string        `json:"name"`
	PriceUSD     float64       `json:"priceUSD"`
	PriceBNB     float64       `json:"priceBNB"`
	PoolCount    int           `json:"poolCount"`
	Pools        []PriceSample `json:"pools"`
	Timestamp    string        `json:"timestamp"`
}

// Engine computes per-pool USD prices and aggregates them per token with
// outlier rejection and priority weighting.
type Engine struct {
	bnb       *BNBReference
	agents    *AgentRegistry
	logger    zerolog.Logger
	threshold float64
}

func NewEngine(bnb *BNBReference, agents *AgentRegistry, cfg *config.Config, logger zerolog.Logger) *Engine {
	return &Engine{
		bnb:       bnb,
		agents:    agents,
		logger:    logger.With().Str("component", "price-engine").Logger(),
		threshold: cfg.PriceUpdateThreshold,
	}
}

// BNB exposes the engine's reference so callers can refresh or read it.
func (e *Engine) BNB() *BNBReference { return e.bnb }

// Agents exposes the agent-token registry.
func (e *Engine) Agents() *AgentRegistry { return e.agents }

// SamplePool prices one pool in USD and BNB terms. callStack is threaded
// through for agent-paired pools.
func (e *Engine) SamplePool(ctx context.Context, p *pool.Pool, spec config.PoolSpec, callStack []string) (PriceSample, error) {
	inPair, err := PairPrice(p)
	if err != nil {
		return PriceSample{}, err
	}

	usd, inBNB, err := e.toUSD(ctx, inPair, spec.Pair, spec.PairAddr, callStack)
	if err != nil {
		return PriceSample{}, err
	}

	return PriceSample{
		PriceUSD:    usd,
		PriceBNB:    inBNB,
		PoolAddress: chain.NormalizeHex(p.Address),
		Description: fmt.Sprintf("%s %s pool", p.Kind, spec.Pair),
		Pair:        spec.Pair,
		Priority:    spec.Priority,
	}, nil
}

func (e *Engine) toUSD(ctx context.Context, inPair float64, pairSym, pairAddr string, callStack []string) (usd, inBNB float64, err error) {
	bnbUSD := e.bnb.PriceUSD(ctx)

	switch {
	case pairSym == config.PairWBNB:
		return inPair * bnbUSD, inPair, nil
	case config.IsStablePair(pairSym):
		if bnbUSD == 0 {
			return inPair, 0, nil
		}
		return inPair, inPair / bnbUSD, nil
	default:
		if pairAddr == "" {
			return 0, 0, fmt.Errorf("pair %q requires a pair address", pairSym)
		}
		usd = inPair * e.agents.PriceUSD(ctx, pairAddr, callStack)
		if bnbUSD == 0 {
			return usd, 0, nil
		}
		return usd, usd / bnbUSD, nil
	}
}

// Aggregate outlier-filters the USD samples and computes priority-weighted
// averages. Each pool contributes weight 1/priority, so lower priority
// numbers dominate. Returns nil when no sample survives.
func (e *Engine) Aggregate(tokenAddr, symbol, name string, samples []PriceSample) *TokenPrice {
	kept := rejectSampleOutliers(samples)
	if len(kept) == 0 {
		return nil
	}

	var usdSum, bnbSum, weightSum float64
	for _, s := range kept {
		w := 1.0
		if s.Priority > 0 {
			w = 1 / float64(s.Priority)
		}
		usdSum += s.PriceUSD * w
		bnbSum += s.PriceBNB * w
		weightSum += w
	}

	return &TokenPrice{
		TokenAddress: chain.NormalizeAddress(tokenAddr),
		Symbol:       symbol,
		Name:         name,
		PriceUSD:     usdSum / weightSum,
		PriceBNB:     bnbSum / weightSum,
		PoolCount:    len(kept),
		Pools:        kept,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
}

// rejectSampleOutliers mirrors RejectOutliers on the samples' USD values.
func rejectSampleOutliers(samples []PriceSample) []PriceSample {
	if len(samples) <= 2 {
		return samples
	}

	vals := make([]float64, len(samples))
	for i, s := range samples {
		vals[i] = s.PriceUSD
	}
	mean, stddev := meanStddev(vals)

	kept := make([]PriceSample, 0, len(samples))
	for _, s := range samples {
		if math.Abs(s.PriceUSD-mean) <= 2*stddev {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return samples
	}
	return kept
}

// ShouldBroadcast gates fan-out on relative movement: a prior price of zero
// always broadcasts, otherwise the move must reach the configured
// threshold. The cache is updated regardless of the verdict; only the
// broadcast is gated.
func (e *Engine) ShouldBroadcast(old, current float64) bool {
	if old == 0 {
		return true
	}
	return math.Abs((current-old)/old) >= e.threshold
}

// FormattedPrices renders the display strings attached to price-update
// envelopes.
func FormattedPrices(tp *TokenPrice) map[string]string {
	return map[string]string{
		"priceUSD": "$" + pool.FormatAmount(tp.PriceUSD),
		"priceBNB": pool.FormatAmount(tp.PriceBNB) + " BNB",
	}
}
