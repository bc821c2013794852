package price

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/adred-codev/dexfeed/internal/config"
	"github.com/adred-codev/dexfeed/internal/metrics"
	"github.com/adred-codev/dexfeed/internal/pool"
)

// BNBReference maintains the BNB/USD reference price averaged over a fixed
// set of concentrated WBNB/stable pools. Readers accept staleness up to the
// refresh interval; a read past that triggers an inline refresh. On total
// refresh failure the last value is retained.
type BNBReference struct {
	loader   *pool.Loader
	logger   zerolog.Logger
	stats    *metrics.Registry
	sources  []config.BNBReferencePool
	interval time.Duration

	mu        sync.RWMutex
	priceUSD  float64
	updatedAt time.Time
}

// NewBNBReference seeds the reference with the configured default so cold
// starts quote something sane before the first successful refresh.
func NewBNBReference(loader *pool.Loader, cfg *config.Config, stats *metrics.Registry, logger zerolog.Logger) *BNBReference {
	return &BNBReference{
		loader:   loader,
		logger:   logger.With().Str("component", "bnb-reference").Logger(),
		stats:    stats,
		sources:  config.BNBReferencePools,
		interval: cfg.UpdateBnbPriceEvery,
		priceUSD: cfg.DefaultBnbPriceUSD,
	}
}

// PriceUSD returns the current reference, refreshing first when stale.
func (r *BNBReference) PriceUSD(ctx context.Context) float64 {
	r.mu.RLock()
	stale := time.Since(r.updatedAt) >= r.interval
	v := r.priceUSD
	r.mu.RUnlock()

	if !stale {
		return v
	}
	r.Refresh(ctx)

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.priceUSD
}

// Last returns the reference without triggering a refresh.
func (r *BNBReference) Last() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.priceUSD
}

// Refresh reads every reference pool, outlier-filters the per-pool prices
// and swaps in their mean.
func (r *BNBReference) Refresh(ctx context.Context) {
	samples := make([]float64, 0, len(r.sources))
	for _, src := range r.sources {
		sqrtPrice, _, err := r.loader.ReadSlot0(ctx, common.HexToAddress(src.Address))
		if err != nil {
			r.logger.Warn().Str("pool", src.Address).Err(err).Msg("BNB reference pool read failed")
			r.stats.RecordError("bnb-reference", err.Error())
			continue
		}

		// With the stable on token1 the raw ratio is already USD per BNB;
		// with the stable on token0 it must be inverted.
		p := SqrtPriceToPair(sqrtPrice, src.Decimals0, src.Decimals1, !src.StableIsToken0)
		if p > 0 {
			samples = append(samples, p)
		}
	}

	if len(samples) == 0 {
		r.logger.Warn().Msg("BNB reference refresh yielded no samples, retaining last value")
		r.mu.Lock()
		r.updatedAt = time.Now()
		r.mu.Unlock()
		return
	}

	mean := meanOf(RejectOutliers(samples))

	r.mu.Lock()
	r.priceUSD = mean
	r.updatedAt = time.Now()
	r.mu.Unlock()

	r.logger.Debug().
		Float64("bnb_usd", mean).
		Int("sources", len(samples)).
		Msg("BNB reference refreshed")
}
