package price

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/dexfeed/internal/config"
)

func testEngine(threshold float64) *Engine {
	cfg := &config.Config{PriceUpdateThreshold: threshold}
	return NewEngine(nil, nil, cfg, zerolog.Nop())
}

func TestAggregateWeightsByInversePriority(t *testing.T) {
	e := testEngine(0.001)

	samples := []PriceSample{
		{PriceUSD: 100, PriceBNB: 0.2, Priority: 1},
		{PriceUSD: 110, PriceBNB: 0.22, Priority: 2},
	}

	tp := e.Aggregate("0xABCDEF0000000000000000000000000000000001", "TKN", "Token", samples)
	require.NotNil(t, tp)

	// Weights 1 and 0.5: (100 + 55) / 1.5.
	assert.InDelta(t, 103.3333, tp.PriceUSD, 1e-3)
	assert.Equal(t, 2, tp.PoolCount)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", tp.TokenAddress)
	assert.Equal(t, "TKN", tp.Symbol)
	assert.NotEmpty(t, tp.Timestamp)
}

func TestAggregateZeroPriorityCountsAsWeightOne(t *testing.T) {
	e := testEngine(0.001)

	samples := []PriceSample{
		{PriceUSD: 10, Priority: 0},
		{PriceUSD: 20, Priority: 0},
	}

	tp := e.Aggregate("0x02", "A", "", samples)
	require.NotNil(t, tp)
	assert.InDelta(t, 15.0, tp.PriceUSD, 1e-9)
}

func TestAggregateEmpty(t *testing.T) {
	e := testEngine(0.001)
	assert.Nil(t, e.Aggregate("0x02", "A", "", nil))
}

func TestAggregateDropsOutlierPool(t *testing.T) {
	e := testEngine(0.001)

	samples := []PriceSample{
		{PriceUSD: 1, Priority: 1}, {PriceUSD: 1, Priority: 1},
		{PriceUSD: 1, Priority: 1}, {PriceUSD: 1, Priority: 1},
		{PriceUSD: 1, Priority: 1}, {PriceUSD: 1, Priority: 1},
		{PriceUSD: 1, Priority: 1}, {PriceUSD: 1, Priority: 1},
		{PriceUSD: 1, Priority: 1}, {PriceUSD: 100, Priority: 1},
	}

	tp := e.Aggregate("0x03", "B", "", samples)
	require.NotNil(t, tp)
	assert.Equal(t, 9, tp.PoolCount)
	assert.InDelta(t, 1.0, tp.PriceUSD, 1e-9)
}

func TestShouldBroadcast(t *testing.T) {
	e := testEngine(0.001)

	assert.True(t, e.ShouldBroadcast(0, 5), "first price always broadcasts")
	assert.False(t, e.ShouldBroadcast(100, 100.05), "0.05% move stays quiet")
	assert.True(t, e.ShouldBroadcast(100, 100.1), "0.1% move broadcasts")
	assert.True(t, e.ShouldBroadcast(100, 99.9), "downward moves count too")
	assert.False(t, e.ShouldBroadcast(100, 100))
}

func TestFormattedPrices(t *testing.T) {
	tp := &TokenPrice{PriceUSD: 1234.5, PriceBNB: 2.5}
	got := FormattedPrices(tp)
	assert.Equal(t, "$1,234.50", got["priceUSD"])
	assert.Equal(t, "2.5000 BNB", got["priceBNB"])
}
