package registry

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/dexfeed/internal/config"
	"github.com/adred-codev/dexfeed/internal/metrics"
	"github.com/adred-codev/dexfeed/internal/pool"
	"github.com/adred-codev/dexfeed/internal/price"
)

type deadCaller struct{}

func (deadCaller) CallContract(context.Context, ethereum.CallMsg) ([]byte, error) {
	return nil, errors.New("node unavailable")
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
	rooms  []string
}

func (s *recordingSink) Publish(room, event string, _ interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, room)
	s.events = append(s.events, event)
}

func (s *recordingSink) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

type recordingCleaner struct {
	mu     sync.Mutex
	tokens []string
}

func (c *recordingCleaner) RemoveForToken(tokenAddr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, tokenAddr)
}

func testRegistry(t *testing.T, sink Sink) *Registry {
	t.Helper()
	cfg := &config.Config{
		PriceUpdateThreshold: 0.001,
		PriceCoalesceWindow:  100 * time.Millisecond,
		UpdateBnbPriceEvery:  time.Minute,
		AgentPriceCacheTTL:   10 * time.Second,
		DefaultBnbPriceUSD:   600,
	}
	stats := metrics.New()
	loader := pool.NewLoader(deadCaller{}, zerolog.Nop())
	bnb := price.NewBNBReference(loader, cfg, stats, zerolog.Nop())
	agents := price.NewAgentRegistry(loader, bnb, cfg, stats, zerolog.Nop())
	engine := price.NewEngine(bnb, agents, cfg, zerolog.Nop())
	return New(nil, loader, engine, sink, cfg, stats, zerolog.Nop())
}

func wadReserve(n int64) *big.Int {
	v := big.NewInt(n)
	return v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestRoomName(t *testing.T) {
	assert.Equal(t, "token:0xabc", RoomName("0xABC"))
}

func TestValidateSpec(t *testing.T) {
	good := config.TokenSpec{
		Address: "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa",
		Symbol:  "TKN",
		Pools: []config.PoolSpec{
			{Address: "0xBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBbBb", Protocol: "uniswapv2", Pair: "WBNB", Priority: 1},
		},
	}
	assert.NoError(t, validateSpec(good))

	bad := good
	bad.Address = "nope"
	assert.Error(t, validateSpec(bad))

	bad = good
	bad.Pools = nil
	assert.Error(t, validateSpec(bad))

	bad = good
	bad.Pools = []config.PoolSpec{{Address: good.Pools[0].Address, Protocol: "uniswapv9", Pair: "WBNB"}}
	assert.Error(t, validateSpec(bad))

	bad = good
	bad.Pools = []config.PoolSpec{{Address: good.Pools[0].Address, Protocol: "uniswapv2", Pair: "AGT"}}
	assert.Error(t, validateSpec(bad), "agent pair without pair address")
}

func TestApplyPoolDefaults(t *testing.T) {
	p := &pool.Pool{Kind: pool.KindV3}
	applyPoolDefaults(p, config.PoolSpec{FeeTier: 2500})
	assert.Equal(t, uint32(2500), p.Fee, "configured tier fills a missing fee()")

	p = &pool.Pool{Kind: pool.KindV3, Fee: 500}
	applyPoolDefaults(p, config.PoolSpec{FeeTier: 2500})
	assert.Equal(t, uint32(500), p.Fee, "on-chain fee wins")
}

func TestAddTokenWithoutConfiguration(t *testing.T) {
	r := testRegistry(t, &recordingSink{})
	_, err := r.AddToken(context.Background(), "0xDdDdDdDdDdDdDdDdDdDdDdDdDdDdDdDdDdDdDdDd")
	assert.Error(t, err)
}

func TestRemoveTokenTearsDownOnce(t *testing.T) {
	sink := &recordingSink{}
	r := testRegistry(t, sink)
	cleaner := &recordingCleaner{}
	r.SetMempoolCleaner(cleaner)

	token := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	var teardowns int
	var mu sync.Mutex
	teardown := func() {
		mu.Lock()
		teardowns++
		mu.Unlock()
	}

	r.mu.Lock()
	r.bindings[token] = &binding{spec: config.TokenSpec{Address: token}}
	r.cache[token] = &price.TokenPrice{TokenAddress: token}
	r.handles["0xp1:"+token] = handle{poolAddress: "0xp1", tokenAddress: token, teardown: teardown}
	r.handles["0xp2:"+token] = handle{poolAddress: "0xp2", tokenAddress: token, teardown: teardown}
	r.handles["0xp3:0xother"] = handle{poolAddress: "0xp3", tokenAddress: "0xother", teardown: func() { t.Error("unrelated handle torn down") }}
	r.mu.Unlock()

	require.True(t, r.RemoveToken(token))
	assert.Equal(t, 2, teardowns)
	assert.Nil(t, r.GetTokenPrice(token))
	assert.Equal(t, []string{token}, cleaner.tokens)
	assert.Equal(t, []string{"0xp3"}, r.PoolsFor("0xother"))

	// Second remove finds nothing and fires nothing.
	assert.False(t, r.RemoveToken(token))
	assert.Equal(t, 2, teardowns)
}

func TestHandlePriceUpdateCoalesces(t *testing.T) {
	sink := &recordingSink{}
	r := testRegistry(t, sink)

	p := &pool.Pool{
		Address:   common.HexToAddress("0x01"),
		Kind:      pool.KindV2,
		Decimals0: 18,
		Decimals1: 18,
		IsToken0:  true,
	}
	p.SetReserves(wadReserve(1000), wadReserve(250))

	token := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	b := &binding{
		spec: config.TokenSpec{
			Address: token,
			Symbol:  "TKN",
			Pools:   []config.PoolSpec{{Address: "0x01", Protocol: "uniswapv2", Pair: "WBNB", Priority: 1}},
		},
		pools: []*boundPool{{pool: p, spec: config.PoolSpec{Pair: "WBNB", Priority: 1}}},
	}
	r.mu.Lock()
	r.bindings[token] = b
	r.mu.Unlock()

	ctx := context.Background()
	r.handlePriceUpdate(ctx, b)
	assert.Equal(t, 1, sink.count("price-update"), "first price always broadcasts")

	// A second call inside the coalescing window is dropped outright.
	r.handlePriceUpdate(ctx, b)
	assert.Equal(t, 1, sink.count("price-update"))

	tp := r.GetTokenPrice(token)
	require.NotNil(t, tp)
	// 0.25 WBNB at the default 600 USD reference.
	assert.InDelta(t, 150.0, tp.PriceUSD, 1e-6)
	assert.InDelta(t, 0.25, tp.PriceBNB, 1e-9)
}

func TestHandlePriceUpdateThresholdGate(t *testing.T) {
	sink := &recordingSink{}
	r := testRegistry(t, sink)
	r.coalesce = 0 // isolate the threshold gate

	p := &pool.Pool{
		Address:   common.HexToAddress("0x01"),
		Kind:      pool.KindV2,
		Decimals0: 18,
		Decimals1: 18,
		IsToken0:  true,
	}
	p.SetReserves(wadReserve(1000), wadReserve(250))

	token := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	b := &binding{
		spec: config.TokenSpec{
			Address: token,
			Pools:   []config.PoolSpec{{Address: "0x01", Protocol: "uniswapv2", Pair: "WBNB", Priority: 1}},
		},
		pools: []*boundPool{{pool: p, spec: config.PoolSpec{Pair: "WBNB", Priority: 1}}},
	}
	r.mu.Lock()
	r.bindings[token] = b
	r.mu.Unlock()

	ctx := context.Background()
	r.handlePriceUpdate(ctx, b)
	require.Equal(t, 1, sink.count("price-update"))

	// Unchanged reserves: zero movement, below any threshold.
	r.handlePriceUpdate(ctx, b)
	assert.Equal(t, 1, sink.count("price-update"))

	// A 1% reserve shift clears the 0.1% threshold.
	p.SetReserves(wadReserve(1000), wadReserve(253))
	r.handlePriceUpdate(ctx, b)
	assert.Equal(t, 2, sink.count("price-update"))
}

func TestCachedPricesSorted(t *testing.T) {
	r := testRegistry(t, &recordingSink{})
	r.mu.Lock()
	r.cache["0xbb"] = &price.TokenPrice{TokenAddress: "0xbb"}
	r.cache["0xaa"] = &price.TokenPrice{TokenAddress: "0xaa"}
	r.mu.Unlock()

	out := r.CachedPrices()
	require.Len(t, out, 2)
	assert.Equal(t, "0xaa", out[0].TokenAddress)
	assert.Equal(t, "0xbb", out[1].TokenAddress)
}

func TestIsDynamic(t *testing.T) {
	r := testRegistry(t, &recordingSink{})
	r.mu.Lock()
	r.bindings["0xaa"] = &binding{dynamic: true}
	r.bindings["0xbb"] = &binding{dynamic: false}
	r.mu.Unlock()

	assert.True(t, r.IsDynamic("0xAA"))
	assert.False(t, r.IsDynamic("0xbb"))
	assert.False(t, r.IsDynamic("0xcc"))
}
