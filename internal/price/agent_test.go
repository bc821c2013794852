package price

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/dexfeed/internal/config"
	"github.com/adred-codev/dexfeed/internal/metrics"
)

const agentAddr = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

func testAgentRegistry(stats *metrics.Registry) *AgentRegistry {
	cfg := &config.Config{AgentPriceCacheTTL: 10 * time.Second}
	r := NewAgentRegistry(nil, nil, cfg, stats, zerolog.Nop())
	r.Register(config.AgentTokenSpec{
		Address: agentAddr,
		Symbol:  "AGT",
		Sources: []config.AgentSource{
			{Address: "0x01", Protocol: "uniswapv2", Pair: "AGT2", PairAddr: "0x02", Priority: 1},
		},
	})
	return r
}

func TestConstructorSeedsStaticAgents(t *testing.T) {
	orig := config.StaticAgentTokens
	config.StaticAgentTokens = []config.AgentTokenSpec{{Address: agentAddr, Symbol: "SEED"}}
	defer func() { config.StaticAgentTokens = orig }()

	cfg := &config.Config{AgentPriceCacheTTL: 10 * time.Second}
	r := NewAgentRegistry(nil, nil, cfg, metrics.New(), zerolog.Nop())

	assert.True(t, r.Registered(agentAddr))
	addr, ok := r.ResolveSymbol("SEED")
	require.True(t, ok)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", addr)
}

func TestAgentCycleContributesZero(t *testing.T) {
	stats := metrics.New()
	r := testAgentRegistry(stats)

	// The token is already on the resolution stack: a cycle in the pair
	// graph. The branch must terminate with zero instead of recursing.
	key := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	got := r.PriceUSD(context.Background(), agentAddr, []string{key})
	assert.Equal(t, 0.0, got)

	recorded := stats.RecentErrors()
	require.Len(t, recorded, 1)
	assert.Equal(t, "agent-price", recorded[0].Source)
}

func TestAgentUnknownTokenIsZero(t *testing.T) {
	r := testAgentRegistry(metrics.New())
	got := r.PriceUSD(context.Background(), "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB", nil)
	assert.Equal(t, 0.0, got)
}

func TestAgentRegistryLookups(t *testing.T) {
	r := testAgentRegistry(metrics.New())

	assert.True(t, r.Registered(agentAddr))
	assert.True(t, r.Registered("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	assert.False(t, r.Registered("0x01"))

	addr, ok := r.ResolveSymbol("AGT")
	require.True(t, ok)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", addr)

	_, ok = r.ResolveSymbol("NOPE")
	assert.False(t, ok)
}

func TestAgentCachedUSDDoesNotRefresh(t *testing.T) {
	r := testAgentRegistry(metrics.New())
	// Never priced: zero, and no source resolution is attempted.
	assert.Equal(t, 0.0, r.CachedUSD(agentAddr))
	assert.Equal(t, 0.0, r.CachedUSD("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"))
}
