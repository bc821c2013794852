package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyKnownSelectors(t *testing.T) {
	tests := []struct {
		selector string
		name     string
		class    selectorClass
	}{
		{"38ed1739", "swapExactTokensForTokens", classRouterV2},
		{"7ff36ab5", "swapExactETHForTokens", classRouterV2},
		{"414bf389", "exactInputSingle", classRouterV3},
		{"5ae401dc", "multicall", classRouterV3},
		{"022c0d9f", "swap", classDirectV2},
		{"128acb08", "swap", classDirectV3},
	}
	for _, tt := range tests {
		info, ok := classify(tt.selector)
		require.True(t, ok, tt.selector)
		assert.Equal(t, tt.name, info.name, tt.selector)
		assert.Equal(t, tt.class, info.class, tt.selector)
	}
}

func TestClassifyUnknownSelector(t *testing.T) {
	_, ok := classify("a9059cbb") // plain ERC-20 transfer
	assert.False(t, ok)
}

func TestSelectorClassDirect(t *testing.T) {
	assert.True(t, classDirectV2.direct())
	assert.True(t, classDirectV3.direct())
	assert.False(t, classRouterV2.direct())
	assert.False(t, classRouterV3.direct())
}
