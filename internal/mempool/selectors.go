package mempool

// Method-selector classification for swap transactions. Selectors are the
// first 4 bytes of calldata, keyed here as lowercase hex without the 0x
// prefix. Unknown selectors are ignored entirely.

type selectorClass int

const (
	classRouterV2 selectorClass = iota // periphery router, constant-product path
	classRouterV3                      // periphery router, concentrated path
	classDirectV2                      // pair swap() called directly
	classDirectV3                      // pool swap() called directly
)

type selectorInfo struct {
	name  string
	class selectorClass
}

var knownSelectors = map[string]selectorInfo{
	// V2 router family
	"38ed1739": {"swapExactTokensForTokens", classRouterV2},
	"7ff36ab5": {"swapExactETHForTokens", classRouterV2},
	"18cbafe5": {"swapExactTokensForETH", classRouterV2},
	"8803dbee": {"swapTokensForExactTokens", classRouterV2},
	"fb3bdb41": {"swapETHForExactTokens", classRouterV2},
	"4a25d94a": {"swapTokensForExactETH", classRouterV2},
	"b6f9de95": {"swapExactETHForTokensSupportingFeeOnTransferTokens", classRouterV2},
	"791ac947": {"swapExactTokensForETHSupportingFeeOnTransferTokens", classRouterV2},
	"5c11d795": {"swapExactTokensForTokensSupportingFeeOnTransferTokens", classRouterV2},

	// V3 router family
	"414bf389": {"exactInputSingle", classRouterV3},
	"c04b8d59": {"exactInput", classRouterV3},
	"db3e2198": {"exactOutputSingle", classRouterV3},
	"f28c0498": {"exactOutput", classRouterV3},
	"04e45aaf": {"exactInputSingle", classRouterV3}, // router02 variant
	"b858183f": {"exactInput", classRouterV3},       // router02 variant
	"5023b4df": {"exactOutputSingle", classRouterV3},
	"09b81346": {"exactOutput", classRouterV3},
	"ac9650d8": {"multicall", classRouterV3},
	"5ae401dc": {"multicall", classRouterV3}, // deadline variant

	// Pool-direct calls
	"022c0d9f": {"swap", classDirectV2},
	"128acb08": {"swap", classDirectV3},
}

func classify(selector string) (selectorInfo, bool) {
	info, ok := knownSelectors[selector]
	return info, ok
}

func (c selectorClass) direct() bool {
	return c == classDirectV2 || c == classDirectV3
}
