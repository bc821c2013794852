package fanout

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/dexfeed/internal/registry"
)

func TestEncodeEventSplicesType(t *testing.T) {
	raw, err := encodeEvent("unsubscribed", Unsubscribed{TokenAddress: "0xaa"})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "unsubscribed", out["type"])
	assert.Equal(t, "0xaa", out["tokenAddress"])
}

func TestEncodeEventEmptyObject(t *testing.T) {
	raw, err := encodeEvent("heartbeat", struct{}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"heartbeat"}`, string(raw))
}

func TestEncodeEventNonObjectPayload(t *testing.T) {
	raw, err := encodeEvent("count", 42)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"count","data":42}`, string(raw))
}

func TestEncodeSwapEventKeepsDirection(t *testing.T) {
	// The swap payload rides nested under data so its own type field
	// (buy/sell) survives next to the frame's event name.
	frame := registry.SwapEventFrame{Data: registry.SwapEvent{Type: "buy", TxHash: "0x01"}}
	raw, err := encodeEvent("swap-event", frame)
	require.NoError(t, err)

	var out struct {
		Type string `json:"type"`
		Data struct {
			Type   string `json:"type"`
			TxHash string `json:"txHash"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "swap-event", out.Type)
	assert.Equal(t, "buy", out.Data.Type)
	assert.Equal(t, "0x01", out.Data.TxHash)
}

func TestEncodeEventNestedPayload(t *testing.T) {
	hb := Heartbeat{
		Timestamp:       "2024-01-01T00:00:00Z",
		MonitoredTokens: 3,
		Uptime:          12.5,
		Metrics:         HeartbeatMetrics{PriceUpdates: 7},
	}
	raw, err := encodeEvent("heartbeat", hb)
	require.NoError(t, err)

	var out struct {
		Type            string           `json:"type"`
		MonitoredTokens int              `json:"monitoredTokens"`
		Metrics         HeartbeatMetrics `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "heartbeat", out.Type)
	assert.Equal(t, 3, out.MonitoredTokens)
	assert.Equal(t, int64(7), out.Metrics.PriceUpdates)
}
