package fanout

import (
	"bytes"
	"encoding/json"

	"github.com/adred-codev/dexfeed/internal/price"
)

// Inbound is the client -> server message shape. Type is one of subscribe,
// unsubscribe, ping, get-all-prices.
type Inbound struct {
	Type         string `json:"type"`
	TokenAddress string `json:"tokenAddress,omitempty"`
}

// WelcomeFeatures advertises service capabilities to a fresh session.
type WelcomeFeatures struct {
	V2Support          bool `json:"v2Support"`
	V3Support          bool `json:"v3Support"`
	PancakeswapSupport bool `json:"pancakeswapSupport"`
	MultiPoolSupport   bool `json:"multiPoolSupport"`
	DynamicBnbPrice    bool `json:"dynamicBnbPrice"`
	Caching            bool `json:"caching"`
	MetricsTracking    bool `json:"metricsTracking"`
	BuySellDetection   bool `json:"buySellDetection"`
}

type Welcome struct {
	Message  string          `json:"message"`
	SocketID int64           `json:"socketId"`
	Service  string          `json:"service"`
	Features WelcomeFeatures `json:"features"`
}

type Subscribed struct {
	TokenAddress string            `json:"tokenAddress"`
	CurrentPrice *price.TokenPrice `json:"currentPrice"`
	Room         string            `json:"room"`
}

type Unsubscribed struct {
	TokenAddress string `json:"tokenAddress"`
}

type AllPrices struct {
	Prices []*price.TokenPrice `json:"prices"`
}

type HeartbeatMetrics struct {
	PriceUpdates   int64 `json:"priceUpdates"`
	CacheHits      int64 `json:"cacheHits"`
	EventsReceived int64 `json:"eventsReceived"`
}

type Heartbeat struct {
	Timestamp       string           `json:"timestamp"`
	MonitoredTokens int              `json:"monitoredTokens"`
	Uptime          float64          `json:"uptime"`
	Metrics         HeartbeatMetrics `json:"metrics"`
}

type Pong struct {
	Time string `json:"time"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// encodeEvent renders the outbound frame: the event name as a "type" field
// spliced into the payload's own object, so clients see flat messages like
// {"type":"price-update","tokenAddress":...}.
func encodeEvent(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if len(raw) < 2 || raw[0] != '{' {
		// Non-object payloads ride in a data field.
		return json.Marshal(struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}{event, raw})
	}

	var b bytes.Buffer
	b.Grow(len(raw) + len(event) + 12)
	b.WriteString(`{"type":"`)
	b.WriteString(event)
	b.WriteByte('"')
	if len(raw) > 2 {
		b.WriteByte(',')
		b.Write(raw[1 : len(raw)-1])
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}
