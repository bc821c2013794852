package confirm

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/dexfeed/internal/metrics"
)

// Subjects for swap-lifecycle envelopes on the downstream bus.
const (
	SubjectPending   = "dexfeed.swap.pending"
	SubjectConfirmed = "dexfeed.swap.confirmed"
	SubjectFailed    = "dexfeed.swap.failed"
	SubjectReplaced  = "dexfeed.swap.replaced"
)

// PendingEnvelope announces a swap observed in the mempool.
type PendingEnvelope struct {
	Event         string `json:"event"`
	TxHash        string `json:"txHash"`
	TokenAddress  string `json:"tokenAddress"`
	PoolAddress   string `json:"poolAddress"`
	UserAddress   string `json:"userAddress"`
	Operation     string `json:"operation"`
	Status        string `json:"status"`
	Protocol      string `json:"protocol"`
	Timestamp     string `json:"timestamp"`
	DetectionTime string `json:"detectionTime"`
}

// ConfirmedEnvelope announces a mined, successful swap.
type ConfirmedEnvelope struct {
	TxHash       string `json:"txHash"`
	BlockNumber  uint64 `json:"blockNumber"`
	GasUsed      uint64 `json:"gasUsed"`
	TokenAddress string `json:"tokenAddress"`
	PoolAddress  string `json:"poolAddress"`
	UserAddress  string `json:"userAddress"`
	Operation    string `json:"operation"`
	Status       string `json:"status"`
	Protocol     string `json:"protocol"`
	Timestamp    string `json:"timestamp"`
}

// FailedEnvelope announces a mined, reverted swap.
type FailedEnvelope struct {
	Event       string `json:"event"`
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	Reason      string `json:"reason"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
}

// ReplacedEnvelope announces a same-nonce replacement; tracking continues
// under the new hash.
type ReplacedEnvelope struct {
	Event     string `json:"event"`
	OldTxHash string `json:"oldTxHash"`
	NewTxHash string `json:"newTxHash"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Emitter publishes swap-lifecycle envelopes to the downstream consumer
// over NATS. Emission is best-effort: while the bus is unreachable,
// envelopes are dropped and counted, never buffered.
type Emitter struct {
	conn   *nats.Conn
	logger zerolog.Logger
	stats  *metrics.Registry
}

// New connects to the bus. An empty URL yields a disabled emitter that
// drops everything silently; the rest of the service runs unchanged.
func New(natsURL string, stats *metrics.Registry, logger zerolog.Logger) (*Emitter, error) {
	e := &Emitter{
		logger: logger.With().Str("component", "confirm-emitter").Logger(),
		stats:  stats,
	}
	if natsURL == "" {
		e.logger.Info().Msg("No NATS URL configured, confirmation emitter disabled")
		return e, nil
	}

	conn, err := nats.Connect(natsURL,
		nats.Name("dexfeed"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			e.logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			e.logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	e.conn = conn
	e.logger.Info().Str("url", natsURL).Msg("Confirmation emitter connected")
	return e, nil
}

// Enabled reports whether a bus connection was configured.
func (e *Emitter) Enabled() bool {
	return e.conn != nil
}

// Emit publishes one envelope. Failures drop with a counter bump.
func (e *Emitter) Emit(subject string, payload interface{}) {
	if e.conn == nil || !e.conn.IsConnected() {
		e.stats.IncDroppedEmits()
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error().Err(err).Str("subject", subject).Msg("Envelope marshal failed")
		e.stats.IncDroppedEmits()
		return
	}
	if err := e.conn.Publish(subject, data); err != nil {
		e.logger.Warn().Err(err).Str("subject", subject).Msg("Envelope publish failed")
		e.stats.IncDroppedEmits()
	}
}

// Close drains and closes the bus connection.
func (e *Emitter) Close() {
	if e.conn != nil {
		e.conn.Drain()
	}
}
