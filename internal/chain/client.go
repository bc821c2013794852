package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/adred-codev/dexfeed/internal/metrics"
)

// receiptPollInterval is how often WaitForReceipt polls the node.
const receiptPollInterval = 3 * time.Second

// Config controls the node connection.
type Config struct {
	URL                  string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

// Cancel detaches a subscription. Safe to call more than once; only the
// first call tears down.
type Cancel func()

// LogHandler receives decoded log events for a (address, topic) pair.
type LogHandler func(types.Log)

// PendingTxHandler receives pending transaction hashes.
type PendingTxHandler func(common.Hash)

// Client is a single multiplexed connection to an EVM node over WebSocket.
// It owns typed RPC access, topic-based log subscriptions, the pending-tx
// subscription, and bounded reconnect.
//
// On transport loss every live subscription dies with the connection; the
// reconnect handler (normally the listener registry) is expected to
// re-establish them against the fresh connection.
type Client struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Registry

	mu  sync.RWMutex
	rpc *rpc.Client
	eth *ethclient.Client

	connected    atomic.Bool
	reconnecting int32

	onReconnected func()
	fatalCh       chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial connects to the node and verifies the connection with a chain-id
// round trip.
func Dial(ctx context.Context, cfg Config, logger zerolog.Logger, m *metrics.Registry) (*Client, error) {
	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		logger:  logger.With().Str("component", "chain").Logger(),
		metrics: m,
		fatalCh: make(chan error, 1),
		ctx:     cctx,
		cancel:  cancel,
	}

	if err := c.dial(ctx); err != nil {
		cancel()
		return nil, err
	}

	chainID, err := c.ChainID(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("chain id handshake failed: %w", err)
	}
	c.logger.Info().
		Str("url", cfg.URL).
		Str("chain_id", chainID.String()).
		Msg("Connected to chain node")

	return c, nil
}

func (c *Client) dial(ctx context.Context) error {
	rpcClient, err := rpc.DialContext(ctx, c.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to dial node: %w", err)
	}

	c.mu.Lock()
	c.rpc = rpcClient
	c.eth = ethclient.NewClient(rpcClient)
	c.mu.Unlock()
	c.connected.Store(true)
	return nil
}

// SetReconnectHandler registers the hook invoked after a successful
// reconnect. Must be called before subscriptions are created.
func (c *Client) SetReconnectHandler(fn func()) {
	c.onReconnected = fn
}

// Connected reports whether the transport is believed live.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Fatal delivers at most one error when reconnect attempts are exhausted.
func (c *Client) Fatal() <-chan error {
	return c.fatalCh
}

func (c *Client) ethClient() *ethclient.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eth
}

func (c *Client) rpcClient() *rpc.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rpc
}

// ChainID returns the node's chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient().ChainID(ctx)
}

// BlockNumber returns the current head number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient().BlockNumber(ctx)
}

// CallContract executes a read-only contract call at the latest block.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return c.ethClient().CallContract(ctx, msg, nil)
}

// TransactionByHash fetches a transaction, pending or mined.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return c.ethClient().TransactionByHash(ctx, hash)
}

// TransactionReceipt fetches the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return c.ethClient().TransactionReceipt(ctx, hash)
}

// WaitForReceipt polls for the receipt of hash until it lands or the
// timeout elapses. The caller's context cancels the wait early.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.TransactionReceipt(wctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		// ethereum.NotFound while pending is expected; other errors are
		// retried until the deadline.

		select {
		case <-wctx.Done():
			return nil, wctx.Err()
		case <-ticker.C:
		}
	}
}

// SubscribeLogs delivers decoded log events for the (address, topic) pair.
// Ordering within one subscription follows the node; across subscriptions
// no order is promised. Handler panics are recovered and recorded so one
// bad event cannot tear down the subscription.
func (c *Client) SubscribeLogs(address common.Address, topic common.Hash, handler LogHandler) (Cancel, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{topic}},
	}

	ch := make(chan types.Log, 256)
	sub, err := c.ethClient().SubscribeFilterLogs(c.ctx, query, ch)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe logs for %s: %w", address.Hex(), err)
	}

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			sub.Unsubscribe()
			close(done)
		})
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case lg := <-ch:
				c.metrics.IncEventsReceived()
				c.safeHandleLog(handler, lg)
			case err := <-sub.Err():
				if err != nil {
					c.logger.Warn().
						Err(err).
						Str("address", strings.ToLower(address.Hex())).
						Msg("Log subscription dropped")
					c.connectionLost(err)
				}
				return
			case <-done:
				return
			case <-c.ctx.Done():
				return
			}
		}
	}()

	return cancel, nil
}

func (c *Client) safeHandleLog(handler LogHandler, lg types.Log) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.RecordError("log_handler", fmt.Sprintf("panic: %v", r))
			c.logger.Error().
				Interface("panic_value", r).
				Str("stack_trace", string(debug.Stack())).
				Str("tx", lg.TxHash.Hex()).
				Msg("Log handler panic recovered")
		}
	}()
	handler(lg)
}

// SubscribePendingTxHashes subscribes to the node's newPendingTransactions
// channel. Some providers deliver block headers or other garbage on this
// channel; anything whose string form is not a 0x-prefixed 66-char hash is
// silently dropped.
func (c *Client) SubscribePendingTxHashes(handler PendingTxHandler) (Cancel, error) {
	ch := make(chan json.RawMessage, 1024)
	sub, err := c.rpcClient().EthSubscribe(c.ctx, ch, "newPendingTransactions")
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe pending transactions: %w", err)
	}

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			sub.Unsubscribe()
			close(done)
		})
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case raw := <-ch:
				hash, ok := decodePendingHash(raw)
				if !ok {
					continue
				}
				c.safeHandlePending(handler, hash)
			case err := <-sub.Err():
				if err != nil {
					c.logger.Warn().Err(err).Msg("Pending-tx subscription dropped")
					c.connectionLost(err)
				}
				return
			case <-done:
				return
			case <-c.ctx.Done():
				return
			}
		}
	}()

	return cancel, nil
}

func decodePendingHash(raw json.RawMessage) (common.Hash, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return common.Hash{}, false
	}
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return common.Hash{}, false
	}
	return common.HexToHash(s), true
}

func (c *Client) safeHandlePending(handler PendingTxHandler, hash common.Hash) {
	// The mempool is noisy; a per-tx failure must not tear down the
	// subscription.
	defer func() {
		if r := recover(); r != nil {
			c.metrics.RecordError("pending_handler", fmt.Sprintf("panic: %v", r))
			c.logger.Error().
				Interface("panic_value", r).
				Str("tx", hash.Hex()).
				Msg("Pending-tx handler panic recovered")
		}
	}()
	handler(hash)
}

// connectionLost redials with bounded, evenly spaced attempts. Only the
// first caller runs the loop; concurrent subscription failures from the
// same transport loss are coalesced.
func (c *Client) connectionLost(cause error) {
	if !atomic.CompareAndSwapInt32(&c.reconnecting, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.reconnecting, 0)

	c.connected.Store(false)
	c.metrics.RecordError("transport", cause.Error())

	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}

		c.logger.Info().
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.MaxReconnectAttempts).
			Msg("Reconnecting to chain node")

		dialCtx, cancel := context.WithTimeout(c.ctx, 15*time.Second)
		err := c.dial(dialCtx)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")
			continue
		}

		c.logger.Info().Int("attempt", attempt).Msg("Reconnected to chain node")
		if c.onReconnected != nil {
			c.onReconnected()
		}
		return
	}

	err := fmt.Errorf("reconnect attempts exhausted after %d tries: %w", c.cfg.MaxReconnectAttempts, cause)
	c.logger.Error().Err(err).Msg("Giving up on chain node")
	select {
	case c.fatalCh <- err:
	default:
	}
}

// Close tears down the connection and all subscriptions.
func (c *Client) Close() {
	c.cancel()
	c.mu.Lock()
	if c.rpc != nil {
		c.rpc.Close()
	}
	c.mu.Unlock()
	c.connected.Store(false)
	c.wg.Wait()
}
