package mempool

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/adred-codev/dexfeed/internal/chain"
	"github.com/adred-codev/dexfeed/internal/confirm"
	"github.com/adred-codev/dexfeed/internal/metrics"
	"github.com/adred-codev/dexfeed/internal/pool"
)

// Status is the lifecycle state of a tracked swap transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusReplaced  Status = "replaced"
	StatusTimedOut  Status = "timedOut"
)

// Operation labels the swap direction when it can be decoded pre-mining.
const (
	OpBuy     = "buy"
	OpSell    = "sell"
	OpUnknown = "unknown"
)

// Listener is one token's mempool watch: a pool to match direct calls
// against and an optional user filter.
type Listener struct {
	TokenAddress string    `json:"tokenAddress"`
	PoolAddress  string    `json:"poolAddress"`
	Protocol     string    `json:"protocol"`
	PairType     string    `json:"pairType"`
	UserAddress  string    `json:"userAddress,omitempty"`
	StartedAt    time.Time `json:"startedAt"`

	pool       *pool.Pool
	tokenBytes []byte
}

// StartRequest is the API payload for StartListener.
type StartRequest struct {
	TokenAddress string `json:"tokenAddress"`
	PoolAddress  string `json:"poolAddress"`
	Protocol     string `json:"protocol"`
	PairType     string `json:"pairType"`
	UserAddress  string `json:"userAddress,omitempty"`
}

// PendingSwap is one mempool-matched transaction and its lifecycle state.
type PendingSwap struct {
	TxHash       string    `json:"txHash"`
	TokenAddress string    `json:"tokenAddress"`
	PoolAddress  string    `json:"poolAddress"`
	Protocol     string    `json:"protocol"`
	UserAddress  string    `json:"userAddress"`
	Operation    string    `json:"operation"`
	MethodID     string    `json:"methodId"`
	DetectedAt   time.Time `json:"detectedAt"`
	Status       Status    `json:"status"`

	// nonceKey ties the entry back to its from:nonce slot so the slot can
	// be released when the tx reaches a terminal state.
	nonceKey string
}

// Tracker watches newPendingTransactions, classifies swaps by method
// selector against the monitored pool set, and drives each matched
// transaction through pending -> confirmed/failed/replaced/timedOut.
//
// The pending table is written by the single subscription goroutine;
// per-tx watchers operate on individual keys under the same lock.
type Tracker struct {
	client  *chain.Client
	loader  *pool.Loader
	emitter *confirm.Emitter
	logger  zerolog.Logger
	stats   *metrics.Registry
	timeout time.Duration

	mu        sync.RWMutex
	listeners map[string]*Listener    // lowercase token address
	pools     map[string]string       // lowercase pool address -> token
	pending   map[string]*PendingSwap // lowercase tx hash
	nonces    map[string]string       // from:nonce -> tx hash

	unsubscribe chain.Cancel
	watchCtx    context.Context
	watchCancel context.CancelFunc
}

func NewTracker(client *chain.Client, loader *pool.Loader, emitter *confirm.Emitter, timeout time.Duration, stats *metrics.Registry, logger zerolog.Logger) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		client:      client,
		loader:      loader,
		emitter:     emitter,
		logger:      logger.With().Str("component", "mempool").Logger(),
		stats:       stats,
		timeout:     timeout,
		listeners:   make(map[string]*Listener),
		pools:       make(map[string]string),
		pending:     make(map[string]*PendingSwap),
		nonces:      make(map[string]string),
		watchCtx:    ctx,
		watchCancel: cancel,
	}
}

// Start subscribes to the node's pending-transaction stream. The stream is
// a vendor extension; when the node rejects it the tracker degrades to
// log-only mode and listener bookkeeping keeps working without detection.
func (t *Tracker) Start() {
	cancel, err := t.client.SubscribePendingTxHashes(t.handleHash)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Pending-tx stream unavailable, mempool detection disabled")
		t.stats.RecordError("mempool", err.Error())
		return
	}
	t.unsubscribe = cancel
	t.logger.Info().Msg("Mempool tracking started")
}

// Resubscribe re-attaches the pending-tx stream after a reconnect.
func (t *Tracker) Resubscribe() {
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	t.Start()
}

// StartListener begins mempool matching for a token/pool binding.
func (t *Tracker) StartListener(ctx context.Context, req StartRequest) (*Listener, error) {
	kind, err := pool.ParseProtocol(req.Protocol)
	if err != nil {
		return nil, err
	}
	if !chain.IsHexAddress(req.TokenAddress) || !chain.IsHexAddress(req.PoolAddress) {
		return nil, fmt.Errorf("invalid token or pool address")
	}

	tokenKey := chain.NormalizeAddress(req.TokenAddress)
	poolKey := chain.NormalizeAddress(req.PoolAddress)

	p, err := t.loader.Load(ctx, common.HexToAddress(req.PoolAddress), kind)
	if err != nil {
		return nil, err
	}
	if err := t.loader.BindToken(p, common.HexToAddress(req.TokenAddress)); err != nil {
		return nil, err
	}

	l := &Listener{
		TokenAddress: tokenKey,
		PoolAddress:  poolKey,
		Protocol:     req.Protocol,
		PairType:     req.PairType,
		UserAddress:  chain.NormalizeAddress(req.UserAddress),
		StartedAt:    time.Now(),
		pool:         p,
		tokenBytes:   common.HexToAddress(req.TokenAddress).Bytes(),
	}

	t.mu.Lock()
	t.listeners[tokenKey] = l
	t.pools[poolKey] = tokenKey
	t.mu.Unlock()

	t.logger.Info().
		Str("token", tokenKey).
		Str("pool", poolKey).
		Str("protocol", req.Protocol).
		Msg("Swap listener started")
	return l, nil
}

// StopListener removes a token's mempool watch and any pending entries
// attached to it.
func (t *Tracker) StopListener(tokenAddr string) bool {
	return t.removeToken(chain.NormalizeAddress(tokenAddr), "Swap listener stopped")
}

// RemoveForToken drops tracking when the listener registry tears a token
// down.
func (t *Tracker) RemoveForToken(tokenAddr string) {
	t.removeToken(chain.NormalizeAddress(tokenAddr), "Swap listener dropped with token")
}

func (t *Tracker) removeToken(tokenKey, logMsg string) bool {
	t.mu.Lock()
	l, existed := t.listeners[tokenKey]
	delete(t.listeners, tokenKey)
	for poolKey, tok := range t.pools {
		if tok == tokenKey {
			delete(t.pools, poolKey)
		}
	}
	for hash, ps := range t.pending {
		if ps.TokenAddress == tokenKey {
			delete(t.pending, hash)
			t.releaseNonceLocked(ps, hash)
		}
	}
	t.mu.Unlock()

	if existed {
		t.logger.Info().Str("token", tokenKey).Str("pool", l.PoolAddress).Msg(logMsg)
	}
	return existed
}

// GetListener returns the watch for a token, or nil.
func (t *Tracker) GetListener(tokenAddr string) *Listener {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.listeners[chain.NormalizeAddress(tokenAddr)]
}

// ActiveListeners returns all watches ordered by token address.
func (t *Tracker) ActiveListeners() []*Listener {
	t.mu.RLock()
	out := make([]*Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		out = append(out, l)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TokenAddress < out[j].TokenAddress })
	return out
}

// PendingSwaps snapshots the live pending table.
func (t *Tracker) PendingSwaps() []*PendingSwap {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*PendingSwap, 0, len(t.pending))
	for _, ps := range t.pending {
		cp := *ps
		out = append(out, &cp)
	}
	return out
}

// handleHash runs on the subscription goroutine for every pending hash the
// node announces. It must stay cheap on the no-match path; the node
// announces every transaction on the chain.
func (t *Tracker) handleHash(hash common.Hash) {
	t.mu.RLock()
	empty := len(t.listeners) == 0
	t.mu.RUnlock()
	if empty {
		return
	}

	ctx, cancel := context.WithTimeout(t.watchCtx, 10*time.Second)
	defer cancel()

	tx, _, err := t.client.TransactionByHash(ctx, hash)
	if err != nil || tx == nil {
		// Hashes are announced before the body is queryable; misses are
		// routine.
		return
	}

	data := tx.Data()
	if len(data) < 4 || tx.To() == nil {
		return
	}
	selector := hex.EncodeToString(data[:4])
	info, ok := classify(selector)
	if !ok {
		return
	}

	l, matchedPool := t.match(info, tx.To(), data)
	if l == nil {
		return
	}

	var from string
	if sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		from = chain.NormalizeHex(sender)
	}
	if l.UserAddress != "" && from != l.UserAddress {
		return
	}

	ps := &PendingSwap{
		TxHash:       hash.Hex(),
		TokenAddress: l.TokenAddress,
		PoolAddress:  matchedPool,
		Protocol:     l.Protocol,
		UserAddress:  from,
		Operation:    t.operation(info, l, data),
		MethodID:     "0x" + selector,
		DetectedAt:   time.Now(),
		Status:       StatusPending,
	}

	hashKey := chain.NormalizeAddress(hash.Hex())
	nonceKey := from + ":" + strconv.FormatUint(tx.Nonce(), 10)
	ps.nonceKey = nonceKey

	t.mu.Lock()
	if oldHash, ok := t.nonces[nonceKey]; ok && oldHash != hashKey {
		if old, live := t.pending[oldHash]; live && old.Status == StatusPending {
			old.Status = StatusReplaced
			delete(t.pending, oldHash)
			t.emitter.Emit(confirm.SubjectReplaced, confirm.ReplacedEnvelope{
				Event:     "swap:replaced",
				OldTxHash: old.TxHash,
				NewTxHash: ps.TxHash,
				Status:    string(StatusReplaced),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			t.logger.Info().
				Str("old_tx", old.TxHash).
				Str("new_tx", ps.TxHash).
				Msg("Pending swap replaced")
		}
	}
	t.nonces[nonceKey] = hashKey
	t.pending[hashKey] = ps
	t.mu.Unlock()

	t.emitter.Emit(confirm.SubjectPending, confirm.PendingEnvelope{
		Event:         "swap:pending",
		TxHash:        ps.TxHash,
		TokenAddress:  ps.TokenAddress,
		PoolAddress:   ps.PoolAddress,
		UserAddress:   ps.UserAddress,
		Operation:     ps.Operation,
		Status:        string(StatusPending),
		Protocol:      ps.Protocol,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		DetectionTime: time.Since(ps.DetectedAt).String(),
	})
	t.logger.Debug().
		Str("tx", ps.TxHash).
		Str("token", ps.TokenAddress).
		Str("operation", ps.Operation).
		Str("method", ps.MethodID).
		Msg("Pending swap detected")

	go t.watch(hashKey, hash, ps.TxHash)
}

// match resolves which listener a transaction belongs to. Direct pool calls
// match on the callee address; router calls match when the calldata embeds
// a monitored token address.
func (t *Tracker) match(info selectorInfo, to *common.Address, data []byte) (*Listener, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if info.class.direct() {
		toKey := chain.NormalizeHex(*to)
		tokenKey, ok := t.pools[toKey]
		if !ok {
			return nil, ""
		}
		return t.listeners[tokenKey], toKey
	}

	for _, l := range t.listeners {
		if bytes.Contains(data, l.tokenBytes) {
			return l, l.PoolAddress
		}
	}
	return nil, ""
}

// operation decodes buy/sell for direct V2 calls; router and V3-direct
// calls stay unknown until the mined log resolves them.
func (t *Tracker) operation(info selectorInfo, l *Listener, data []byte) string {
	if info.class != classDirectV2 {
		return OpUnknown
	}
	a0Out, a1Out, err := pool.DecodeV2SwapCall(data)
	if err != nil {
		return OpUnknown
	}
	if l.pool.IsToken0 {
		if a0Out.Sign() > 0 {
			return OpBuy
		}
		return OpSell
	}
	if a1Out.Sign() > 0 {
		return OpBuy
	}
	return OpSell
}

// resolvePending moves a tracked swap out of the pending table into a
// terminal state and releases its from:nonce slot. Returns false when the
// tx was already replaced or removed.
func (t *Tracker) resolvePending(hashKey string, status Status) (PendingSwap, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, live := t.pending[hashKey]
	if !live || ps.Status != StatusPending {
		return PendingSwap{}, false
	}
	ps.Status = status
	delete(t.pending, hashKey)
	t.releaseNonceLocked(ps, hashKey)
	return *ps, true
}

// releaseNonceLocked drops the from:nonce slot unless a replacement has
// already claimed it for a newer hash. Caller holds t.mu.
func (t *Tracker) releaseNonceLocked(ps *PendingSwap, hashKey string) {
	if ps.nonceKey != "" && t.nonces[ps.nonceKey] == hashKey {
		delete(t.nonces, ps.nonceKey)
	}
}

// watch drives one transaction to a terminal state: the receipt poll raced
// against the pending timeout, whichever resolves first.
func (t *Tracker) watch(hashKey string, hash common.Hash, txHex string) {
	receipt, err := t.client.WaitForReceipt(t.watchCtx, hash, t.timeout)

	if err != nil {
		if _, ok := t.resolvePending(hashKey, StatusTimedOut); ok {
			t.logger.Debug().Str("tx", txHex).Msg("Pending swap timed out")
		}
		return
	}

	status := StatusConfirmed
	if receipt.Status != types.ReceiptStatusSuccessful {
		status = StatusFailed
	}
	snapshot, ok := t.resolvePending(hashKey, status)
	if !ok {
		// Replaced or removed while we waited.
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if snapshot.Status == StatusConfirmed {
		t.emitter.Emit(confirm.SubjectConfirmed, confirm.ConfirmedEnvelope{
			TxHash:       snapshot.TxHash,
			BlockNumber:  receipt.BlockNumber.Uint64(),
			GasUsed:      receipt.GasUsed,
			TokenAddress: snapshot.TokenAddress,
			PoolAddress:  snapshot.PoolAddress,
			UserAddress:  snapshot.UserAddress,
			Operation:    snapshot.Operation,
			Status:       string(StatusConfirmed),
			Protocol:     snapshot.Protocol,
			Timestamp:    now,
		})
		t.logger.Debug().Str("tx", snapshot.TxHash).Msg("Pending swap confirmed")
		return
	}

	t.emitter.Emit(confirm.SubjectFailed, confirm.FailedEnvelope{
		Event:       "swap:failed",
		TxHash:      snapshot.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		Reason:      "execution reverted",
		Status:      string(StatusFailed),
		Timestamp:   now,
	})
	t.logger.Debug().Str("tx", snapshot.TxHash).Msg("Pending swap failed")
}

// Close stops the subscription and all in-flight watchers.
func (t *Tracker) Close() {
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
	t.watchCancel()
}
