package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/dexfeed/internal/chain"
	"github.com/adred-codev/dexfeed/internal/config"
	"github.com/adred-codev/dexfeed/internal/confirm"
	"github.com/adred-codev/dexfeed/internal/fanout"
	"github.com/adred-codev/dexfeed/internal/mempool"
	"github.com/adred-codev/dexfeed/internal/metrics"
	"github.com/adred-codev/dexfeed/internal/pool"
	"github.com/adred-codev/dexfeed/internal/price"
	"github.com/adred-codev/dexfeed/internal/registry"
)

// Service wires the chain client, price engine, listener registry, mempool
// tracker, confirmation emitter and fan-out server into one lifecycle.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger
	stats  *metrics.Registry

	client   *chain.Client
	loader   *pool.Loader
	bnb      *price.BNBReference
	engine   *price.Engine
	registry *registry.Registry
	tracker  *mempool.Tracker
	emitter  *confirm.Emitter
	fanout   *fanout.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// sinkProxy breaks the construction cycle: the registry needs a publish
// sink before the fan-out server exists, and the fan-out server needs the
// registry as its token service.
type sinkProxy struct {
	srv *fanout.Server
}

func (p *sinkProxy) Publish(room, event string, payload interface{}) {
	if p.srv != nil {
		p.srv.Publish(room, event, payload)
	}
}

// New dials the chain node and assembles the service. Nothing is serving
// until Start.
func New(ctx context.Context, cfg *config.Config, stats *metrics.Registry, logger zerolog.Logger) (*Service, error) {
	client, err := chain.Dial(ctx, chain.Config{
		URL:                  cfg.NodeWSSURL,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
	}, logger, stats)
	if err != nil {
		return nil, err
	}

	loader := pool.NewLoader(client, logger)
	bnb := price.NewBNBReference(loader, cfg, stats, logger)
	agents := price.NewAgentRegistry(loader, bnb, cfg, stats, logger)
	engine := price.NewEngine(bnb, agents, cfg, logger)

	emitter, err := confirm.New(cfg.NatsURL, stats, logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	proxy := &sinkProxy{}
	reg := registry.New(client, loader, engine, proxy, cfg, stats, logger)
	fo := fanout.NewServer(cfg, reg, stats, logger)
	proxy.srv = fo

	tracker := mempool.NewTracker(client, loader, emitter, cfg.PendingSwapTimeout, stats, logger)
	reg.SetMempoolCleaner(tracker)

	fo.SetHealthProbe(func() map[string]interface{} {
		return map[string]interface{}{
			"chainConnected":      client.Connected(),
			"confirmationEmitter": emitter.Enabled(),
		}
	})

	sctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:      cfg,
		logger:   logger.With().Str("component", "service").Logger(),
		stats:    stats,
		client:   client,
		loader:   loader,
		bnb:      bnb,
		engine:   engine,
		registry: reg,
		tracker:  tracker,
		emitter:  emitter,
		fanout:   fo,
		ctx:      sctx,
		cancel:   cancel,
	}

	// Transport loss kills every subscription; rebuild them all against the
	// fresh connection.
	client.SetReconnectHandler(func() {
		rctx, rcancel := context.WithTimeout(s.ctx, 60*time.Second)
		defer rcancel()
		s.registry.OnReconnect(rctx)
		s.tracker.Resubscribe()
	})

	return s, nil
}

// Start launches the fan-out server, mempool detection and the periodic
// BNB reference refresh.
func (s *Service) Start() error {
	if err := s.fanout.Start(); err != nil {
		return err
	}
	s.tracker.Start()

	s.wg.Add(1)
	go s.bnbRefreshLoop()

	s.logger.Info().Msg("Service started")
	return nil
}

// bnbRefreshLoop keeps the BNB/USD reference warm so price paths read a
// recent value instead of paying the RPC cost inline.
func (s *Service) bnbRefreshLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.UpdateBnbPriceEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
			s.bnb.Refresh(rctx)
			cancel()
		case <-s.ctx.Done():
			return
		}
	}
}

// Fatal delivers at most one error when the chain connection is
// permanently lost. The caller should shut down on receipt.
func (s *Service) Fatal() <-chan error {
	return s.client.Fatal()
}

// AddToken starts monitoring a statically configured token.
func (s *Service) AddToken(ctx context.Context, tokenAddr string) (*price.TokenPrice, error) {
	s.stats.IncAPIRequests()
	return s.registry.AddToken(ctx, tokenAddr)
}

// AddResult is the per-token outcome of a dynamic-token batch.
type AddResult struct {
	TokenAddress string            `json:"tokenAddress"`
	Price        *price.TokenPrice `json:"price,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// AddDynamicTokens registers request-supplied token bindings. Each spec
// succeeds or fails independently.
func (s *Service) AddDynamicTokens(ctx context.Context, specs []config.TokenSpec) []AddResult {
	s.stats.IncAPIRequests()

	results := make([]AddResult, 0, len(specs))
	for _, spec := range specs {
		res := AddResult{TokenAddress: chain.NormalizeAddress(spec.Address)}
		tp, err := s.registry.AddDynamicToken(ctx, spec)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Price = tp
		}
		results = append(results, res)
	}
	return results
}

// RemoveDynamicToken stops monitoring a dynamically added token. Static
// tokens are left alone.
func (s *Service) RemoveDynamicToken(tokenAddr string) bool {
	s.stats.IncAPIRequests()
	if !s.registry.IsDynamic(tokenAddr) {
		return false
	}
	return s.registry.RemoveToken(tokenAddr)
}

// StartSwapListener begins mempool detection for a token's pools.
func (s *Service) StartSwapListener(ctx context.Context, req mempool.StartRequest) (*mempool.Listener, error) {
	s.stats.IncAPIRequests()
	return s.tracker.StartListener(ctx, req)
}

// StopSwapListener stops mempool detection for a token.
func (s *Service) StopSwapListener(tokenAddr string) bool {
	s.stats.IncAPIRequests()
	return s.tracker.StopListener(tokenAddr)
}

// GetSwapListener returns one listener, or nil.
func (s *Service) GetSwapListener(tokenAddr string) *mempool.Listener {
	s.stats.IncAPIRequests()
	return s.tracker.GetListener(tokenAddr)
}

// GetActiveSwapListeners returns all listeners sorted by token address.
func (s *Service) GetActiveSwapListeners() []*mempool.Listener {
	s.stats.IncAPIRequests()
	return s.tracker.ActiveListeners()
}

// GetPendingSwaps returns the in-flight pending swap set.
func (s *Service) GetPendingSwaps() []*mempool.PendingSwap {
	s.stats.IncAPIRequests()
	return s.tracker.PendingSwaps()
}

// GetTokenPrice returns the cached price for a token, or nil.
func (s *Service) GetTokenPrice(tokenAddr string) *price.TokenPrice {
	s.stats.IncAPIRequests()
	return s.registry.GetTokenPrice(tokenAddr)
}

// GetCachedPrices returns every cached price sorted by token address.
func (s *Service) GetCachedPrices() []*price.TokenPrice {
	s.stats.IncAPIRequests()
	return s.registry.CachedPrices()
}

// GetMonitoredTokens lists monitored token addresses.
func (s *Service) GetMonitoredTokens() []string {
	s.stats.IncAPIRequests()
	return s.registry.MonitoredTokens()
}

// GetMetrics snapshots service counters, uptime, process usage and recent
// errors.
func (s *Service) GetMetrics() metrics.Stats {
	s.stats.IncAPIRequests()
	return s.stats.GetStats()
}

// Shutdown drains clients, stops detection and tears down the chain
// connection, in that order.
func (s *Service) Shutdown() {
	s.logger.Info().Msg("Shutting down")

	s.fanout.Shutdown()
	s.tracker.Close()

	s.cancel()
	s.wg.Wait()

	s.emitter.Close()
	s.client.Close()

	s.logger.Info().Msg("Shutdown complete")
}
