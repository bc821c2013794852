package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/adred-codev/dexfeed/internal/config"
	"github.com/adred-codev/dexfeed/internal/metrics"
	"github.com/adred-codev/dexfeed/internal/price"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 5 * time.Second

	// Time allowed between reads before the transport is considered dead.
	// Protocol pings keep healthy but idle clients inside this window.
	pongWait = 60 * time.Second

	pingPeriod = (pongWait * 9) / 10
)

// TokenService is the registry surface the fan-out layer drives: activate
// on subscribe, tear down on last unsubscribe, read the price cache. The
// listener registry implements it.
type TokenService interface {
	AddToken(ctx context.Context, addr string) (*price.TokenPrice, error)
	RemoveToken(addr string) bool
	IsDynamic(addr string) bool
	GetTokenPrice(addr string) *price.TokenPrice
	CachedPrices() []*price.TokenPrice
	Count() int
}

// Server is the client-facing WebSocket endpoint: session table, room
// subscriptions, threshold-gated broadcast fan-in from the registry,
// heartbeat, and stale-session reaping.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger
	stats  *metrics.Registry
	tokens TokenService

	listener net.Listener
	httpSrv  *http.Server

	sessions     sync.Map // *Session -> struct{}
	sessionSeq   int64
	liveSessions int64
	sem          chan struct{}

	rooms       *RoomIndex
	msgLimiter  *MessageLimiter
	connLimiter *ConnRateLimiter
	workers     *WorkerPool

	// healthProbe contributes collaborator state (chain connectivity,
	// emitter mode) to the /health payload. Optional.
	healthProbe func() map[string]interface{}

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shuttingDown int32
}

func NewServer(cfg *config.Config, tokens TokenService, stats *metrics.Registry, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		logger:     logger.With().Str("component", "fanout").Logger(),
		stats:      stats,
		tokens:     tokens,
		sem:        make(chan struct{}, cfg.MaxConnections),
		rooms:      NewRoomIndex(),
		msgLimiter: NewMessageLimiter(),
		workers:    NewWorkerPool(cfg.BackgroundWorkerCount, logger),
		ctx:        ctx,
		cancel:     cancel,
	}
	if cfg.ConnRateLimitEnabled {
		s.connLimiter = NewConnRateLimiter(ConnRateLimiterConfig{
			IPBurst:     cfg.ConnRateLimitIPBurst,
			IPRate:      cfg.ConnRateLimitIPRate,
			GlobalBurst: cfg.ConnRateLimitGlobalBurst,
			GlobalRate:  cfg.ConnRateLimitGlobalRate,
		}, logger)
		s.logger.Info().Msg("Connection rate limiting enabled")
	}
	return s
}

// Start begins accepting connections and launches the heartbeat and stale
// reaper loops.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpSrv = &http.Server{
		Handler:        mux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	s.workers.Start(s.ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Accept loop error")
		}
	}()

	s.wg.Add(1)
	go s.heartbeatLoop()
	s.wg.Add(1)
	go s.reaperLoop()

	s.logger.Info().
		Str("addr", s.cfg.Addr).
		Int("max_connections", s.cfg.MaxConnections).
		Msg("Fan-out server listening")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	clientIP := getClientIP(r)
	if s.connLimiter != nil && !s.connLimiter.Allow(clientIP) {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	select {
	case s.sem <- struct{}{}:
	default:
		s.logger.Warn().
			Str("client_ip", clientIP).
			Int("max_connections", s.cfg.MaxConnections).
			Msg("Connection rejected: at capacity")
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-s.sem
		s.logger.Error().Err(err).Str("client_ip", clientIP).Msg("WebSocket upgrade failed")
		return
	}

	sess := newSession(atomic.AddInt64(&s.sessionSeq, 1), conn, clientIP)
	s.sessions.Store(sess, struct{}{})
	live := atomic.AddInt64(&s.liveSessions, 1)
	s.stats.SetWSConnections(live)

	s.logger.Info().
		Int64("session_id", sess.id).
		Str("client_ip", clientIP).
		Int64("live_sessions", live).
		Msg("Client connected")

	s.sendEvent(sess, "welcome", Welcome{
		Message:  "Connected to dexfeed",
		SocketID: sess.id,
		Service:  "dexfeed",
		Features: WelcomeFeatures{
			V2Support:          true,
			V3Support:          true,
			PancakeswapSupport: true,
			MultiPoolSupport:   true,
			DynamicBnbPrice:    true,
			Caching:            true,
			MetricsTracking:    true,
			BuySellDetection:   true,
		},
	})

	go s.writePump(sess)
	go s.readPump(sess)
}

// SetHealthProbe wires extra collaborator state into /health. Call before
// Start.
func (s *Server) SetHealthProbe(fn func() map[string]interface{}) {
	s.healthProbe = fn
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]interface{}{
		"status":          "ok",
		"uptimeSeconds":   s.stats.Uptime().Seconds(),
		"connections":     atomic.LoadInt64(&s.liveSessions),
		"monitoredTokens": s.tokens.Count(),
	}
	if s.healthProbe != nil {
		for k, v := range s.healthProbe() {
			payload[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// heartbeatLoop fans a heartbeat with service vitals to every session.
func (s *Server) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			counters := s.stats.CountersSnapshot()
			s.broadcastAll("heartbeat", Heartbeat{
				Timestamp:       time.Now().UTC().Format(time.RFC3339),
				MonitoredTokens: s.tokens.Count(),
				Uptime:          s.stats.Uptime().Seconds(),
				Metrics: HeartbeatMetrics{
					PriceUpdates:   counters.PriceUpdates,
					CacheHits:      counters.CacheHits,
					EventsReceived: counters.EventsReceived,
				},
			})
		case <-s.ctx.Done():
			return
		}
	}
}

// reaperLoop walks the session table and disconnects anything that has not
// pinged within the stale timeout.
func (s *Server) reaperLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.StaleReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sessions.Range(func(key, _ interface{}) bool {
				sess := key.(*Session)
				if sess.sincePing() > s.cfg.StaleSessionTimeout {
					s.logger.Info().
						Int64("session_id", sess.id).
						Dur("since_ping", sess.sincePing()).
						Msg("Reaping stale session")
					s.disconnect(sess, "stale")
				}
				return true
			})
		case <-s.ctx.Done():
			return
		}
	}
}

// disconnect tears one session down: leave every room (firing dynamic-token
// teardown on emptied rooms), drop bookkeeping, close the transport. Safe
// to call from multiple paths; only the first caller cleans up.
func (s *Server) disconnect(sess *Session, reason string) {
	if !atomic.CompareAndSwapInt32(&sess.cleanedUp, 0, 1) {
		return
	}

	for _, token := range sess.subscriptions.List() {
		s.leaveRoom(sess, token)
	}
	sess.subscriptions.Clear()
	s.rooms.RemoveSession(sess)

	s.sessions.Delete(sess)
	s.msgLimiter.Remove(sess.id)
	live := atomic.AddInt64(&s.liveSessions, -1)
	s.stats.SetWSConnections(live)
	<-s.sem

	sess.closeConn()

	s.logger.Info().
		Int64("session_id", sess.id).
		Str("reason", reason).
		Dur("duration", time.Since(sess.connectedAt)).
		Int64("live_sessions", live).
		Msg("Client disconnected")
}

// leaveRoom removes the session from a token's room; when the room empties
// and the token was dynamically added, its monitoring is torn down in the
// background.
func (s *Server) leaveRoom(sess *Session, token string) {
	room := roomFor(token)
	s.rooms.Remove(room, sess)
	if s.rooms.Count(room) == 0 && s.tokens.IsDynamic(token) {
		s.workers.Submit(func() {
			s.tokens.RemoveToken(token)
		})
	}
}

func roomFor(token string) string {
	return "token:" + strings.ToLower(token)
}

// Shutdown stops accepting connections, drains sessions for a grace
// period, then force-closes whatever remains.
func (s *Server) Shutdown() {
	s.logger.Info().Msg("Initiating graceful shutdown")
	atomic.StoreInt32(&s.shuttingDown, 1)

	if s.listener != nil {
		s.listener.Close()
	}

	grace := time.NewTimer(10 * time.Second)
	check := time.NewTicker(500 * time.Millisecond)
	defer grace.Stop()
	defer check.Stop()

drain:
	for {
		select {
		case <-grace.C:
			remaining := atomic.LoadInt64(&s.liveSessions)
			if remaining > 0 {
				s.logger.Warn().
					Int64("remaining", remaining).
					Msg("Grace period expired, force closing sessions")
			}
			break drain
		case <-check.C:
			if atomic.LoadInt64(&s.liveSessions) == 0 {
				break drain
			}
		}
	}

	s.sessions.Range(func(key, _ interface{}) bool {
		s.disconnect(key.(*Session), "shutdown")
		return true
	})

	s.cancel()
	if s.connLimiter != nil {
		s.connLimiter.Stop()
	}
	s.workers.Wait()
	s.wg.Wait()
	s.logger.Info().Msg("Fan-out server stopped")
}
