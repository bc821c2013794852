package fanout

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Inbound message limits per session: a generous burst for subscription
// setup, then a sustained trickle.
const (
	messageBurst = 100
	messageRate  = 10 // per second
)

// MessageLimiter enforces the per-session inbound message rate.
type MessageLimiter struct {
	sessions sync.Map // session id -> *rate.Limiter
}

func NewMessageLimiter() *MessageLimiter {
	return &MessageLimiter{}
}

// Allow reports whether the session may send another message.
func (m *MessageLimiter) Allow(sessionID int64) bool {
	l, _ := m.sessions.LoadOrStore(sessionID, rate.NewLimiter(messageRate, messageBurst))
	return l.(*rate.Limiter).Allow()
}

// Remove drops the session's limiter state on disconnect.
func (m *MessageLimiter) Remove(sessionID int64) {
	m.sessions.Delete(sessionID)
}

// ConnRateLimiter rate-limits the upgrade path: a global bucket against
// system-wide floods and a per-IP bucket against single-source abuse.
// Per-IP entries are reaped after a quiet period.
type ConnRateLimiter struct {
	global *rate.Limiter

	mu      sync.Mutex
	perIP   map[string]*ipEntry
	ipRate  rate.Limit
	ipBurst int
	ipTTL   time.Duration

	logger zerolog.Logger
	stop   chan struct{}
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ConnRateLimiterConfig struct {
	IPBurst     int
	IPRate      float64
	GlobalBurst int
	GlobalRate  float64
}

func NewConnRateLimiter(cfg ConnRateLimiterConfig, logger zerolog.Logger) *ConnRateLimiter {
	l := &ConnRateLimiter{
		global:  rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		perIP:   make(map[string]*ipEntry),
		ipRate:  rate.Limit(cfg.IPRate),
		ipBurst: cfg.IPBurst,
		ipTTL:   5 * time.Minute,
		logger:  logger.With().Str("component", "conn-rate-limiter").Logger(),
		stop:    make(chan struct{}),
	}
	go l.reapLoop()
	return l
}

// Allow reports whether a connection attempt from ip may proceed.
func (l *ConnRateLimiter) Allow(ip string) bool {
	if !l.global.Allow() {
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected by global rate limit")
		return false
	}

	l.mu.Lock()
	entry, ok := l.perIP[ip]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(l.ipRate, l.ipBurst)}
		l.perIP[ip] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()

	if !entry.limiter.Allow() {
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected by per-IP rate limit")
		return false
	}
	return true
}

func (l *ConnRateLimiter) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for ip, entry := range l.perIP {
				if now.Sub(entry.lastSeen) > l.ipTTL {
					delete(l.perIP, ip)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop ends the background reaper.
func (l *ConnRateLimiter) Stop() {
	close(l.stop)
}
