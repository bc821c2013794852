package fanout

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/dexfeed/internal/config"
	"github.com/adred-codev/dexfeed/internal/metrics"
	"github.com/adred-codev/dexfeed/internal/price"
)

type fakeTokens struct {
	mu      sync.Mutex
	removed []string
	dynamic map[string]bool
}

func (f *fakeTokens) AddToken(context.Context, string) (*price.TokenPrice, error) { return nil, nil }

func (f *fakeTokens) RemoveToken(addr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, addr)
	return true
}

func (f *fakeTokens) IsDynamic(addr string) bool { return f.dynamic[addr] }

func (f *fakeTokens) GetTokenPrice(string) *price.TokenPrice { return nil }

func (f *fakeTokens) CachedPrices() []*price.TokenPrice { return nil }

func (f *fakeTokens) Count() int { return 0 }

func (f *fakeTokens) removedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func testServer(tokens TokenService) *Server {
	cfg := &config.Config{
		Addr:                  "127.0.0.1:0",
		MaxConnections:        8,
		BackgroundWorkerCount: 2,
		HeartbeatInterval:     time.Hour,
		StaleReaperInterval:   10 * time.Millisecond,
		StaleSessionTimeout:   10 * time.Second,
	}
	return NewServer(cfg, tokens, metrics.New(), zerolog.Nop())
}

// admit registers a session the way the upgrade handler would, without a
// transport underneath.
func admit(s *Server, id int64) *Session {
	sess := newSession(id, nil, "test")
	s.sessions.Store(sess, struct{}{})
	s.sem <- struct{}{}
	atomic.AddInt64(&s.liveSessions, 1)
	return sess
}

func TestLastUnsubscribeTearsDownDynamicToken(t *testing.T) {
	token := "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	tokens := &fakeTokens{dynamic: map[string]bool{token: true}}
	s := testServer(tokens)
	s.workers.Start(s.ctx)
	defer s.cancel()

	a := admit(s, 1)
	b := admit(s, 2)
	for _, sess := range []*Session{a, b} {
		sess.subscriptions.Add(token)
		s.rooms.Add(roomFor(token), sess)
	}

	s.leaveRoom(a, token)
	a.subscriptions.Remove(token)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, tokens.removedTokens(), "room still has a member")

	s.leaveRoom(b, token)
	require.Eventually(t, func() bool {
		removed := tokens.removedTokens()
		return len(removed) == 1 && removed[0] == token
	}, time.Second, 5*time.Millisecond, "emptied room tears the dynamic token down")
}

func TestLastUnsubscribeLeavesStaticTokenAlone(t *testing.T) {
	token := "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	tokens := &fakeTokens{dynamic: map[string]bool{}}
	s := testServer(tokens)
	s.workers.Start(s.ctx)
	defer s.cancel()

	sess := admit(s, 1)
	sess.subscriptions.Add(token)
	s.rooms.Add(roomFor(token), sess)

	s.leaveRoom(sess, token)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, tokens.removedTokens())
	assert.Equal(t, 0, s.rooms.Count(roomFor(token)))
}

func TestDisconnectTearsDownLastSubscription(t *testing.T) {
	token := "0xcccccccccccccccccccccccccccccccccccccccc"
	tokens := &fakeTokens{dynamic: map[string]bool{token: true}}
	s := testServer(tokens)
	s.workers.Start(s.ctx)
	defer s.cancel()

	sess := admit(s, 1)
	sess.subscriptions.Add(token)
	s.rooms.Add(roomFor(token), sess)

	s.disconnect(sess, "test")
	require.Eventually(t, func() bool {
		removed := tokens.removedTokens()
		return len(removed) == 1 && removed[0] == token
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(0), atomic.LoadInt64(&s.liveSessions))
	_, present := s.sessions.Load(sess)
	assert.False(t, present)

	// Re-entrant disconnect is a no-op.
	s.disconnect(sess, "again")
	assert.Len(t, tokens.removedTokens(), 1)
}

func TestReaperDisconnectsStaleSessions(t *testing.T) {
	tokens := &fakeTokens{dynamic: map[string]bool{}}
	s := testServer(tokens)
	s.wg.Add(1)
	go s.reaperLoop()
	defer func() {
		s.cancel()
		s.wg.Wait()
	}()

	stale := admit(s, 1)
	fresh := admit(s, 2)
	atomic.StoreInt64(&stale.lastPing, time.Now().Add(-time.Minute).UnixNano())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&stale.cleanedUp) == 1
	}, time.Second, 5*time.Millisecond, "stale session reaped")

	assert.Equal(t, int32(0), atomic.LoadInt32(&fresh.cleanedUp), "recently pinged session survives")
	assert.Equal(t, int64(1), atomic.LoadInt64(&s.liveSessions))
}
