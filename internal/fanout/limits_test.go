package fanout

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestMessageLimiterBurstThenDeny(t *testing.T) {
	m := NewMessageLimiter()

	for i := 0; i < messageBurst; i++ {
		assert.True(t, m.Allow(1), "message %d within burst", i)
	}
	assert.False(t, m.Allow(1), "burst exhausted")

	// A different session has its own bucket.
	assert.True(t, m.Allow(2))
}

func TestConnRateLimiterPerIP(t *testing.T) {
	l := NewConnRateLimiter(ConnRateLimiterConfig{
		IPBurst:     2,
		IPRate:      0.001,
		GlobalBurst: 100,
		GlobalRate:  100,
	}, zerolog.Nop())
	defer l.Stop()

	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("5.6.7.8"), "other IPs unaffected")
}

func TestConnRateLimiterGlobal(t *testing.T) {
	l := NewConnRateLimiter(ConnRateLimiterConfig{
		IPBurst:     100,
		IPRate:      100,
		GlobalBurst: 1,
		GlobalRate:  0.001,
	}, zerolog.Nop())
	defer l.Stop()

	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("2.2.2.2"), "global bucket exhausted")
}

func TestSessionPingStamp(t *testing.T) {
	s := newSession(1, nil, "")
	assert.Less(t, s.sincePing(), time.Second)

	s.lastPing = time.Now().Add(-2 * time.Minute).UnixNano()
	assert.Greater(t, s.sincePing(), time.Minute)

	s.stampPing()
	assert.Less(t, s.sincePing(), time.Second)
}
