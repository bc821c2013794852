package fanout

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// sendBufferSize is the per-session outgoing queue. Sized so a briefly
// stalled client survives a burst of price updates without being marked
// slow.
const sendBufferSize = 256

// Session is one connected WebSocket client.
type Session struct {
	id          int64
	conn        net.Conn
	remoteAddr  string
	connectedAt time.Time

	send      chan []byte
	closeOnce sync.Once

	// lastPing is a unix-nano timestamp stamped on every client ping; the
	// stale reaper compares against it.
	lastPing int64

	// Slow-client strikes: a full send buffer increments, a successful
	// queue resets. Three consecutive strikes disconnect the session.
	sendAttempts int32
	slowWarned   int32
	cleanedUp    int32

	subscriptions *SubscriptionSet
}

func newSession(id int64, conn net.Conn, remoteAddr string) *Session {
	now := time.Now()
	return &Session{
		id:            id,
		conn:          conn,
		remoteAddr:    remoteAddr,
		connectedAt:   now,
		send:          make(chan []byte, sendBufferSize),
		lastPing:      now.UnixNano(),
		subscriptions: NewSubscriptionSet(),
	}
}

func (s *Session) stampPing() {
	atomic.StoreInt64(&s.lastPing, time.Now().UnixNano())
}

func (s *Session) sincePing() time.Duration {
	return time.Since(time.Unix(0, atomic.LoadInt64(&s.lastPing)))
}

// closeConn closes the underlying connection exactly once.
func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			s.conn.Close()
		}
	})
}
