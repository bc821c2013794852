package fanout

import (
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// slowClientStrikes is how many consecutive full-buffer drops a session
// gets before it is disconnected as too slow to keep up.
const slowClientStrikes = 3

// Publish encodes the event once and fans it out to every session in the
// room. It is the sink the listener registry pushes price updates and swap
// events through.
func (s *Server) Publish(room, event string, payload interface{}) {
	members := s.rooms.Get(room)
	if len(members) == 0 {
		return
	}

	msg, err := encodeEvent(event, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("Failed to encode event")
		return
	}

	for _, sess := range members {
		s.trySend(sess, msg)
	}
}

// broadcastAll sends an event to every connected session regardless of
// room membership. Used for heartbeats.
func (s *Server) broadcastAll(event string, payload interface{}) {
	msg, err := encodeEvent(event, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("Failed to encode event")
		return
	}

	s.sessions.Range(func(key, _ interface{}) bool {
		s.trySend(key.(*Session), msg)
		return true
	})
}

// sendEvent encodes and queues a single-session message.
func (s *Server) sendEvent(sess *Session, event string, payload interface{}) {
	msg, err := encodeEvent(event, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("Failed to encode event")
		return
	}
	s.trySend(sess, msg)
}

// trySend queues a message without blocking. A full buffer is a strike;
// strikes reset on any successful queue. A session that keeps striking is
// closed with a policy violation so one stalled reader cannot stall the
// broadcast path for everyone else.
func (s *Server) trySend(sess *Session, msg []byte) {
	select {
	case sess.send <- msg:
		atomic.StoreInt32(&sess.sendAttempts, 0)
	default:
		strikes := atomic.AddInt32(&sess.sendAttempts, 1)
		if strikes == 1 && atomic.CompareAndSwapInt32(&sess.slowWarned, 0, 1) {
			s.logger.Warn().
				Int64("session_id", sess.id).
				Msg("Slow client: send buffer full, dropping message")
		}
		if strikes >= slowClientStrikes {
			s.logger.Warn().
				Int64("session_id", sess.id).
				Int32("strikes", strikes).
				Msg("Disconnecting slow client")
			s.closeSlow(sess)
		}
	}
}

// closeSlow sends a best-effort close frame then tears the session down.
func (s *Server) closeSlow(sess *Session) {
	sess.conn.SetWriteDeadline(time.Now().Add(time.Second))
	frame := ws.NewCloseFrameBody(ws.StatusPolicyViolation, "too slow to consume messages")
	wsutil.WriteServerMessage(sess.conn, ws.OpClose, frame)
	s.disconnect(sess, "slow client")
}
