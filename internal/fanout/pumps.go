package fanout

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/adred-codev/dexfeed/internal/chain"
)

// readPump reads client frames until the connection dies. It owns the read
// side: deadline refresh, rate limiting, message dispatch.
func (s *Server) readPump(sess *Session) {
	defer s.disconnect(sess, "read pump exit")

	for {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))

		data, op, err := wsutil.ReadClientData(sess.conn)
		if err != nil {
			return
		}

		switch op {
		case ws.OpText:
			if !s.msgLimiter.Allow(sess.id) {
				s.sendEvent(sess, "error", ErrorMessage{Message: "Message rate limit exceeded"})
				continue
			}
			s.handleMessage(sess, data)
		case ws.OpPing:
			sess.stampPing()
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			wsutil.WriteServerMessage(sess.conn, ws.OpPong, data)
		case ws.OpClose:
			return
		}
	}
}

// writePump owns the write side of the connection: it drains the send
// queue through a buffered writer (batching consecutive frames into one
// syscall) and keeps the transport alive with periodic pings.
func (s *Server) writePump(sess *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.disconnect(sess, "write pump exit")
	}()

	bw := bufio.NewWriterSize(sess.conn, 4096)

	for {
		select {
		case msg, ok := <-sess.send:
			if !ok {
				return
			}
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(bw, ws.OpText, msg); err != nil {
				return
			}

			// Batch whatever else is already queued before flushing.
			for i := 0; i < len(sess.send); i++ {
				extra := <-sess.send
				if err := wsutil.WriteServerMessage(bw, ws.OpText, extra); err != nil {
					return
				}
			}
			if err := bw.Flush(); err != nil {
				return
			}

		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(sess.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one inbound client message.
func (s *Server) handleMessage(sess *Session, data []byte) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendEvent(sess, "error", ErrorMessage{Message: "Invalid message format"})
		return
	}

	switch msg.Type {
	case "subscribe":
		s.handleSubscribe(sess, msg.TokenAddress)
	case "unsubscribe":
		s.handleUnsubscribe(sess, msg.TokenAddress)
	case "ping":
		sess.stampPing()
		s.sendEvent(sess, "pong", Pong{Time: time.Now().UTC().Format(time.RFC3339)})
	case "get-all-prices":
		s.sendEvent(sess, "all-prices", AllPrices{Prices: s.tokens.CachedPrices()})
	default:
		s.sendEvent(sess, "error", ErrorMessage{Message: "Unknown message type: " + msg.Type})
	}
}

func (s *Server) handleSubscribe(sess *Session, tokenAddress string) {
	token := chain.NormalizeAddress(tokenAddress)
	if token == "" {
		s.sendEvent(sess, "error", ErrorMessage{Message: "tokenAddress is required"})
		return
	}

	room := roomFor(token)
	sess.subscriptions.Add(token)
	s.rooms.Add(room, sess)

	// Ack immediately with whatever is cached; activation (pool discovery,
	// first sample, swap subscriptions) runs in the background and the
	// fresh price arrives on the room like any other update.
	s.sendEvent(sess, "subscribed", Subscribed{
		TokenAddress: token,
		CurrentPrice: s.tokens.GetTokenPrice(token),
		Room:         room,
	})

	s.workers.Submit(func() {
		ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
		defer cancel()
		if _, err := s.tokens.AddToken(ctx, token); err != nil {
			s.logger.Warn().Err(err).
				Str("token", token).
				Int64("session_id", sess.id).
				Msg("Token activation failed")
			s.sendEvent(sess, "error", ErrorMessage{Message: "Failed to start monitoring " + token})
		}
	})

	s.logger.Debug().
		Int64("session_id", sess.id).
		Str("token", token).
		Int("room_size", s.rooms.Count(room)).
		Msg("Client subscribed")
}

func (s *Server) handleUnsubscribe(sess *Session, tokenAddress string) {
	token := chain.NormalizeAddress(tokenAddress)
	if token == "" {
		s.sendEvent(sess, "error", ErrorMessage{Message: "tokenAddress is required"})
		return
	}

	sess.subscriptions.Remove(token)
	s.leaveRoom(sess, token)

	s.sendEvent(sess, "unsubscribed", Unsubscribed{TokenAddress: token})

	s.logger.Debug().
		Int64("session_id", sess.id).
		Str("token", token).
		Msg("Client unsubscribed")
}

// getClientIP extracts the real client IP, honoring X-Forwarded-For from a
// fronting proxy.
func getClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx != -1 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
