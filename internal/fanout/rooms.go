package fanout

import (
	"sync"
	"sync/atomic"
)

// SubscriptionSet is one session's set of subscribed token addresses.
// All methods are safe for concurrent use.
type SubscriptionSet struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{tokens: make(map[string]struct{})}
}

func (s *SubscriptionSet) Add(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = struct{}{}
}

func (s *SubscriptionSet) Remove(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

func (s *SubscriptionSet) Has(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[token]
	return ok
}

func (s *SubscriptionSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// List returns a copy, safe for the caller to iterate after the session's
// subscriptions change.
func (s *SubscriptionSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tokens))
	for t := range s.tokens {
		out = append(out, t)
	}
	return out
}

func (s *SubscriptionSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]struct{})
}

// RoomIndex is the reverse index from room name to member sessions, so a
// broadcast touches only the sessions that subscribed instead of every
// connection.
//
// Membership snapshots are immutable slices swapped in atomically under the
// write lock; the broadcast hot path loads them lock-free and must not
// modify them.
type RoomIndex struct {
	mu      sync.RWMutex
	members map[string]*atomic.Value // room -> []*Session snapshot
}

func NewRoomIndex() *RoomIndex {
	return &RoomIndex{members: make(map[string]*atomic.Value)}
}

// Add joins a session to a room. Joining twice is a no-op.
func (idx *RoomIndex) Add(room string, sess *Session) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	val := idx.members[room]
	if val == nil {
		val = &atomic.Value{}
		idx.members[room] = val
	}

	var current []*Session
	if v := val.Load(); v != nil {
		current = v.([]*Session)
	}
	for _, existing := range current {
		if existing == sess {
			return
		}
	}

	next := make([]*Session, len(current)+1)
	copy(next, current)
	next[len(current)] = sess
	val.Store(next)
}

// Remove leaves a room; the room entry disappears when its last member
// leaves.
func (idx *RoomIndex) Remove(room string, sess *Session) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(room, sess)
}

func (idx *RoomIndex) removeLocked(room string, sess *Session) {
	val, ok := idx.members[room]
	if !ok {
		return
	}
	v := val.Load()
	if v == nil {
		return
	}
	current := v.([]*Session)

	for i, existing := range current {
		if existing != sess {
			continue
		}
		next := make([]*Session, len(current)-1)
		copy(next, current[:i])
		copy(next[i:], current[i+1:])
		if len(next) == 0 {
			delete(idx.members, room)
		} else {
			val.Store(next)
		}
		return
	}
}

// RemoveSession drops a session from every room it joined. Called on
// disconnect.
func (idx *RoomIndex) RemoveSession(sess *Session) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for room := range idx.members {
		idx.removeLocked(room, sess)
	}
}

// Get returns the immutable membership snapshot for a room. Safe to
// iterate, must not be modified.
func (idx *RoomIndex) Get(room string) []*Session {
	idx.mu.RLock()
	val, ok := idx.members[room]
	idx.mu.RUnlock()
	if !ok {
		return nil
	}
	v := val.Load()
	if v == nil {
		return nil
	}
	return v.([]*Session)
}

// Count returns a room's membership size.
func (idx *RoomIndex) Count(room string) int {
	return len(idx.Get(room))
}
