package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionSet(t *testing.T) {
	s := NewSubscriptionSet()
	assert.Equal(t, 0, s.Count())

	s.Add("0xaa")
	s.Add("0xbb")
	s.Add("0xaa") // idempotent
	assert.Equal(t, 2, s.Count())
	assert.True(t, s.Has("0xaa"))

	s.Remove("0xaa")
	assert.False(t, s.Has("0xaa"))
	assert.ElementsMatch(t, []string{"0xbb"}, s.List())

	s.Clear()
	assert.Equal(t, 0, s.Count())
}

func TestRoomIndexAddRemove(t *testing.T) {
	idx := NewRoomIndex()
	a := newSession(1, nil, "10.0.0.1")
	b := newSession(2, nil, "10.0.0.2")

	idx.Add("token:0xaa", a)
	idx.Add("token:0xaa", b)
	idx.Add("token:0xaa", a) // duplicate join is a no-op
	assert.Equal(t, 2, idx.Count("token:0xaa"))

	idx.Remove("token:0xaa", a)
	members := idx.Get("token:0xaa")
	assert.Len(t, members, 1)
	assert.Same(t, b, members[0])

	// Last member leaving drops the room entirely.
	idx.Remove("token:0xaa", b)
	assert.Equal(t, 0, idx.Count("token:0xaa"))
	assert.Nil(t, idx.Get("token:0xaa"))
}

func TestRoomIndexRemoveSession(t *testing.T) {
	idx := NewRoomIndex()
	a := newSession(1, nil, "")
	b := newSession(2, nil, "")

	idx.Add("token:0xaa", a)
	idx.Add("token:0xbb", a)
	idx.Add("token:0xbb", b)

	idx.RemoveSession(a)
	assert.Equal(t, 0, idx.Count("token:0xaa"))
	assert.Equal(t, 1, idx.Count("token:0xbb"))
}

func TestRoomIndexSnapshotIsStable(t *testing.T) {
	idx := NewRoomIndex()
	a := newSession(1, nil, "")
	b := newSession(2, nil, "")

	idx.Add("token:0xaa", a)
	snapshot := idx.Get("token:0xaa")

	idx.Add("token:0xaa", b)
	// The earlier snapshot must not observe the later join.
	assert.Len(t, snapshot, 1)
	assert.Len(t, idx.Get("token:0xaa"), 2)
}

func TestRoomFor(t *testing.T) {
	assert.Equal(t, "token:0xabcdef", roomFor("0xABCDEF"))
}
