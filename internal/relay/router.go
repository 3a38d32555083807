package relay

import (
	"maps"
	"slices"
	"strconv"
	"sync"
)

// Key derives the room shared by a and b. Key(a, b) == Key(b, a) for every
// pair, and distinct unordered pairs never share a key: the lower identity is
// written with its byte length in front, so the boundary between the two
// identities is always recoverable whatever characters they contain.
func Key(a, b UserID) RoomKey {
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	return RoomKey("dm:" + strconv.Itoa(len(lo)) + ":" + string(lo) + string(hi))
}

// Router tracks which connections joined which room. A connection may sit in
// several rooms at once; it leaves them only when it is removed.
type Router struct {
	mu          sync.RWMutex
	rooms       map[RoomKey]map[ConnID]struct{}
	memberships map[ConnID]map[RoomKey]struct{}
}

// NewRouter creates a router with no rooms.
func NewRouter() *Router {
	return &Router{
		rooms:       make(map[RoomKey]map[ConnID]struct{}),
		memberships: make(map[ConnID]map[RoomKey]struct{}),
	}
}

// Join adds conn to the room. It returns false when conn was already a member.
func (r *Router) Join(conn ConnID, key RoomKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[key]
	if !ok {
		members = make(map[ConnID]struct{})
		r.rooms[key] = members
	}
	if _, joined := members[conn]; joined {
		return false
	}
	members[conn] = struct{}{}

	keys, ok := r.memberships[conn]
	if !ok {
		keys = make(map[RoomKey]struct{})
		r.memberships[conn] = keys
	}
	keys[key] = struct{}{}
	return true
}

// MembersOf returns the connections joined to the room.
func (r *Router) MembersOf(key RoomKey) []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.rooms[key]))
}

// RoomsOf returns the rooms conn has joined.
func (r *Router) RoomsOf(conn ConnID) []RoomKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.memberships[conn]))
}

// RemoveConn takes conn out of every room it joined and deletes rooms left
// empty. It returns the rooms conn was removed from.
func (r *Router) RemoveConn(conn ConnID) []RoomKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, ok := r.memberships[conn]
	if !ok {
		return nil
	}
	delete(r.memberships, conn)

	left := make([]RoomKey, 0, len(keys))
	for key := range keys {
		members := r.rooms[key]
		delete(members, conn)
		if len(members) == 0 {
			delete(r.rooms, key)
		}
		left = append(left, key)
	}
	slices.Sort(left)
	return left
}

// Len returns the number of rooms with at least one member.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}

// Reset drops every room.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.rooms)
	clear(r.memberships)
}
