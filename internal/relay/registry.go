package relay

import (
	"iter"
	"maps"
	"slices"
	"sync"
)

// RemoveResult reports what removing a connection did to its user's presence.
type RemoveResult int

const (
	// NotFound means the connection never joined or was already removed.
	NotFound RemoveResult = iota
	// StillOnline means the user keeps at least one other connection.
	StillOnline
	// WentOffline means the last connection of the user was removed.
	WentOffline
)

func (r RemoveResult) String() string {
	switch r {
	case StillOnline:
		return "still_online"
	case WentOffline:
		return "went_offline"
	default:
		return "not_found"
	}
}

// RegisterResult reports how a Register call changed the online set.
type RegisterResult struct {
	// CameOnline is true when this is the first connection of the user.
	CameOnline bool
	// Displaced is the user the connection was bound to before a re-join under
	// a different identity. Empty when there was no such binding.
	Displaced UserID
	// DisplacedOffline is true when the re-join removed the displaced user's
	// last connection.
	DisplacedOffline bool
}

// PresenceChanged reports whether the set of online users changed.
func (r RegisterResult) PresenceChanged() bool {
	return r.CameOnline || r.DisplacedOffline
}

// Registry maps users to the set of their open connections. A user is present
// in the registry if and only if it has at least one connection.
//
// All methods are safe for concurrent use. Removal of a user's last connection
// and deletion of the user happen under the same lock, so readers never observe
// a user with an empty connection set.
type Registry struct {
	mu    sync.RWMutex
	users map[UserID]map[ConnID]struct{}
	owner map[ConnID]UserID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[UserID]map[ConnID]struct{}),
		owner: make(map[ConnID]UserID),
	}
}

// Register associates conn with user. Registering the same pair again is a
// no-op. Registering a connection that is bound to another user moves it: the
// last register wins.
func (r *Registry) Register(user UserID, conn ConnID) RegisterResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res RegisterResult
	if prev, ok := r.owner[conn]; ok {
		if prev == user {
			return res
		}
		res.Displaced = prev
		res.DisplacedOffline = r.detach(prev, conn)
	}

	conns, ok := r.users[user]
	if !ok {
		conns = make(map[ConnID]struct{})
		r.users[user] = conns
		res.CameOnline = true
	}
	conns[conn] = struct{}{}
	r.owner[conn] = user
	return res
}

// Remove drops conn from whichever user holds it. Unknown connections are a
// no-op and report NotFound.
func (r *Registry) Remove(conn ConnID) (UserID, RemoveResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.owner[conn]
	if !ok {
		return "", NotFound
	}
	if r.detach(user, conn) {
		return user, WentOffline
	}
	return user, StillOnline
}

// detach must be called with mu held. It returns true when user has no
// connection left.
func (r *Registry) detach(user UserID, conn ConnID) bool {
	delete(r.owner, conn)
	conns := r.users[user]
	delete(conns, conn)
	if len(conns) == 0 {
		delete(r.users, user)
		return true
	}
	return false
}

// ConnectionsFor returns the live connections of user, empty when offline.
func (r *Registry) ConnectionsFor(user UserID) []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.users[user]))
}

// OnlineUsers yields the users online at call time in ascending order. Later
// registry changes do not affect an iteration in progress.
func (r *Registry) OnlineUsers() iter.Seq[UserID] {
	r.mu.RLock()
	snapshot := slices.Sorted(maps.Keys(r.users))
	r.mu.RUnlock()

	return slices.Values(snapshot)
}

// Connections returns every connection that has joined as some user.
func (r *Registry) Connections() []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.owner))
}

// UserOf returns the user conn joined as.
func (r *Registry) UserOf(conn ConnID) (UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.owner[conn]
	return user, ok
}

// IsOnline reports whether user has at least one connection.
func (r *Registry) IsOnline(user UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.users[user]
	return ok
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users)
}

// Reset forgets every user and connection.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.users)
	clear(r.owner)
}
